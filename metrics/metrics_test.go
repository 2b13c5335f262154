package metrics

import (
	"context"
	"errors"
	"testing"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/raw"
	"github.com/medatechnology/polyorm/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type Widget struct {
	Id   int
	Name string
}

func newProvider(t *testing.T, reg prometheus.Registerer) (*Provider, *orm.Repository[Widget]) {
	t.Helper()
	ctx := context.Background()
	quiet := orm.NewNoopLogger()
	db, err := sqlite.Open(ctx, sqlite.Memory, sqlite.WithLogger(quiet))
	if err != nil {
		t.Fatalf("sqlite.Open: %v", err)
	}
	if _, err := db.ExecuteNonQuery(ctx, "CREATE TABLE Widget (Id INTEGER PRIMARY KEY, Name TEXT)"); err != nil {
		t.Fatalf("schema: %v", err)
	}
	p, err := Instrument(raw.New(db, raw.WithLogger(quiet)), reg)
	if err != nil {
		t.Fatalf("Instrument: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	repo, err := orm.NewRepository[Widget](p)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return p, repo
}

func TestOperationsAreCounted(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	p, repo := newProvider(t, reg)

	if err := repo.AddRange(ctx, []Widget{{1, "a"}, {2, "b"}}); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	if err := repo.Add(ctx, &Widget{1, "dup"}); err == nil {
		t.Fatal("Expected a duplicate key error")
	}
	if _, err := repo.GetByID(ctx, 1); err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if _, err := repo.GetAll(ctx); err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if err := p.CommitTransaction(ctx); !errors.Is(err, orm.ErrNoActiveTransaction) {
		t.Fatalf("Expected ErrNoActiveTransaction, got %v", err)
	}

	c, err := NewCollectors(reg)
	if err != nil {
		t.Fatalf("NewCollectors: %v", err)
	}
	tests := []struct {
		name string
		got  prometheus.Collector
		want float64
	}{
		{"add_range ok", c.Operations.WithLabelValues(raw.StrategyName, "add_range", OutcomeOK), 1},
		{"add error", c.Operations.WithLabelValues(raw.StrategyName, "add", OutcomeError), 1},
		{"add ok", c.Operations.WithLabelValues(raw.StrategyName, "add", OutcomeOK), 0},
		{"commit error", c.Operations.WithLabelValues(raw.StrategyName, "commit", OutcomeError), 1},
		{"records written", c.Records.WithLabelValues(raw.StrategyName, "add_range"), 2},
		{"records by id", c.Records.WithLabelValues(raw.StrategyName, "get_by_id"), 1},
		{"records listed", c.Records.WithLabelValues(raw.StrategyName, "get_all"), 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := testutil.ToFloat64(tt.got); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
	if n := testutil.CollectAndCount(c.Duration); n == 0 {
		t.Error("Expected duration observations")
	}
}

func TestInstrumentSharesCollectors(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	_, first := newProvider(t, reg)
	_, second := newProvider(t, reg)

	if err := first.Add(ctx, &Widget{1, "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := second.Add(ctx, &Widget{1, "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	c, err := NewCollectors(reg)
	if err != nil {
		t.Fatalf("NewCollectors: %v", err)
	}
	if got := testutil.ToFloat64(c.Operations.WithLabelValues(raw.StrategyName, "add", OutcomeOK)); got != 2 {
		t.Errorf("Expected 2 adds across providers, got %v", got)
	}
}

func TestPassThrough(t *testing.T) {
	ctx := context.Background()
	p, repo := newProvider(t, prometheus.NewRegistry())

	if p.Strategy() != raw.StrategyName {
		t.Errorf("Expected strategy %s, got %s", raw.StrategyName, p.Strategy())
	}
	if _, ok := p.Unwrap().(*raw.Provider); !ok {
		t.Errorf("Expected *raw.Provider, got %T", p.Unwrap())
	}
	if err := p.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if !p.IsTransactionActive() {
		t.Error("Expected an active transaction")
	}
	if err := repo.Add(ctx, &Widget{1, "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.RollbackTransaction(ctx); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}
	got, err := repo.GetByID(ctx, 1)
	if err != nil || got != nil {
		t.Errorf("Expected the rolled back widget to be gone, got %+v (%v)", got, err)
	}
	if n, err := p.SaveChanges(ctx); n != 0 || err != nil {
		t.Errorf("Expected 0, nil; got %d, %v", n, err)
	}
}
