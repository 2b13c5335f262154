package mapper

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/mysql"
	"github.com/medatechnology/polyorm/sqlite"
)

type Widget struct {
	Id    int
	Name  string
	Price float64
}

type Token struct {
	Id    uuid.UUID
	Label string
}

var schema = []string{
	"CREATE TABLE Widget (Id INTEGER PRIMARY KEY, Name TEXT NOT NULL, Price REAL)",
	"CREATE TABLE Token (Id TEXT PRIMARY KEY, Label TEXT)",
}

func newProvider(t *testing.T) *Provider {
	t.Helper()
	ctx := context.Background()
	p, err := OpenSQLite(ctx, "", WithLogger(orm.NewNoopLogger()))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	for _, stmt := range schema {
		if _, err := p.DB().ExecContext(ctx, stmt); err != nil {
			t.Fatalf("schema: %v", err)
		}
	}
	return p
}

func widgets(t *testing.T, p *Provider) *orm.Repository[Widget] {
	t.Helper()
	repo, err := orm.NewRepository[Widget](p)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	return repo
}

func TestRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := widgets(t, newProvider(t))

	want := Widget{Id: 42, Name: "gear", Price: 9.75}
	if err := repo.Add(ctx, &want); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := repo.GetByID(ctx, 42)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a widget, got nil")
	}
	if diff := cmp.Diff(want, *got); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	missing, err := repo.GetByID(ctx, 43)
	if err != nil || missing != nil {
		t.Errorf("Expected nil, nil for a miss; got %+v, %v", missing, err)
	}
}

func TestUUIDIdentifier(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	tokens, err := orm.NewRepository[Token](p)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	want := Token{Id: uuid.New(), Label: "session"}
	if err := tokens.Add(ctx, &want); err != nil {
		t.Fatalf("Add: %v", err)
	}
	got, err := tokens.GetByID(ctx, want.Id)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got == nil {
		t.Fatal("Expected a token, got nil")
	}
	if got.Id != want.Id || got.Label != want.Label {
		t.Errorf("Expected %+v, got %+v", want, *got)
	}

	// The key is stored in its canonical text form.
	var stored string
	if err := p.DB().GetContext(ctx, &stored, "SELECT Id FROM Token"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if stored != want.Id.String() {
		t.Errorf("Expected stored key %s, got %s", want.Id, stored)
	}

	if err := tokens.Delete(ctx, got); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := tokens.GetByID(ctx, want.Id.String()); err != nil || got != nil {
		t.Errorf("Expected the token to be gone, got %+v (%v)", got, err)
	}
}

func TestUpdateIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := widgets(t, newProvider(t))

	w := Widget{Id: 1, Name: "gear", Price: 1}
	if err := repo.Add(ctx, &w); err != nil {
		t.Fatalf("Add: %v", err)
	}
	w.Price = 3
	for i := 0; i < 2; i++ {
		if err := repo.Update(ctx, &w); err != nil {
			t.Fatalf("Update %d: %v", i, err)
		}
	}
	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if diff := cmp.Diff([]Widget{w}, all); diff != "" {
		t.Errorf("GetAll mismatch (-want +got):\n%s", diff)
	}
}

func TestRangesAndFind(t *testing.T) {
	ctx := context.Background()
	repo := widgets(t, newProvider(t))

	ws := []Widget{{Id: 1, Name: "a", Price: 1}, {Id: 2, Name: "b", Price: 2}, {Id: 3, Name: "c", Price: 3}}
	if err := repo.AddRange(ctx, ws); err != nil {
		t.Fatalf("AddRange: %v", err)
	}
	ws[1].Name = "bb"
	if err := repo.UpdateRange(ctx, ws[1:2]); err != nil {
		t.Fatalf("UpdateRange: %v", err)
	}
	if err := repo.DeleteRange(ctx, ws[:1]); err != nil {
		t.Fatalf("DeleteRange: %v", err)
	}

	got, err := repo.Find(ctx, &orm.Condition{Field: "Name", Operator: "LIKE", Value: "b%"})
	if err != nil {
		t.Fatalf("Find: %v", err)
	}
	if diff := cmp.Diff([]Widget{ws[1]}, got); diff != "" {
		t.Errorf("Find mismatch (-want +got):\n%s", diff)
	}

	all, err := repo.Find(ctx, nil)
	if err != nil {
		t.Fatalf("Find(nil): %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 widgets, got %d", len(all))
	}
}

func TestConstraintErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	repo := widgets(t, newProvider(t))

	if err := repo.Add(ctx, &Widget{Id: 1, Name: "a"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	err := repo.Add(ctx, &Widget{Id: 1, Name: "b"})
	if !sqlite.IsUniqueViolation(err) {
		t.Errorf("Expected a unique violation, got %v", err)
	}
	if !orm.IsORMError(err) {
		t.Errorf("Expected an ORMError, got %T", err)
	}
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	repo := widgets(t, p)

	if err := p.CommitTransaction(ctx); !errors.Is(err, orm.ErrNoActiveTransaction) {
		t.Errorf("Commit: expected ErrNoActiveTransaction, got %v", err)
	}
	if err := p.RollbackTransaction(ctx); !errors.Is(err, orm.ErrNoActiveTransaction) {
		t.Errorf("Rollback: expected ErrNoActiveTransaction, got %v", err)
	}

	if err := p.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := p.BeginTransaction(ctx); !errors.Is(err, orm.ErrTransactionAlreadyActive) {
		t.Errorf("Expected ErrTransactionAlreadyActive, got %v", err)
	}
	if err := repo.Add(ctx, &Widget{Id: 1, Name: "rolled back"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// Reads inside the transaction see its writes.
	if got, err := repo.GetByID(ctx, 1); err != nil || got == nil {
		t.Fatalf("Expected the uncommitted widget inside the transaction, got %+v (%v)", got, err)
	}
	if err := p.RollbackTransaction(ctx); err != nil {
		t.Fatalf("RollbackTransaction: %v", err)
	}

	if err := p.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := repo.Add(ctx, &Widget{Id: 2, Name: "committed"}); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := p.CommitTransaction(ctx); err != nil {
		t.Fatalf("CommitTransaction: %v", err)
	}

	all, err := repo.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll: %v", err)
	}
	if len(all) != 1 || all[0].Id != 2 {
		t.Errorf("Expected only widget 2, got %+v", all)
	}
	if n, err := p.SaveChanges(ctx); n != 0 || err != nil {
		t.Errorf("Expected SaveChanges 0, nil; got %d, %v", n, err)
	}
}

func TestMissingIdentifier(t *testing.T) {
	type Note struct{ Title string }
	p := newProvider(t)
	e, err := orm.DescribeEntity("Widget", orm.Column[Note]{
		Name: "Name",
		Get:  func(n *Note) interface{} { return n.Title },
		Set:  func(n *Note, v interface{}) error { n.Title, _ = v.(string); return nil },
	})
	if err != nil {
		t.Fatalf("DescribeEntity: %v", err)
	}
	notes := orm.NewRepositoryWith(p, e)
	if err := notes.Delete(context.Background(), &Note{Title: "x"}); !errors.Is(err, orm.ErrMissingIdentifierField) {
		t.Errorf("Expected ErrMissingIdentifierField, got %v", err)
	}
}

func TestClose(t *testing.T) {
	ctx := context.Background()
	p := newProvider(t)
	repo := widgets(t, p)

	if err := p.BeginTransaction(ctx); err != nil {
		t.Fatalf("BeginTransaction: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if p.IsTransactionActive() {
		t.Error("Expected no active transaction after Close")
	}
	if _, err := repo.GetAll(ctx); !errors.Is(err, orm.ErrProviderClosed) {
		t.Errorf("Expected ErrProviderClosed, got %v", err)
	}
}

func TestOpenFollowsEngineRules(t *testing.T) {
	ctx := context.Background()

	if _, err := OpenMySQL(ctx, "not a dsn", WithLogger(orm.NewNoopLogger())); !errors.Is(err, mysql.ErrMySQLInvalidDSN) {
		t.Errorf("Expected ErrMySQLInvalidDSN, got %v", err)
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := OpenSQLite(canceled, ""); !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}

	p := newProvider(t)
	if n := p.DB().Stats().MaxOpenConnections; n != 1 {
		t.Errorf("Expected a single connection, got %d", n)
	}
}

type failingResult struct{}

func (failingResult) LastInsertId() (int64, error) { return 0, errors.New("unsupported") }
func (failingResult) RowsAffected() (int64, error) { return 0, errors.New("unsupported") }

func TestRowsAffectedErrorIsWrapped(t *testing.T) {
	p := newProvider(t)
	_, err := p.affected(failingResult{}, "DELETE FROM Widget")
	ctxErr, ok := orm.GetErrorContext(err)
	if !ok {
		t.Fatalf("Expected an ORMError, got %v", err)
	}
	if ctxErr.Operation != "EXEC" || ctxErr.Query != "DELETE FROM Widget" {
		t.Errorf("Unexpected error context %+v", ctxErr)
	}
}
