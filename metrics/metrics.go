// Package metrics records entity provider operations as Prometheus metrics.
package metrics

import (
	"context"
	"errors"
	"time"

	orm "github.com/medatechnology/polyorm"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "polyorm"

	MetricOperations       = "operations_total"
	MetricOperationSeconds = "operation_duration_seconds"
	MetricSavedRows        = "saved_rows_total"
	MetricRecords          = "records_total"

	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Collectors holds the metric vectors shared by every instrumented provider
// registered against the same Registerer.
type Collectors struct {
	Operations *prometheus.CounterVec
	Duration   *prometheus.HistogramVec
	SavedRows  *prometheus.CounterVec
	Records    *prometheus.CounterVec
}

// NewCollectors registers the collectors with reg. Collectors already
// registered by an earlier call are reused.
func NewCollectors(reg prometheus.Registerer) (*Collectors, error) {
	c := &Collectors{
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricOperations,
			Help:      "Entity provider operations by strategy, operation and outcome.",
		}, []string{"strategy", "operation", "outcome"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      MetricOperationSeconds,
			Help:      "Entity provider operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy", "operation"}),
		SavedRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricSavedRows,
			Help:      "Rows reported by SaveChanges.",
		}, []string{"strategy"}),
		Records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      MetricRecords,
			Help:      "Records read or written.",
		}, []string{"strategy", "operation"}),
	}
	var err error
	if c.Operations, err = register(reg, c.Operations); err != nil {
		return nil, err
	}
	if c.Duration, err = register(reg, c.Duration); err != nil {
		return nil, err
	}
	if c.SavedRows, err = register(reg, c.SavedRows); err != nil {
		return nil, err
	}
	if c.Records, err = register(reg, c.Records); err != nil {
		return nil, err
	}
	return c, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Provider is an orm.EntityProvider that times and counts every call before
// passing it to the wrapped provider.
type Provider struct {
	next     orm.EntityProvider
	c        *Collectors
	strategy string
}

var _ orm.EntityProvider = (*Provider)(nil)

// Instrument wraps p, registering collectors with reg (prometheus.DefaultRegisterer
// when nil).
func Instrument(p orm.EntityProvider, reg prometheus.Registerer) (*Provider, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	c, err := NewCollectors(reg)
	if err != nil {
		return nil, err
	}
	return Wrap(p, c), nil
}

// Wrap instruments p with existing collectors.
func Wrap(p orm.EntityProvider, c *Collectors) *Provider {
	return &Provider{next: p, c: c, strategy: p.Strategy()}
}

// Unwrap returns the instrumented provider.
func (p *Provider) Unwrap() orm.EntityProvider { return p.next }

func (p *Provider) observe(op string, start time.Time, err error) {
	outcome := OutcomeOK
	if err != nil {
		outcome = OutcomeError
	}
	p.c.Operations.WithLabelValues(p.strategy, op, outcome).Inc()
	p.c.Duration.WithLabelValues(p.strategy, op).Observe(time.Since(start).Seconds())
}

func (p *Provider) records(op string, n int) {
	if n > 0 {
		p.c.Records.WithLabelValues(p.strategy, op).Add(float64(n))
	}
}

func (p *Provider) GetByID(ctx context.Context, m orm.Mapping, id interface{}) (orm.DBRecord, bool, error) {
	start := time.Now()
	rec, ok, err := p.next.GetByID(ctx, m, id)
	p.observe("get_by_id", start, err)
	if ok {
		p.records("get_by_id", 1)
	}
	return rec, ok, err
}

func (p *Provider) GetAll(ctx context.Context, m orm.Mapping) (orm.DBRecords, error) {
	start := time.Now()
	recs, err := p.next.GetAll(ctx, m)
	p.observe("get_all", start, err)
	p.records("get_all", len(recs))
	return recs, err
}

func (p *Provider) Find(ctx context.Context, m orm.Mapping, cond *orm.Condition) (orm.DBRecords, error) {
	start := time.Now()
	recs, err := p.next.Find(ctx, m, cond)
	p.observe("find", start, err)
	p.records("find", len(recs))
	return recs, err
}

func (p *Provider) Add(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.write("add", 1, func() error { return p.next.Add(ctx, m, rec) })
}

func (p *Provider) AddRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.write("add_range", len(recs), func() error { return p.next.AddRange(ctx, m, recs) })
}

func (p *Provider) Update(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.write("update", 1, func() error { return p.next.Update(ctx, m, rec) })
}

func (p *Provider) UpdateRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.write("update_range", len(recs), func() error { return p.next.UpdateRange(ctx, m, recs) })
}

func (p *Provider) Delete(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.write("delete", 1, func() error { return p.next.Delete(ctx, m, rec) })
}

func (p *Provider) DeleteRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.write("delete_range", len(recs), func() error { return p.next.DeleteRange(ctx, m, recs) })
}

// write counts n records only when fn succeeds.
func (p *Provider) write(op string, n int, fn func() error) error {
	start := time.Now()
	err := fn()
	p.observe(op, start, err)
	if err == nil {
		p.records(op, n)
	}
	return err
}

func (p *Provider) SaveChanges(ctx context.Context) (int, error) {
	start := time.Now()
	n, err := p.next.SaveChanges(ctx)
	p.observe("save_changes", start, err)
	if n > 0 {
		p.c.SavedRows.WithLabelValues(p.strategy).Add(float64(n))
	}
	return n, err
}

func (p *Provider) BeginTransaction(ctx context.Context) error {
	start := time.Now()
	err := p.next.BeginTransaction(ctx)
	p.observe("begin", start, err)
	return err
}

func (p *Provider) CommitTransaction(ctx context.Context) error {
	start := time.Now()
	err := p.next.CommitTransaction(ctx)
	p.observe("commit", start, err)
	return err
}

func (p *Provider) RollbackTransaction(ctx context.Context) error {
	start := time.Now()
	err := p.next.RollbackTransaction(ctx)
	p.observe("rollback", start, err)
	return err
}

func (p *Provider) IsTransactionActive() bool { return p.next.IsTransactionActive() }
func (p *Provider) Strategy() string          { return p.strategy }
func (p *Provider) Close() error              { return p.next.Close() }
