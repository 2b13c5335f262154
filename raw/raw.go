// Package raw implements orm.EntityProvider by generating SQL text from an
// orm.Mapping and running it on any orm.Database. Every write is applied when
// issued; there is nothing for SaveChanges to flush.
package raw

import (
	"context"
	"fmt"

	orm "github.com/medatechnology/polyorm"
)

const StrategyName = "raw"

type Provider struct {
	db     orm.Database
	logger orm.Logger
	closed bool
}

var _ orm.EntityProvider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(l orm.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// New wraps an already connected database. The provider takes ownership:
// closing it closes db.
func New(db orm.Database, opts ...Option) *Provider {
	p := &Provider{db: db}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = orm.LoggerOrDefault(p.logger).With(
		orm.String("strategy", StrategyName),
		orm.String("engine", db.Engine()))
	return p
}

// Open connects db to connectionString and wraps it.
func Open(ctx context.Context, db orm.Database, connectionString string, opts ...Option) (*Provider, error) {
	if err := db.Connect(ctx, connectionString); err != nil {
		return nil, err
	}
	return New(db, opts...), nil
}

func (p *Provider) Strategy() string { return StrategyName }

// Database returns the wrapped low-level provider.
func (p *Provider) Database() orm.Database { return p.db }

func (p *Provider) check() error {
	if p.closed {
		return orm.ErrProviderClosed
	}
	return nil
}

func (p *Provider) params(stmt orm.ParametereizedSQL) []orm.Parameter {
	params := make([]orm.Parameter, 0, len(stmt.Values))
	for _, sp := range stmt.Parameters() {
		params = append(params, p.db.CreateParameter(sp.Name, sp.Value))
	}
	return params
}

func (p *Provider) query(ctx context.Context, table string, stmt orm.ParametereizedSQL) (orm.DBRecords, error) {
	p.logger.Debug("query", orm.String("sql", stmt.Query))
	rows, err := p.db.ExecuteQuery(ctx, stmt.Query, p.params(stmt)...)
	if err != nil {
		return nil, err
	}
	return orm.ScanRecords(rows, table)
}

func (p *Provider) exec(ctx context.Context, stmt orm.ParametereizedSQL) (int64, error) {
	p.logger.Debug("exec", orm.String("sql", stmt.Query))
	return p.db.ExecuteNonQuery(ctx, stmt.Query, p.params(stmt)...)
}

// GetByID reads the row whose identifier equals id. A miss is reported as
// found=false with a nil error.
func (p *Provider) GetByID(ctx context.Context, m orm.Mapping, id interface{}) (orm.DBRecord, bool, error) {
	if err := p.check(); err != nil {
		return orm.DBRecord{}, false, err
	}
	stmt, err := orm.BuildSelectByID(m, p.db.Placeholder, id)
	if err != nil {
		return orm.DBRecord{}, false, err
	}
	recs, err := p.query(ctx, m.Table, stmt)
	if err != nil {
		return orm.DBRecord{}, false, orm.WrapSelectError(err, m.Table)
	}
	if len(recs) == 0 {
		return orm.DBRecord{}, false, nil
	}
	return recs[0], true, nil
}

func (p *Provider) GetAll(ctx context.Context, m orm.Mapping) (orm.DBRecords, error) {
	if err := p.check(); err != nil {
		return nil, err
	}
	stmt, err := orm.BuildSelectAll(m)
	if err != nil {
		return nil, err
	}
	recs, err := p.query(ctx, m.Table, stmt)
	if err != nil {
		return nil, orm.WrapSelectError(err, m.Table)
	}
	return recs, nil
}

// Find reads the rows matching cond; a nil cond reads every row.
func (p *Provider) Find(ctx context.Context, m orm.Mapping, cond *orm.Condition) (orm.DBRecords, error) {
	if cond == nil {
		return p.GetAll(ctx, m)
	}
	if err := p.check(); err != nil {
		return nil, err
	}
	if err := orm.ValidateTableName(m.Table); err != nil {
		return nil, err
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	recs, err := p.query(ctx, m.Table, cond.ToSelectStringWith(m.Table, p.db.Placeholder))
	if err != nil {
		return nil, orm.WrapSelectError(err, m.Table)
	}
	return recs, nil
}

func (p *Provider) Add(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	if err := p.check(); err != nil {
		return err
	}
	stmt, err := orm.BuildInsert(m, p.db.Placeholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, stmt); err != nil {
		return orm.WrapInsertError(err, m.Table)
	}
	return nil
}

// AddRange inserts one record at a time and stops at the first failure.
func (p *Provider) AddRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Add(ctx, m, rec) })
}

// Update rewrites every mapped column of the row with rec's identifier.
func (p *Provider) Update(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	if err := p.check(); err != nil {
		return err
	}
	stmt, err := orm.BuildUpdate(m, p.db.Placeholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, stmt); err != nil {
		return orm.WrapUpdateError(err, m.Table)
	}
	return nil
}

func (p *Provider) UpdateRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Update(ctx, m, rec) })
}

func (p *Provider) Delete(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	if err := p.check(); err != nil {
		return err
	}
	stmt, err := orm.BuildDelete(m, p.db.Placeholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, stmt); err != nil {
		return orm.WrapDeleteError(err, m.Table)
	}
	return nil
}

func (p *Provider) DeleteRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Delete(ctx, m, rec) })
}

// SaveChanges always reports 0.
func (p *Provider) SaveChanges(ctx context.Context) (int, error) {
	if err := p.check(); err != nil {
		return 0, err
	}
	return 0, ctx.Err()
}

func (p *Provider) BeginTransaction(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}
	return p.db.BeginTransaction(ctx)
}

// CommitTransaction fails with ErrNoActiveTransaction when none was begun.
func (p *Provider) CommitTransaction(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}
	if !p.db.IsTransactionActive() {
		return orm.ErrNoActiveTransaction
	}
	return p.db.CommitTransaction(ctx)
}

// RollbackTransaction fails with ErrNoActiveTransaction when none was begun.
func (p *Provider) RollbackTransaction(ctx context.Context) error {
	if err := p.check(); err != nil {
		return err
	}
	if !p.db.IsTransactionActive() {
		return orm.ErrNoActiveTransaction
	}
	return p.db.RollbackTransaction(ctx)
}

func (p *Provider) IsTransactionActive() bool { return p.db.IsTransactionActive() }

// Close closes the wrapped database, rolling back an active transaction.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if err := p.db.Close(); err != nil {
		orm.LogErrorWithContext(p.logger, "close failed", err)
	}
	return nil
}

func each(recs orm.DBRecords, fn func(orm.DBRecord) error) error {
	for i, rec := range recs {
		if err := fn(rec); err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
	}
	return nil
}
