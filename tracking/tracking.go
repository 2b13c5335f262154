// Package tracking implements orm.EntityProvider over gorm.io/gorm with a
// change stage: Add, Update and Delete only record what to do, and
// SaveChanges applies the stage in order inside one transaction. Reads always
// go to the store and never see staged changes.
//
// Table and column names are quoted by the gorm dialector, so they must match
// the schema exactly, case included.
package tracking

import (
	"context"
	"fmt"
	"strings"

	orm "github.com/medatechnology/polyorm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const StrategyName = "tracking"

// ErrorWrapper classifies a native driver error. It must keep the native
// error reachable with errors.As.
type ErrorWrapper func(err error, operation, query string) error

type Provider struct {
	db        *gorm.DB
	tx        *gorm.DB
	txs       orm.TxTracker
	stage     []Change
	logger    orm.Logger
	wrapError ErrorWrapper
	closed    bool
}

var _ orm.EntityProvider = (*Provider)(nil)

type Option func(*Provider)

func WithLogger(l orm.Logger) Option {
	return func(p *Provider) { p.logger = l }
}

// WithErrorWrapper sets the engine error classifier, for example
// sqlite.Dialect().WrapError.
func WithErrorWrapper(fn ErrorWrapper) Option {
	return func(p *Provider) { p.wrapError = fn }
}

// New wraps an open gorm handle. The provider takes ownership and closes the
// underlying connection on Close.
func New(db *gorm.DB, opts ...Option) *Provider {
	p := &Provider{db: db}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = orm.LoggerOrDefault(p.logger).With(
		orm.String("strategy", StrategyName),
		orm.String("dialect", db.Dialector.Name()))
	return p
}

func (p *Provider) Strategy() string { return StrategyName }

// DB exposes the gorm handle.
func (p *Provider) DB() *gorm.DB { return p.db }

// Pending reports how many changes are staged.
func (p *Provider) Pending() int { return len(p.stage) }

// Changes returns a copy of the stage in application order.
func (p *Provider) Changes() []Change {
	return append([]Change(nil), p.stage...)
}

// Discard drops every staged change and reports how many there were.
func (p *Provider) Discard() int {
	n := len(p.stage)
	p.stage = nil
	return n
}

// classify runs the engine classifier, if any.
func (p *Provider) classify(err error, operation string) error {
	if p.wrapError != nil {
		return p.wrapError(err, operation, "")
	}
	return err
}

func (p *Provider) wrap(err error, operation string) error {
	return orm.WrapError(p.classify(err, operation), operation, "")
}

// session returns a statement builder on the active transaction or the
// handle, after the shared pre-flight checks.
func (p *Provider) session(ctx context.Context) (*gorm.DB, error) {
	if p.closed {
		return nil, orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.tx != nil {
		return p.tx.WithContext(ctx), nil
	}
	return p.db.WithContext(ctx), nil
}

func (p *Provider) read(m orm.Mapping, q *gorm.DB) (orm.DBRecords, error) {
	var rows []map[string]interface{}
	if err := q.Find(&rows).Error; err != nil {
		return nil, orm.WrapSelectError(p.wrap(err, "SELECT"), m.Table)
	}
	recs := make(orm.DBRecords, 0, len(rows))
	for _, row := range rows {
		for k, v := range row {
			if b, ok := v.([]byte); ok {
				row[k] = string(b)
			}
		}
		recs = append(recs, orm.DBRecord{TableName: m.Table, Data: row})
	}
	return recs, nil
}

// GetByID reads from the store; staged changes are not visible.
func (p *Provider) GetByID(ctx context.Context, m orm.Mapping, id interface{}) (orm.DBRecord, bool, error) {
	if err := orm.ValidateTableName(m.Table); err != nil {
		return orm.DBRecord{}, false, err
	}
	s, err := p.session(ctx)
	if err != nil {
		return orm.DBRecord{}, false, err
	}
	q := s.Table(m.Table).
		Where(clause.Eq{Column: clause.Column{Name: m.IdentifierColumn()}, Value: orm.NullValue(id)}).
		Limit(1)
	recs, err := p.read(m, q)
	if err != nil || len(recs) == 0 {
		return orm.DBRecord{}, false, err
	}
	return recs[0], true, nil
}

func (p *Provider) GetAll(ctx context.Context, m orm.Mapping) (orm.DBRecords, error) {
	if err := orm.ValidateTableName(m.Table); err != nil {
		return nil, err
	}
	s, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	return p.read(m, s.Table(m.Table))
}

// Find reads the rows matching cond; a nil cond reads every row.
func (p *Provider) Find(ctx context.Context, m orm.Mapping, cond *orm.Condition) (orm.DBRecords, error) {
	if cond == nil {
		return p.GetAll(ctx, m)
	}
	if err := orm.ValidateTableName(m.Table); err != nil {
		return nil, err
	}
	if err := cond.Validate(); err != nil {
		return nil, err
	}
	s, err := p.session(ctx)
	if err != nil {
		return nil, err
	}
	return p.read(m, scope(s.Table(m.Table), cond))
}

// scope applies cond to q with quoted column names, mirroring
// Condition.ToSelectString.
func scope(q *gorm.DB, cond *orm.Condition) *gorm.DB {
	if expr := where(cond); expr != nil {
		q = q.Where(expr)
	}
	for _, g := range cond.GroupBy {
		q = q.Group(strings.TrimSpace(g))
	}
	for _, o := range cond.OrderBy {
		f := strings.Fields(o)
		q = q.Order(clause.OrderByColumn{
			Column: clause.Column{Name: f[0]},
			Desc:   len(f) == 2 && strings.EqualFold(f[1], "DESC"),
		})
	}
	limit := cond.Limit
	if cond.Offset > 0 && limit < 1 {
		limit = orm.DEFAULT_PAGINATION_LIMIT
	}
	if limit > 0 {
		q = q.Limit(limit)
		if cond.Offset > 0 {
			q = q.Offset(cond.Offset)
		}
	}
	return q
}

func where(c *orm.Condition) clause.Expression {
	if c.Field != "" {
		op := strings.ToUpper(strings.TrimSpace(c.Operator))
		return clause.Expr{
			SQL:  "? " + op + " ?",
			Vars: []interface{}{clause.Column{Name: c.Field}, orm.NullValue(c.Value)},
		}
	}
	var exprs []clause.Expression
	for i := range c.Nested {
		if e := where(&c.Nested[i]); e != nil {
			exprs = append(exprs, e)
		}
	}
	if len(exprs) == 0 {
		return nil
	}
	if strings.EqualFold(strings.TrimSpace(c.Logic), "OR") {
		return clause.Or(exprs...)
	}
	return clause.And(exprs...)
}

func (p *Provider) stageChange(kind Kind, m orm.Mapping, rec orm.DBRecord) error {
	if p.closed {
		return orm.ErrProviderClosed
	}
	c, err := newChange(kind, m, rec)
	if err != nil {
		return err
	}
	p.stage = append(p.stage, c)
	return nil
}

// stageAll stages every record or none of them.
func (p *Provider) stageAll(kind Kind, m orm.Mapping, recs orm.DBRecords) error {
	if p.closed {
		return orm.ErrProviderClosed
	}
	changes := make([]Change, 0, len(recs))
	for i, rec := range recs {
		c, err := newChange(kind, m, rec)
		if err != nil {
			return fmt.Errorf("record %d: %w", i, err)
		}
		changes = append(changes, c)
	}
	p.stage = append(p.stage, changes...)
	return nil
}

// Add stages an insert.
func (p *Provider) Add(_ context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.stageChange(KindAdd, m, rec)
}

func (p *Provider) AddRange(_ context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.stageAll(KindAdd, m, recs)
}

// Update stages a rewrite of every mapped column of the row with rec's
// identifier.
func (p *Provider) Update(_ context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.stageChange(KindUpdate, m, rec)
}

func (p *Provider) UpdateRange(_ context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.stageAll(KindUpdate, m, recs)
}

// Delete stages a delete by identifier.
func (p *Provider) Delete(_ context.Context, m orm.Mapping, rec orm.DBRecord) error {
	return p.stageChange(KindDelete, m, rec)
}

func (p *Provider) DeleteRange(_ context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return p.stageAll(KindDelete, m, recs)
}

func (p *Provider) flush(tx *gorm.DB) (int, error) {
	total := 0
	for i, c := range p.stage {
		n, err := c.apply(tx)
		if err != nil {
			werr := orm.WrapError(p.classify(err, c.operation()), c.operation(), c.Mapping.Table)
			return total, fmt.Errorf("change %d (%s): %w", i, c.Kind, werr)
		}
		total += int(n)
	}
	return total, nil
}

// SaveChanges applies the stage in order and returns the rows affected.
// Outside a transaction the stage is applied atomically in its own one;
// inside, it is applied under a savepoint of the active transaction. Either
// way a failure leaves none of the stage applied, and the stage is cleared
// only when every change succeeded.
func (p *Provider) SaveChanges(ctx context.Context) (int, error) {
	s, err := p.session(ctx)
	if err != nil {
		return 0, err
	}
	if len(p.stage) == 0 {
		return 0, nil
	}

	// Inside an active transaction gorm nests this as a savepoint.
	var total int
	err = s.Transaction(func(tx *gorm.DB) error {
		n, err := p.flush(tx)
		total = n
		return err
	})
	if err != nil {
		return 0, err
	}
	p.logger.Debug("changes saved", orm.Int("changes", len(p.stage)), orm.Int("rows", total))
	p.stage = nil
	return total, nil
}

// BeginTransaction starts a transaction that does not inherit ctx
// cancellation. Changes already staged are applied at commit.
func (p *Provider) BeginTransaction(ctx context.Context) error {
	if p.txs.Active() {
		return orm.ErrTransactionAlreadyActive
	}
	if _, err := p.session(ctx); err != nil {
		return err
	}
	tx := p.db.WithContext(context.WithoutCancel(ctx)).Begin()
	if tx.Error != nil {
		return orm.WrapTransactionError(p.wrap(tx.Error, "BEGIN"), "BEGIN")
	}
	p.tx = tx
	return p.txs.Begin()
}

// CommitTransaction saves the stage into the transaction and commits it.
// When saving fails the transaction is rolled back and the stage is kept.
func (p *Provider) CommitTransaction(ctx context.Context) error {
	if p.closed {
		return orm.ErrProviderClosed
	}
	if !p.txs.Active() {
		return orm.ErrNoActiveTransaction
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := p.SaveChanges(ctx); err != nil {
		p.abort()
		return orm.WrapTransactionError(err, "COMMIT")
	}
	err := p.tx.Commit().Error
	p.tx = nil
	if err != nil {
		p.txs.Release()
		return orm.WrapTransactionError(p.wrap(err, "COMMIT"), "COMMIT")
	}
	return p.txs.Commit()
}

// RollbackTransaction rolls back and discards the stage.
func (p *Provider) RollbackTransaction(ctx context.Context) error {
	if p.closed {
		return orm.ErrProviderClosed
	}
	if !p.txs.Active() {
		return orm.ErrNoActiveTransaction
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := p.Discard(); n > 0 {
		p.logger.Debug("rollback discards staged changes", orm.Int("changes", n))
	}
	err := p.tx.Rollback().Error
	p.tx = nil
	_ = p.txs.Rollback()
	if err != nil {
		return orm.WrapTransactionError(p.wrap(err, "ROLLBACK"), "ROLLBACK")
	}
	return nil
}

// abort rolls the native transaction back without touching the stage.
func (p *Provider) abort() {
	if p.tx == nil {
		return
	}
	if err := p.tx.Rollback().Error; err != nil {
		orm.LogErrorWithContext(p.logger, "rollback after failed save", p.wrap(err, "ROLLBACK"))
	}
	p.tx = nil
	p.txs.Release()
}

func (p *Provider) IsTransactionActive() bool { return p.txs.Active() }

// Close rolls back an active transaction, drops the stage and closes the
// connection.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.abort()
	if n := p.Discard(); n > 0 {
		p.logger.Warn("close discards staged changes", orm.Int("changes", n))
	}
	sqlDB, err := p.db.DB()
	if err != nil {
		p.logger.Warn("close: no connection pool", orm.Error(err))
		return nil
	}
	if err := sqlDB.Close(); err != nil {
		orm.LogErrorWithContext(p.logger, "close failed", p.wrap(err, "CLOSE"))
	}
	return nil
}
