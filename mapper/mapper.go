// Package mapper implements orm.EntityProvider over github.com/jmoiron/sqlx.
// Statements use named parameters (:Name) that sqlx compiles to the driver's
// bind style, arguments travel as maps and rows come back through MapScan.
//
// Identifiers are bound in their canonical text form (orm.IdentifierString)
// and coerced back to the field type by the entity descriptor on read, so
// uuid.UUID and integer keys go through the same path.
package mapper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
	"github.com/medatechnology/polyorm/mysql"
	"github.com/medatechnology/polyorm/postgres"
	"github.com/medatechnology/polyorm/sqlite"
)

const StrategyName = "mapper"

func init() {
	// modernc.org/sqlite registers as "sqlite", which sqlx does not know.
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// ErrorWrapper classifies a native driver error. It must keep the native
// error reachable with errors.As.
type ErrorWrapper func(err error, operation, query string) error

type Provider struct {
	db        *sqlx.DB
	tx        *sqlx.Tx
	txs       orm.TxTracker
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

// New wraps an open handle registered under driverName. The provider takes
// ownership and closes db on Close.
func New(db *sql.DB, driverName string, opts ...Option) *Provider {
	p := &Provider{db: sqlx.NewDb(db, driverName)}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = orm.LoggerOrDefault(p.logger).With(
		orm.String("strategy", StrategyName),
		orm.String("driver", driverName))
	return p
}

// Open opens cs the way the engine described by dialect does, so DSN
// preparation, pool settings and error classification match. Like the
// engines, it does not dial; an unreachable server surfaces on the first
// command.
func Open(ctx context.Context, dialect sqldb.Dialect, cs string, opts ...Option) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	db, _, err := sqldb.OpenHandle(dialect, cs)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithErrorWrapper(dialect.WrapError)}, opts...)
	return New(db, dialect.DriverName, opts...), nil
}

// OpenSQLite opens an embedded database on modernc.org/sqlite; an empty cs is
// a private in-memory database.
func OpenSQLite(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return Open(ctx, sqlite.Dialect(), cs, opts...)
}

func OpenPostgres(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return Open(ctx, postgres.Dialect(), cs, opts...)
}

func OpenMySQL(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return Open(ctx, mysql.Dialect(), cs, opts...)
}

func (p *Provider) Strategy() string { return StrategyName }

// DB exposes the sqlx handle.
func (p *Provider) DB() *sqlx.DB { return p.db }

func (p *Provider) wrap(err error, operation, query string) error {
	if p.wrapError != nil {
		err = p.wrapError(err, operation, query)
	}
	return orm.WrapErrorWithQuery(err, operation, "", query)
}

// ext returns the active transaction or the handle.
func (p *Provider) ext(ctx context.Context) (sqlx.ExtContext, error) {
	if p.closed {
		return nil, orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.tx != nil {
		return p.tx, nil
	}
	return p.db, nil
}

// args turns a statement into the named argument map, binding the identifier
// column as text.
func args(m orm.Mapping, stmt orm.ParametereizedSQL) (map[string]interface{}, error) {
	arg := make(map[string]interface{}, len(stmt.Names))
	for _, sp := range stmt.Parameters() {
		v := sp.Value
		if m.HasIdentifier() && sp.Name == m.IdentifierColumn() && v != nil {
			s, err := orm.IdentifierString(v)
			if err != nil {
				return nil, err
			}
			v = s
		}
		arg[sp.Name] = v
	}
	return arg, nil
}

func (p *Provider) query(ctx context.Context, m orm.Mapping, stmt orm.ParametereizedSQL) (orm.DBRecords, error) {
	e, err := p.ext(ctx)
	if err != nil {
		return nil, err
	}
	arg, err := args(m, stmt)
	if err != nil {
		return nil, err
	}
	p.logger.Debug("query", orm.String("sql", stmt.Query))
	rows, err := sqlx.NamedQueryContext(ctx, e, stmt.Query, arg)
	if err != nil {
		return nil, p.wrap(err, "QUERY", stmt.Query)
	}
	defer rows.Close()

	recs := orm.DBRecords{}
	for rows.Next() {
		data := make(map[string]interface{})
		if err := rows.MapScan(data); err != nil {
			return nil, p.wrap(err, "QUERY", stmt.Query)
		}
		for k, v := range data {
			if b, ok := v.([]byte); ok {
				data[k] = string(b)
			}
		}
		recs.Append(orm.DBRecord{TableName: m.Table, Data: data})
	}
	if err := rows.Err(); err != nil {
		return nil, p.wrap(err, "QUERY", stmt.Query)
	}
	return recs, nil
}

func (p *Provider) exec(ctx context.Context, m orm.Mapping, stmt orm.ParametereizedSQL) (int64, error) {
	e, err := p.ext(ctx)
	if err != nil {
		return 0, err
	}
	arg, err := args(m, stmt)
	if err != nil {
		return 0, err
	}
	p.logger.Debug("exec", orm.String("sql", stmt.Query))
	res, err := sqlx.NamedExecContext(ctx, e, stmt.Query, arg)
	if err != nil {
		return 0, p.wrap(err, "EXEC", stmt.Query)
	}
	return p.affected(res, stmt.Query)
}

func (p *Provider) affected(res sql.Result, query string) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, p.wrap(err, "EXEC", query)
	}
	return n, nil
}

// GetByID reports found=false with a nil error on a miss.
func (p *Provider) GetByID(ctx context.Context, m orm.Mapping, id interface{}) (orm.DBRecord, bool, error) {
	stmt, err := orm.BuildSelectByID(m, orm.ColonPlaceholder, id)
	if err != nil {
		return orm.DBRecord{}, false, err
	}
	recs, err := p.query(ctx, m, stmt)
	if err != nil {
		return orm.DBRecord{}, false, orm.WrapSelectError(err, m.Table)
	}
	if len(recs) == 0 {
		return orm.DBRecord{}, false, nil
	}
	return recs[0], true, nil
}

func (p *Provider) GetAll(ctx context.Context, m orm.Mapping) (orm.DBRecords, error) {
	stmt, err := orm.BuildSelectAll(m)
	if err != nil {
		return nil, err
	}
	recs, err := p.query(ctx, m, stmt)
	if err != nil {
		return nil, orm.WrapSelectError(err, m.Table)
	}
	return recs, nil
}

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
	recs, err := p.query(ctx, m, cond.ToSelectStringWith(m.Table, orm.ColonPlaceholder))
	if err != nil {
		return nil, orm.WrapSelectError(err, m.Table)
	}
	return recs, nil
}

func (p *Provider) Add(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	stmt, err := orm.BuildInsert(m, orm.ColonPlaceholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, m, stmt); err != nil {
		return orm.WrapInsertError(err, m.Table)
	}
	return nil
}

func (p *Provider) AddRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Add(ctx, m, rec) })
}

func (p *Provider) Update(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	stmt, err := orm.BuildUpdate(m, orm.ColonPlaceholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, m, stmt); err != nil {
		return orm.WrapUpdateError(err, m.Table)
	}
	return nil
}

func (p *Provider) UpdateRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Update(ctx, m, rec) })
}

func (p *Provider) Delete(ctx context.Context, m orm.Mapping, rec orm.DBRecord) error {
	stmt, err := orm.BuildDelete(m, orm.ColonPlaceholder, rec)
	if err != nil {
		return err
	}
	if _, err := p.exec(ctx, m, stmt); err != nil {
		return orm.WrapDeleteError(err, m.Table)
	}
	return nil
}

func (p *Provider) DeleteRange(ctx context.Context, m orm.Mapping, recs orm.DBRecords) error {
	return each(recs, func(rec orm.DBRecord) error { return p.Delete(ctx, m, rec) })
}

// SaveChanges always reports 0; writes are applied when issued.
func (p *Provider) SaveChanges(ctx context.Context) (int, error) {
	if _, err := p.ext(ctx); err != nil {
		return 0, err
	}
	return 0, nil
}

// BeginTransaction starts a transaction that does not inherit ctx
// cancellation.
func (p *Provider) BeginTransaction(ctx context.Context) error {
	if p.txs.Active() {
		return orm.ErrTransactionAlreadyActive
	}
	if _, err := p.ext(ctx); err != nil {
		return err
	}
	tx, err := p.db.BeginTxx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return orm.WrapTransactionError(p.wrap(err, "BEGIN", ""), "BEGIN")
	}
	p.tx = tx
	return p.txs.Begin()
}

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
	err := p.tx.Commit()
	p.tx = nil
	if err != nil {
		p.txs.Release()
		return orm.WrapTransactionError(p.wrap(err, "COMMIT", ""), "COMMIT")
	}
	return p.txs.Commit()
}

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
	err := p.tx.Rollback()
	p.tx = nil
	_ = p.txs.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return orm.WrapTransactionError(p.wrap(err, "ROLLBACK", ""), "ROLLBACK")
	}
	return nil
}

func (p *Provider) IsTransactionActive() bool { return p.txs.Active() }

// Close rolls back an active transaction and closes the handle.
func (p *Provider) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	if p.tx != nil {
		if err := p.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			orm.LogErrorWithContext(p.logger, "rollback on close failed", err)
		}
		p.tx = nil
		p.txs.Release()
	}
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
