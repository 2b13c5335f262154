// Package sqldb implements orm.Database over database/sql. Engine packages
// supply a Dialect and wrap DB with their own constructor and options.
package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	orm "github.com/medatechnology/polyorm"
)

// Dialect is what differs between database/sql engines.
type Dialect struct {
	Name        string              // engine name reported by Engine()
	DriverName  string              // database/sql driver name
	Placeholder orm.PlaceholderFunc // bind marker style
	Named       bool                // bind parameters with sql.Named instead of positionally

	// Prepare validates and normalises a connection string at Connect time.
	// Nil means validation is deferred to the driver's first I/O.
	Prepare func(connectionString string) (string, error)

	// Redact turns a connection string into something safe to print.
	Redact func(connectionString string) string

	// Open replaces sql.Open(DriverName, dsn) when the engine needs a custom
	// connector.
	Open func(dsn string) (*sql.DB, error)

	VersionQuery string

	// WrapError lets an engine classify or annotate native errors. It must
	// keep the native error reachable with errors.As.
	WrapError func(err error, operation, query string) error
}

// DB owns one database/sql connection and at most one transaction.
// Calls on one DB must not overlap; Rows returned by ExecuteQuery must be
// closed before the next command, since the DB holds a single connection.
type DB struct {
	dialect Dialect
	logger  orm.Logger

	db          *sql.DB
	tx          *sql.Tx
	txs         orm.TxTracker
	dsn         string
	connectedAt time.Time
	closed      bool
	configure   func(*sql.DB)
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger; the package default is used otherwise.
func WithLogger(l orm.Logger) Option {
	return func(d *DB) { d.logger = l }
}

// WithPoolConfig is called on every freshly opened *sql.DB, after the
// single-connection limits are applied.
func WithPoolConfig(fn func(*sql.DB)) Option {
	return func(d *DB) { d.configure = fn }
}

func New(dialect Dialect, opts ...Option) *DB {
	d := &DB{dialect: dialect}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = orm.LoggerOrDefault(d.logger).With(orm.String("engine", dialect.Name))
	return d
}

func (d *DB) Engine() string { return d.dialect.Name }

// SQL returns the underlying handle, or nil when disconnected.
func (d *DB) SQL() *sql.DB { return d.db }

func (d *DB) Logger() orm.Logger { return d.logger }

func (d *DB) wrap(err error, operation, query string) error {
	if err == nil {
		return nil
	}
	if d.dialect.WrapError != nil {
		err = d.dialect.WrapError(err, operation, query)
	}
	return orm.WrapErrorWithQuery(err, operation, "", query)
}

// Connect opens the connection. A connected DB is disconnected first.
func (d *DB) Connect(ctx context.Context, connectionString string) error {
	if d.closed {
		return orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if d.db != nil {
		d.logger.Debug("reconnecting, closing the current connection")
		if err := d.Disconnect(); err != nil {
			return err
		}
	}

	db, dsn, err := OpenHandle(d.dialect, connectionString)
	if err != nil {
		return err
	}
	if d.configure != nil {
		d.configure(db)
	}

	d.db = db
	d.dsn = dsn
	d.connectedAt = time.Now()
	d.logger.Info("connected", orm.String("dsn", d.redacted()))
	return nil
}

// OpenHandle prepares connectionString with the dialect and opens a
// single-connection handle without dialing. It also returns the prepared DSN.
// The mapper and tracking strategies open their handles through it.
func OpenHandle(dialect Dialect, connectionString string) (*sql.DB, string, error) {
	dsn := connectionString
	if dialect.Prepare != nil {
		prepared, err := dialect.Prepare(connectionString)
		if err != nil {
			return nil, "", orm.WrapConnectionError(err)
		}
		dsn = prepared
	}

	open := dialect.Open
	if open == nil {
		open = func(dsn string) (*sql.DB, error) { return sql.Open(dialect.DriverName, dsn) }
	}
	db, err := open(dsn)
	if err != nil {
		return nil, "", orm.WrapConnectionError(err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)
	db.SetConnMaxIdleTime(0)
	return db, dsn, nil
}

// Disconnect rolls back an active transaction and closes the connection.
func (d *DB) Disconnect() error {
	if d.db == nil {
		return nil
	}
	if d.tx != nil {
		if err := d.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			d.logger.Warn("rollback on disconnect failed", orm.Error(err))
		}
		d.tx = nil
		d.txs.Release()
	}
	err := d.db.Close()
	d.db = nil
	d.connectedAt = time.Time{}
	if err != nil {
		return orm.WrapError(err, "DISCONNECT", "")
	}
	d.logger.Debug("disconnected")
	return nil
}

func (d *DB) IsConnected() bool { return d.db != nil }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// conn returns the active transaction or the connection, after the
// pre-flight checks every command shares.
func (d *DB) conn(ctx context.Context) (execer, error) {
	if d.closed {
		return nil, orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.db == nil {
		return nil, orm.ErrConnectionNotInitialized
	}
	if d.tx != nil {
		return d.tx, nil
	}
	return d.db, nil
}

// Args converts parameters into driver arguments for this dialect. Named
// dialects bind each name once, the first occurrence winning.
func (d *DB) Args(params []orm.Parameter) []interface{} {
	args := make([]interface{}, 0, len(params))
	if !d.dialect.Named {
		for _, p := range params {
			args = append(args, orm.NullValue(p.Value))
		}
		return args
	}
	seen := make(map[string]bool, len(params))
	for _, p := range params {
		if seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		args = append(args, sql.Named(p.Name, orm.NullValue(p.Value)))
	}
	return args
}

func (d *DB) ExecuteNonQuery(ctx context.Context, query string, params ...orm.Parameter) (int64, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return 0, err
	}
	res, err := c.ExecContext(ctx, query, d.Args(params)...)
	if err != nil {
		return 0, d.wrap(err, "EXEC", query)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, d.wrap(err, "EXEC", query)
	}
	return n, nil
}

func (d *DB) ExecuteQuery(ctx context.Context, query string, params ...orm.Parameter) (orm.Rows, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := c.QueryContext(ctx, query, d.Args(params)...)
	if err != nil {
		return nil, d.wrap(err, "QUERY", query)
	}
	return rows, nil
}

func (d *DB) ExecuteScalar(ctx context.Context, query string, params ...orm.Parameter) (interface{}, error) {
	c, err := d.conn(ctx)
	if err != nil {
		return nil, err
	}
	var v interface{}
	if err := c.QueryRowContext(ctx, query, d.Args(params)...).Scan(&v); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, orm.ErrNullOrMissingResult
		}
		return nil, d.wrap(err, "SCALAR", query)
	}
	if v == nil {
		return nil, orm.ErrNullOrMissingResult
	}
	if b, ok := v.([]byte); ok {
		return string(b), nil
	}
	return v, nil
}

// CreateParameter strips a leading bind marker from name, so "@Id", ":Id"
// and "Id" are the same parameter.
func (d *DB) CreateParameter(name string, value interface{}) orm.Parameter {
	return orm.Parameter{Name: strings.TrimLeft(name, "@:$?"), Value: orm.NullValue(value)}
}

func (d *DB) Placeholder(name string, position int) string {
	return d.dialect.Placeholder(name, position)
}

// BeginTransaction starts the single transaction. The transaction does not
// inherit ctx cancellation; it ends only on commit, rollback or disconnect.
func (d *DB) BeginTransaction(ctx context.Context) error {
	if d.txs.Active() {
		return orm.ErrTransactionAlreadyActive
	}
	if _, err := d.conn(ctx); err != nil {
		return err
	}
	tx, err := d.db.BeginTx(context.WithoutCancel(ctx), nil)
	if err != nil {
		return orm.WrapTransactionError(d.wrap(err, "BEGIN", ""), "BEGIN")
	}
	d.tx = tx
	return d.txs.Begin()
}

// CommitTransaction with no active transaction logs a warning and returns nil.
func (d *DB) CommitTransaction(ctx context.Context) error {
	if !d.txs.Active() {
		d.logger.Warn("commit requested with no active transaction")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.tx.Commit()
	d.tx = nil
	if err != nil {
		d.txs.Release()
		return orm.WrapTransactionError(d.wrap(err, "COMMIT", ""), "COMMIT")
	}
	return d.txs.Commit()
}

// RollbackTransaction with no active transaction logs a warning and returns nil.
func (d *DB) RollbackTransaction(ctx context.Context) error {
	if !d.txs.Active() {
		d.logger.Warn("rollback requested with no active transaction")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	err := d.tx.Rollback()
	d.tx = nil
	_ = d.txs.Rollback()
	if err != nil && !errors.Is(err, sql.ErrTxDone) {
		return orm.WrapTransactionError(d.wrap(err, "ROLLBACK", ""), "ROLLBACK")
	}
	return nil
}

func (d *DB) IsTransactionActive() bool { return d.txs.Active() }

func (d *DB) TransactionState() orm.TxState { return d.txs.State() }

// SaveChanges always reports 0: every command is applied when issued.
func (d *DB) SaveChanges(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}

// Close disconnects once and marks the DB unusable. Failures are logged.
func (d *DB) Close() error {
	if d.closed {
		return nil
	}
	if err := d.Disconnect(); err != nil {
		d.logger.Warn("close: disconnect failed", orm.Error(err))
	}
	d.closed = true
	return nil
}

// Status reports engine version, driver and uptime of the connection.
func (d *DB) Status(ctx context.Context) (orm.StatusStruct, error) {
	st := orm.StatusStruct{
		DBMS:       d.dialect.Name,
		DBMSDriver: d.dialect.DriverName,
		URL:        d.redacted(),
		MaxPool:    1,
		TxState:    d.txs.State().String(),
	}
	if d.db == nil {
		return st, orm.ErrConnectionNotInitialized
	}
	st.StartTime = d.connectedAt
	st.Uptime = time.Since(d.connectedAt)
	if d.dialect.VersionQuery != "" {
		v, err := d.ExecuteScalar(ctx, d.dialect.VersionQuery)
		if err != nil {
			return st, err
		}
		st.Version = fmt.Sprint(v)
	}
	return st, nil
}

func (d *DB) redacted() string {
	if d.dialect.Redact != nil {
		return d.dialect.Redact(d.dsn)
	}
	return d.dsn
}
