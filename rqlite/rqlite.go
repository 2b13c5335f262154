// Package rqlite provides the rqlite engine of orm.Database over
// github.com/rqlite/gorqlite. Parameters bind positionally as ?.
//
// Connect only checks the shape of the URL. The gorqlite connection is
// opened on first use, so an unreachable node surfaces on the first command.
package rqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	orm "github.com/medatechnology/polyorm"
	"github.com/rqlite/gorqlite"
)

const (
	EngineName = "rqlite"
	DriverName = "gorqlite"
)

// DB is a single rqlite node handle with at most one buffered transaction.
// Calls on one DB must not overlap.
type DB struct {
	logger      orm.Logger
	consistency string

	cfg         *Config
	url         string
	conn        *gorqlite.Connection
	connectedAt time.Time
	closed      bool

	txs     orm.TxTracker
	pending []gorqlite.ParameterizedStatement
}

var _ orm.Database = (*DB)(nil)

type Option func(*DB)

func WithLogger(l orm.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// WithConsistency sets the read consistency level (none, weak, strong),
// overriding the level in the URL.
func WithConsistency(level string) Option {
	return func(db *DB) { db.consistency = level }
}

func New(opts ...Option) *DB {
	db := &DB{}
	for _, opt := range opts {
		opt(db)
	}
	db.logger = orm.LoggerOrDefault(db.logger).With(orm.String("engine", EngineName))
	return db
}

// Open returns a DB connected to cs.
func Open(ctx context.Context, cs string, opts ...Option) (*DB, error) {
	db := New(opts...)
	if err := db.Connect(ctx, cs); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenConfig connects using a Config instead of a URL.
func OpenConfig(ctx context.Context, cfg *Config, opts ...Option) (*DB, error) {
	cs, err := cfg.ToURL()
	if err != nil {
		return nil, err
	}
	return Open(ctx, cs, opts...)
}

func (db *DB) Engine() string { return EngineName }

func (db *DB) Logger() orm.Logger { return db.logger }

// Connect records the node URL. A connected DB is disconnected first.
func (db *DB) Connect(ctx context.Context, connectionString string) error {
	if db.closed {
		return orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	cfg, err := ParseURL(connectionString)
	if err != nil {
		return orm.WrapConnectionError(err)
	}
	if db.url != "" {
		db.logger.Debug("reconnecting, dropping the current connection")
		if err := db.Disconnect(); err != nil {
			return err
		}
	}
	db.cfg = cfg
	db.url = strings.TrimSpace(connectionString)
	db.connectedAt = time.Now()
	db.logger.Info("connected", orm.String("url", cfg.String()))
	return nil
}

// Disconnect discards buffered writes and drops the gorqlite connection.
func (db *DB) Disconnect() error {
	if db.url == "" {
		return nil
	}
	if db.txs.Active() {
		if n := len(db.pending); n > 0 {
			db.logger.Warn("disconnect discards buffered writes", orm.Int("statements", n))
		}
		db.pending = nil
		db.txs.Release()
	}
	if db.conn != nil {
		db.conn.Close()
		db.conn = nil
	}
	db.url = ""
	db.cfg = nil
	db.connectedAt = time.Time{}
	db.logger.Debug("disconnected")
	return nil
}

func (db *DB) IsConnected() bool { return db.url != "" }

// check runs the pre-flight checks every command shares.
func (db *DB) check(ctx context.Context) error {
	if db.closed {
		return orm.ErrProviderClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if db.url == "" {
		return orm.ErrConnectionNotInitialized
	}
	return nil
}

// handle returns the gorqlite connection, opening it on first use.
func (db *DB) handle(ctx context.Context) (*gorqlite.Connection, error) {
	if err := db.check(ctx); err != nil {
		return nil, err
	}
	if db.conn != nil {
		return db.conn, nil
	}
	conn, err := gorqlite.Open(db.url)
	if err != nil {
		return nil, orm.WrapConnectionError(WrapRQLiteError(err, nil, "CONNECT", ""))
	}
	if db.consistency != "" {
		level, err := gorqlite.ParseConsistencyLevel(db.consistency)
		if err != nil {
			conn.Close()
			return nil, orm.WrapConnectionError(fmt.Errorf("%w: consistency %q", ErrRQLiteInvalidURL, db.consistency))
		}
		conn.SetConsistencyLevel(level)
	}
	db.conn = conn
	return conn, nil
}

// Args converts parameters into positional gorqlite arguments.
func (db *DB) Args(params []orm.Parameter) []interface{} {
	args := make([]interface{}, 0, len(params))
	for _, p := range params {
		args = append(args, orm.NullValue(p.Value))
	}
	return args
}

// ExecuteNonQuery runs a write. Inside a transaction the write is buffered
// and 0 is returned; the rows affected are only known at commit.
func (db *DB) ExecuteNonQuery(ctx context.Context, query string, params ...orm.Parameter) (int64, error) {
	if err := db.check(ctx); err != nil {
		return 0, err
	}
	if db.txs.Active() {
		db.buffer(query, db.Args(params))
		return 0, nil
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return 0, err
	}
	res, err := conn.WriteOneParameterized(gorqlite.ParameterizedStatement{Query: query, Arguments: db.Args(params)})
	if err != nil || res.Err != nil {
		return 0, orm.WrapErrorWithQuery(WrapRQLiteError(err, res.Err, "EXEC", query), "EXEC", "", query)
	}
	return res.RowsAffected, nil
}

func (db *DB) query(ctx context.Context, operation, query string, params []orm.Parameter) (gorqlite.QueryResult, error) {
	conn, err := db.handle(ctx)
	if err != nil {
		return gorqlite.QueryResult{}, err
	}
	qr, err := conn.QueryOneParameterized(gorqlite.ParameterizedStatement{Query: query, Arguments: db.Args(params)})
	if err != nil || qr.Err != nil {
		return qr, orm.WrapErrorWithQuery(WrapRQLiteError(err, qr.Err, operation, query), operation, "", query)
	}
	return qr, nil
}

func (db *DB) ExecuteQuery(ctx context.Context, query string, params ...orm.Parameter) (orm.Rows, error) {
	qr, err := db.query(ctx, "QUERY", query, params)
	if err != nil {
		return nil, err
	}
	return newRows(qr), nil
}

func (db *DB) ExecuteScalar(ctx context.Context, query string, params ...orm.Parameter) (interface{}, error) {
	qr, err := db.query(ctx, "SCALAR", query, params)
	if err != nil {
		return nil, err
	}
	if qr.NumRows() == 0 {
		return nil, orm.ErrNullOrMissingResult
	}
	cols := qr.Columns()
	if len(cols) == 0 || !qr.Next() {
		return nil, orm.ErrNullOrMissingResult
	}
	row, err := qr.Map()
	if err != nil {
		return nil, orm.WrapErrorWithQuery(err, "SCALAR", "", query)
	}
	v := row[cols[0]]
	if v == nil {
		return nil, orm.ErrNullOrMissingResult
	}
	return v, nil
}

// CreateParameter strips a leading bind marker from name.
func (db *DB) CreateParameter(name string, value interface{}) orm.Parameter {
	return orm.Parameter{Name: strings.TrimLeft(name, "@:$?"), Value: orm.NullValue(value)}
}

func (db *DB) Placeholder(name string, position int) string {
	return orm.QuestionPlaceholder(name, position)
}

// SaveChanges always reports 0: writes outside a transaction are applied
// when issued and buffered ones are applied by CommitTransaction.
func (db *DB) SaveChanges(ctx context.Context) (int, error) {
	return 0, ctx.Err()
}

// Close disconnects once and marks the DB unusable.
func (db *DB) Close() error {
	if db.closed {
		return nil
	}
	if err := db.Disconnect(); err != nil {
		db.logger.Warn("close: disconnect failed", orm.Error(err))
	}
	db.closed = true
	return nil
}

// Status reports the node version, leader and peers.
func (db *DB) Status(ctx context.Context) (orm.NodeStatusStruct, error) {
	st := orm.NodeStatusStruct{StatusStruct: orm.StatusStruct{
		DBMS:       EngineName,
		DBMSDriver: DriverName,
		MaxPool:    1,
		TxState:    db.txs.State().String(),
	}}
	if db.cfg != nil {
		st.URL = db.cfg.String()
	}
	conn, err := db.handle(ctx)
	if err != nil {
		return st, err
	}
	st.StartTime = db.connectedAt
	st.Uptime = time.Since(db.connectedAt)

	if v, err := db.ExecuteScalar(ctx, "SELECT sqlite_version()"); err == nil {
		st.Version = fmt.Sprint(v)
	} else {
		return st, err
	}

	leader, err := conn.Leader()
	if err != nil {
		return st, orm.WrapError(WrapRQLiteError(err, nil, "STATUS", ""), "STATUS", "")
	}
	peers, err := conn.Peers()
	if err != nil {
		return st, orm.WrapError(WrapRQLiteError(err, nil, "STATUS", ""), "STATUS", "")
	}
	st.Leader = leader
	st.Nodes = len(peers)
	st.Peers = make(map[int]orm.StatusStruct, len(peers))
	for i, p := range peers {
		st.Peers[i] = orm.StatusStruct{
			URL:        p,
			DBMS:       EngineName,
			IsLeader:   p == leader,
			Leader:     leader,
			NodeNumber: i,
		}
	}
	if db.cfg != nil {
		st.IsLeader = sameNode(db.cfg.URL, leader)
	}
	return st, nil
}

func sameNode(a, b string) bool {
	trim := func(s string) string {
		s = strings.TrimPrefix(strings.TrimPrefix(s, "http://"), "https://")
		return strings.TrimRight(s, "/")
	}
	return trim(a) == trim(b)
}
