// Package postgres provides the PostgreSQL engine of orm.Database, over
// github.com/lib/pq. Connection strings are parsed eagerly: Connect fails with
// ErrPostgresInvalidDSN before any network I/O when the string is malformed.
package postgres

import (
	"context"

	_ "github.com/lib/pq"
	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
)

const (
	EngineName = "postgres"
	DriverName = "postgres"
)

// DB is a single-connection PostgreSQL provider. Parameters bind as $1, $2...
type DB struct {
	*sqldb.DB
}

var _ orm.Database = (*DB)(nil)

type Option = sqldb.Option

var (
	WithLogger     = sqldb.WithLogger
	WithPoolConfig = sqldb.WithPoolConfig
)

// Dialect describes PostgreSQL to the shared database/sql engine.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name:         EngineName,
		DriverName:   DriverName,
		Placeholder:  orm.DollarPlaceholder,
		Prepare:      prepareDSN,
		Redact:       redactDSN,
		VersionQuery: "SELECT version()",
		WrapError:    WrapPostgreSQLError,
	}
}

func prepareDSN(cs string) (string, error) {
	cfg, err := ParseDSN(cs)
	if err != nil {
		return "", err
	}
	return cfg.ToDSN()
}

func redactDSN(cs string) string {
	cfg, err := ParseDSN(cs)
	if err != nil {
		return ""
	}
	return cfg.String()
}

// New returns an unconnected DB.
func New(opts ...Option) *DB {
	return &DB{DB: sqldb.New(Dialect(), opts...)}
}

// Open returns a DB connected to cs.
func Open(ctx context.Context, cs string, opts ...Option) (*DB, error) {
	db := New(opts...)
	if err := db.Connect(ctx, cs); err != nil {
		return nil, err
	}
	return db, nil
}

// OpenConfig connects using a PostgresConfig instead of a connection string.
func OpenConfig(ctx context.Context, cfg *PostgresConfig, opts ...Option) (*DB, error) {
	dsn, err := cfg.ToDSN()
	if err != nil {
		return nil, err
	}
	return Open(ctx, dsn, opts...)
}
