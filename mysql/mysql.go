// Package mysql provides the MySQL engine of orm.Database over
// github.com/go-sql-driver/mysql. Parameters bind positionally as ?.
//
// The connection string is a go-sql-driver DSN. It is parsed when Connect is
// called, but nothing is dialed until the first command.
package mysql

import (
	"context"
	"database/sql"
	"fmt"

	driver "github.com/go-sql-driver/mysql"
	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
)

const (
	EngineName = "mysql"
	DriverName = "mysql"
)

type DB struct {
	*sqldb.DB
}

var _ orm.Database = (*DB)(nil)

type Option = sqldb.Option

var (
	WithLogger     = sqldb.WithLogger
	WithPoolConfig = sqldb.WithPoolConfig
)

// Dialect describes MySQL to the shared database/sql engine.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name:         EngineName,
		DriverName:   DriverName,
		Placeholder:  orm.QuestionPlaceholder,
		Redact:       redactDSN,
		Open:         openDSN,
		VersionQuery: "SELECT VERSION()",
		WrapError:    WrapMySQLError,
	}
}

// ParseDSN parses a go-sql-driver DSN, forcing parseTime so DATETIME columns
// scan into time.Time.
func ParseDSN(dsn string) (*driver.Config, error) {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMySQLInvalidDSN, err)
	}
	cfg.ParseTime = true
	return cfg, nil
}

func openDSN(dsn string) (*sql.DB, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	conn, err := driver.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMySQLInvalidDSN, err)
	}
	return sql.OpenDB(conn), nil
}

func redactDSN(dsn string) string {
	cfg, err := driver.ParseDSN(dsn)
	if err != nil {
		return ""
	}
	if cfg.Passwd != "" {
		cfg.Passwd = "****"
	}
	return cfg.FormatDSN()
}

func New(opts ...Option) *DB {
	return &DB{DB: sqldb.New(Dialect(), opts...)}
}

// Open returns a DB connected to dsn.
func Open(ctx context.Context, dsn string, opts ...Option) (*DB, error) {
	db := New(opts...)
	if err := db.Connect(ctx, dsn); err != nil {
		return nil, err
	}
	return db, nil
}
