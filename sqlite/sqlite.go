// Package sqlite provides the embedded SQLite engine of orm.Database over
// modernc.org/sqlite (pure Go, no cgo). Parameters bind by name as @name.
//
// An empty connection string opens a private in-memory database. Connection
// strings are not validated at Connect; a bad path surfaces on first use.
package sqlite

import (
	"context"
	"strings"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
	"github.com/medatechnology/polyorm/internal/sqliteerr"
	_ "modernc.org/sqlite"
)

const (
	EngineName = "sqlite"
	DriverName = "sqlite"
	Memory     = ":memory:"
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

// Dialect describes SQLite to the shared database/sql engine.
func Dialect() sqldb.Dialect {
	return sqldb.Dialect{
		Name:         EngineName,
		DriverName:   DriverName,
		Placeholder:  orm.AtPlaceholder,
		Named:        true,
		Prepare:      normaliseDSN,
		VersionQuery: "SELECT sqlite_version()",
		WrapError: func(err error, _, _ string) error {
			return sqliteerr.Classify(err)
		},
	}
}

// normaliseDSN only maps the empty string to an in-memory database.
func normaliseDSN(cs string) (string, error) {
	if strings.TrimSpace(cs) == "" {
		return Memory, nil
	}
	return cs, nil
}

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

// Error predicates, shared with rqlite.
var (
	IsUniqueViolation     = sqliteerr.IsUniqueViolation
	IsConstraintViolation = sqliteerr.IsConstraintViolation
	IsTableNotFound       = sqliteerr.IsTableNotFound
	IsDatabaseLocked      = sqliteerr.IsDatabaseLocked
)
