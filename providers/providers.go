// Package providers registers the built-in engines and strategies under
// their well-known names.
//
//	postgres, sqlite, mysql, rqlite              raw strategy over the engine
//	sqlx-postgres, sqlx-sqlite, sqlx-mysql       mapper strategy (sqlx)
//	gorm-postgres, gorm-sqlite, gorm-mysql       tracking strategy (gorm)
package providers

import (
	"context"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
	"github.com/medatechnology/polyorm/mapper"
	"github.com/medatechnology/polyorm/mysql"
	"github.com/medatechnology/polyorm/postgres"
	"github.com/medatechnology/polyorm/raw"
	"github.com/medatechnology/polyorm/rqlite"
	"github.com/medatechnology/polyorm/sqlite"
	"github.com/medatechnology/polyorm/tracking"
)

const (
	Postgres = "postgres"
	SQLite   = "sqlite"
	MySQL    = "mysql"
	RQLite   = "rqlite"

	SqlxPostgres = "sqlx-postgres"
	SqlxSQLite   = "sqlx-sqlite"
	SqlxMySQL    = "sqlx-mysql"

	GormPostgres = "gorm-postgres"
	GormSQLite   = "gorm-sqlite"
	GormMySQL    = "gorm-mysql"
)

type options struct {
	logger orm.Logger
}

type Option func(*options)

// WithLogger sets the logger handed to every provider the constructors build.
func WithLogger(l orm.Logger) Option {
	return func(o *options) { o.logger = l }
}

func apply(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Databases returns a registry of the low-level engines.
func Databases(opts ...Option) *orm.Registry[orm.Database] {
	reg := orm.NewRegistry[orm.Database]()
	RegisterDatabases(reg, opts...)
	return reg
}

// RegisterDatabases adds the four engines to reg.
func RegisterDatabases(reg *orm.Registry[orm.Database], opts ...Option) {
	o := apply(opts)
	for name, ctor := range databases(o) {
		_ = reg.Register(name, ctor)
	}
}

func databases(o options) map[string]orm.Constructor[orm.Database] {
	return map[string]orm.Constructor[orm.Database]{
		Postgres: func(ctx context.Context, cs string) (orm.Database, error) {
			return database(postgres.Open(ctx, cs, postgres.WithLogger(o.logger)))
		},
		SQLite: func(ctx context.Context, cs string) (orm.Database, error) {
			return database(sqlite.Open(ctx, cs, sqlite.WithLogger(o.logger)))
		},
		MySQL: func(ctx context.Context, cs string) (orm.Database, error) {
			return database(mysql.Open(ctx, cs, mysql.WithLogger(o.logger)))
		},
		RQLite: func(ctx context.Context, cs string) (orm.Database, error) {
			return database(rqlite.Open(ctx, cs, rqlite.WithLogger(o.logger)))
		},
	}
}

// database and entity keep a failed constructor from returning a typed nil.
func database[D orm.Database](db D, err error) (orm.Database, error) {
	if err != nil {
		return nil, err
	}
	return db, nil
}

func entity[P orm.EntityProvider](p P, err error) (orm.EntityProvider, error) {
	if err != nil {
		return nil, err
	}
	return p, nil
}

// Default returns a registry holding every built-in entity provider.
func Default(opts ...Option) *orm.Registry[orm.EntityProvider] {
	reg := orm.NewRegistry[orm.EntityProvider]()
	Register(reg, opts...)
	return reg
}

// Register adds every built-in entity provider to reg, replacing earlier
// registrations under the same names.
func Register(reg *orm.Registry[orm.EntityProvider], opts ...Option) {
	o := apply(opts)

	for name, open := range databases(o) {
		open := open
		_ = reg.Register(name, func(ctx context.Context, cs string) (orm.EntityProvider, error) {
			db, err := open(ctx, cs)
			if err != nil {
				return nil, err
			}
			return raw.New(db, raw.WithLogger(o.logger)), nil
		})
	}

	for name, dialect := range map[string]sqldb.Dialect{
		SqlxPostgres: postgres.Dialect(),
		SqlxSQLite:   sqlite.Dialect(),
		SqlxMySQL:    mysql.Dialect(),
	} {
		dialect := dialect
		_ = reg.Register(name, func(ctx context.Context, cs string) (orm.EntityProvider, error) {
			return openMapper(ctx, dialect, cs, o)
		})
	}

	_ = reg.Register(GormPostgres, func(ctx context.Context, cs string) (orm.EntityProvider, error) {
		return entity(tracking.OpenPostgres(ctx, cs, tracking.WithLogger(o.logger)))
	})
	_ = reg.Register(GormSQLite, func(ctx context.Context, cs string) (orm.EntityProvider, error) {
		return entity(tracking.OpenSQLite(ctx, cs, tracking.WithLogger(o.logger)))
	})
	_ = reg.Register(GormMySQL, func(ctx context.Context, cs string) (orm.EntityProvider, error) {
		return entity(tracking.OpenMySQL(ctx, cs, tracking.WithLogger(o.logger)))
	})
}

// openMapper opens the handle the way the engine does and lets sqlx compile
// named statements for the engine's driver.
func openMapper(ctx context.Context, dialect sqldb.Dialect, cs string, o options) (orm.EntityProvider, error) {
	return entity(mapper.Open(ctx, dialect, cs, mapper.WithLogger(o.logger)))
}
