package tracking

import (
	"context"
	"database/sql"

	orm "github.com/medatechnology/polyorm"
	"github.com/medatechnology/polyorm/internal/sqldb"
	"github.com/medatechnology/polyorm/mysql"
	"github.com/medatechnology/polyorm/postgres"
	"github.com/medatechnology/polyorm/sqlite"
	gormmysql "gorm.io/driver/mysql"
	gormpostgres "gorm.io/driver/postgres"
	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// Open opens a gorm handle on dialector without pinging and wraps it. The
// gorm logger is routed to the provider's logger.
func Open(ctx context.Context, dialector gorm.Dialector, opts ...Option) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	settings := &Provider{}
	for _, opt := range opts {
		opt(settings)
	}
	log := orm.LoggerOrDefault(settings.logger).With(orm.String("strategy", StrategyName))
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 newGormLogger(log),
		SkipDefaultTransaction: true,
		DisableAutomaticPing:   true,
	})
	if err != nil {
		return nil, orm.WrapConnectionError(settings.classify(err, "CONNECT"))
	}
	return New(db, opts...), nil
}

// openEngine opens the connection the way the engine of the same name does,
// so connection strings, drivers and error classification match, and hands
// it to gorm through dialect.
func openEngine(ctx context.Context, engine sqldb.Dialect, cs string, dialect func(conn *sql.DB) gorm.Dialector, opts ...Option) (*Provider, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, _, err := sqldb.OpenHandle(engine, cs)
	if err != nil {
		return nil, err
	}
	opts = append([]Option{WithErrorWrapper(engine.WrapError)}, opts...)
	p, err := Open(ctx, dialect(conn), opts...)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return p, nil
}

// OpenSQLite opens an embedded database on modernc.org/sqlite; an empty cs is
// a private in-memory database.
func OpenSQLite(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return openEngine(ctx, sqlite.Dialect(), cs, func(conn *sql.DB) gorm.Dialector {
		return gormsqlite.New(gormsqlite.Config{DriverName: sqlite.DriverName, Conn: conn})
	}, opts...)
}

// OpenPostgres opens a lib/pq connection; cs is validated before anything is
// dialed.
func OpenPostgres(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return openEngine(ctx, postgres.Dialect(), cs, func(conn *sql.DB) gorm.Dialector {
		return gormpostgres.New(gormpostgres.Config{DriverName: postgres.DriverName, Conn: conn})
	}, opts...)
}

// OpenMySQL opens a go-sql-driver connection. The server version probe is
// skipped so nothing is dialed until the first command.
func OpenMySQL(ctx context.Context, cs string, opts ...Option) (*Provider, error) {
	return openEngine(ctx, mysql.Dialect(), cs, func(conn *sql.DB) gorm.Dialector {
		return gormmysql.New(gormmysql.Config{
			DriverName:                mysql.DriverName,
			Conn:                      conn,
			SkipInitializeWithVersion: true,
		})
	}, opts...)
}
