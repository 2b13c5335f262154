package orm

import "context"

// Parameter is a named command argument. Engines that bind positionally use
// the order the parameters were passed in; engines with named binding use Name.
type Parameter struct {
	Name  string
	Value interface{}
}

// Rows is a forward-only cursor over a query result. *sql.Rows satisfies it.
// The cursor holds the provider's connection until it is closed.
type Rows interface {
	Next() bool
	Columns() ([]string, error)
	Scan(dest ...interface{}) error
	Err() error
	Close() error
}

// Transactional is the lifecycle every provider shares, whether it is a
// low-level Database or an EntityProvider. UnitOfWork only needs this.
type Transactional interface {
	BeginTransaction(ctx context.Context) error
	CommitTransaction(ctx context.Context) error
	RollbackTransaction(ctx context.Context) error
	SaveChanges(ctx context.Context) (int, error)
	IsTransactionActive() bool

	// Close releases the connection and rolls back an active transaction.
	// It is idempotent and never returns an error; cleanup failures are logged.
	Close() error
}

// Database is the low-level provider: one owned connection, raw commands and
// direct transaction control.
//
// CommitTransaction and RollbackTransaction with no active transaction are
// no-ops that log a warning. The entity layer is stricter, see EntityProvider.
type Database interface {
	Transactional

	// Connect opens the connection. Connecting while connected disconnects
	// first, rolling back any active transaction.
	Connect(ctx context.Context, connectionString string) error
	Disconnect() error
	IsConnected() bool

	ExecuteNonQuery(ctx context.Context, query string, params ...Parameter) (int64, error)
	ExecuteQuery(ctx context.Context, query string, params ...Parameter) (Rows, error)
	// ExecuteScalar returns the first column of the first row, or
	// ErrNullOrMissingResult when there is no row or the value is NULL.
	ExecuteScalar(ctx context.Context, query string, params ...Parameter) (interface{}, error)

	// CreateParameter builds an engine parameter; nil and typed-nil values
	// become the engine's NULL.
	CreateParameter(name string, value interface{}) Parameter
	// Placeholder renders the bind marker for the named parameter at the
	// given 1-based position.
	Placeholder(name string, position int) string

	TransactionState() TxState
	Engine() string
}

// EntityProvider is the backend-agnostic CRUD contract. Records are described
// by a Mapping, usually obtained from an Entity; Repository adds the typed
// surface on top.
//
// CommitTransaction and RollbackTransaction fail with ErrNoActiveTransaction
// when no transaction was begun.
type EntityProvider interface {
	Transactional

	// GetByID reports found=false, with a nil error, when no row matches.
	GetByID(ctx context.Context, m Mapping, id interface{}) (DBRecord, bool, error)
	GetAll(ctx context.Context, m Mapping) (DBRecords, error)
	Find(ctx context.Context, m Mapping, cond *Condition) (DBRecords, error)

	Add(ctx context.Context, m Mapping, rec DBRecord) error
	AddRange(ctx context.Context, m Mapping, recs DBRecords) error
	Update(ctx context.Context, m Mapping, rec DBRecord) error
	UpdateRange(ctx context.Context, m Mapping, recs DBRecords) error
	Delete(ctx context.Context, m Mapping, rec DBRecord) error
	DeleteRange(ctx context.Context, m Mapping, recs DBRecords) error

	// Strategy names the implementation: "raw", "mapper" or "tracking".
	Strategy() string
}
