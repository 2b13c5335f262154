package rqlite

import (
	"context"

	orm "github.com/medatechnology/polyorm"
	"github.com/rqlite/gorqlite"
)

// rqlite has no server-side transaction spanning HTTP requests. Instead,
// writes issued while a transaction is active are buffered and sent as one
// batch on commit, which the node applies atomically. Reads are not
// buffered and do not see the pending writes.

// BeginTransaction starts buffering writes.
func (db *DB) BeginTransaction(ctx context.Context) error {
	if db.txs.Active() {
		return orm.ErrTransactionAlreadyActive
	}
	if err := db.check(ctx); err != nil {
		return err
	}
	db.pending = db.pending[:0]
	return db.txs.Begin()
}

// CommitTransaction sends the buffered writes as one batch. With no active
// transaction it logs a warning and returns nil.
func (db *DB) CommitTransaction(ctx context.Context) error {
	if !db.txs.Active() {
		db.logger.Warn("commit requested with no active transaction")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	statements := db.pending
	db.pending = nil
	if len(statements) == 0 {
		return db.txs.Commit()
	}

	conn, err := db.handle(ctx)
	if err != nil {
		db.txs.Release()
		return orm.WrapTransactionError(err, "COMMIT")
	}
	results, err := conn.WriteParameterized(statements)
	if err != nil {
		db.txs.Release()
		return orm.WrapTransactionError(WrapRQLiteError(err, firstWriteError(results), "COMMIT", ""), "COMMIT")
	}
	var affected int64
	for _, r := range results {
		affected += r.RowsAffected
	}
	db.logger.Debug("committed buffered writes",
		orm.Int("statements", len(statements)),
		orm.Int64("rows_affected", affected))
	return db.txs.Commit()
}

// RollbackTransaction discards the buffered writes. With no active
// transaction it logs a warning and returns nil.
func (db *DB) RollbackTransaction(ctx context.Context) error {
	if !db.txs.Active() {
		db.logger.Warn("rollback requested with no active transaction")
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if n := len(db.pending); n > 0 {
		db.logger.Debug("discarding buffered writes", orm.Int("statements", n))
	}
	db.pending = nil
	return db.txs.Rollback()
}

func (db *DB) IsTransactionActive() bool { return db.txs.Active() }

func (db *DB) TransactionState() orm.TxState { return db.txs.State() }

// Pending returns how many writes are buffered in the active transaction.
func (db *DB) Pending() int { return len(db.pending) }

func (db *DB) buffer(query string, args []interface{}) {
	db.pending = append(db.pending, gorqlite.ParameterizedStatement{Query: query, Arguments: args})
}

func firstWriteError(results []gorqlite.WriteResult) error {
	for _, r := range results {
		if r.Err != nil {
			return r.Err
		}
	}
	return nil
}
