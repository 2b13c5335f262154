package orm

// TxState is the lifecycle of the single transaction a provider may hold.
type TxState int

const (
	TxNone TxState = iota
	TxActive
	TxCommitted
	TxRolledBack
)

func (s TxState) String() string {
	switch s {
	case TxNone:
		return "none"
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// TxTracker holds the transaction state machine shared by every engine and
// strategy. The zero value is in TxNone.
//
//	None/Committed/RolledBack --Begin--> Active
//	Active --Commit--> Committed
//	Active --Rollback--> RolledBack
type TxTracker struct {
	state TxState
}

func (t *TxTracker) State() TxState { return t.state }

func (t *TxTracker) Active() bool { return t.state == TxActive }

// Begin moves to Active, or fails with ErrTransactionAlreadyActive.
func (t *TxTracker) Begin() error {
	if t.state == TxActive {
		return ErrTransactionAlreadyActive
	}
	t.state = TxActive
	return nil
}

// Commit moves Active to Committed, or fails with ErrNoActiveTransaction.
func (t *TxTracker) Commit() error {
	if t.state != TxActive {
		return ErrNoActiveTransaction
	}
	t.state = TxCommitted
	return nil
}

// Rollback moves Active to RolledBack, or fails with ErrNoActiveTransaction.
func (t *TxTracker) Rollback() error {
	if t.state != TxActive {
		return ErrNoActiveTransaction
	}
	t.state = TxRolledBack
	return nil
}

// Release marks an active transaction as rolled back after its native
// handle was discarded by a disconnect or close.
func (t *TxTracker) Release() {
	if t.state == TxActive {
		t.state = TxRolledBack
	}
}
