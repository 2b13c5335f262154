package orm

import (
	"context"
	"fmt"
)

// UnitOfWork owns one provider and gives every strategy the same
// begin/commit/rollback/save surface. Closing it closes the provider.
type UnitOfWork struct {
	provider Transactional
	logger   Logger
	closed   bool
}

func NewUnitOfWork(p Transactional) *UnitOfWork {
	return &UnitOfWork{provider: p, logger: GetDefaultLogger()}
}

// WithLogger replaces the logger used for Do rollbacks.
func (u *UnitOfWork) WithLogger(l Logger) *UnitOfWork {
	u.logger = l
	return u
}

// Provider returns the wrapped provider.
func (u *UnitOfWork) Provider() Transactional { return u.provider }

func (u *UnitOfWork) BeginTransaction(ctx context.Context) error {
	if u.closed {
		return ErrProviderClosed
	}
	return u.provider.BeginTransaction(ctx)
}

func (u *UnitOfWork) CommitTransaction(ctx context.Context) error {
	if u.closed {
		return ErrProviderClosed
	}
	return u.provider.CommitTransaction(ctx)
}

func (u *UnitOfWork) RollbackTransaction(ctx context.Context) error {
	if u.closed {
		return ErrProviderClosed
	}
	return u.provider.RollbackTransaction(ctx)
}

func (u *UnitOfWork) SaveChanges(ctx context.Context) (int, error) {
	if u.closed {
		return 0, ErrProviderClosed
	}
	return u.provider.SaveChanges(ctx)
}

func (u *UnitOfWork) IsTransactionActive() bool {
	return !u.closed && u.provider.IsTransactionActive()
}

// Close closes the wrapped provider once; later calls do nothing.
func (u *UnitOfWork) Close() error {
	if u.closed {
		return nil
	}
	u.closed = true
	if err := u.provider.Close(); err != nil {
		LogErrorWithContext(u.logger, "unit of work: provider close failed", err)
	}
	return nil
}

// Do runs fn inside a transaction: begin, fn, save, commit. Any error or
// panic from fn or SaveChanges rolls the transaction back; a panic is
// re-raised after the rollback.
func (u *UnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = u.BeginTransaction(ctx); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			u.rollbackQuietly(ctx)
			panic(r)
		}
		if err != nil {
			u.rollbackQuietly(ctx)
		}
	}()

	if err = fn(ctx); err != nil {
		return err
	}
	if _, err = u.SaveChanges(ctx); err != nil {
		return fmt.Errorf("save changes: %w", err)
	}
	return u.CommitTransaction(ctx)
}

func (u *UnitOfWork) rollbackQuietly(ctx context.Context) {
	if !u.provider.IsTransactionActive() {
		return
	}
	if rbErr := u.provider.RollbackTransaction(context.WithoutCancel(ctx)); rbErr != nil {
		LogErrorWithContext(u.logger, "unit of work: rollback failed", rbErr)
	}
}
