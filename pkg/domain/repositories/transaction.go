package repositories

import "context"

// TransactionManager runs a sequence of repository calls atomically.
// A non-nil error from fn rolls back every write made through ctx.
type TransactionManager interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error

	// AfterCommit defers fn until the outermost transaction bound to ctx commits.
	// fn is dropped on rollback and runs immediately when ctx carries no transaction.
	AfterCommit(ctx context.Context, fn func())
}
