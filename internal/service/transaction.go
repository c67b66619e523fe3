package service

import "context"

// TransactionManager runs fn in a database transaction carried by the context
// passed to fn. The transaction commits when fn returns nil.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}
