package order

import "context"

// Repository persists orders. Implementations must honour an active
// document-store transaction carried in the context so status transitions
// commit atomically with inventory decrements.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	Update(ctx context.Context, o *Order) error
}
