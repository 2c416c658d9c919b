package inventory

import "context"

// Repository persists ledger items. Implementations must honour an active
// document-store transaction carried in the context: inside a transaction all
// Gets are versioned reads and all Saves are buffered writes.
type Repository interface {
	Get(ctx context.Context, productID string) (*Item, error)
	Save(ctx context.Context, item *Item) error
}
