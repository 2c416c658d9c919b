package inventory

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound        = errors.New("inventory: product not found")
	ErrInvalidQuantity = errors.New("inventory: quantity must be greater than zero")
)

// InsufficientStockError reports the product that could not cover a requested
// decrement. It is an expected business outcome, not a system fault.
type InsufficientStockError struct {
	ProductID string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory: insufficient stock for %s: have %d, need %d",
		e.ProductID, e.Available, e.Requested)
}

// Item is one ledger entry: the available quantity for a product.
// Quantity never goes negative; Deduct is the only mutation.
type Item struct {
	ProductID string    `json:"product_id"`
	Quantity  int       `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

func NewItem(productID string, quantity int) (*Item, error) {
	if productID == "" {
		return nil, ErrNotFound
	}
	if quantity < 0 {
		return nil, ErrInvalidQuantity
	}
	return &Item{
		ProductID: productID,
		Quantity:  quantity,
		UpdatedAt: time.Now().UTC(),
	}, nil
}

// Sufficient reports whether the item can cover a decrement of n.
// The cross-item sufficiency check belongs to the reservation transaction;
// this is the per-item predicate it uses.
func (i *Item) Sufficient(n int) bool {
	return n > 0 && n <= i.Quantity
}

// Deduct removes n units. It refuses non-positive amounts and never writes a
// negative quantity.
func (i *Item) Deduct(n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}
	if n > i.Quantity {
		return &InsufficientStockError{ProductID: i.ProductID, Available: i.Quantity, Requested: n}
	}
	i.Quantity -= n
	i.touch()
	return nil
}

// Replenish adds n units (external restock path).
func (i *Item) Replenish(n int) error {
	if n <= 0 {
		return ErrInvalidQuantity
	}
	i.Quantity += n
	i.touch()
	return nil
}

func (i *Item) touch() {
	i.UpdatedAt = time.Now().UTC()
}
