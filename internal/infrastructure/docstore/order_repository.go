package docstore

import (
	"context"
	"errors"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/order"
)

const ordersCollection = "orders"

// OrderRepository stores order documents keyed by generated id.
type OrderRepository struct {
	store Store
}

func NewOrderRepository(store Store) *OrderRepository {
	return &OrderRepository{store: store}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("order repository: id is required")
	}
	err := r.store.Create(ctx, orderKey(o.ID), o)
	if errors.Is(err, ErrExists) {
		return order.ErrConflict
	}
	return err
}

func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	var o order.Order
	err := r.store.Get(ctx, orderKey(id), &o)
	if errors.Is(err, ErrNotFound) {
		return nil, order.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	if o == nil || o.ID == "" {
		return errors.New("order repository: id is required")
	}
	return r.store.Set(ctx, orderKey(o.ID), o)
}

func orderKey(id string) Key {
	return Key{Collection: ordersCollection, ID: id}
}
