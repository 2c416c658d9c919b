package docstore

import (
	"context"
	"errors"

	"github.com/toshankanwar/bakery-management-and-ecommerce-sub000/internal/domain/inventory"
)

const inventoryCollection = "inventory"

// InventoryRepository stores ledger items keyed by product id.
type InventoryRepository struct {
	store Store
}

func NewInventoryRepository(store Store) *InventoryRepository {
	return &InventoryRepository{store: store}
}

func (r *InventoryRepository) Get(ctx context.Context, productID string) (*inventory.Item, error) {
	if productID == "" {
		return nil, inventory.ErrNotFound
	}
	var item inventory.Item
	err := r.store.Get(ctx, inventoryKey(productID), &item)
	if errors.Is(err, ErrNotFound) {
		return nil, inventory.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *InventoryRepository) Save(ctx context.Context, item *inventory.Item) error {
	if item == nil || item.ProductID == "" {
		return errors.New("inventory repository: product id is required")
	}
	return r.store.Set(ctx, inventoryKey(item.ProductID), item)
}

func inventoryKey(productID string) Key {
	return Key{Collection: inventoryCollection, ID: productID}
}
