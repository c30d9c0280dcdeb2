package products

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Registry is the single holder of each product's cached stock balance.
// All balance writes from the interactive paths go through SetStock; the
// reconciliation pass uses OverwriteStock via ForceSetStock.
type Registry struct {
	store Store
}

// NewRegistry constructs Registry.
func NewRegistry(store Store) *Registry {
	return &Registry{store: store}
}

// Resolve returns the product for a transaction's product name, creating it
// with zero stock on first reference. Metadata defaults are inherited from
// the referencing transaction. A concurrent create racing on the same name
// is resolved by re-reading the winning row, never surfaced to the caller.
func (r *Registry) Resolve(ctx context.Context, name string, defaults Defaults) (Product, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Product{}, fmt.Errorf("products: empty product name")
	}

	existing, err := r.store.GetByNameKey(ctx, NameKey(name))
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Product{}, err
	}

	created, err := r.store.Insert(ctx, Product{
		Name:    name,
		HSNCode: defaults.HSNCode,
		Unit:    defaults.Unit,
		TaxRate: defaults.TaxRate,
	})
	if err == nil {
		return created, nil
	}
	if errors.Is(err, ErrDuplicateName) {
		return r.store.GetByNameKey(ctx, NameKey(name))
	}
	return Product{}, err
}

// Get loads a product by identity.
func (r *Registry) Get(ctx context.Context, id int64) (Product, error) {
	if id <= 0 {
		return Product{}, ErrNotFound
	}
	return r.store.GetByID(ctx, id)
}

// CurrentStock returns the cached balance without recomputing it.
func (r *Registry) CurrentStock(ctx context.Context, id int64) (int64, error) {
	p, err := r.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return p.StockQty, nil
}

// SetStock overwrites the cached balance if the version still matches.
// Callers derive qty and shortfall; the registry performs no recomputation.
func (r *Registry) SetStock(ctx context.Context, id int64, qty, shortfall, expectedVersion int64) error {
	if qty < 0 {
		return fmt.Errorf("products: cached balance must not be negative, got %d", qty)
	}
	return r.store.UpdateStock(ctx, id, qty, shortfall, expectedVersion)
}

// ForceSetStock overwrites the cached balance unconditionally.
func (r *Registry) ForceSetStock(ctx context.Context, id int64, qty, shortfall int64) error {
	if qty < 0 {
		return fmt.Errorf("products: cached balance must not be negative, got %d", qty)
	}
	return r.store.OverwriteStock(ctx, id, qty, shortfall)
}

// List returns all products ordered by name.
func (r *Registry) List(ctx context.Context) ([]Product, error) {
	return r.store.List(ctx)
}
