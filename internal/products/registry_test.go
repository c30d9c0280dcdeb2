package products

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	byID     map[int64]Product
	nextID   int64
	inserted int
	// insertErr fires once to simulate a lost create race.
	insertErr error
	// missFirstLookup makes the initial name lookup miss once, as if the
	// winning insert landed between the lookup and our insert.
	missFirstLookup bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{byID: map[int64]Product{}, nextID: 1}
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return Product{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) GetByNameKey(_ context.Context, key string) (Product, error) {
	if f.missFirstLookup {
		f.missFirstLookup = false
		return Product{}, ErrNotFound
	}
	for _, p := range f.byID {
		if NameKey(p.Name) == key {
			return p, nil
		}
	}
	return Product{}, ErrNotFound
}

func (f *fakeStore) Insert(_ context.Context, p Product) (Product, error) {
	if f.insertErr != nil {
		err := f.insertErr
		f.insertErr = nil
		return Product{}, err
	}
	p.ID = f.nextID
	p.Version = 1
	p.CreatedAt = time.Now().UTC()
	p.UpdatedAt = p.CreatedAt
	f.nextID++
	f.byID[p.ID] = p
	f.inserted++
	return p, nil
}

func (f *fakeStore) List(_ context.Context) ([]Product, error) {
	out := make([]Product, 0, len(f.byID))
	for _, p := range f.byID {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) UpdateStock(_ context.Context, id int64, qty, shortfall, expectedVersion int64) error {
	p, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	if p.Version != expectedVersion {
		return ErrVersionConflict
	}
	p.StockQty = qty
	p.StockShortfall = shortfall
	p.Version++
	f.byID[id] = p
	return nil
}

func (f *fakeStore) OverwriteStock(_ context.Context, id int64, qty, shortfall int64) error {
	p, ok := f.byID[id]
	if !ok {
		return ErrNotFound
	}
	p.StockQty = qty
	p.StockShortfall = shortfall
	p.Version++
	f.byID[id] = p
	return nil
}

func TestResolveCreatesUnknownProduct(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)

	p, err := registry.Resolve(context.Background(), "Argan Oil Shampoo", Defaults{HSNCode: "3305", Unit: "bottle", TaxRate: 18})
	require.NoError(t, err)
	require.Equal(t, "Argan Oil Shampoo", p.Name)
	require.Equal(t, "3305", p.HSNCode)
	require.Equal(t, int64(0), p.StockQty)
	require.Equal(t, 1, store.inserted)
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)

	first, err := registry.Resolve(context.Background(), "Keratin Mask", Defaults{})
	require.NoError(t, err)

	second, err := registry.Resolve(context.Background(), "  KERATIN mask ", Defaults{})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, store.inserted)
}

func TestResolveRereadsAfterDuplicateRace(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)

	// The winner of the race already inserted the row.
	winner, err := store.Insert(context.Background(), Product{Name: "Hair Serum"})
	require.NoError(t, err)
	store.insertErr = ErrDuplicateName
	store.missFirstLookup = true

	p, err := registry.Resolve(context.Background(), "hair serum", Defaults{})
	require.NoError(t, err)
	require.Equal(t, winner.ID, p.ID)
}

func TestResolveRejectsEmptyName(t *testing.T) {
	registry := NewRegistry(newFakeStore())
	_, err := registry.Resolve(context.Background(), "   ", Defaults{})
	require.Error(t, err)
}

func TestSetStockRejectsNegativeQty(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)
	p, err := registry.Resolve(context.Background(), "Toner", Defaults{})
	require.NoError(t, err)

	err = registry.SetStock(context.Background(), p.ID, -1, 0, p.Version)
	require.Error(t, err)
}

func TestSetStockVersionConflict(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)
	p, err := registry.Resolve(context.Background(), "Conditioner", Defaults{})
	require.NoError(t, err)

	require.NoError(t, registry.SetStock(context.Background(), p.ID, 5, 0, p.Version))

	err = registry.SetStock(context.Background(), p.ID, 7, 0, p.Version)
	require.ErrorIs(t, err, ErrVersionConflict)

	qty, err := registry.CurrentStock(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), qty)
}

func TestForceSetStockBypassesVersion(t *testing.T) {
	store := newFakeStore()
	registry := NewRegistry(store)
	p, err := registry.Resolve(context.Background(), "Wax", Defaults{})
	require.NoError(t, err)

	require.NoError(t, registry.ForceSetStock(context.Background(), p.ID, 12, 3))
	got, err := registry.Get(context.Background(), p.ID)
	require.NoError(t, err)
	require.Equal(t, int64(12), got.StockQty)
	require.Equal(t, int64(3), got.StockShortfall)
}

func TestNameKeyFoldsCaseAndSpace(t *testing.T) {
	require.Equal(t, NameKey("Shampoo"), NameKey("  SHAMPOO "))
	require.NotEqual(t, NameKey("Shampoo"), NameKey("Shampoo XL"))
}
