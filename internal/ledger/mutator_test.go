package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumina-salon/lumina/internal/products"
)

type fakeRegistry struct {
	byID   map[int64]products.Product
	nextID int64
	// forceConflicts makes SetStock lose the version race N times.
	forceConflicts int
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{byID: map[int64]products.Product{}, nextID: 1}
}

func (f *fakeRegistry) Resolve(_ context.Context, name string, defaults products.Defaults) (products.Product, error) {
	key := products.NameKey(name)
	for _, p := range f.byID {
		if products.NameKey(p.Name) == key {
			return p, nil
		}
	}
	p := products.Product{
		ID:      f.nextID,
		Name:    name,
		HSNCode: defaults.HSNCode,
		Unit:    defaults.Unit,
		TaxRate: defaults.TaxRate,
		Version: 1,
	}
	f.nextID++
	f.byID[p.ID] = p
	return p, nil
}

func (f *fakeRegistry) Get(_ context.Context, id int64) (products.Product, error) {
	p, ok := f.byID[id]
	if !ok {
		return products.Product{}, products.ErrNotFound
	}
	return p, nil
}

func (f *fakeRegistry) SetStock(_ context.Context, id int64, qty, shortfall, expectedVersion int64) error {
	if f.forceConflicts > 0 {
		f.forceConflicts--
		return products.ErrVersionConflict
	}
	p, ok := f.byID[id]
	if !ok {
		return products.ErrNotFound
	}
	if p.Version != expectedVersion {
		return products.ErrVersionConflict
	}
	p.StockQty = qty
	p.StockShortfall = shortfall
	p.Version++
	f.byID[id] = p
	return nil
}

type fakeRepo struct {
	purchases   map[uuid.UUID]Purchase
	sales       map[uuid.UUID]Sale
	consumption map[uuid.UUID]Consumption
	history     []HistoryEntry
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		purchases:   map[uuid.UUID]Purchase{},
		sales:       map[uuid.UUID]Sale{},
		consumption: map[uuid.UUID]Consumption{},
	}
}

func (f *fakeRepo) InsertPurchase(_ context.Context, p Purchase) error {
	f.purchases[p.ID] = p
	return nil
}

func (f *fakeRepo) GetPurchase(_ context.Context, id uuid.UUID) (Purchase, error) {
	p, ok := f.purchases[id]
	if !ok {
		return Purchase{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeRepo) UpdatePurchase(_ context.Context, p Purchase) error {
	if _, ok := f.purchases[p.ID]; !ok {
		return ErrNotFound
	}
	f.purchases[p.ID] = p
	return nil
}

func (f *fakeRepo) DeletePurchase(_ context.Context, id uuid.UUID) error {
	if _, ok := f.purchases[id]; !ok {
		return ErrNotFound
	}
	delete(f.purchases, id)
	return nil
}

func (f *fakeRepo) InsertSale(_ context.Context, s Sale) error {
	f.sales[s.ID] = s
	return nil
}

func (f *fakeRepo) GetSale(_ context.Context, id uuid.UUID) (Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return Sale{}, ErrNotFound
	}
	return s, nil
}

func (f *fakeRepo) UpdateSale(_ context.Context, s Sale) error {
	if _, ok := f.sales[s.ID]; !ok {
		return ErrNotFound
	}
	f.sales[s.ID] = s
	return nil
}

func (f *fakeRepo) DeleteSale(_ context.Context, id uuid.UUID) error {
	if _, ok := f.sales[id]; !ok {
		return ErrNotFound
	}
	delete(f.sales, id)
	return nil
}

func (f *fakeRepo) InsertConsumption(_ context.Context, c Consumption) error {
	f.consumption[c.ID] = c
	return nil
}

func (f *fakeRepo) GetConsumption(_ context.Context, id uuid.UUID) (Consumption, error) {
	c, ok := f.consumption[id]
	if !ok {
		return Consumption{}, ErrNotFound
	}
	return c, nil
}

func (f *fakeRepo) UpdateConsumption(_ context.Context, c Consumption) error {
	if _, ok := f.consumption[c.ID]; !ok {
		return ErrNotFound
	}
	f.consumption[c.ID] = c
	return nil
}

func (f *fakeRepo) DeleteConsumption(_ context.Context, id uuid.UUID) error {
	if _, ok := f.consumption[id]; !ok {
		return ErrNotFound
	}
	delete(f.consumption, id)
	return nil
}

func (f *fakeRepo) AppendHistory(_ context.Context, e HistoryEntry) (HistoryEntry, error) {
	e.ID = int64(len(f.history) + 1)
	e.CreatedAt = time.Now().UTC()
	f.history = append(f.history, e)
	return e, nil
}

func (f *fakeRepo) ListHistory(_ context.Context, filter HistoryFilter) ([]HistoryEntry, error) {
	out := []HistoryEntry{}
	for _, e := range f.history {
		if filter.ProductID != 0 && e.ProductID != filter.ProductID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// StreamTotals lets the same fake back the calculator in recompute tests.
func (f *fakeRepo) StreamTotals(_ context.Context, stream Stream) (map[int64]int64, error) {
	totals := map[int64]int64{}
	switch stream {
	case StreamPurchase, StreamOpeningBalance:
		for _, p := range f.purchases {
			if p.Stream == stream {
				totals[p.ProductID] += p.Qty
			}
		}
	case StreamSale:
		for _, s := range f.sales {
			totals[s.ProductID] += s.Qty
		}
	case StreamConsumption:
		for _, c := range f.consumption {
			totals[c.ProductID] += c.Qty
		}
	}
	return totals, nil
}

func newTestMutator(registry *fakeRegistry, repo *fakeRepo) *Mutator {
	return NewMutator(registry, repo, nil, nil, MutatorConfig{BalanceRetries: 3})
}

func day(d int) time.Time {
	return time.Date(2026, 8, d, 0, 0, 0, 0, time.UTC)
}

func TestCreatePurchaseIncreasesStock(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	result, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName:   "Shampoo",
		Qty:           10,
		UnitCost:      decimal.NewFromInt(250),
		InvoiceRef:    "INV-100",
		EffectiveDate: day(1),
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), result.Stock.StockQty)
	require.Equal(t, int64(0), result.Stock.StockShortfall)
	require.Equal(t, StreamPurchase, result.Purchase.Stream)

	require.Len(t, repo.history, 1)
	entry := repo.history[0]
	require.Equal(t, KindPurchase, entry.Kind)
	require.Equal(t, int64(0), entry.PriorQty)
	require.Equal(t, int64(10), entry.Delta)
	require.Equal(t, int64(10), entry.ResultingQty)
}

func TestCreateOpeningBalanceTagsSource(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	result, err := m.CreateOpeningBalance(context.Background(), PurchaseInput{
		ProductName:   "Conditioner",
		Qty:           25,
		EffectiveDate: day(1),
	})
	require.NoError(t, err)
	require.Equal(t, StreamOpeningBalance, result.Purchase.Stream)
	require.Equal(t, OpeningBalanceSource, result.Purchase.InvoiceRef)
	require.Equal(t, int64(25), result.Stock.StockQty)

	require.Len(t, repo.history, 1)
	require.Equal(t, KindOpeningBalance, repo.history[0].Kind)
	require.Equal(t, OpeningBalanceSource, repo.history[0].Source)
}

func TestEditPurchaseAppliesDifferenceOnly(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	created, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 10, EffectiveDate: day(1),
	})
	require.NoError(t, err)

	// Other activity moves the balance before the edit lands.
	_, err = m.CreateSale(context.Background(), SaleInput{ProductName: "Shampoo", Qty: 4, SoldAt: day(2)})
	require.NoError(t, err)

	edited, err := m.EditPurchase(context.Background(), created.Purchase.ID, PurchaseEdit{
		Qty: 7, EffectiveDate: day(1),
	})
	require.NoError(t, err)
	// 10 - 4 = 6, then the edit moves it by 7-10 = -3.
	require.Equal(t, int64(3), edited.Stock.StockQty)
	require.Equal(t, int64(7), edited.Purchase.Qty)

	last := repo.history[len(repo.history)-1]
	require.Equal(t, KindPurchaseEdit, last.Kind)
	require.Equal(t, int64(-3), last.Delta)
}

func TestEditPurchaseNoQuantityChangeSkipsBalanceAndAudit(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	created, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 10, InvoiceRef: "INV-1", EffectiveDate: day(1),
	})
	require.NoError(t, err)
	historyBefore := len(repo.history)
	versionBefore := registry.byID[created.Stock.ProductID].Version

	edited, err := m.EditPurchase(context.Background(), created.Purchase.ID, PurchaseEdit{
		Qty: 10, InvoiceRef: "INV-1-corrected", EffectiveDate: day(1),
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), edited.Stock.StockQty)
	require.Equal(t, "INV-1-corrected", edited.Purchase.InvoiceRef)
	require.Len(t, repo.history, historyBefore)
	require.Equal(t, versionBefore, registry.byID[created.Stock.ProductID].Version)
}

func TestDeletePurchaseReversesOwnContribution(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	created, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 10, EffectiveDate: day(1),
	})
	require.NoError(t, err)
	_, err = m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 5, EffectiveDate: day(2),
	})
	require.NoError(t, err)

	snap, err := m.DeletePurchase(context.Background(), created.Purchase.ID)
	require.NoError(t, err)
	require.Equal(t, int64(5), snap.StockQty)
	_, stillThere := repo.purchases[created.Purchase.ID]
	require.False(t, stillThere)

	last := repo.history[len(repo.history)-1]
	require.Equal(t, KindPurchaseEdit, last.Kind)
	require.Equal(t, int64(-10), last.Delta)
}

func TestCreateSaleClampsDisplayAtZero(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Serum", Qty: 3, EffectiveDate: day(1),
	})
	require.NoError(t, err)

	result, err := m.CreateSale(context.Background(), SaleInput{
		ProductName: "Serum", Qty: 5, OrderRef: "ORD-9", SoldAt: day(2),
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), result.Stock.StockQty)
	require.Equal(t, int64(2), result.Stock.StockShortfall)

	last := repo.history[len(repo.history)-1]
	require.Equal(t, KindSale, last.Kind)
	require.Equal(t, int64(-5), last.Delta)
	require.Equal(t, int64(0), last.ResultingQty)
}

func TestShortfallAbsorbsLaterPurchase(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreateSale(context.Background(), SaleInput{
		ProductName: "Serum", Qty: 5, SoldAt: day(1),
	})
	require.NoError(t, err)

	// Net is -5; a purchase of 8 must land at 3, not 8.
	result, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Serum", Qty: 8, EffectiveDate: day(2),
	})
	require.NoError(t, err)
	require.Equal(t, int64(3), result.Stock.StockQty)
	require.Equal(t, int64(0), result.Stock.StockShortfall)
}

func TestDeleteSaleRestoresStock(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Gel", Qty: 10, EffectiveDate: day(1),
	})
	require.NoError(t, err)
	sale, err := m.CreateSale(context.Background(), SaleInput{
		ProductName: "Gel", Qty: 4, OrderRef: "ORD-1", SoldAt: day(2),
	})
	require.NoError(t, err)

	snap, err := m.DeleteSale(context.Background(), sale.Sale.ID)
	require.NoError(t, err)
	require.Equal(t, int64(10), snap.StockQty)
}

func TestCreateConsumptionDecreasesStock(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Developer", Qty: 6, EffectiveDate: day(1),
	})
	require.NoError(t, err)

	result, err := m.CreateConsumption(context.Background(), ConsumptionInput{
		ProductName: "Developer", Qty: 2, Note: "color service", UsedAt: day(3),
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), result.Stock.StockQty)

	last := repo.history[len(repo.history)-1]
	require.Equal(t, KindConsumption, last.Kind)
	require.Equal(t, "salon use: color service", last.Source)
}

func TestEditConsumptionMovesByDifference(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Developer", Qty: 10, EffectiveDate: day(1),
	})
	require.NoError(t, err)
	created, err := m.CreateConsumption(context.Background(), ConsumptionInput{
		ProductName: "Developer", Qty: 2, UsedAt: day(2),
	})
	require.NoError(t, err)

	edited, err := m.EditConsumption(context.Background(), created.Consumption.ID, 5, "", time.Time{})
	require.NoError(t, err)
	require.Equal(t, int64(5), edited.Stock.StockQty)
	require.Equal(t, int64(5), edited.Consumption.Qty)
}

func TestValidationRejectsBadInputs(t *testing.T) {
	m := newTestMutator(newFakeRegistry(), newFakeRepo())
	ctx := context.Background()

	_, err := m.CreatePurchase(ctx, PurchaseInput{ProductName: "", Qty: 1, EffectiveDate: day(1)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.CreatePurchase(ctx, PurchaseInput{ProductName: "X", Qty: 0, EffectiveDate: day(1)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.CreateSale(ctx, SaleInput{ProductName: "X", Qty: -2, SoldAt: day(1)})
	require.ErrorIs(t, err, ErrValidation)

	_, err = m.CreateConsumption(ctx, ConsumptionInput{ProductName: "X", Qty: 1})
	require.ErrorIs(t, err, ErrValidation)
}

func TestEditMissingTransaction(t *testing.T) {
	m := newTestMutator(newFakeRegistry(), newFakeRepo())
	_, err := m.EditPurchase(context.Background(), uuid.New(), PurchaseEdit{Qty: 1, EffectiveDate: day(1)})
	require.ErrorIs(t, err, ErrNotFound)

	_, err = m.DeleteSale(context.Background(), uuid.New())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestBalanceWriteRetriesAfterVersionConflict(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	registry.forceConflicts = 2
	result, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 10, EffectiveDate: day(1),
	})
	require.NoError(t, err)
	require.Equal(t, int64(10), result.Stock.StockQty)
}

func TestBalanceWriteGivesUpAfterBoundedRetries(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	registry.forceConflicts = 3
	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 10, EffectiveDate: day(1),
	})
	require.ErrorIs(t, err, ErrBalanceContention)
}

func TestHistoryDefaultsLimit(t *testing.T) {
	registry := newFakeRegistry()
	repo := newFakeRepo()
	m := newTestMutator(registry, repo)

	_, err := m.CreatePurchase(context.Background(), PurchaseInput{
		ProductName: "Shampoo", Qty: 1, EffectiveDate: day(1),
	})
	require.NoError(t, err)

	entries, err := m.History(context.Background(), HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
