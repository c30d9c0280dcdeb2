package recon

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/lumina-salon/lumina/internal/ledger"
	"github.com/lumina-salon/lumina/internal/products"
)

type fakeStreams struct {
	purchases   map[int64]int64
	opening     map[int64]int64
	sales       map[int64]int64
	consumption map[int64]int64
}

func (f *fakeStreams) StreamTotals(_ context.Context, stream ledger.Stream) (map[int64]int64, error) {
	switch stream {
	case ledger.StreamPurchase:
		return f.purchases, nil
	case ledger.StreamOpeningBalance:
		return f.opening, nil
	case ledger.StreamSale:
		return f.sales, nil
	default:
		return f.consumption, nil
	}
}

type fakeProducts struct {
	items  map[int64]products.Product
	writes int
}

func (f *fakeProducts) List(_ context.Context) ([]products.Product, error) {
	out := make([]products.Product, 0, len(f.items))
	for _, p := range f.items {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeProducts) ForceSetStock(_ context.Context, id int64, qty, shortfall int64) error {
	p := f.items[id]
	p.StockQty = qty
	p.StockShortfall = shortfall
	f.items[id] = p
	f.writes++
	return nil
}

type fakeHistory struct {
	entries []ledger.HistoryEntry
}

func (f *fakeHistory) AppendHistory(_ context.Context, e ledger.HistoryEntry) (ledger.HistoryEntry, error) {
	e.ID = int64(len(f.entries) + 1)
	f.entries = append(f.entries, e)
	return e, nil
}

func newTestService(t *testing.T, streams *fakeStreams, registry *fakeProducts, history *fakeHistory) (*Service, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	calc := ledger.NewCalculator(streams)
	return NewService(calc, registry, history, client, nil, nil, time.Hour), client
}

func TestRecomputeAllRepairsDrift(t *testing.T) {
	streams := &fakeStreams{
		purchases: map[int64]int64{1: 10, 2: 5},
		sales:     map[int64]int64{1: 4},
	}
	registry := &fakeProducts{items: map[int64]products.Product{
		1: {ID: 1, Name: "Shampoo", StockQty: 9}, // drifted, ledger says 6
		2: {ID: 2, Name: "Serum", StockQty: 5},   // in agreement
	}}
	history := &fakeHistory{}
	svc, _ := newTestService(t, streams, registry, history)

	report, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, report.Products)
	require.Len(t, report.Drifted, 1)
	require.Equal(t, int64(1), report.Drifted[0].ProductID)
	require.Equal(t, int64(9), report.Drifted[0].CachedQty)
	require.Equal(t, int64(6), report.Drifted[0].RecomputedQty)

	require.Equal(t, int64(6), registry.items[1].StockQty)
	require.Equal(t, int64(5), registry.items[2].StockQty)

	// Only the drifted product gets an adjustment entry.
	require.Len(t, history.entries, 1)
	entry := history.entries[0]
	require.Equal(t, ledger.KindManualAdjustment, entry.Kind)
	require.Equal(t, int64(9), entry.PriorQty)
	require.Equal(t, int64(-3), entry.Delta)
	require.Equal(t, int64(6), entry.ResultingQty)
}

func TestRecomputeAllRepairsShortfall(t *testing.T) {
	streams := &fakeStreams{
		purchases: map[int64]int64{1: 3},
		sales:     map[int64]int64{1: 5},
	}
	registry := &fakeProducts{items: map[int64]products.Product{
		1: {ID: 1, Name: "Serum", StockQty: 3},
	}}
	svc, _ := newTestService(t, streams, registry, &fakeHistory{})

	report, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)
	require.Equal(t, int64(0), registry.items[1].StockQty)
	require.Equal(t, int64(2), registry.items[1].StockShortfall)
}

func TestRecomputeAllSecondRunFindsNoDrift(t *testing.T) {
	streams := &fakeStreams{
		purchases: map[int64]int64{1: 10},
		sales:     map[int64]int64{1: 4},
	}
	registry := &fakeProducts{items: map[int64]products.Product{
		1: {ID: 1, Name: "Shampoo", StockQty: 0},
	}}
	history := &fakeHistory{}
	svc, _ := newTestService(t, streams, registry, history)

	first, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, first.Drifted, 1)

	second, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Empty(t, second.Drifted)
	require.Len(t, history.entries, 1)
}

func TestLastReportRoundTrip(t *testing.T) {
	streams := &fakeStreams{purchases: map[int64]int64{1: 7}}
	registry := &fakeProducts{items: map[int64]products.Product{
		1: {ID: 1, Name: "Wax", StockQty: 7},
	}}
	svc, _ := newTestService(t, streams, registry, &fakeHistory{})

	_, found, err := svc.LastReport(context.Background())
	require.NoError(t, err)
	require.False(t, found)

	ran, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)

	got, found, err := svc.LastReport(context.Background())
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, ran.Products, got.Products)
	require.Len(t, got.Drifted, 0)
}

func TestRecomputeAllZeroesProductsWithNoTransactions(t *testing.T) {
	streams := &fakeStreams{}
	registry := &fakeProducts{items: map[int64]products.Product{
		1: {ID: 1, Name: "Orphan", StockQty: 4},
	}}
	svc, _ := newTestService(t, streams, registry, &fakeHistory{})

	report, err := svc.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Drifted, 1)
	require.Equal(t, int64(0), registry.items[1].StockQty)
}
