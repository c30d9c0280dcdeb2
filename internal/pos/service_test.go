package pos

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumina-salon/lumina/internal/ledger"
)

type fakeKeys struct {
	claimed map[string]bool
}

func newFakeKeys() *fakeKeys {
	return &fakeKeys{claimed: map[string]bool{}}
}

func (f *fakeKeys) CheckAndInsert(_ context.Context, key string) error {
	if f.claimed[key] {
		return ErrAlreadyProcessed
	}
	f.claimed[key] = true
	return nil
}

func (f *fakeKeys) Delete(_ context.Context, key string) error {
	delete(f.claimed, key)
	return nil
}

type fakeLedger struct {
	sales       []ledger.SaleInput
	consumption []ledger.ConsumptionInput
	saleErr     error
}

func (f *fakeLedger) CreateSale(_ context.Context, input ledger.SaleInput) (ledger.SaleResult, error) {
	if f.saleErr != nil {
		return ledger.SaleResult{}, f.saleErr
	}
	f.sales = append(f.sales, input)
	return ledger.SaleResult{Stock: ledger.StockSnapshot{ProductID: 1}}, nil
}

func (f *fakeLedger) CreateConsumption(_ context.Context, input ledger.ConsumptionInput) (ledger.ConsumptionResult, error) {
	f.consumption = append(f.consumption, input)
	return ledger.ConsumptionResult{Stock: ledger.StockSnapshot{ProductID: 1}}, nil
}

func saleLine(lineNo int) SaleLine {
	return SaleLine{
		OrderRef:    "ORD-42",
		LineNo:      lineNo,
		ProductName: "Shampoo",
		Qty:         2,
		SoldAt:      time.Date(2026, 8, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestRecordSaleLinePostsOnce(t *testing.T) {
	keys := newFakeKeys()
	led := &fakeLedger{}
	svc := NewService(led, keys, nil)

	_, err := svc.RecordSaleLine(context.Background(), saleLine(1))
	require.NoError(t, err)
	require.Len(t, led.sales, 1)

	_, err = svc.RecordSaleLine(context.Background(), saleLine(1))
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, led.sales, 1)
}

func TestRecordSaleLineDistinguishesLines(t *testing.T) {
	keys := newFakeKeys()
	led := &fakeLedger{}
	svc := NewService(led, keys, nil)

	_, err := svc.RecordSaleLine(context.Background(), saleLine(1))
	require.NoError(t, err)
	_, err = svc.RecordSaleLine(context.Background(), saleLine(2))
	require.NoError(t, err)
	require.Len(t, led.sales, 2)
}

func TestRecordSaleLineRequiresOrderRef(t *testing.T) {
	svc := NewService(&fakeLedger{}, newFakeKeys(), nil)
	line := saleLine(1)
	line.OrderRef = ""
	_, err := svc.RecordSaleLine(context.Background(), line)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestRecordSaleLineReleasesKeyOnLedgerFailure(t *testing.T) {
	keys := newFakeKeys()
	led := &fakeLedger{saleErr: errors.New("db down")}
	svc := NewService(led, keys, nil)

	_, err := svc.RecordSaleLine(context.Background(), saleLine(1))
	require.Error(t, err)

	// The failed claim must not block the retry.
	led.saleErr = nil
	_, err = svc.RecordSaleLine(context.Background(), saleLine(1))
	require.NoError(t, err)
	require.Len(t, led.sales, 1)
}

func TestRecordConsumptionDeduplicatesByRef(t *testing.T) {
	keys := newFakeKeys()
	led := &fakeLedger{}
	svc := NewService(led, keys, nil)

	entry := ConsumptionEntry{
		Ref:         "USE-7",
		ProductName: "Developer",
		Qty:         1,
		UsedAt:      time.Date(2026, 8, 10, 11, 0, 0, 0, time.UTC),
	}
	_, err := svc.RecordConsumption(context.Background(), entry)
	require.NoError(t, err)
	_, err = svc.RecordConsumption(context.Background(), entry)
	require.ErrorIs(t, err, ErrAlreadyProcessed)
	require.Len(t, led.consumption, 1)
}

func TestRecordConsumptionWithoutRefSkipsDedupe(t *testing.T) {
	keys := newFakeKeys()
	led := &fakeLedger{}
	svc := NewService(led, keys, nil)

	entry := ConsumptionEntry{
		ProductName: "Developer",
		Qty:         1,
		UsedAt:      time.Date(2026, 8, 10, 11, 0, 0, 0, time.UTC),
	}
	_, err := svc.RecordConsumption(context.Background(), entry)
	require.NoError(t, err)
	_, err = svc.RecordConsumption(context.Background(), entry)
	require.NoError(t, err)
	require.Len(t, led.consumption, 2)
	require.Empty(t, keys.claimed)
}
