package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Stream identifies one of the four transaction streams feeding a
// product's stock balance. Dispatch on this closed set decides the sign
// applied to every quantity, so no string matching leaks into the
// mutation or recompute algorithms.
type Stream string

const (
	// StreamPurchase covers ordinary supplier purchases.
	StreamPurchase Stream = "PURCHASE"
	// StreamOpeningBalance covers manual initial-stock entries. They share
	// purchase mechanics but carry a synthetic source tag for reporting.
	StreamOpeningBalance Stream = "OPENING_BALANCE"
	// StreamSale covers retail sales fed by the POS.
	StreamSale Stream = "SALE"
	// StreamConsumption covers in-salon self-consumption of products.
	StreamConsumption Stream = "CONSUMPTION"
)

// Sign returns the contribution direction of the stream's quantities.
func (s Stream) Sign() int64 {
	switch s {
	case StreamSale, StreamConsumption:
		return -1
	default:
		return 1
	}
}

// ChangeKind classifies a stock history entry.
type ChangeKind string

const (
	KindPurchase         ChangeKind = "purchase"
	KindPurchaseEdit     ChangeKind = "purchase_edit"
	KindOpeningBalance   ChangeKind = "opening_balance"
	KindSale             ChangeKind = "sale"
	KindConsumption      ChangeKind = "consumption"
	KindManualAdjustment ChangeKind = "manual_adjustment"
)

// OpeningBalanceSource is the source tag stamped on opening-balance entries.
const OpeningBalanceSource = "OPENING BALANCE"

// Purchase is a purchase or opening-balance transaction. Its identity never
// changes once assigned; edits replace field values in place and the ledger
// effect is the quantity difference. Cost and tax fields are informational
// and never participate in balance logic.
type Purchase struct {
	ID            uuid.UUID       `json:"id"`
	ProductID     int64           `json:"product_id"`
	Stream        Stream          `json:"stream"`
	Qty           int64           `json:"quantity"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	TaxRate       decimal.Decimal `json:"tax_rate"`
	TaxAmount     decimal.Decimal `json:"tax_amount"`
	InvoiceRef    string          `json:"invoice_ref"`
	EffectiveDate time.Time       `json:"effective_date"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Sale is a POS sale line resolved to a product. Quantity is positive and
// decreases stock.
type Sale struct {
	ID        uuid.UUID `json:"id"`
	ProductID int64     `json:"product_id"`
	Qty       int64     `json:"quantity"`
	OrderRef  string    `json:"order_ref"`
	SoldAt    time.Time `json:"sold_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Consumption records product used up by the salon itself.
type Consumption struct {
	ID        uuid.UUID `json:"id"`
	ProductID int64     `json:"product_id"`
	Qty       int64     `json:"quantity"`
	Note      string    `json:"note"`
	UsedAt    time.Time `json:"used_at"`
	CreatedAt time.Time `json:"created_at"`
}

// HistoryEntry is the append-only audit record written alongside every
// balance change. ResultingQty always equals the cached balance the write
// produced; it is never mutated or deleted by normal operation.
type HistoryEntry struct {
	ID           int64      `json:"id"`
	ProductID    int64      `json:"product_id"`
	EventDate    time.Time  `json:"event_date"`
	PriorQty     int64      `json:"prior_quantity"`
	Delta        int64      `json:"delta"`
	ResultingQty int64      `json:"resulting_quantity"`
	Kind         ChangeKind `json:"kind"`
	Source       string     `json:"source"`
	CreatedAt    time.Time  `json:"created_at"`
}

// HistoryFilter bounds history queries.
type HistoryFilter struct {
	ProductID int64
	From      time.Time
	To        time.Time
	Limit     int
}

// ErrValidation indicates an invalid mutation payload; nothing was persisted.
var ErrValidation = errors.New("ledger: validation failed")

// ErrNotFound indicates an edit or delete referenced a missing transaction.
var ErrNotFound = errors.New("ledger: transaction not found")

// ErrBalanceContention indicates the optimistic balance write kept losing
// the version race after bounded retries.
var ErrBalanceContention = errors.New("ledger: balance update contention")
