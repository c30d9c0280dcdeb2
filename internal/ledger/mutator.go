package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/lumina-salon/lumina/internal/observability"
	"github.com/lumina-salon/lumina/internal/products"
)

// RegistryPort is the product-registry surface the mutator needs.
type RegistryPort interface {
	Resolve(ctx context.Context, name string, defaults products.Defaults) (products.Product, error)
	Get(ctx context.Context, id int64) (products.Product, error)
	SetStock(ctx context.Context, id int64, qty, shortfall, expectedVersion int64) error
}

// RepositoryPort persists transactions and the stock history.
type RepositoryPort interface {
	InsertPurchase(ctx context.Context, p Purchase) error
	GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error)
	UpdatePurchase(ctx context.Context, p Purchase) error
	DeletePurchase(ctx context.Context, id uuid.UUID) error

	InsertSale(ctx context.Context, s Sale) error
	GetSale(ctx context.Context, id uuid.UUID) (Sale, error)
	UpdateSale(ctx context.Context, s Sale) error
	DeleteSale(ctx context.Context, id uuid.UUID) error

	InsertConsumption(ctx context.Context, c Consumption) error
	GetConsumption(ctx context.Context, id uuid.UUID) (Consumption, error)
	UpdateConsumption(ctx context.Context, c Consumption) error
	DeleteConsumption(ctx context.Context, id uuid.UUID) error

	AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error)
	ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error)
}

// Mutator orchestrates every balance-affecting write: validation, product
// resolution, delta computation against the prior version of a transaction,
// the optimistic balance update and the audit append. The three remote
// writes carry no cross-call atomicity; the reconciliation pass is the
// defined recovery for partial failures.
type Mutator struct {
	registry RegistryPort
	repo     RepositoryPort
	metrics  *observability.Metrics
	logger   *slog.Logger
	retries  int
}

// MutatorConfig groups optional settings.
type MutatorConfig struct {
	// BalanceRetries bounds re-read-and-retry attempts after a version
	// conflict on the cached balance write.
	BalanceRetries int
}

// NewMutator builds Mutator.
func NewMutator(registry RegistryPort, repo RepositoryPort, metrics *observability.Metrics, logger *slog.Logger, cfg MutatorConfig) *Mutator {
	retries := cfg.BalanceRetries
	if retries < 1 {
		retries = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Mutator{registry: registry, repo: repo, metrics: metrics, logger: logger, retries: retries}
}

// StockSnapshot is the cached balance state a mutation produced.
type StockSnapshot struct {
	ProductID      int64 `json:"product_id"`
	StockQty       int64 `json:"stock_quantity"`
	StockShortfall int64 `json:"stock_shortfall"`
}

// PurchaseInput carries a new purchase or opening-balance entry.
type PurchaseInput struct {
	ProductName   string
	Qty           int64
	UnitCost      decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	InvoiceRef    string
	EffectiveDate time.Time
	HSNCode       string
	Unit          string
}

// PurchaseEdit carries replacement field values for an existing entry. The
// product reference is fixed; moving a transaction to another product is a
// delete followed by a create.
type PurchaseEdit struct {
	Qty           int64
	UnitCost      decimal.Decimal
	TaxRate       decimal.Decimal
	TaxAmount     decimal.Decimal
	InvoiceRef    string
	EffectiveDate time.Time
}

// PurchaseResult returns the persisted transaction with the stock snapshot.
type PurchaseResult struct {
	Purchase Purchase      `json:"purchase"`
	Stock    StockSnapshot `json:"stock"`
}

// SaleInput carries a sale line. The product is resolved by name because
// POS line items reference products indirectly.
type SaleInput struct {
	ProductName string
	Qty         int64
	OrderRef    string
	SoldAt      time.Time
}

// SaleResult returns the persisted sale with the stock snapshot.
type SaleResult struct {
	Sale  Sale          `json:"sale"`
	Stock StockSnapshot `json:"stock"`
}

// ConsumptionInput carries an internal-consumption entry.
type ConsumptionInput struct {
	ProductName string
	Qty         int64
	Note        string
	UsedAt      time.Time
}

// ConsumptionResult returns the persisted entry with the stock snapshot.
type ConsumptionResult struct {
	Consumption Consumption   `json:"consumption"`
	Stock       StockSnapshot `json:"stock"`
}

// CreatePurchase records a supplier purchase and increases stock by its
// quantity. An unknown product name is auto-created at zero stock first, so
// the post-write balance equals exactly the purchase quantity.
func (m *Mutator) CreatePurchase(ctx context.Context, input PurchaseInput) (PurchaseResult, error) {
	return m.createPurchaseLike(ctx, StreamPurchase, input)
}

// CreateOpeningBalance records an initial-stock entry. It participates in
// the balance identically to a purchase but carries a distinguished source
// tag so ordinary purchase reporting can filter it out.
func (m *Mutator) CreateOpeningBalance(ctx context.Context, input PurchaseInput) (PurchaseResult, error) {
	if input.InvoiceRef == "" {
		input.InvoiceRef = OpeningBalanceSource
	}
	return m.createPurchaseLike(ctx, StreamOpeningBalance, input)
}

func (m *Mutator) createPurchaseLike(ctx context.Context, stream Stream, input PurchaseInput) (PurchaseResult, error) {
	if err := validateEntry(input.ProductName, input.Qty, input.EffectiveDate); err != nil {
		return PurchaseResult{}, err
	}
	product, err := m.registry.Resolve(ctx, input.ProductName, products.Defaults{
		HSNCode: input.HSNCode,
		Unit:    input.Unit,
		TaxRate: input.TaxRate.InexactFloat64(),
	})
	if err != nil {
		return PurchaseResult{}, err
	}

	now := time.Now().UTC()
	p := Purchase{
		ID:            uuid.New(),
		ProductID:     product.ID,
		Stream:        stream,
		Qty:           input.Qty,
		UnitCost:      input.UnitCost,
		TaxRate:       input.TaxRate,
		TaxAmount:     input.TaxAmount,
		InvoiceRef:    input.InvoiceRef,
		EffectiveDate: input.EffectiveDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := m.repo.InsertPurchase(ctx, p); err != nil {
		return PurchaseResult{}, err
	}

	delta := Delta(stream, 0, input.Qty)
	snap, err := m.applyBalance(ctx, product.ID, delta, createKind(stream), sourceFor(stream, p.InvoiceRef), p.EffectiveDate)
	if err != nil {
		return PurchaseResult{}, err
	}
	m.countMutation(stream, "create")
	return PurchaseResult{Purchase: p, Stock: snap}, nil
}

// EditPurchase replaces field values of an existing purchase or
// opening-balance entry in place. The ledger effect is the quantity
// difference, not the new absolute value; an edit that leaves the quantity
// unchanged touches neither the balance nor the audit trail.
func (m *Mutator) EditPurchase(ctx context.Context, id uuid.UUID, edit PurchaseEdit) (PurchaseResult, error) {
	if edit.Qty <= 0 {
		return PurchaseResult{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if edit.EffectiveDate.IsZero() {
		return PurchaseResult{}, fmt.Errorf("%w: effective date required", ErrValidation)
	}
	existing, err := m.repo.GetPurchase(ctx, id)
	if err != nil {
		return PurchaseResult{}, err
	}

	delta := Delta(existing.Stream, existing.Qty, edit.Qty)

	updated := existing
	updated.Qty = edit.Qty
	updated.UnitCost = edit.UnitCost
	updated.TaxRate = edit.TaxRate
	updated.TaxAmount = edit.TaxAmount
	updated.InvoiceRef = edit.InvoiceRef
	updated.EffectiveDate = edit.EffectiveDate
	updated.UpdatedAt = time.Now().UTC()
	if err := m.repo.UpdatePurchase(ctx, updated); err != nil {
		return PurchaseResult{}, err
	}

	snap, err := m.snapshotAfter(ctx, existing.ProductID, delta, editKind(existing.Stream),
		fmt.Sprintf("edit %s", sourceFor(existing.Stream, updated.InvoiceRef)))
	if err != nil {
		return PurchaseResult{}, err
	}
	m.countMutation(existing.Stream, "edit")
	return PurchaseResult{Purchase: updated, Stock: snap}, nil
}

// DeletePurchase removes a purchase or opening-balance entry and reverses
// exactly its own contribution to the balance. It never cascades into a
// recompute of other transactions.
func (m *Mutator) DeletePurchase(ctx context.Context, id uuid.UUID) (StockSnapshot, error) {
	existing, err := m.repo.GetPurchase(ctx, id)
	if err != nil {
		return StockSnapshot{}, err
	}
	if err := m.repo.DeletePurchase(ctx, id); err != nil {
		return StockSnapshot{}, err
	}
	delta := Delta(existing.Stream, existing.Qty, 0)
	snap, err := m.applyBalance(ctx, existing.ProductID, delta, editKind(existing.Stream),
		fmt.Sprintf("delete %s", sourceFor(existing.Stream, existing.InvoiceRef)), time.Now().UTC())
	if err != nil {
		return StockSnapshot{}, err
	}
	m.countMutation(existing.Stream, "delete")
	return snap, nil
}

// CreateSale records a POS sale line and decreases stock by its quantity.
func (m *Mutator) CreateSale(ctx context.Context, input SaleInput) (SaleResult, error) {
	if err := validateEntry(input.ProductName, input.Qty, input.SoldAt); err != nil {
		return SaleResult{}, err
	}
	product, err := m.registry.Resolve(ctx, input.ProductName, products.Defaults{})
	if err != nil {
		return SaleResult{}, err
	}
	s := Sale{
		ID:        uuid.New(),
		ProductID: product.ID,
		Qty:       input.Qty,
		OrderRef:  input.OrderRef,
		SoldAt:    input.SoldAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.InsertSale(ctx, s); err != nil {
		return SaleResult{}, err
	}
	delta := Delta(StreamSale, 0, input.Qty)
	snap, err := m.applyBalance(ctx, product.ID, delta, KindSale, saleSource(input.OrderRef), input.SoldAt)
	if err != nil {
		return SaleResult{}, err
	}
	m.countMutation(StreamSale, "create")
	return SaleResult{Sale: s, Stock: snap}, nil
}

// EditSale replaces a sale's quantity; stock moves by the difference.
func (m *Mutator) EditSale(ctx context.Context, id uuid.UUID, qty int64, orderRef string, soldAt time.Time) (SaleResult, error) {
	if qty <= 0 {
		return SaleResult{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	existing, err := m.repo.GetSale(ctx, id)
	if err != nil {
		return SaleResult{}, err
	}
	delta := Delta(StreamSale, existing.Qty, qty)
	updated := existing
	updated.Qty = qty
	if orderRef != "" {
		updated.OrderRef = orderRef
	}
	if !soldAt.IsZero() {
		updated.SoldAt = soldAt
	}
	if err := m.repo.UpdateSale(ctx, updated); err != nil {
		return SaleResult{}, err
	}
	snap, err := m.snapshotAfter(ctx, existing.ProductID, delta, KindSale,
		fmt.Sprintf("edit %s", saleSource(updated.OrderRef)))
	if err != nil {
		return SaleResult{}, err
	}
	m.countMutation(StreamSale, "edit")
	return SaleResult{Sale: updated, Stock: snap}, nil
}

// DeleteSale voids a sale line and returns its quantity to stock.
func (m *Mutator) DeleteSale(ctx context.Context, id uuid.UUID) (StockSnapshot, error) {
	existing, err := m.repo.GetSale(ctx, id)
	if err != nil {
		return StockSnapshot{}, err
	}
	if err := m.repo.DeleteSale(ctx, id); err != nil {
		return StockSnapshot{}, err
	}
	delta := Delta(StreamSale, existing.Qty, 0)
	snap, err := m.applyBalance(ctx, existing.ProductID, delta, KindSale,
		fmt.Sprintf("void %s", saleSource(existing.OrderRef)), time.Now().UTC())
	if err != nil {
		return StockSnapshot{}, err
	}
	m.countMutation(StreamSale, "delete")
	return snap, nil
}

// CreateConsumption records in-salon product usage.
func (m *Mutator) CreateConsumption(ctx context.Context, input ConsumptionInput) (ConsumptionResult, error) {
	if err := validateEntry(input.ProductName, input.Qty, input.UsedAt); err != nil {
		return ConsumptionResult{}, err
	}
	product, err := m.registry.Resolve(ctx, input.ProductName, products.Defaults{})
	if err != nil {
		return ConsumptionResult{}, err
	}
	c := Consumption{
		ID:        uuid.New(),
		ProductID: product.ID,
		Qty:       input.Qty,
		Note:      input.Note,
		UsedAt:    input.UsedAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := m.repo.InsertConsumption(ctx, c); err != nil {
		return ConsumptionResult{}, err
	}
	delta := Delta(StreamConsumption, 0, input.Qty)
	snap, err := m.applyBalance(ctx, product.ID, delta, KindConsumption, consumptionSource(input.Note), input.UsedAt)
	if err != nil {
		return ConsumptionResult{}, err
	}
	m.countMutation(StreamConsumption, "create")
	return ConsumptionResult{Consumption: c, Stock: snap}, nil
}

// EditConsumption replaces a consumption entry's quantity.
func (m *Mutator) EditConsumption(ctx context.Context, id uuid.UUID, qty int64, note string, usedAt time.Time) (ConsumptionResult, error) {
	if qty <= 0 {
		return ConsumptionResult{}, fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	existing, err := m.repo.GetConsumption(ctx, id)
	if err != nil {
		return ConsumptionResult{}, err
	}
	delta := Delta(StreamConsumption, existing.Qty, qty)
	updated := existing
	updated.Qty = qty
	if note != "" {
		updated.Note = note
	}
	if !usedAt.IsZero() {
		updated.UsedAt = usedAt
	}
	if err := m.repo.UpdateConsumption(ctx, updated); err != nil {
		return ConsumptionResult{}, err
	}
	snap, err := m.snapshotAfter(ctx, existing.ProductID, delta, KindConsumption,
		fmt.Sprintf("edit %s", consumptionSource(updated.Note)))
	if err != nil {
		return ConsumptionResult{}, err
	}
	m.countMutation(StreamConsumption, "edit")
	return ConsumptionResult{Consumption: updated, Stock: snap}, nil
}

// DeleteConsumption removes a consumption entry and restores its quantity.
func (m *Mutator) DeleteConsumption(ctx context.Context, id uuid.UUID) (StockSnapshot, error) {
	existing, err := m.repo.GetConsumption(ctx, id)
	if err != nil {
		return StockSnapshot{}, err
	}
	if err := m.repo.DeleteConsumption(ctx, id); err != nil {
		return StockSnapshot{}, err
	}
	delta := Delta(StreamConsumption, existing.Qty, 0)
	snap, err := m.applyBalance(ctx, existing.ProductID, delta, KindConsumption,
		fmt.Sprintf("delete %s", consumptionSource(existing.Note)), time.Now().UTC())
	if err != nil {
		return StockSnapshot{}, err
	}
	m.countMutation(StreamConsumption, "delete")
	return snap, nil
}

// History lists audit entries explaining how a balance got to its value.
func (m *Mutator) History(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	if f.Limit <= 0 {
		f.Limit = 200
	}
	return m.repo.ListHistory(ctx, f)
}

// snapshotAfter applies a delta unless it is zero, in which case both the
// balance write and the audit append are skipped and the current snapshot
// is returned unchanged.
func (m *Mutator) snapshotAfter(ctx context.Context, productID, delta int64, kind ChangeKind, source string) (StockSnapshot, error) {
	if delta == 0 {
		p, err := m.registry.Get(ctx, productID)
		if err != nil {
			return StockSnapshot{}, err
		}
		return StockSnapshot{ProductID: p.ID, StockQty: p.StockQty, StockShortfall: p.StockShortfall}, nil
	}
	return m.applyBalance(ctx, productID, delta, kind, source, time.Now().UTC())
}

// applyBalance performs the optimistic read-modify-write on the cached
// balance, then appends the audit entry. A version conflict re-reads and
// re-applies the delta up to the configured bound.
func (m *Mutator) applyBalance(ctx context.Context, productID, delta int64, kind ChangeKind, source string, eventDate time.Time) (StockSnapshot, error) {
	for attempt := 0; attempt < m.retries; attempt++ {
		p, err := m.registry.Get(ctx, productID)
		if err != nil {
			return StockSnapshot{}, err
		}
		net := p.StockQty - p.StockShortfall + delta
		display, shortfall := Clamp(net)
		if err := m.registry.SetStock(ctx, p.ID, display, shortfall, p.Version); err != nil {
			if errors.Is(err, products.ErrVersionConflict) {
				if m.metrics != nil {
					m.metrics.BalanceConflicts.Inc()
				}
				m.logger.Debug("balance version conflict, retrying",
					slog.Int64("product_id", productID), slog.Int("attempt", attempt+1))
				continue
			}
			return StockSnapshot{}, err
		}
		if shortfall > 0 && m.metrics != nil {
			m.metrics.StockClamps.Inc()
		}
		entry := HistoryEntry{
			ProductID:    p.ID,
			EventDate:    eventDate,
			PriorQty:     p.StockQty,
			Delta:        delta,
			ResultingQty: display,
			Kind:         kind,
			Source:       source,
		}
		if _, err := m.repo.AppendHistory(ctx, entry); err != nil {
			// The balance write already landed; the history gap violates
			// the audit invariant until the next reconciliation pass.
			m.logger.Error("history append failed after balance write",
				slog.Int64("product_id", productID), slog.Any("error", err))
			return StockSnapshot{}, err
		}
		return StockSnapshot{ProductID: p.ID, StockQty: display, StockShortfall: shortfall}, nil
	}
	return StockSnapshot{}, ErrBalanceContention
}

func (m *Mutator) countMutation(stream Stream, op string) {
	if m.metrics == nil {
		return
	}
	m.metrics.MutationsTotal.WithLabelValues(string(stream), op).Inc()
}

func validateEntry(productName string, qty int64, date time.Time) error {
	if strings.TrimSpace(productName) == "" {
		return fmt.Errorf("%w: product name required", ErrValidation)
	}
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", ErrValidation)
	}
	if date.IsZero() {
		return fmt.Errorf("%w: date required", ErrValidation)
	}
	return nil
}

func createKind(stream Stream) ChangeKind {
	if stream == StreamOpeningBalance {
		return KindOpeningBalance
	}
	return KindPurchase
}

// editKind classifies edits and deletes of both purchase-side streams as
// purchase_edit; the delta carries the direction.
func editKind(Stream) ChangeKind {
	return KindPurchaseEdit
}

func sourceFor(stream Stream, invoiceRef string) string {
	if stream == StreamOpeningBalance {
		if invoiceRef == "" || invoiceRef == OpeningBalanceSource {
			return OpeningBalanceSource
		}
		return fmt.Sprintf("%s %s", OpeningBalanceSource, invoiceRef)
	}
	if invoiceRef == "" {
		return "purchase"
	}
	return fmt.Sprintf("purchase %s", invoiceRef)
}

func saleSource(orderRef string) string {
	if orderRef == "" {
		return "sale"
	}
	return fmt.Sprintf("sale %s", orderRef)
}

func consumptionSource(note string) string {
	if note == "" {
		return "salon use"
	}
	return fmt.Sprintf("salon use: %s", note)
}
