package pos

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/lumina-salon/lumina/internal/ledger"
)

// KeyStore claims intake keys for exactly-once posting.
type KeyStore interface {
	CheckAndInsert(ctx context.Context, key string) error
	Delete(ctx context.Context, key string) error
}

// LedgerPort is the mutation surface the intake uses.
type LedgerPort interface {
	CreateSale(ctx context.Context, input ledger.SaleInput) (ledger.SaleResult, error)
	CreateConsumption(ctx context.Context, input ledger.ConsumptionInput) (ledger.ConsumptionResult, error)
}

// SaleLine is a checkout line item as the POS sends it. Products are
// referenced by display name, not identity.
type SaleLine struct {
	OrderRef    string
	LineNo      int
	ProductName string
	Qty         int64
	SoldAt      time.Time
}

// ConsumptionEntry records product the salon used on a client or in-house.
type ConsumptionEntry struct {
	Ref         string
	ProductName string
	Qty         int64
	Note        string
	UsedAt      time.Time
}

// Service feeds POS sale lines and salon consumption into the stock
// ledger. Each line is claimed in the intake key store first, so checkout
// retries after a timeout cannot deduct stock twice.
type Service struct {
	ledger LedgerPort
	keys   KeyStore
	logger *slog.Logger
}

// NewService constructs the POS intake service.
func NewService(ledgerPort LedgerPort, keys KeyStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{ledger: ledgerPort, keys: keys, logger: logger}
}

// RecordSaleLine posts one checkout line. Duplicate submissions return
// ErrAlreadyProcessed with no ledger effect.
func (s *Service) RecordSaleLine(ctx context.Context, line SaleLine) (ledger.SaleResult, error) {
	if line.OrderRef == "" {
		return ledger.SaleResult{}, fmt.Errorf("%w: order reference required", ledger.ErrValidation)
	}
	key := fmt.Sprintf("sale:%s:%d", line.OrderRef, line.LineNo)
	claimed := false
	if s.keys != nil {
		if err := s.keys.CheckAndInsert(ctx, key); err != nil {
			return ledger.SaleResult{}, err
		}
		claimed = true
	}
	result, err := s.ledger.CreateSale(ctx, ledger.SaleInput{
		ProductName: line.ProductName,
		Qty:         line.Qty,
		OrderRef:    line.OrderRef,
		SoldAt:      line.SoldAt,
	})
	if err != nil {
		if claimed {
			_ = s.keys.Delete(ctx, key)
		}
		return ledger.SaleResult{}, err
	}
	return result, nil
}

// RecordConsumption posts an internal-consumption entry. Entries carrying
// a reference are deduplicated like sale lines.
func (s *Service) RecordConsumption(ctx context.Context, entry ConsumptionEntry) (ledger.ConsumptionResult, error) {
	claimed := false
	key := ""
	if entry.Ref != "" && s.keys != nil {
		key = fmt.Sprintf("use:%s", entry.Ref)
		if err := s.keys.CheckAndInsert(ctx, key); err != nil {
			return ledger.ConsumptionResult{}, err
		}
		claimed = true
	}
	result, err := s.ledger.CreateConsumption(ctx, ledger.ConsumptionInput{
		ProductName: entry.ProductName,
		Qty:         entry.Qty,
		Note:        entry.Note,
		UsedAt:      entry.UsedAt,
	})
	if err != nil {
		if claimed {
			_ = s.keys.Delete(ctx, key)
		}
		return ledger.ConsumptionResult{}, err
	}
	return result, nil
}
