package products

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// Product represents a retail or consumable product tracked by the salon.
// StockQty is the cached display balance, derived from the transaction
// ledger and never allowed to go negative. StockShortfall keeps the units
// lost to clamping so reconciliation can report true deficits.
type Product struct {
	ID             int64     `json:"id"`
	Name           string    `json:"name"`
	HSNCode        string    `json:"hsn_code"`
	Unit           string    `json:"unit"`
	TaxRate        float64   `json:"tax_rate"`
	StockQty       int64     `json:"stock_quantity"`
	StockShortfall int64     `json:"stock_shortfall"`
	Version        int64     `json:"version"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Defaults carries best-effort product metadata taken from the transaction
// that first references an unknown product name.
type Defaults struct {
	HSNCode string
	Unit    string
	TaxRate float64
}

// ErrVersionConflict indicates the cached balance changed since it was read.
var ErrVersionConflict = errors.New("products: stock version conflict")

// ErrNotFound indicates a missing product row.
var ErrNotFound = errors.New("products: not found")

// ErrDuplicateName indicates a unique violation on the folded name key.
var ErrDuplicateName = errors.New("products: duplicate name")

// NameKey folds a display name into its case-insensitive lookup key.
func NameKey(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}
