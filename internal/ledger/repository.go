package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository persists ledger data in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertPurchase(ctx context.Context, p Purchase) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO purchases (id, product_id, stream, qty, unit_cost, tax_rate, tax_amount, invoice_ref, effective_date, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		p.ID, p.ProductID, string(p.Stream), p.Qty,
		p.UnitCost.InexactFloat64(), p.TaxRate.InexactFloat64(), p.TaxAmount.InexactFloat64(),
		p.InvoiceRef, p.EffectiveDate, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r *Repository) GetPurchase(ctx context.Context, id uuid.UUID) (Purchase, error) {
	var p Purchase
	var stream string
	var unitCost, taxRate, taxAmount float64
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, stream, qty, unit_cost, tax_rate, tax_amount, invoice_ref, effective_date, created_at, updated_at
FROM purchases WHERE id=$1`, id).
		Scan(&p.ID, &p.ProductID, &stream, &p.Qty, &unitCost, &taxRate, &taxAmount, &p.InvoiceRef, &p.EffectiveDate, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Purchase{}, ErrNotFound
		}
		return Purchase{}, err
	}
	p.Stream = Stream(stream)
	p.UnitCost = decimal.NewFromFloat(unitCost)
	p.TaxRate = decimal.NewFromFloat(taxRate)
	p.TaxAmount = decimal.NewFromFloat(taxAmount)
	return p, nil
}

func (r *Repository) UpdatePurchase(ctx context.Context, p Purchase) error {
	tag, err := r.pool.Exec(ctx, `UPDATE purchases SET qty=$1, unit_cost=$2, tax_rate=$3, tax_amount=$4, invoice_ref=$5, effective_date=$6, updated_at=$7
WHERE id=$8`,
		p.Qty, p.UnitCost.InexactFloat64(), p.TaxRate.InexactFloat64(), p.TaxAmount.InexactFloat64(),
		p.InvoiceRef, p.EffectiveDate, p.UpdatedAt, p.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeletePurchase(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM purchases WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) InsertSale(ctx context.Context, s Sale) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO sales (id, product_id, qty, order_ref, sold_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`, s.ID, s.ProductID, s.Qty, s.OrderRef, s.SoldAt, s.CreatedAt)
	return err
}

func (r *Repository) GetSale(ctx context.Context, id uuid.UUID) (Sale, error) {
	var s Sale
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, qty, order_ref, sold_at, created_at FROM sales WHERE id=$1`, id).
		Scan(&s.ID, &s.ProductID, &s.Qty, &s.OrderRef, &s.SoldAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Sale{}, ErrNotFound
		}
		return Sale{}, err
	}
	return s, nil
}

func (r *Repository) UpdateSale(ctx context.Context, s Sale) error {
	tag, err := r.pool.Exec(ctx, `UPDATE sales SET qty=$1, order_ref=$2, sold_at=$3 WHERE id=$4`,
		s.Qty, s.OrderRef, s.SoldAt, s.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteSale(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM sales WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) InsertConsumption(ctx context.Context, c Consumption) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO consumption (id, product_id, qty, note, used_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`, c.ID, c.ProductID, c.Qty, c.Note, c.UsedAt, c.CreatedAt)
	return err
}

func (r *Repository) GetConsumption(ctx context.Context, id uuid.UUID) (Consumption, error) {
	var c Consumption
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, qty, note, used_at, created_at FROM consumption WHERE id=$1`, id).
		Scan(&c.ID, &c.ProductID, &c.Qty, &c.Note, &c.UsedAt, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Consumption{}, ErrNotFound
		}
		return Consumption{}, err
	}
	return c, nil
}

func (r *Repository) UpdateConsumption(ctx context.Context, c Consumption) error {
	tag, err := r.pool.Exec(ctx, `UPDATE consumption SET qty=$1, note=$2, used_at=$3 WHERE id=$4`,
		c.Qty, c.Note, c.UsedAt, c.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteConsumption(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM consumption WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) AppendHistory(ctx context.Context, e HistoryEntry) (HistoryEntry, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO stock_history (product_id, event_date, prior_qty, delta, resulting_qty, change_kind, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,NOW()) RETURNING id, created_at`,
		e.ProductID, e.EventDate, e.PriorQty, e.Delta, e.ResultingQty, string(e.Kind), e.Source).
		Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return HistoryEntry{}, err
	}
	return e, nil
}

func (r *Repository) ListHistory(ctx context.Context, f HistoryFilter) ([]HistoryEntry, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = 200
	}
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, event_date, prior_qty, delta, resulting_qty, change_kind, source, created_at
FROM stock_history
WHERE ($1 = 0 OR product_id = $1)
  AND ($2::timestamptz IS NULL OR event_date >= $2)
  AND ($3::timestamptz IS NULL OR event_date <= $3)
ORDER BY created_at DESC, id DESC
LIMIT $4`, f.ProductID, nullTime(f.From), nullTime(f.To), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	entries := []HistoryEntry{}
	for rows.Next() {
		var e HistoryEntry
		var kind string
		if err := rows.Scan(&e.ID, &e.ProductID, &e.EventDate, &e.PriorQty, &e.Delta, &e.ResultingQty, &kind, &e.Source, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Kind = ChangeKind(kind)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// StreamTotals sums quantities per product for one stream in a single scan.
func (r *Repository) StreamTotals(ctx context.Context, stream Stream) (map[int64]int64, error) {
	var query string
	switch stream {
	case StreamPurchase, StreamOpeningBalance:
		query = `SELECT product_id, COALESCE(SUM(qty),0) FROM purchases WHERE stream=$1 GROUP BY product_id`
	case StreamSale:
		query = `SELECT product_id, COALESCE(SUM(qty),0) FROM sales GROUP BY product_id`
	case StreamConsumption:
		query = `SELECT product_id, COALESCE(SUM(qty),0) FROM consumption GROUP BY product_id`
	default:
		return nil, fmt.Errorf("ledger: unknown stream %q", stream)
	}

	var rows pgx.Rows
	var err error
	if stream == StreamPurchase || stream == StreamOpeningBalance {
		rows, err = r.pool.Query(ctx, query, string(stream))
	} else {
		rows, err = r.pool.Query(ctx, query)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[int64]int64)
	for rows.Next() {
		var productID, qty int64
		if err := rows.Scan(&productID, &qty); err != nil {
			return nil, err
		}
		totals[productID] = qty
	}
	return totals, rows.Err()
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
