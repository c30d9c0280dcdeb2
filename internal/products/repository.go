package products

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store abstracts product persistence for the registry.
type Store interface {
	GetByID(ctx context.Context, id int64) (Product, error)
	GetByNameKey(ctx context.Context, key string) (Product, error)
	Insert(ctx context.Context, p Product) (Product, error)
	List(ctx context.Context) ([]Product, error)
	UpdateStock(ctx context.Context, id int64, qty, shortfall, expectedVersion int64) error
	OverwriteStock(ctx context.Context, id int64, qty, shortfall int64) error
}

// Repository persists products in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const productColumns = `id, name, hsn_code, unit, tax_rate, stock_quantity, stock_shortfall, version, created_at, updated_at`

func (r *Repository) GetByID(ctx context.Context, id int64) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id)
	return scanProduct(row)
}

func (r *Repository) GetByNameKey(ctx context.Context, key string) (Product, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE name_key=$1`, key)
	return scanProduct(row)
}

// Insert creates a product row. A unique violation on name_key is surfaced
// as ErrDuplicateName so the caller can re-resolve the winning row.
func (r *Repository) Insert(ctx context.Context, p Product) (Product, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO products (name, name_key, hsn_code, unit, tax_rate, stock_quantity, stock_shortfall, version, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,1,NOW(),NOW())
RETURNING `+productColumns,
		p.Name, NameKey(p.Name), p.HSNCode, p.Unit, p.TaxRate, p.StockQty, p.StockShortfall)
	created, err := scanProduct(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Product{}, ErrDuplicateName
		}
		return Product{}, err
	}
	return created, nil
}

func (r *Repository) List(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+productColumns+` FROM products ORDER BY name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// UpdateStock writes the cached balance with an optimistic version check.
func (r *Repository) UpdateStock(ctx context.Context, id int64, qty, shortfall, expectedVersion int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET stock_quantity=$1, stock_shortfall=$2, version=version+1, updated_at=NOW()
WHERE id=$3 AND version=$4`, qty, shortfall, id, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrVersionConflict
	}
	return nil
}

// OverwriteStock writes the cached balance unconditionally. Used by the
// reconciliation pass, which is authoritative over any in-flight delta.
func (r *Repository) OverwriteStock(ctx context.Context, id int64, qty, shortfall int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE products SET stock_quantity=$1, stock_shortfall=$2, version=version+1, updated_at=NOW()
WHERE id=$3`, qty, shortfall, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.Name, &p.HSNCode, &p.Unit, &p.TaxRate, &p.StockQty, &p.StockShortfall, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Product{}, ErrNotFound
		}
		return Product{}, err
	}
	return p, nil
}
