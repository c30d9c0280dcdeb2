package pos

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// IntakeKeyStore persists processed POS line references so checkout
// retries never double-post a stock movement.
type IntakeKeyStore struct {
	pool *pgxpool.Pool
}

// NewIntakeKeyStore constructs the store.
func NewIntakeKeyStore(pool *pgxpool.Pool) *IntakeKeyStore {
	return &IntakeKeyStore{pool: pool}
}

// ErrAlreadyProcessed indicates the POS line was posted before.
var ErrAlreadyProcessed = errors.New("pos: line already processed")

// CheckAndInsert claims a line key. A unique violation means another
// attempt already claimed it.
func (s *IntakeKeyStore) CheckAndInsert(ctx context.Context, key string) error {
	if s == nil {
		return errors.New("pos: intake key store not initialised")
	}
	if key == "" {
		return errors.New("pos: intake key required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO pos_intake_keys (key, created_at) VALUES ($1, $2)`, key, time.Now())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrAlreadyProcessed
		}
		return err
	}
	return nil
}

// Delete releases a key, used to roll back a failed posting so the POS
// can retry it.
func (s *IntakeKeyStore) Delete(ctx context.Context, key string) error {
	if s == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM pos_intake_keys WHERE key=$1`, key)
	return err
}

// Cleanup removes entries older than retention.
func (s *IntakeKeyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil {
		return nil
	}
	cutoff := time.Now().Add(-olderThan)
	_, err := s.pool.Exec(ctx, `DELETE FROM pos_intake_keys WHERE created_at < $1`, cutoff)
	return err
}
