package recon

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/lumina-salon/lumina/internal/ledger"
	"github.com/lumina-salon/lumina/internal/observability"
	"github.com/lumina-salon/lumina/internal/products"
)

// ProductsPort is the registry surface reconciliation needs.
type ProductsPort interface {
	List(ctx context.Context) ([]products.Product, error)
	ForceSetStock(ctx context.Context, id int64, qty, shortfall int64) error
}

// HistoryPort appends audit entries for drift corrections.
type HistoryPort interface {
	AppendHistory(ctx context.Context, e ledger.HistoryEntry) (ledger.HistoryEntry, error)
}

// DriftItem reports one product whose cached balance diverged from the
// value the ledger recomputes.
type DriftItem struct {
	ProductID           int64  `json:"product_id"`
	Name                string `json:"name"`
	CachedQty           int64  `json:"cached_quantity"`
	RecomputedQty       int64  `json:"recomputed_quantity"`
	CachedShortfall     int64  `json:"cached_shortfall"`
	RecomputedShortfall int64  `json:"recomputed_shortfall"`
}

// Report summarises one reconciliation pass.
type Report struct {
	RanAt    time.Time   `json:"ran_at"`
	Duration string      `json:"duration"`
	Products int         `json:"products"`
	Drifted  []DriftItem `json:"drifted"`
}

const reportKey = "lumina:recon:last_report"

// Service runs the ground-truth recompute over the full transaction
// history and repairs drift in the cached balances. Safe to run at any
// time, including mid-incident; a second run with no intervening writes
// produces identical balances.
type Service struct {
	calc     *ledger.Calculator
	registry ProductsPort
	history  HistoryPort
	cache    *redis.Client
	metrics  *observability.Metrics
	logger   *slog.Logger
	ttl      time.Duration
	group    singleflight.Group
}

// NewService constructs the reconciliation service.
func NewService(calc *ledger.Calculator, registry ProductsPort, history HistoryPort, cache *redis.Client, metrics *observability.Metrics, logger *slog.Logger, ttl time.Duration) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Service{calc: calc, registry: registry, history: history, cache: cache, metrics: metrics, logger: logger, ttl: ttl}
}

// RecomputeAll rewrites every product's cached balance from the ledger and
// reports drift. Concurrent triggers share a single pass.
func (s *Service) RecomputeAll(ctx context.Context) (Report, error) {
	v, err, _ := s.group.Do("recompute", func() (any, error) {
		return s.run(ctx)
	})
	if err != nil {
		return Report{}, err
	}
	return v.(Report), nil
}

func (s *Service) run(ctx context.Context) (Report, error) {
	start := time.Now()
	authoritative, err := s.calc.RecomputeAll(ctx)
	if err != nil {
		return Report{}, err
	}
	all, err := s.registry.List(ctx)
	if err != nil {
		return Report{}, err
	}

	report := Report{RanAt: start.UTC(), Products: len(all), Drifted: []DriftItem{}}
	for _, p := range all {
		want := authoritative[p.ID]
		drifted := p.StockQty != want.Display || p.StockShortfall != want.Shortfall
		if drifted {
			report.Drifted = append(report.Drifted, DriftItem{
				ProductID:           p.ID,
				Name:                p.Name,
				CachedQty:           p.StockQty,
				RecomputedQty:       want.Display,
				CachedShortfall:     p.StockShortfall,
				RecomputedShortfall: want.Shortfall,
			})
		}
		if err := s.registry.ForceSetStock(ctx, p.ID, want.Display, want.Shortfall); err != nil {
			return Report{}, err
		}
		if drifted && s.history != nil {
			_, err := s.history.AppendHistory(ctx, ledger.HistoryEntry{
				ProductID:    p.ID,
				EventDate:    start.UTC(),
				PriorQty:     p.StockQty,
				Delta:        want.Display - p.StockQty,
				ResultingQty: want.Display,
				Kind:         ledger.KindManualAdjustment,
				Source:       "stock reconciliation",
			})
			if err != nil {
				s.logger.Warn("append reconciliation history", slog.Int64("product_id", p.ID), slog.Any("error", err))
			}
		}
	}
	report.Duration = time.Since(start).Round(time.Millisecond).String()

	if s.metrics != nil {
		s.metrics.DriftedProducts.Set(float64(len(report.Drifted)))
	}
	s.storeReport(ctx, report)
	s.logger.Info("stock reconciliation finished",
		slog.Int("products", report.Products),
		slog.Int("drifted", len(report.Drifted)),
		slog.String("duration", report.Duration))
	return report, nil
}

// LastReport returns the most recent cached reconciliation report.
func (s *Service) LastReport(ctx context.Context) (Report, bool, error) {
	if s.cache == nil {
		return Report{}, false, nil
	}
	raw, err := s.cache.Get(ctx, reportKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Report{}, false, nil
		}
		return Report{}, false, err
	}
	var report Report
	if err := json.Unmarshal(raw, &report); err != nil {
		return Report{}, false, err
	}
	return report, true, nil
}

func (s *Service) storeReport(ctx context.Context, report Report) {
	if s.cache == nil {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		return
	}
	if err := s.cache.Set(ctx, reportKey, raw, s.ttl).Err(); err != nil {
		s.logger.Warn("cache reconciliation report", slog.Any("error", err))
	}
}
