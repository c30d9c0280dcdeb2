package ledger

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Delta computes the signed balance change for one mutation. oldQty is 0
// for an insert and the transaction's full quantity for a delete; newQty
// is 0 for a delete.
func Delta(stream Stream, oldQty, newQty int64) int64 {
	return stream.Sign() * (newQty - oldQty)
}

// Clamp floors a net balance at zero for display. The discarded deficit is
// returned separately so it stays visible to reconciliation and audits
// instead of being silently lost.
func Clamp(net int64) (display, shortfall int64) {
	if net < 0 {
		return 0, -net
	}
	return net, 0
}

// RecomputePort is the read side the calculator needs for the full pass.
type RecomputePort interface {
	// StreamTotals sums quantities per product for one stream.
	StreamTotals(ctx context.Context, stream Stream) (map[int64]int64, error)
}

// Recomputed is the authoritative balance for one product.
type Recomputed struct {
	Net       int64
	Display   int64
	Shortfall int64
}

// Calculator derives stock balances from the transaction streams.
type Calculator struct {
	repo RecomputePort
}

// NewCalculator constructs Calculator.
func NewCalculator(repo RecomputePort) *Calculator {
	return &Calculator{repo: repo}
}

var allStreams = []Stream{StreamPurchase, StreamOpeningBalance, StreamSale, StreamConsumption}

// RecomputeAll produces the ground-truth balance for every product that
// appears in any stream. It is a pure read; running it twice with no
// intervening writes yields identical results. The clamp is applied here
// with the same rule the mutation path uses, so both paths agree after a
// deficit.
func (c *Calculator) RecomputeAll(ctx context.Context) (map[int64]Recomputed, error) {
	totals := make([]map[int64]int64, len(allStreams))
	g, gctx := errgroup.WithContext(ctx)
	for i, stream := range allStreams {
		g.Go(func() error {
			t, err := c.repo.StreamTotals(gctx, stream)
			if err != nil {
				return err
			}
			totals[i] = t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	nets := make(map[int64]int64)
	for i, stream := range allStreams {
		sign := stream.Sign()
		for productID, qty := range totals[i] {
			nets[productID] += sign * qty
		}
	}

	out := make(map[int64]Recomputed, len(nets))
	for productID, net := range nets {
		display, shortfall := Clamp(net)
		out[productID] = Recomputed{Net: net, Display: display, Shortfall: shortfall}
	}
	return out, nil
}
