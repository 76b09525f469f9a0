// MultiSymbolRunner fans a set of BarSources out across one Driver
// per symbol, grounded on the errgroup.WithContext fan-out pattern
// (one goroutine per independent unit of work, first error cancels the
// group) used across the retrieved example corpus for mode-style
// concurrent startup. Per §5, symbols share nothing: each goroutine
// owns exactly one Driver and runs it to completion on each bar before
// asking its BarSource for the next, so within a symbol there is still
// no concurrent access to a Driver.
package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"signalcore/ports"
)

// SymbolFeed pairs one symbol's BarSource with the Driver that will
// consume it.
type SymbolFeed struct {
	Symbol string
	Source ports.BarSource
	Driver *Driver
}

// MultiSymbolRunner owns one goroutine per symbol feed.
type MultiSymbolRunner struct {
	feeds []SymbolFeed
}

// NewMultiSymbolRunner constructs a runner over the given feeds. Each
// feed's Driver must already be constructed for feed.Symbol.
func NewMultiSymbolRunner(feeds []SymbolFeed) *MultiSymbolRunner {
	return &MultiSymbolRunner{feeds: feeds}
}

// Run drains every symbol's BarSource concurrently until exhaustion,
// a strict-policy error from a Driver.Feed, or ctx cancellation,
// whichever comes first. The first error from any symbol cancels ctx
// for the rest and is returned; other symbols' in-flight Feed calls
// still run to completion before their goroutine observes cancellation,
// matching the no-suspension-mid-bar guarantee of §5.
func (r *MultiSymbolRunner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, f := range r.feeds {
		f := f
		g.Go(func() error {
			return runSymbol(gctx, f)
		})
	}
	return g.Wait()
}

func runSymbol(ctx context.Context, f SymbolFeed) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, ok, err := f.Source.Next()
		if err != nil {
			return fmt.Errorf("pipeline: %s: bar source: %w", f.Symbol, err)
		}
		if !ok {
			return nil
		}
		if err := f.Driver.Feed(b); err != nil {
			return fmt.Errorf("pipeline: %s: %w", f.Symbol, err)
		}
	}
}
