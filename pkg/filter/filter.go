// Package filter assigns persisted incorporation fractions to every
// technosphere exchange in an LCI database.
//
// The filter decides, per exchange, whether the supplied flow is
// physically incorporated into the consuming product (copper into a
// laptop) or consumed along the way (factory buildings, electricity,
// packaging, transport). The decision is a case-sensitive substring match
// of avoid keywords against the supplying activity's reference-product
// name, optionally extended to treat negative amounts as avoided flows.
//
// A full pass over an ecoinvent release touches every exchange and runs
// for tens of minutes; flags are persisted so the pass runs once per
// database and avoid-list. Flags are written one exchange at a time with
// no transactional batching: a crash mid-pass leaves the database
// partially flagged, and the recovery path is simply rerunning the pass
// (Apply is idempotent).
package filter

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

// Common errors
var (
	ErrNoKeywords      = errors.New("policy has no avoid keywords and negative amounts are kept")
	ErrMissingSnapshot = errors.New("exchange has no amount snapshot")
)

// Policy decides which exchanges are non-incorporated.
//
// Matching is a case-sensitive substring test with no word-boundary
// handling: "gas" matches "gasoline". That over-matching is a known and
// accepted property of the method (the published avoid-lists were tuned
// around it), so the matcher must not be quietly made smarter. Tuning
// happens by editing the keyword list, not the matching rule.
type Policy struct {
	// Avoid lists the product-name substrings that mark an exchange as
	// non-incorporated.
	Avoid []string

	// DropNegative additionally marks every exchange with a negative
	// amount as non-incorporated, treating it as an avoided/by-product
	// flow regardless of name. The heuristic changes results between
	// experiment variants, so it is an explicit policy choice with no
	// hidden default.
	DropNegative bool
}

// Matches reports whether an exchange with the given supplying product
// name and amount is non-incorporated under the policy.
func (p Policy) Matches(product string, amount float64) bool {
	if p.DropNegative && amount < 0 {
		return true
	}
	for _, word := range p.Avoid {
		if strings.Contains(product, word) {
			return true
		}
	}
	return false
}

// Progress receives integer percentages in [0,100] during a long pass.
// Implementations typically rewrite a single terminal line. May be nil.
type Progress func(percent int)

// Stats summarizes a completed filter pass.
type Stats struct {
	Exchanges    int // exchanges visited
	Filtered     int // flagged non-incorporated (0.0)
	Incorporated int // flagged fully incorporated (1.0)
}

// Apply computes and persists incorporated ∈ {0.0, 1.0} for every
// technosphere exchange in the database: 0.0 if the supplying activity's
// reference-product name matches the policy, else 1.0.
//
// A supplying activity that cannot be resolved is a fatal configuration
// error naming the exchange - silently defaulting would leave the flag
// unset and skew every later composition run.
//
// Apply is idempotent: rerunning with the same policy rewrites the same
// flags.
func Apply(ctx context.Context, db *lci.Database, policy Policy, progress Progress) (*Stats, error) {
	if len(policy.Avoid) == 0 && !policy.DropNegative {
		return nil, ErrNoKeywords
	}

	engine := db.Engine()
	total, err := engine.ExchangeCount()
	if err != nil {
		return nil, err
	}

	// Product names are looked up once per supplier, not once per
	// exchange: a popular market activity supplies thousands of
	// exchanges.
	products := make(map[storage.ActivityKey]string)

	stats := &Stats{}
	var done int64
	prev := -1

	err = storage.StreamExchangesWithFallback(ctx, engine, func(exc *storage.Exchange) error {
		product, ok := products[exc.Input]
		if !ok {
			supplier, err := engine.GetActivity(exc.Input)
			if err != nil {
				return fmt.Errorf("resolving supplier %s of exchange %s: %w", exc.Input, exc.ID, err)
			}
			if supplier.Product == "" {
				return fmt.Errorf("supplier %s of exchange %s has no reference product name", exc.Input, exc.ID)
			}
			product = supplier.Product
			products[exc.Input] = product
		}

		frac := 1.0
		if policy.Matches(product, exc.Amount) {
			frac = 0.0
			stats.Filtered++
		} else {
			stats.Incorporated++
		}
		if err := exc.SetIncorporation(frac); err != nil {
			return err
		}
		if err := engine.UpdateExchange(exc); err != nil {
			return fmt.Errorf("persisting flag on exchange %s: %w", exc.ID, err)
		}

		stats.Exchanges++
		done++
		reportProgress(progress, done, total, &prev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// Reset sets every exchange back to fully incorporated (1.0), undoing any
// previous filter pass.
func Reset(ctx context.Context, db *lci.Database, progress Progress) (*Stats, error) {
	engine := db.Engine()
	total, err := engine.ExchangeCount()
	if err != nil {
		return nil, err
	}

	stats := &Stats{}
	var done int64
	prev := -1

	err = storage.StreamExchangesWithFallback(ctx, engine, func(exc *storage.Exchange) error {
		if err := exc.SetIncorporation(1.0); err != nil {
			return err
		}
		if err := engine.UpdateExchange(exc); err != nil {
			return fmt.Errorf("persisting flag on exchange %s: %w", exc.ID, err)
		}
		stats.Exchanges++
		stats.Incorporated++
		done++
		reportProgress(progress, done, total, &prev)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// reportProgress invokes the callback only when the integer percentage
// advances, so a terminal progress line repaints at most 100 times.
func reportProgress(progress Progress, done, total int64, prev *int) {
	if progress == nil || total == 0 {
		return
	}
	pct := int(100 * done / total)
	if pct != *prev {
		progress(pct)
		*prev = pct
	}
}
