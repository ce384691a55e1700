package filter

import (
	"context"
	"fmt"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

// Amount snapshots support the alternative to matrix editing: instead of
// scaling technology-matrix cells after assembly, rewrite the exchange
// amounts themselves (amount = saved amount × incorporation) and let the
// next solve pick them up. SaveAmounts must run before ApplyToAmounts so
// the originals can always be restored.

// SaveAmounts records each exchange's current amount in its AmountSave
// field. An existing snapshot is overwritten.
func SaveAmounts(ctx context.Context, db *lci.Database) error {
	engine := db.Engine()
	return storage.StreamExchangesWithFallback(ctx, engine, func(exc *storage.Exchange) error {
		v := exc.Amount
		exc.AmountSave = &v
		if err := engine.UpdateExchange(exc); err != nil {
			return fmt.Errorf("saving amount on exchange %s: %w", exc.ID, err)
		}
		return nil
	})
}

// RestoreAmounts copies each exchange's snapshot back into its amount.
// An exchange without a snapshot is a fatal error naming the exchange:
// restoring over unsaved amounts would silently corrupt the database.
func RestoreAmounts(ctx context.Context, db *lci.Database) error {
	engine := db.Engine()
	return storage.StreamExchangesWithFallback(ctx, engine, func(exc *storage.Exchange) error {
		if exc.AmountSave == nil {
			return fmt.Errorf("%w: %s", ErrMissingSnapshot, exc.ID)
		}
		exc.Amount = *exc.AmountSave
		if err := engine.UpdateExchange(exc); err != nil {
			return fmt.Errorf("restoring amount on exchange %s: %w", exc.ID, err)
		}
		return nil
	})
}

// ApplyToAmounts rewrites each exchange's amount as snapshot ×
// incorporation. Requires a prior SaveAmounts; an unset incorporation
// flag reads as fully incorporated, matching the matrix editor.
func ApplyToAmounts(ctx context.Context, db *lci.Database) error {
	engine := db.Engine()
	return storage.StreamExchangesWithFallback(ctx, engine, func(exc *storage.Exchange) error {
		if exc.AmountSave == nil {
			return fmt.Errorf("%w: %s", ErrMissingSnapshot, exc.ID)
		}
		inc, _ := exc.Incorporation()
		exc.Amount = *exc.AmountSave * inc
		if err := engine.UpdateExchange(exc); err != nil {
			return fmt.Errorf("rewriting amount on exchange %s: %w", exc.ID, err)
		}
		return nil
	})
}
