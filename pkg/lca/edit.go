package lca

import (
	"fmt"
	"log"
)

// EditStats summarizes an ApplyIncorporation pass.
type EditStats struct {
	// Scaled counts exchanges whose matrix cell was multiplied by an
	// incorporation fraction below 1.
	Scaled int
	// MissingFlag counts exchanges whose incorporation flag was never
	// set by a filter pass. They are treated as fully incorporated and
	// leave the matrix untouched, but each one indicates an incomplete
	// filter pass and is logged.
	MissingFlag int
}

// ApplyIncorporation edits the technology matrix in place: for every
// exchange whose persisted incorporation fraction is below 1, the cell
// A[index(input), index(output)] is multiplied by the fraction. A zero
// fraction zeroes the cell exactly; a fraction of 1 (or an unset flag)
// leaves it unchanged.
//
// Ordering contract: the edit mutates the same matrix the solver
// factorizes, so it must run strictly after the first (unfiltered) Solve
// and strictly before Resolve. Calling it on an unsolved context returns
// ErrNotSolved.
//
// An exchange endpoint missing from the solve index means the database
// changed under a live context and is a fatal configuration error naming
// the exchange.
//
// logger receives one warning per exchange with an unset flag; pass nil
// for the standard logger.
func (c *Context) ApplyIncorporation(logger *log.Logger) (*EditStats, error) {
	if !c.solved {
		return nil, ErrNotSolved
	}
	if logger == nil {
		logger = log.Default()
	}

	excs, err := c.db.Exchanges()
	if err != nil {
		return nil, fmt.Errorf("listing exchanges: %w", err)
	}

	stats := &EditStats{}
	for _, exc := range excs {
		inc, set := exc.Incorporation()
		if !set {
			stats.MissingFlag++
			logger.Printf("warning: exchange %s has no incorporation flag, treating as fully incorporated", exc.ID)
			continue
		}
		if inc >= 1 {
			continue
		}

		row, ok := c.activityIndex[exc.Input]
		if !ok {
			return nil, fmt.Errorf("%w: exchange %s input %s", ErrUnknownActivity, exc.ID, exc.Input)
		}
		col, ok := c.activityIndex[exc.Output]
		if !ok {
			return nil, fmt.Errorf("%w: exchange %s output %s", ErrUnknownActivity, exc.ID, exc.Output)
		}

		c.tech.Set(row, col, c.tech.At(row, col)*inc)
		stats.Scaled++
	}
	return stats, nil
}
