package lca

import (
	"bytes"
	"log"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

func key(code string) storage.ActivityKey {
	return storage.ActivityKey{Database: "db", Code: code}
}

// flagToyModel sets incorporation flags the way a filter pass with
// avoid-list {"factory"} would: the factory input of the laptop is
// non-incorporated, everything else fully incorporated.
func flagToyModel(t *testing.T, db *lci.Database) {
	t.Helper()

	excs, err := db.Exchanges()
	require.NoError(t, err)
	for _, exc := range excs {
		frac := 1.0
		if exc.Input == key("factory") {
			frac = 0.0
		}
		require.NoError(t, exc.SetIncorporation(frac))
		require.NoError(t, db.Engine().UpdateExchange(exc))
	}
}

func TestSolveUnfiltered(t *testing.T) {
	db := lci.ToyModel()
	defer db.Close()

	ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
	require.NoError(t, err)
	require.NoError(t, ctx.Solve())

	t.Run("supply vector", func(t *testing.T) {
		laptop, err := ctx.Supply(key("laptop"))
		require.NoError(t, err)
		assert.InDelta(t, 1.0, laptop, 1e-12)

		// Factory contributes before filtering.
		factory, err := ctx.Supply(key("factory"))
		require.NoError(t, err)
		assert.InDelta(t, 1e-6, factory, 1e-15)

		// Copper: 0.25 direct + 1000 * 1e-6 through the factory.
		copper, err := ctx.Supply(key("copper"))
		require.NoError(t, err)
		assert.InDelta(t, 0.251, copper, 1e-9)

		pet, err := ctx.Supply(key("pet"))
		require.NoError(t, err)
		assert.InDelta(t, 0.8, pet, 1e-12)

		// Disconnected activity solves to zero.
		bat, err := ctx.Supply(key("laptop-bat"))
		require.NoError(t, err)
		assert.InDelta(t, 0.0, bat, 1e-12)
	})

	t.Run("inventory score", func(t *testing.T) {
		score, err := ctx.Score("copper")
		require.NoError(t, err)
		assert.InDelta(t, 1.05*0.251, score, 1e-9)
	})

	t.Run("unknown flow fragment", func(t *testing.T) {
		_, err := ctx.Score("unobtainium")
		assert.ErrorIs(t, err, ErrUnknownFlow)
	})

	t.Run("unknown supply key names the key", func(t *testing.T) {
		_, err := ctx.Supply(key("ghost"))
		require.ErrorIs(t, err, ErrUnknownActivity)
		assert.Contains(t, err.Error(), "db:ghost")
	})
}

func TestApplyIncorporation(t *testing.T) {
	t.Run("requires a solved context", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
		require.NoError(t, err)

		_, err = ctx.ApplyIncorporation(nil)
		assert.ErrorIs(t, err, ErrNotSolved)
	})

	t.Run("zero flag zeroes the cell exactly", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		flagToyModel(t, db)

		ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
		require.NoError(t, err)
		require.NoError(t, ctx.Solve())

		before, err := ctx.TechEntry(key("copper"), key("laptop"))
		require.NoError(t, err)

		stats, err := ctx.ApplyIncorporation(nil)
		require.NoError(t, err)
		assert.Equal(t, 1, stats.Scaled)
		assert.Equal(t, 0, stats.MissingFlag)

		cell, err := ctx.TechEntry(key("factory"), key("laptop"))
		require.NoError(t, err)
		assert.Zero(t, cell)

		// Fully incorporated cells are untouched.
		after, err := ctx.TechEntry(key("copper"), key("laptop"))
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})

	t.Run("missing flags warn and leave the matrix unchanged", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		// No filter pass ran: all flags unset.

		ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
		require.NoError(t, err)
		require.NoError(t, ctx.Solve())

		var buf bytes.Buffer
		logger := log.New(&buf, "", 0)
		stats, err := ctx.ApplyIncorporation(logger)
		require.NoError(t, err)
		assert.Equal(t, 0, stats.Scaled)
		assert.Equal(t, 4, stats.MissingFlag)
		assert.Contains(t, buf.String(), "no incorporation flag")

		cell, err := ctx.TechEntry(key("factory"), key("laptop"))
		require.NoError(t, err)
		assert.InDelta(t, -1e-6, cell, 1e-18)
	})
}

func TestTwoPassPipeline(t *testing.T) {
	db := lci.ToyModel()
	defer db.Close()
	flagToyModel(t, db)

	ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
	require.NoError(t, err)

	// First pass: Material Footprint.
	require.NoError(t, ctx.Solve())
	mfCopper, err := ctx.Supply(key("copper"))
	require.NoError(t, err)
	assert.InDelta(t, 0.251, mfCopper, 1e-9)

	factory, err := ctx.Supply(key("factory"))
	require.NoError(t, err)
	assert.Greater(t, factory, 0.0, "factory contributes before filtering")

	// Edit + second pass: Material Composition.
	_, err = ctx.ApplyIncorporation(nil)
	require.NoError(t, err)
	require.NoError(t, ctx.Resolve())

	mcCopper, err := ctx.Supply(key("copper"))
	require.NoError(t, err)
	assert.InDelta(t, 0.25, mcCopper, 1e-12, "factory copper excluded after filtering")

	factory, err = ctx.Supply(key("factory"))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, factory, 1e-15, "factory excluded after filtering")

	// PET is incorporated and unchanged by the filter.
	pet, err := ctx.Supply(key("pet"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, pet, 1e-12)

	// The inventory score drops accordingly.
	score, err := ctx.Score("copper")
	require.NoError(t, err)
	assert.InDelta(t, 1.05*0.25, score, 1e-9)
}

func TestResolveRequiresSolve(t *testing.T) {
	db := lci.ToyModel()
	defer db.Close()

	ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
	require.NoError(t, err)
	assert.ErrorIs(t, ctx.Resolve(), ErrNotSolved)
}

func TestRedoWithDemand(t *testing.T) {
	db := lci.ToyModel()
	defer db.Close()

	ctx, err := NewContext(db, FunctionalUnit{key("laptop"): 1})
	require.NoError(t, err)
	require.NoError(t, ctx.Solve())

	// Component breakdown: just the PET input of one laptop.
	require.NoError(t, ctx.RedoWithDemand(FunctionalUnit{key("pet"): 0.8}))

	pet, err := ctx.Supply(key("pet"))
	require.NoError(t, err)
	assert.InDelta(t, 0.8, pet, 1e-12)

	copper, err := ctx.Supply(key("copper"))
	require.NoError(t, err)
	assert.InDelta(t, 0.0, copper, 1e-12, "PET consumes no copper")

	t.Run("unknown demand key", func(t *testing.T) {
		err := ctx.RedoWithDemand(FunctionalUnit{key("ghost"): 1})
		assert.ErrorIs(t, err, ErrUnknownActivity)
	})
}

func TestNewContextValidation(t *testing.T) {
	db := lci.ToyModel()
	defer db.Close()

	t.Run("empty functional unit", func(t *testing.T) {
		_, err := NewContext(db, nil)
		assert.ErrorIs(t, err, ErrEmptyDemand)
	})

	t.Run("unknown demand activity", func(t *testing.T) {
		_, err := NewContext(db, FunctionalUnit{key("ghost"): 1})
		require.ErrorIs(t, err, ErrUnknownActivity)
		assert.Contains(t, err.Error(), "db:ghost")
	})
}

func TestSolveSingularMatrix(t *testing.T) {
	// An activity consuming one unit of its own output per unit produced
	// cancels its diagonal: the system has no solution and the solver
	// failure must surface.
	db := lci.OpenMemory("db")
	defer db.Close()

	require.NoError(t, db.Engine().CreateActivity(&storage.Activity{
		Key: key("ouroboros"), Name: "self-consuming process", Product: "loop",
	}))
	require.NoError(t, db.Engine().CreateExchange(&storage.Exchange{
		ID: "loop", Input: key("ouroboros"), Output: key("ouroboros"), Amount: 1,
	}))

	ctx, err := NewContext(db, FunctionalUnit{key("ouroboros"): 1})
	require.NoError(t, err)
	assert.Error(t, ctx.Solve())
}
