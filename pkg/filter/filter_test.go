package filter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/storage"
)

func key(code string) storage.ActivityKey {
	return storage.ActivityKey{Database: "db", Code: code}
}

func flags(t *testing.T, db *lci.Database) map[storage.ExchangeID]float64 {
	t.Helper()
	excs, err := db.Exchanges()
	require.NoError(t, err)

	out := make(map[storage.ExchangeID]float64, len(excs))
	for _, exc := range excs {
		inc, set := exc.Incorporation()
		require.True(t, set, "exchange %s should be flagged", exc.ID)
		out[exc.ID] = inc
	}
	return out
}

func TestPolicyMatches(t *testing.T) {
	p := Policy{Avoid: []string{"factory", "gas"}}

	assert.True(t, p.Matches("factory", 1))
	assert.True(t, p.Matches("chemical factory building", 1))
	assert.False(t, p.Matches("copper", 1))

	t.Run("substring match has no word boundaries", func(t *testing.T) {
		// "gas" matching "gasoline" is the documented over-filtering
		// behavior of the published avoid-lists.
		assert.True(t, p.Matches("gasoline", 1))
	})

	t.Run("match is case-sensitive", func(t *testing.T) {
		assert.False(t, p.Matches("Factory", 1))
	})

	t.Run("negative amounts only with DropNegative", func(t *testing.T) {
		assert.False(t, p.Matches("copper", -1))
		neg := Policy{Avoid: p.Avoid, DropNegative: true}
		assert.True(t, neg.Matches("copper", -1))
		assert.False(t, neg.Matches("copper", 1))
	})
}

func TestApply(t *testing.T) {
	ctx := context.Background()

	t.Run("flags the toy model", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		stats, err := Apply(ctx, db, Policy{Avoid: []string{"factory"}}, nil)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.Exchanges)
		assert.Equal(t, 1, stats.Filtered)
		assert.Equal(t, 3, stats.Incorporated)

		got := flags(t, db)
		assert.Equal(t, 0.0, got["laptop<-factory#2"])
		assert.Equal(t, 1.0, got["laptop<-copper#0"])
		assert.Equal(t, 1.0, got["laptop<-pet#1"])
		assert.Equal(t, 1.0, got["factory<-copper#0"])
	})

	t.Run("is idempotent", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		policy := Policy{Avoid: []string{"factory"}}

		_, err := Apply(ctx, db, policy, nil)
		require.NoError(t, err)
		first := flags(t, db)

		_, err = Apply(ctx, db, policy, nil)
		require.NoError(t, err)
		assert.Equal(t, first, flags(t, db))
	})

	t.Run("all flags stay within [0,1]", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		_, err := Apply(ctx, db, Policy{Avoid: []string{"factory", "PET"}}, nil)
		require.NoError(t, err)
		for id, inc := range flags(t, db) {
			assert.GreaterOrEqual(t, inc, 0.0, "exchange %s", id)
			assert.LessOrEqual(t, inc, 1.0, "exchange %s", id)
		}
	})

	t.Run("empty policy rejected", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		_, err := Apply(ctx, db, Policy{}, nil)
		assert.ErrorIs(t, err, ErrNoKeywords)
	})

	t.Run("drop-negative variant", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		// A by-product credit on the laptop.
		require.NoError(t, db.Engine().CreateExchange(&storage.Exchange{
			ID: "laptop<-pet#neg", Input: key("pet"), Output: key("laptop"), Amount: -0.1,
		}))

		_, err := Apply(ctx, db, Policy{Avoid: []string{"factory"}, DropNegative: true}, nil)
		require.NoError(t, err)

		got := flags(t, db)
		assert.Equal(t, 0.0, got["laptop<-pet#neg"], "negative amount treated as avoided")
		assert.Equal(t, 1.0, got["laptop<-pet#1"], "positive PET input untouched")
	})

	t.Run("progress reaches 100", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		var last int
		_, err := Apply(ctx, db, Policy{Avoid: []string{"factory"}}, func(pct int) { last = pct })
		require.NoError(t, err)
		assert.Equal(t, 100, last)
	})

	t.Run("cancellation aborts the pass", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := Apply(cancelled, db, Policy{Avoid: []string{"factory"}}, nil)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	db := lci.ToyModel()
	defer db.Close()

	_, err := Apply(ctx, db, Policy{Avoid: []string{"factory"}}, nil)
	require.NoError(t, err)

	_, err = Reset(ctx, db, nil)
	require.NoError(t, err)

	for id, inc := range flags(t, db) {
		assert.Equal(t, 1.0, inc, "exchange %s after reset", id)
	}
}

func TestAmountSnapshots(t *testing.T) {
	ctx := context.Background()

	t.Run("save, apply, restore round trip", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()

		_, err := Apply(ctx, db, Policy{Avoid: []string{"factory"}}, nil)
		require.NoError(t, err)
		require.NoError(t, SaveAmounts(ctx, db))
		require.NoError(t, ApplyToAmounts(ctx, db))

		exc, err := db.Engine().GetExchange("laptop<-factory#2")
		require.NoError(t, err)
		assert.Zero(t, exc.Amount, "non-incorporated amount rewritten to zero")

		exc, err = db.Engine().GetExchange("laptop<-copper#0")
		require.NoError(t, err)
		assert.Equal(t, 0.25, exc.Amount, "incorporated amount unchanged")

		require.NoError(t, RestoreAmounts(ctx, db))
		exc, err = db.Engine().GetExchange("laptop<-factory#2")
		require.NoError(t, err)
		assert.Equal(t, 1e-6, exc.Amount, "original amount restored")
	})

	t.Run("restore without snapshot is fatal", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		err := RestoreAmounts(ctx, db)
		require.ErrorIs(t, err, ErrMissingSnapshot)
	})

	t.Run("apply without snapshot is fatal", func(t *testing.T) {
		db := lci.ToyModel()
		defer db.Close()
		err := ApplyToAmounts(ctx, db)
		require.ErrorIs(t, err, ErrMissingSnapshot)
	})
}
