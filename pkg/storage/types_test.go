package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseActivityKey(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		k := ActivityKey{Database: "cutoff36", Code: "b4f2456cf9cbe7dfeb67c91780bd3e38"}
		parsed, err := ParseActivityKey(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, parsed)
	})

	t.Run("code may contain colons", func(t *testing.T) {
		parsed, err := ParseActivityKey("db:a:b:c")
		require.NoError(t, err)
		assert.Equal(t, "db", parsed.Database)
		assert.Equal(t, "a:b:c", parsed.Code)
	})

	t.Run("rejects malformed keys", func(t *testing.T) {
		for _, s := range []string{"", "nocolon", ":code", "db:"} {
			_, err := ParseActivityKey(s)
			assert.ErrorIs(t, err, ErrInvalidKey, "input %q", s)
		}
	})
}

func TestExchangeIncorporation(t *testing.T) {
	t.Run("unset reads as fully incorporated", func(t *testing.T) {
		exc := &Exchange{ID: "e", Amount: 1}
		inc, set := exc.Incorporation()
		assert.Equal(t, 1.0, inc)
		assert.False(t, set)
	})

	t.Run("set and read back", func(t *testing.T) {
		exc := &Exchange{ID: "e", Amount: 1}
		require.NoError(t, exc.SetIncorporation(0.0))
		inc, set := exc.Incorporation()
		assert.Equal(t, 0.0, inc)
		assert.True(t, set)
	})

	t.Run("fraction outside [0,1] rejected", func(t *testing.T) {
		exc := &Exchange{ID: "e", Amount: 1}
		assert.ErrorIs(t, exc.SetIncorporation(-0.1), ErrInvalidData)
		assert.ErrorIs(t, exc.SetIncorporation(1.1), ErrInvalidData)
	})
}

func TestSerializationRoundTrip(t *testing.T) {
	inc := 0.0
	save := 2.5
	exc := &Exchange{
		ID:           "e1",
		Input:        ActivityKey{Database: "db", Code: "cu"},
		Output:       ActivityKey{Database: "db", Code: "laptop"},
		Amount:       0.25,
		Incorporated: &inc,
		AmountSave:   &save,
	}

	data, err := encodeExchange(exc)
	require.NoError(t, err)
	got, err := decodeExchange(data)
	require.NoError(t, err)
	assert.Equal(t, exc, got)

	t.Run("nil flags stay nil", func(t *testing.T) {
		bare := &Exchange{ID: "e2", Input: exc.Input, Output: exc.Output, Amount: 1}
		data, err := encodeExchange(bare)
		require.NoError(t, err)
		got, err := decodeExchange(data)
		require.NoError(t, err)
		assert.Nil(t, got.Incorporated)
		assert.Nil(t, got.AmountSave)
	})
}
