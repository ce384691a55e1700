package report

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cml-lca/promc/pkg/materials"
)

func sampleComposition() *materials.Composition {
	return &materials.Composition{
		Weight: 2.0,
		Groups: []materials.GroupTotal{
			{
				Name:    "metals",
				Amount:  0.251,
				Percent: 12.55,
				Materials: []materials.MaterialTotal{
					{Name: "copper", Amount: 0.251, Percent: 12.55},
				},
			},
			{
				Name:    "plastics",
				Amount:  0.8,
				Percent: 40,
				Materials: []materials.MaterialTotal{
					{Name: "PET", Amount: 0.8, Percent: 40},
					{Name: "polypropylene, granulate", Amount: 0, Percent: 0},
				},
			},
		},
	}
}

func TestComposition(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 5)
	require.NoError(t, w.Composition(sampleComposition()))
	out := buf.String()

	assert.Contains(t, out, "metals:")
	assert.Contains(t, out, "copper")
	assert.Contains(t, out, "0.251 kg OR 12.55 %")
	assert.Contains(t, out, "\tTOTAL: 0.8 kg OR 40 %")

	t.Run("material names are column-aligned per group", func(t *testing.T) {
		var pet, pp string
		for _, line := range strings.Split(out, "\n") {
			if strings.Contains(line, "PET") {
				pet = line
			}
			if strings.Contains(line, "polypropylene") {
				pp = line
			}
		}
		require.NotEmpty(t, pet)
		require.NotEmpty(t, pp)
		assert.Equal(t, strings.Index(pet, " kg"), strings.Index(pp, " kg"),
			"amount columns line up:\n%s\n%s", pet, pp)
	})
}

func TestRounding(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 5)

	assert.Equal(t, "0.25105", w.format(0.251051234))
	assert.Equal(t, "40", w.format(40.0000001))
	assert.Equal(t, "0.25", w.format(0.25))

	t.Run("configurable precision", func(t *testing.T) {
		coarse := NewWriter(&buf, 2)
		assert.Equal(t, "0.25", coarse.format(0.251051234))
	})

	t.Run("negative precision falls back to default", func(t *testing.T) {
		def := NewWriter(&buf, -1)
		assert.Equal(t, 5, def.precision)
	})
}

func TestScoreAndSections(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf, 5)

	require.NoError(t, w.Section("BEFORE filtering"))
	require.NoError(t, w.Score("non-renewable resources, copper", 0.26355, 1, "computer production, laptop"))

	out := buf.String()
	assert.Contains(t, out, "BEFORE filtering")
	assert.Contains(t, out, "0.26355 kg of non-renewable resources, copper in 1 computer production, laptop")
}

func TestOpenAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "output.txt")

	w, err := Open(path, 5)
	require.NoError(t, err)
	require.NoError(t, w.Line("first run"))
	require.NoError(t, w.Close())

	w, err = Open(path, 5)
	require.NoError(t, err)
	require.NoError(t, w.Line("second run"))
	require.NoError(t, w.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "first run\nsecond run\n", string(data))
}
