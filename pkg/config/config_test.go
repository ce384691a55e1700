package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAvoidListVariants(t *testing.T) {
	def, err := AvoidListVariant(VariantDefault)
	require.NoError(t, err)
	assert.Len(t, def, 30)
	assert.Contains(t, def, "steam")
	assert.Contains(t, def, "converter")

	paper, err := AvoidListVariant(VariantPaper)
	require.NoError(t, err)
	assert.Len(t, paper, 28)
	assert.NotContains(t, paper, "steam")
	assert.NotContains(t, paper, "converter")

	scrap, err := AvoidListVariant(VariantScrap)
	require.NoError(t, err)
	assert.Equal(t, []string{"scrap"}, scrap)

	t.Run("unknown variant", func(t *testing.T) {
		_, err := AvoidListVariant("bogus")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bogus")
	})

	t.Run("returned list is a copy", func(t *testing.T) {
		a, err := AvoidListVariant(VariantScrap)
		require.NoError(t, err)
		a[0] = "mutated"
		b, err := AvoidListVariant(VariantScrap)
		require.NoError(t, err)
		assert.Equal(t, "scrap", b[0])
	})
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "promc.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  data_dir: /var/lib/promc
  name: cutoff36
filter:
  variant: paper
  drop_negative: true
products:
  method_flow: "non-renewable resources, copper"
  weights:
    "computer production, laptop": 3.15
    "refrigerator production": 60
output:
  file: results.txt
  precision: 3
  dictionaries:
    plastics: dict/plastics_cutoff36.json
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "cutoff36", cfg.Database.Name)
	assert.Equal(t, "/var/lib/promc", cfg.Database.DataDir)
	assert.Equal(t, VariantPaper, cfg.Filter.Variant)
	assert.True(t, cfg.Filter.DropNegative)
	assert.Equal(t, 3, cfg.Output.Precision)
	assert.Equal(t, "dict/plastics_cutoff36.json", cfg.Output.Dictionaries["plastics"])

	kw, err := cfg.AvoidKeywords()
	require.NoError(t, err)
	assert.Len(t, kw, 28)

	t.Run("weight lookup", func(t *testing.T) {
		w, ok := cfg.Weight("computer production, laptop")
		require.True(t, ok)
		assert.Equal(t, 3.15, w)

		// Substring fallback: a regional variant still resolves.
		w, ok = cfg.Weight("refrigerator production, for cooling")
		require.True(t, ok)
		assert.Equal(t, 60.0, w)

		_, ok = cfg.Weight("ferry production")
		assert.False(t, ok)
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PROMC_DATABASE", "apos36")
	t.Setenv("PROMC_FILTER_VARIANT", "scrap")
	t.Setenv("PROMC_FILTER_DROP_NEGATIVE", "true")
	t.Setenv("PROMC_PRECISION", "2")

	cfg := LoadFromEnv()
	assert.Equal(t, "apos36", cfg.Database.Name)
	assert.Equal(t, VariantScrap, cfg.Filter.Variant)
	assert.True(t, cfg.Filter.DropNegative)
	assert.Equal(t, 2, cfg.Output.Precision)

	// Untouched fields keep their defaults.
	assert.Equal(t, "./data", cfg.Database.DataDir)
	assert.Equal(t, "output.txt", cfg.Output.File)
}

func TestValidate(t *testing.T) {
	t.Run("defaults validate", func(t *testing.T) {
		assert.NoError(t, Default().Validate())
	})

	t.Run("custom keywords skip variant check", func(t *testing.T) {
		cfg := Default()
		cfg.Filter.Variant = "bogus"
		cfg.Filter.Keywords = []string{"factory"}
		assert.NoError(t, cfg.Validate())
	})

	t.Run("unknown variant rejected", func(t *testing.T) {
		cfg := Default()
		cfg.Filter.Variant = "bogus"
		assert.Error(t, cfg.Validate())
	})

	t.Run("missing database name", func(t *testing.T) {
		cfg := Default()
		cfg.Database.Name = ""
		assert.Error(t, cfg.Validate())
	})

	t.Run("non-positive weight", func(t *testing.T) {
		cfg := Default()
		cfg.Products.Weights["laptop"] = -1
		assert.Error(t, cfg.Validate())
	})

	t.Run("negative precision", func(t *testing.T) {
		cfg := Default()
		cfg.Output.Precision = -1
		assert.Error(t, cfg.Validate())
	})
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
