// Package config handles run configuration for composition pipelines.
//
// Configuration is organized into logical sections:
//   - Database: data directory and database name
//   - Filter: avoid-list variant or custom keywords, negative-amount policy
//   - Products: product reference weights and the inventory method flow
//   - Output: report path, dictionary files, rounding precision
//
// A run loads defaults, overlays a YAML file if one is given, then
// overlays PROMC_* environment variables, so a batch script can pin the
// experiment in a file and still flip one knob per invocation:
//
//	cfg, err := config.Load("promc.yaml")
//	if err != nil {
//		log.Fatalf("Invalid config: %v", err)
//	}
//	keywords, err := cfg.AvoidKeywords()
//
// Environment Variables:
//   - PROMC_DATA_DIR="./data"
//   - PROMC_DATABASE="cutoff36"
//   - PROMC_FILTER_VARIANT="default" | "paper" | "scrap"
//   - PROMC_FILTER_DROP_NEGATIVE=true
//   - PROMC_METHOD_FLOW="non-renewable resources, copper"
//   - PROMC_OUTPUT_FILE="output.txt"
//   - PROMC_PRECISION=5
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Built-in avoid-list variants. The keyword lists are the published
// ones and are matched as case-sensitive substrings; they were tuned
// with that matching rule, so editing a list is the supported way to
// change filtering behavior.
const (
	// VariantDefault is the full avoid-list of the current method.
	VariantDefault = "default"
	// VariantPaper is the list used in the original journal publication;
	// it predates the "steam" and "converter" keywords.
	VariantPaper = "paper"
	// VariantScrap filters only scrap flows, for sensitivity runs.
	VariantScrap = "scrap"
)

var avoidVariants = map[string][]string{
	VariantDefault: {
		"treatment", "water", "waste", "container", "box", "packaging",
		"foam", "electricity", "factory", "adapter", "oxidation",
		"construction", "heat", "facility", "gas", "freight", "mine",
		"infrastructure", "conveyor", "road", "building", "used",
		"maintenance", "transport", "moulding", "mold", "wastewater",
		"steam", "scrap", "converter",
	},
	VariantPaper: {
		"treatment", "water", "waste", "container", "box", "packaging",
		"foam", "electricity", "factory", "adapter", "oxidation",
		"construction", "heat", "facility", "gas", "freight", "mine",
		"infrastructure", "conveyor", "road", "building", "used",
		"maintenance", "transport", "moulding", "mold", "wastewater",
		"scrap",
	},
	VariantScrap: {"scrap"},
}

// AvoidListVariant returns the keyword list of a built-in variant.
func AvoidListVariant(name string) ([]string, error) {
	list, ok := avoidVariants[name]
	if !ok {
		return nil, fmt.Errorf("unknown avoid-list variant %q (have: default, paper, scrap)", name)
	}
	out := make([]string, len(list))
	copy(out, list)
	return out, nil
}

// Config holds all settings for a composition run.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Filter   FilterConfig   `yaml:"filter"`
	Products ProductsConfig `yaml:"products"`
	Output   OutputConfig   `yaml:"output"`
}

// DatabaseConfig holds storage settings.
type DatabaseConfig struct {
	// DataDir is the directory holding the badger stores.
	DataDir string `yaml:"data_dir"`
	// Name of the LCI database, e.g. "cutoff36".
	Name string `yaml:"name"`
}

// FilterConfig selects the incorporation filter policy.
type FilterConfig struct {
	// Variant names a built-in avoid-list: default, paper or scrap.
	// Ignored when Keywords is set.
	Variant string `yaml:"variant"`
	// Keywords is a custom avoid-list overriding Variant.
	Keywords []string `yaml:"keywords"`
	// DropNegative marks negative-amount exchanges as non-incorporated.
	DropNegative bool `yaml:"drop_negative"`
}

// ProductsConfig holds product parameters for composition runs.
type ProductsConfig struct {
	// Weights maps a product name fragment to its reference weight in
	// kg, e.g. "computer production, laptop": 3.15.
	Weights map[string]float64 `yaml:"weights"`
	// MethodFlow is the elementary flow fragment for inventory scores,
	// e.g. "non-renewable resources, copper".
	MethodFlow string `yaml:"method_flow"`
}

// OutputConfig holds report settings.
type OutputConfig struct {
	// File is the append-mode report path.
	File string `yaml:"file"`
	// Dictionaries maps a group name to a material dictionary JSON
	// file loaded under that group.
	Dictionaries map[string]string `yaml:"dictionaries"`
	// Precision is the number of decimals in report figures.
	Precision int `yaml:"precision"`
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{DataDir: "./data", Name: "db"},
		Filter:   FilterConfig{Variant: VariantDefault},
		Products: ProductsConfig{Weights: map[string]float64{}},
		Output:   OutputConfig{File: "output.txt", Precision: 5},
	}
}

// Load reads the YAML file at path over the defaults, then applies
// environment overrides and validates. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromEnv returns the defaults with environment overrides applied.
func LoadFromEnv() *Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	c.Database.DataDir = getEnv("PROMC_DATA_DIR", c.Database.DataDir)
	c.Database.Name = getEnv("PROMC_DATABASE", c.Database.Name)
	c.Filter.Variant = getEnv("PROMC_FILTER_VARIANT", c.Filter.Variant)
	c.Filter.DropNegative = getEnvBool("PROMC_FILTER_DROP_NEGATIVE", c.Filter.DropNegative)
	c.Products.MethodFlow = getEnv("PROMC_METHOD_FLOW", c.Products.MethodFlow)
	c.Output.File = getEnv("PROMC_OUTPUT_FILE", c.Output.File)
	c.Output.Precision = getEnvInt("PROMC_PRECISION", c.Output.Precision)
}

// Validate checks the configuration for contradictions. Load calls it;
// call it directly after mutating a Config in code.
func (c *Config) Validate() error {
	if c.Database.Name == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Database.DataDir == "" {
		return fmt.Errorf("data directory is required")
	}
	if len(c.Filter.Keywords) == 0 {
		if _, err := AvoidListVariant(c.Filter.Variant); err != nil {
			return err
		}
	}
	if c.Output.Precision < 0 {
		return fmt.Errorf("precision must be non-negative, got %d", c.Output.Precision)
	}
	for name, w := range c.Products.Weights {
		if w <= 0 {
			return fmt.Errorf("product %q has non-positive weight %g", name, w)
		}
	}
	return nil
}

// AvoidKeywords resolves the effective avoid-list: custom keywords if
// set, otherwise the selected built-in variant.
func (c *Config) AvoidKeywords() ([]string, error) {
	if len(c.Filter.Keywords) > 0 {
		return c.Filter.Keywords, nil
	}
	return AvoidListVariant(c.Filter.Variant)
}

// Weight returns the reference weight for a product name. Exact entries
// win; otherwise the first entry whose name is a substring of the
// product matches.
func (c *Config) Weight(product string) (float64, bool) {
	if w, ok := c.Products.Weights[product]; ok {
		return w, true
	}
	for name, w := range c.Products.Weights {
		if name != "" && strings.Contains(product, name) {
			return w, true
		}
	}
	return 0, false
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}
