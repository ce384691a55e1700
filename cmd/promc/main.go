// Package main provides the promc CLI entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cml-lca/promc/pkg/config"
	"github.com/cml-lca/promc/pkg/filter"
	"github.com/cml-lca/promc/pkg/lca"
	"github.com/cml-lca/promc/pkg/lci"
	"github.com/cml-lca/promc/pkg/materials"
	"github.com/cml-lca/promc/pkg/report"
	"github.com/cml-lca/promc/pkg/storage"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "promc",
		Short: "promc - Product Material Composition from LCI databases",
		Long: `promc estimates the material composition of products from life
cycle inventory databases.

Pipeline:
  • import an LCI database export into a local store
  • filter: flag every exchange as incorporated or not (avoid-list)
  • compose: solve the inventory twice (before/after excluding
    non-incorporated flows) and aggregate materials per product`,
	}
	rootCmd.PersistentFlags().String("config", "", "YAML config file (PROMC_* env vars override)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("promc v%s (%s)\n", version, commit)
		},
	})

	// Import command
	importCmd := &cobra.Command{
		Use:   "import [export.json]",
		Short: "Import an LCI database export into the local store",
		Args:  cobra.ExactArgs(1),
		RunE:  runImport,
	}
	rootCmd.AddCommand(importCmd)

	// Filter command
	filterCmd := &cobra.Command{
		Use:   "filter",
		Short: "Flag every exchange as incorporated (1.0) or not (0.0)",
		Long: `Scans every technosphere exchange in the database and persists an
incorporation flag based on the supplying product's name: 0.0 when it
matches an avoid keyword, 1.0 otherwise. A full ecoinvent pass takes
tens of minutes; flags persist, so this runs once per avoid-list.`,
		RunE: runFilter,
	}
	filterCmd.Flags().String("variant", "", "built-in avoid-list: default, paper or scrap")
	filterCmd.Flags().StringSlice("keywords", nil, "custom avoid keywords (overrides variant)")
	filterCmd.Flags().Bool("drop-negative", false, "also flag negative-amount exchanges as non-incorporated")
	rootCmd.AddCommand(filterCmd)

	// Reset command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Reset all incorporation flags to 1.0",
		RunE:  runReset,
	})

	// Compose command
	composeCmd := &cobra.Command{
		Use:   "compose [product-fragment]",
		Short: "Estimate a product's material composition",
		Long: `Resolves the product by name fragment, solves the inventory for the
Material Footprint, excludes the non-incorporated flows from the
technology matrix, re-solves for the Material Composition and appends
both aggregations to the report file.`,
		Args: cobra.ExactArgs(1),
		RunE: runCompose,
	}
	composeCmd.Flags().Float64("weight", 0, "product reference weight in kg (overrides config)")
	composeCmd.Flags().Float64("fu", 1, "functional unit (number of products)")
	composeCmd.Flags().StringToString("dict", nil, "material dictionary files as group=path")
	composeCmd.Flags().String("method", "", "elementary flow fragment for inventory scores (overrides config)")
	composeCmd.Flags().Bool("components", false, "break the score down per direct input of the product")
	rootCmd.AddCommand(composeCmd)

	// Export command
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Dump activity names and codes as '|'-separated CSV",
		RunE:  runExport,
	}
	exportCmd.Flags().String("out", "", "output file (default <database>.csv)")
	rootCmd.AddCommand(exportCmd)

	// Snapshot command (amount-based filtering alternative)
	snapshotCmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Exchange amount snapshots",
		Long: `Alternative to matrix editing: save the original exchange amounts,
rewrite them as amount × incorporation, and restore the originals
afterwards.`,
	}
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "save",
		Short: "Save all current exchange amounts",
		RunE:  runSnapshot(filter.SaveAmounts, "💾 Saved amounts for %d exchanges\n"),
	})
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "restore",
		Short: "Restore all saved exchange amounts",
		RunE:  runSnapshot(filter.RestoreAmounts, "♻️  Restored amounts for %d exchanges\n"),
	})
	snapshotCmd.AddCommand(&cobra.Command{
		Use:   "apply",
		Short: "Rewrite amounts as saved amount × incorporation",
		RunE:  runSnapshot(filter.ApplyToAmounts, "✂️  Rewrote amounts for %d exchanges\n"),
	})
	rootCmd.AddCommand(snapshotCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves the effective configuration for a command.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("PROMC_CONFIG")
	}
	return config.Load(path)
}

func openDatabase(cfg *config.Config) (*lci.Database, error) {
	return lci.Open(cfg.Database.DataDir, cfg.Database.Name)
}

// signalContext cancels on Ctrl-C so a long filter pass stops between
// exchanges instead of mid-write.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// progressLine repaints a single terminal line with the given label.
func progressLine(label string) filter.Progress {
	return func(percent int) {
		fmt.Printf("\r%s: %d%%", label, percent)
		if percent >= 100 {
			fmt.Println()
		}
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	fmt.Printf("📥 Importing %s into %s\n", args[0], cfg.Database.Name)

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	result, err := db.ImportJSON(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("   ✅ Loaded %d activities, %d exchanges\n",
		result.ActivitiesLoaded, result.ExchangesLoaded)
	return nil
}

func runFilter(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if variant, _ := cmd.Flags().GetString("variant"); variant != "" {
		cfg.Filter.Variant = variant
	}
	if keywords, _ := cmd.Flags().GetStringSlice("keywords"); len(keywords) > 0 {
		cfg.Filter.Keywords = keywords
	}
	if dropNeg, _ := cmd.Flags().GetBool("drop-negative"); dropNeg {
		cfg.Filter.DropNegative = true
	}

	keywords, err := cfg.AvoidKeywords()
	if err != nil {
		return err
	}
	policy := filter.Policy{Avoid: keywords, DropNegative: cfg.Filter.DropNegative}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	fmt.Printf("🔍 Filtering %s (%d keywords, drop-negative=%v)\n",
		cfg.Database.Name, len(keywords), policy.DropNegative)

	ctx, stop := signalContext()
	defer stop()

	stats, err := filter.Apply(ctx, db, policy,
		progressLine("Applying incorporation flags to the exchanges"))
	if err != nil {
		return err
	}
	fmt.Printf("   ✅ %d exchanges flagged: %d incorporated, %d filtered out\n",
		stats.Exchanges, stats.Incorporated, stats.Filtered)
	return nil
}

func runReset(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signalContext()
	defer stop()

	stats, err := filter.Reset(ctx, db,
		progressLine("Resetting incorporation flags"))
	if err != nil {
		return err
	}
	fmt.Printf("   ✅ %d exchanges reset to fully incorporated\n", stats.Exchanges)
	return nil
}

func runCompose(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	act, err := db.ActivityByName(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("🎯 Product: %s [%s]\n", act.Name, act.Key)

	fu, _ := cmd.Flags().GetFloat64("fu")
	weight, _ := cmd.Flags().GetFloat64("weight")
	if weight == 0 {
		w, ok := cfg.Weight(act.Name)
		if !ok {
			return fmt.Errorf("no reference weight for %q: set --weight or add it to products.weights", act.Name)
		}
		weight = w
	}

	method, _ := cmd.Flags().GetString("method")
	if method == "" {
		method = cfg.Products.MethodFlow
	}

	dict, err := loadDictionaries(cmd, cfg, db)
	if err != nil {
		return err
	}

	out, err := report.Open(cfg.Output.File, cfg.Output.Precision)
	if err != nil {
		return err
	}
	defer out.Close()
	if err := out.Line("\n%s [%s] from %s", act.Name, act.Key, cfg.Database.Name); err != nil {
		return err
	}

	lcaCtx, err := lca.NewContext(db, lca.FunctionalUnit{act.Key: fu})
	if err != nil {
		return err
	}

	// First pass: Material Footprint on the unedited matrix.
	fmt.Println("🧮 Solving inventory (Material Footprint)...")
	if err := lcaCtx.Solve(); err != nil {
		return err
	}
	if err := writePass(out, lcaCtx, dict, "BEFORE filtering (Material Footprint)",
		method, act.Name, fu, weight, cfg.Output.Precision); err != nil {
		return err
	}

	// Exclude non-incorporated flows and re-solve.
	fmt.Println("✂️  Excluding non-incorporated flows from the technosphere...")
	edit, err := lcaCtx.ApplyIncorporation(nil)
	if err != nil {
		return err
	}
	if edit.MissingFlag > 0 {
		fmt.Printf("   ⚠️  %d exchanges had no incorporation flag (run 'promc filter' first)\n",
			edit.MissingFlag)
	}
	fmt.Println("🧮 Re-solving inventory (Material Composition)...")
	if err := lcaCtx.Resolve(); err != nil {
		return err
	}
	if err := writePass(out, lcaCtx, dict, "AFTER filtering (Material Composition)",
		method, act.Name, fu, weight, cfg.Output.Precision); err != nil {
		return err
	}

	if components, _ := cmd.Flags().GetBool("components"); components {
		if err := writeComponents(lcaCtx, db, act.Key, fu, method); err != nil {
			return err
		}
	}

	fmt.Printf("✅ Report appended to %s\n", cfg.Output.File)
	return nil
}

// loadDictionaries merges the config dictionaries and any --dict flags,
// in deterministic group-name order, and validates all keys.
func loadDictionaries(cmd *cobra.Command, cfg *config.Config, db *lci.Database) (*materials.Dictionary, error) {
	paths := make(map[string]string, len(cfg.Output.Dictionaries))
	for group, path := range cfg.Output.Dictionaries {
		paths[group] = path
	}
	if flagDicts, _ := cmd.Flags().GetStringToString("dict"); len(flagDicts) > 0 {
		for group, path := range flagDicts {
			paths[group] = path
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no material dictionaries: set --dict group=path or output.dictionaries")
	}

	groups := make([]string, 0, len(paths))
	for group := range paths {
		groups = append(groups, group)
	}
	sort.Strings(groups)

	dict := &materials.Dictionary{}
	for _, group := range groups {
		loaded, err := materials.LoadGroupJSON(paths[group], group, cfg.Database.Name)
		if err != nil {
			return nil, err
		}
		dict.Merge(loaded)
	}
	if err := dict.Validate(db); err != nil {
		return nil, err
	}
	return dict, nil
}

// writePass appends one BEFORE/AFTER section: the inventory score for
// the method flow (if configured) and the aggregated composition.
func writePass(out *report.Writer, lcaCtx *lca.Context, dict *materials.Dictionary,
	title, method, product string, fu, weight float64, precision int) error {

	if err := out.Section(title); err != nil {
		return err
	}
	if method != "" {
		flow, err := lcaCtx.ResolveFlow(method)
		if err != nil {
			return err
		}
		score, err := lcaCtx.Score(method)
		if err != nil {
			return err
		}
		if err := out.Score(flow, score, fu, product); err != nil {
			return err
		}
	}
	comp, err := materials.Aggregate(lcaCtx, dict, weight, precision)
	if err != nil {
		return err
	}
	return out.Composition(comp)
}

// writeComponents prints a per-component score breakdown: for each
// direct technosphere input of the product, re-solve with that input's
// share of the demand and report the embodied mass of the method flow.
// Reuses the factorized matrices, so each component is a cheap redo.
func writeComponents(lcaCtx *lca.Context, db *lci.Database, product storage.ActivityKey, fu float64, method string) error {
	if method == "" {
		return fmt.Errorf("--components needs a method flow: set --method or products.method_flow")
	}

	inputs, err := db.Technosphere(product)
	if err != nil {
		return err
	}

	fmt.Println("🧩 Divided between components:")
	for _, exc := range inputs {
		component, err := db.ActivityByKey(exc.Input)
		if err != nil {
			return err
		}
		if err := lcaCtx.RedoWithDemand(lca.FunctionalUnit{exc.Input: fu * exc.Amount}); err != nil {
			return err
		}
		score, err := lcaCtx.Score(method)
		if err != nil {
			return err
		}
		fmt.Printf("   %s: %g kg\n", component.Name, score)
	}
	return nil
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	out, _ := cmd.Flags().GetString("out")
	if out == "" {
		out = cfg.Database.Name + ".csv"
	}

	db, err := openDatabase(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("creating %s: %w", out, err)
	}
	defer f.Close()

	if err := db.ExportCSV(f); err != nil {
		return err
	}
	fmt.Printf("✅ %s saved into %s\n", cfg.Database.Name, out)
	return nil
}

func runSnapshot(op func(context.Context, *lci.Database) error, doneFormat string) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		db, err := openDatabase(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		ctx, stop := signalContext()
		defer stop()

		if err := op(ctx, db); err != nil {
			return err
		}
		_, exchanges, err := db.Stats()
		if err != nil {
			return err
		}
		fmt.Printf(doneFormat, exchanges)
		return nil
	}
}
