package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"wingmem/internal/memory"
)

var (
	queryLayers []string
	queryLimit  int
	queryJSON   bool
)

// queryCmd runs a cross-layer retrieval from the command line.
var queryCmd = &cobra.Command{
	Use:   "query [text]",
	Short: "Search atoms across the memory layers",
	Long: `Matches the query text against tags, atom types, and wing paths,
then joins the requested layers onto each hit.

Layers: base (the atoms), context (confidence overlays), validation
(memberships in chains scoring above the trust threshold). All three
join by default.

  wingmem query elixir
  wingmem query auth --layer base --layer context --limit 5`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringArrayVar(&queryLayers, "layer", nil, "layer to include (repeatable; default all)")
	queryCmd.Flags().IntVar(&queryLimit, "limit", 0, "maximum results (default from config)")
	queryCmd.Flags().BoolVar(&queryJSON, "json", false, "emit results as JSON")
}

func runQuery(cmd *cobra.Command, args []string) error {
	store, err := memory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	limit := queryLimit
	if limit <= 0 {
		limit = cfg.Query.DefaultLimit
	}

	results, err := store.Query(strings.Join(args, " "), memory.QueryOptions{
		Layers: queryLayers,
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	if queryJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("no results")
		return nil
	}

	for _, r := range results {
		fmt.Printf("%s  %s  %s\n", r.Atom.ID[:8], r.Atom.Type, strings.Join(r.Atom.WingPath, "/"))
		if len(r.Atom.Tags) > 0 {
			fmt.Printf("  tags: %s\n", strings.Join(r.Atom.Tags, ", "))
		}
		for _, c := range r.Contexts {
			fmt.Printf("  context %s: weight=%.2f confidence=%.2f\n", c.ContextType, c.AdjustedWeight, c.Confidence)
		}
		for _, m := range r.Memberships {
			fmt.Printf("  chain %q (%s): score=%.2f role=%s\n", m.ChainName, m.ChainType, m.ValidationScore, m.Role)
		}
	}
	return nil
}
