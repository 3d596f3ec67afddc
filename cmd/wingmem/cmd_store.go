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
	storeType   string
	storeTags   []string
	storeWeight float64
	storeBatch  string
)

// storeCmd stores a single atom from flags, or a batch from a JSON file.
var storeCmd = &cobra.Command{
	Use:   "store [wing-path]",
	Short: "Store a fact atom (or a batch from JSON)",
	Long: `Stores a fact atom keyed by its content. Storing the same
wing path, type, and tags again returns the original atom's id.

The wing path argument uses / separators:

  wingmem store project/auth/jwt --type code_pattern --tag jwt --tag auth

A batch file holds a JSON array of {"wing_path", "type", "tags",
"weight"} objects and writes atomically:

  wingmem store --batch facts.json`,
	RunE: runStore,
}

func init() {
	storeCmd.Flags().StringVarP(&storeType, "type", "t", "", "atom type (required unless --batch)")
	storeCmd.Flags().StringArrayVar(&storeTags, "tag", nil, "tag value (repeatable)")
	storeCmd.Flags().Float64Var(&storeWeight, "weight", 1.0, "base weight")
	storeCmd.Flags().StringVar(&storeBatch, "batch", "", "JSON file holding an array of atoms")
}

func runStore(cmd *cobra.Command, args []string) error {
	store, err := memory.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer store.Close()

	if storeBatch != "" {
		return runBatchStore(store, storeBatch)
	}

	if len(args) < 1 {
		return fmt.Errorf("wing path argument required (or use --batch)")
	}
	if storeType == "" {
		return fmt.Errorf("--type is required")
	}

	id, err := store.StoreAtom(memory.AtomInput{
		WingPath: strings.Split(args[0], "/"),
		Type:     storeType,
		Tags:     storeTags,
		Weight:   storeWeight,
	})
	if err != nil {
		return err
	}

	fmt.Println(id)
	return nil
}

func runBatchStore(store *memory.Store, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read batch file: %w", err)
	}

	var items []memory.AtomInput
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("failed to parse batch file: %w", err)
	}

	ids, err := store.BatchStoreAtoms(items)
	if err != nil {
		return err
	}

	distinct := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		fmt.Println(id)
		distinct[id] = struct{}{}
	}
	fmt.Fprintf(os.Stderr, "stored %d atoms (%d distinct)\n", len(ids), len(distinct))
	return nil
}
