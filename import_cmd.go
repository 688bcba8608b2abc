package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tonimelisma/acctsync/internal/store"
)

func newImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <dataset.json>",
		Short: "Load local entities from a JSON dataset",
		Long: `Upsert vendors, customers, projects, bills, invoices, payments and account
mappings from a JSON dataset into the local tables the sync engine reads.
The whole file is applied in one transaction.`,
		Args: cobra.ExactArgs(1),
		RunE: runImport,
	}
}

func runImport(cmd *cobra.Command, args []string) error {
	cc := mustCLIContext(cmd.Context())
	ctx := cmd.Context()

	ds, err := readDataset(args[0])
	if err != nil {
		return err
	}

	svc, err := openStore(ctx, cc.Cfg, cc.Logger)
	if err != nil {
		return err
	}
	defer svc.Close()

	if err := svc.store.Import(ctx, ds); err != nil {
		return err
	}

	cc.Statusf("Imported %d vendors, %d customers, %d projects, %d bills, %d invoices, %d payments, %d account mappings\n",
		len(ds.Vendors), len(ds.Customers), len(ds.Projects), len(ds.Bills),
		len(ds.Invoices), len(ds.Payments), len(ds.AccountMappings))

	return nil
}

// readDataset decodes a dataset file, rejecting unknown fields so a typo in
// a field name does not silently import an empty value.
func readDataset(path string) (*store.Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening dataset: %w", err)
	}
	defer f.Close()

	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()

	var ds store.Dataset
	if err := dec.Decode(&ds); err != nil {
		return nil, fmt.Errorf("decoding dataset %s: %w", path, err)
	}

	return &ds, nil
}
