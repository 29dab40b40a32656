package cmd

import (
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/crakt/gymmap/pkg/errors"
)

var exportPath string

// exportCmd dumps the catalog to JSON.
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the catalog as JSON",
	RunE:  runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&exportPath, "out", "o", "gyms.json", "output file path")
}

func runExport(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	db, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	records, err := db.LoadAll(ctx)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportPath, data, 0o644); err != nil {
		return errors.WrapIO("write", exportPath, err)
	}

	fmt.Printf("Exported %d gyms to %s\n", len(records), exportPath)
	return nil
}
