package main

import (
	"encoding/json"
	"fmt"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
)

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newTable() *uitable.Table {
	t := uitable.New()
	t.MaxColWidth = 60
	t.Wrap = true
	return t
}

func printTable(cmd *cobra.Command, t *uitable.Table) {
	fmt.Fprintln(cmd.OutOrStdout(), t)
}

func formatMM(v float64) string {
	return fmt.Sprintf("%.4f", v)
}
