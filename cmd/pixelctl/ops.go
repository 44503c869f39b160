package main

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/dunamismax/pixelfilter/internal/filter"
	"github.com/spf13/cobra"
)

var opsCmd = &cobra.Command{
	Use:   "ops",
	Short: "List registered operations and their parameters",
	Args:  cobra.NoArgs,
	RunE:  runOps,
}

func init() {
	opsCmd.Flags().Bool("json", false, "Print as JSON")
	rootCmd.AddCommand(opsCmd)
}

type opView struct {
	ID     filter.ID      `json:"id"`
	Params map[string]any `json:"params"`
}

func runOps(cmd *cobra.Command, _ []string) error {
	asJSON, _ := cmd.Flags().GetBool("json")

	ops := filter.Operations()
	views := make([]opView, 0, len(ops))
	for _, op := range ops {
		views = append(views, opView{ID: op.ID, Params: filter.Params(op.Transform)})
	}

	out := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}
	for _, v := range views {
		fmt.Fprintf(out, "%-10s %s\n", v.ID, formatParams(v.Params))
	}
	return nil
}

func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, " ")
}
