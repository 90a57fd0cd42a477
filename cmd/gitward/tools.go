package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/AdaptivMCP/gitward/internal/tools"
)

var toolsSchemas bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool catalog",
	Long: `Prints every tool the server exposes with its capability and
description. With --schemas the full catalog, argument schemas
included, is dumped as JSON.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsSchemas, "schemas", false, "dump the catalog as JSON with argument schemas")
	rootCmd.AddCommand(toolsCmd)
}

func runTools(_ *cobra.Command, _ []string) error {
	registry := tools.NewRegistry()
	if err := tools.RegisterAll(registry, tools.Deps{}); err != nil {
		return err
	}
	list := registry.List(toolsSchemas)

	if toolsSchemas {
		out, err := json.MarshalIndent(list, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TOOL\tCAPABILITY\tDESCRIPTION")
	for _, t := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\n", t.Name, t.Capability, t.Description)
	}
	return w.Flush()
}
