package main

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect [NAME]",
		Short: "List stores or show the manifest of one",
		Long: `Without NAME, list every built store with its current generation.
With NAME, print the manifest of that store as JSON.

Examples:
  kbctl inspect
  kbctl inspect main_knowledge_base`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(opts)
			if err != nil {
				return err
			}
			store := core.Pipeline.Store()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				manifest, err := store.Describe(args[0])
				if err != nil {
					return err
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(manifest)
			}

			names, err := store.Stores()
			if err != nil {
				return err
			}
			if len(names) == 0 {
				fmt.Fprintln(out, "no stores")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "STORE\tCHUNKS\tMODEL\tCREATED")
			for _, name := range names {
				m, err := store.Describe(name)
				if err != nil {
					fmt.Fprintf(tw, "%s\t-\t-\t%v\n", name, err)
					continue
				}
				fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", name, m.Count, m.Model, m.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}
