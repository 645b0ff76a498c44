package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"nexora-chat/internal/rag"
)

func newAskCmd(opts *options) *cobra.Command {
	var (
		store        string
		k            int
		showPassages bool
	)
	cmd := &cobra.Command{
		Use:   "ask QUESTION",
		Short: "Answer a question from a store",
		Long: `Retrieve the passages closest to QUESTION and ask the chat model to answer
from them only.

Examples:
  kbctl ask "What is the refund policy?"
  kbctl ask --store policies --k 8 --passages "Who approves travel?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(opts)
			if err != nil {
				return err
			}
			if store == "" {
				store = core.Config.RAG.DefaultStore
			}

			result, err := core.Pipeline.Ask(cmd.Context(), rag.AskRequest{
				Store:    store,
				Question: strings.Join(args, " "),
				TopK:     k,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, result.Answer.Text)
			if showPassages {
				for i, p := range result.Passages {
					fmt.Fprintf(out, "\n[%d] score=%.4f\n%s\n", i+1, p.Score, p.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "store name (default: rag.default_store)")
	cmd.Flags().IntVar(&k, "k", 0, "passages to retrieve (default: rag.top_k)")
	cmd.Flags().BoolVar(&showPassages, "passages", false, "print the retrieved passages")
	return cmd
}
