package main

import (
	"fmt"
	"os/user"

	"github.com/spf13/cobra"

	"nexora-chat/internal/pkg/textextract"
	"nexora-chat/internal/rag"
)

func newIngestCmd(opts *options) *cobra.Command {
	var store string
	cmd := &cobra.Command{
		Use:   "ingest FILE",
		Short: "Rebuild a store from one document",
		Long: `Extract the text of FILE, chunk and embed it, and replace the store with
the result. Readers keep using the previous generation until the new one is
complete.

Examples:
  kbctl ingest handbook.pdf
  kbctl ingest --store policies policies.docx`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			core, err := loadCore(opts)
			if err != nil {
				return err
			}
			if store == "" {
				store = core.Config.RAG.DefaultStore
			}

			text, err := textextract.ExtractFile(args[0])
			if err != nil {
				return err
			}

			result, err := core.Pipeline.Ingest(cmd.Context(), rag.IngestRequest{
				Store:       store,
				Text:        text,
				TriggeredBy: operator(),
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "store %q rebuilt: generation %s, %d chunks, model %s\n",
				result.Store, result.Generation, result.ChunkCount, result.Model)
			return nil
		},
	}
	cmd.Flags().StringVar(&store, "store", "", "store name (default: rag.default_store)")
	return cmd
}

func operator() string {
	u, err := user.Current()
	if err != nil {
		return "kbctl"
	}
	return "kbctl:" + u.Username
}
