package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"helpdeskagent/internal/app"
	"helpdeskagent/internal/knowledge"
)

func newIngestCmd(opts *rootOptions) *cobra.Command {
	var corpus string
	var validateOnly bool
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Validate and embed the resolved-ticket corpus",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			kcfg := cfg.Knowledge
			if corpus != "" {
				kcfg.CorpusPath = corpus
			}
			if kcfg.CorpusPath == "" {
				return errors.New("no corpus: pass --corpus or set knowledge.corpus_path")
			}
			if validateOnly {
				entries, err := knowledge.LoadCorpus(cmd.Context(), kcfg.CorpusPath)
				if err != nil {
					return err
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid rows\n", kcfg.CorpusPath, len(entries))
				return err
			}
			retriever, err := app.BuildKnowledge(cmd.Context(), kcfg, nil)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: embedded %d rows\n", kcfg.CorpusPath, retriever.Len())
			return err
		},
	}
	cmd.Flags().StringVar(&corpus, "corpus", "", "CSV with ticket_id,category,priority_level,description,resolution")
	cmd.Flags().BoolVar(&validateOnly, "validate-only", false, "Parse the corpus without calling the embedding API")
	return cmd
}
