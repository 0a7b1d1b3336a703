package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vesselgpt/vessel/internal/document"
	"github.com/vesselgpt/vessel/internal/extraction"
	"github.com/vesselgpt/vessel/internal/schema"
)

func newExtractCmd() *cobra.Command {
	var (
		file         string
		query        string
		tablesOnly   bool
		genericQuery bool
		debug        bool
	)
	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Extract structured data from a PDF or image",
		Example: `  vessel-parse extract --file invoice.pdf --query '{"invoice_number": "str", "total": "float"}'
  vessel-parse extract --file statement.png --tables-only --query '[{"date": "str", "amount": "float"}]'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			doc, err := document.Open(file, a.cfg.MaxFileSize)
			if err != nil {
				return err
			}
			result, err := a.extractor.Extract(cmd.Context(), extraction.Request{
				Document: doc,
				Query:    query,
				Options: extraction.Options{
					TablesOnly:   tablesOnly,
					GenericQuery: genericQuery,
					Debug:        debug,
					DebugDir:     a.cfg.DebugDir,
				},
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(result.Output)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the PDF or image")
	cmd.Flags().StringVarP(&query, "query", "q", schema.QueryAll, `JSON schema description, or "*" for every field`)
	cmd.Flags().BoolVar(&tablesOnly, "tables-only", false, "Extract only from detected tables")
	cmd.Flags().BoolVar(&genericQuery, "generic-query", false, "Ignore the query and ask for every field")
	cmd.Flags().BoolVar(&debug, "debug", false, "Log raw model output and keep intermediate artifacts")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
