package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/vesselgpt/vessel/internal/agent"
	"github.com/vesselgpt/vessel/internal/document"
)

func newAgentCmd() *cobra.Command {
	var file, settingsPath string
	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Classify the pages of a multi-page PDF and extract from the ones of interest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := agent.LoadSettings(settingsPath)
			if err != nil {
				return err
			}

			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			classifier, err := agent.NewBackendClassifier(a.backend, settings.PageTypes, a.logger)
			if err != nil {
				return err
			}
			doc, err := document.Open(file, a.cfg.MaxFileSize)
			if err != nil {
				return err
			}

			report, err := agent.New(a.splitter, classifier, a.extractor, settings, a.logger).Execute(cmd.Context(), doc)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "Path to the PDF")
	cmd.Flags().StringVar(&settingsPath, "settings", "", "Agent settings file (yaml)")
	_ = cmd.MarkFlagRequired("file")
	_ = cmd.MarkFlagRequired("settings")
	return cmd
}
