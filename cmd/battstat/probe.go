package main

import (
	"encoding/json"

	"codeberg.org/mutker/battstat/internal/errors"
	"codeberg.org/mutker/battstat/internal/probe"
	"github.com/spf13/cobra"
)

func NewProbeCommand() *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Show every telemetry source and how the estimate was reached",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			report := probe.Collect(cmd.Context(), newReader(cfg), estimatorOptions(cfg))

			if jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(report); err != nil {
					return errors.New().Wrap(errors.ErrInternal, err)
				}
				return nil
			}

			report.WriteText(cmd.OutOrStdout())
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the report as JSON")

	return cmd
}
