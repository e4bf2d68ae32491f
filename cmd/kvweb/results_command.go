package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
)

func newResultsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "results <job-id>",
		Short: "Show the cavities detected by a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				result, err := cl.Result(args[0])
				if err != nil {
					return err
				}

				rows := make([][]string, 0, len(result.Cavities))
				for _, cavity := range result.Cavities {
					rows = append(rows, []string{
						cavity.ID,
						formatFloat(cavity.Volume),
						formatFloat(cavity.Area),
						formatFloat(cavity.AverageDepth),
						formatFloat(cavity.MaxDepth),
						formatFloat(cavity.AverageHydropathy),
						strconv.Itoa(len(cavity.Residues)),
					})
				}

				out := cmd.OutOrStdout()
				fmt.Fprintln(out, renderTable(
					[]string{"CAVITY", "VOLUME (Å³)", "AREA (Å²)", "AVG DEPTH (Å)", "MAX DEPTH (Å)", "AVG HYDROPATHY", "RESIDUES"},
					rows,
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				fmt.Fprintf(out, "Cavities PDB:  %s\n", result.Artifacts.CavitiesPDB)
				fmt.Fprintf(out, "Report:        %s\n", result.Artifacts.Report)
				fmt.Fprintf(out, "Job log:       %s\n", result.Artifacts.Log)
				if result.Artifacts.Settings != "" {
					fmt.Fprintf(out, "Parameters:    %s\n", result.Artifacts.Settings)
				}
				return nil
			})
		},
	}
	return cmd
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', 2, 64)
}
