package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
	"kvweb/internal/jobs"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var stateFilter string

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List tracked jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				records := cl.Jobs()
				if stateFilter != "" {
					state, err := jobs.ParseState(stateFilter)
					if err != nil {
						return err
					}
					filtered := records[:0]
					for _, rec := range records {
						if rec.State == state {
							filtered = append(filtered, rec)
						}
					}
					records = filtered
				}

				out := cmd.OutOrStdout()
				if len(records) == 0 {
					fmt.Fprintln(out, "No tracked jobs")
					return nil
				}

				rows := make([][]string, 0, len(records))
				for _, rec := range records {
					rows = append(rows, []string{
						rec.ID,
						rec.BaseName,
						string(rec.State),
						strconv.Itoa(rec.Retries),
						formatTime(rec.LastPolled),
						formatTime(rec.UpdatedAt),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]string{"JOB", "NAME", "STATE", "RETRIES", "LAST POLLED", "UPDATED"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&stateFilter, "state", "", "Only show jobs in this state")
	return cmd
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
