package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
	"kvweb/internal/jobs"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var checkServer bool

	cmd := &cobra.Command{
		Use:   "status [job-id]",
		Short: "Show the status of a job or the service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				out := cmd.OutOrStdout()
				colorize := shouldColorize(out)

				if checkServer || len(args) == 0 {
					if err := cl.Ping(cmd.Context()); err != nil {
						fmt.Fprintln(out, renderStatusLine("Service", statusError, "offline", colorize))
						if len(args) == 0 {
							return nil
						}
					} else {
						fmt.Fprintln(out, renderStatusLine("Service", statusOK, "online", colorize))
					}
					if len(args) == 0 {
						return nil
					}
				}

				rec, err := cl.Job(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(out, renderStatusLine("Job", statusInfo, rec.ID, colorize))
				fmt.Fprintln(out, renderStatusLine("Name", statusInfo, rec.BaseName, colorize))
				fmt.Fprintln(out, renderStatusLine("State", stateKind(rec.State), string(rec.State), colorize))
				fmt.Fprintln(out, renderStatusLine("Retries", statusInfo, fmt.Sprintf("%d", rec.Retries), colorize))
				fmt.Fprintln(out, renderStatusLine("Last polled", statusInfo, formatTime(rec.LastPolled), colorize))
				if rec.LastError != "" {
					fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, rec.LastError, colorize))
				}
				if rec.ResultDir != "" {
					fmt.Fprintln(out, renderStatusLine("Results", statusOK, rec.ResultDir, colorize))
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&checkServer, "server", false, "Also probe the service for liveness")
	return cmd
}

func stateKind(state jobs.State) statusKind {
	switch state {
	case jobs.StateCompleted:
		return statusOK
	case jobs.StateFailed:
		return statusError
	case jobs.StateCanceled:
		return statusWarn
	default:
		return statusInfo
	}
}
