package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
	"kvweb/internal/jobs"
)

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Stop tracking a job and ask the service to drop it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				if err := cl.Cancel(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s canceled\n", args[0])
				return nil
			})
		},
	}
}

func newDiscardCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "discard <job-id>",
		Short: "Remove a finished job and its artifacts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				if err := cl.Discard(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %s discarded\n", args[0])
				return nil
			})
		},
	}
}

func newTrackCommand(ctx *commandContext) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "track <job-id>",
		Short: "Adopt a job submitted elsewhere by its service id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				rec, err := cl.Track(cmd.Context(), args[0], name)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s tracked (%s)\n", rec.ID, rec.State)
				if rec.State == jobs.StateCompleted {
					fmt.Fprintf(out, "Results: %s\n", rec.ResultDir)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "Base name for result artifacts")
	return cmd
}
