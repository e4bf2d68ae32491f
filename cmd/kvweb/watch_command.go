package main

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
	"kvweb/internal/events"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Stream job lifecycle events until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withClient(runCtx, func(cl *client.Client) error {
				out := cmd.OutOrStdout()
				active := make(map[string]bool)
				for _, rec := range cl.Jobs() {
					if rec.State.Active() {
						active[rec.ID] = true
					}
				}
				if len(active) == 0 {
					fmt.Fprintln(out, "No active jobs")
					return nil
				}
				fmt.Fprintf(out, "Watching %d active job(s); press Ctrl-C to stop\n", len(active))

				for {
					select {
					case <-runCtx.Done():
						return nil
					case event, ok := <-cl.Events():
						if !ok {
							return nil
						}
						printEvent(out, event)
						if event.JobID != "" && event.State.Terminal() {
							delete(active, event.JobID)
							if len(active) == 0 {
								return nil
							}
						}
					}
				}
			})
		},
	}
}

func printEvent(out io.Writer, event events.Event) {
	stamp := event.At.Local().Format("15:04:05")
	switch event.Kind {
	case events.KindResultReady:
		fmt.Fprintf(out, "%s  job %s completed, results in %s\n", stamp, event.JobID, event.ResultDir)
	case events.KindServiceStatus:
		if event.Online {
			fmt.Fprintf(out, "%s  service is back online\n", stamp)
		} else {
			fmt.Fprintf(out, "%s  service unreachable: %s\n", stamp, event.Message)
		}
	default:
		if event.Message != "" {
			fmt.Fprintf(out, "%s  job %s is %s: %s\n", stamp, event.JobID, event.State, event.Message)
		} else {
			fmt.Fprintf(out, "%s  job %s is %s\n", stamp, event.JobID, event.State)
		}
	}
}
