package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"kvweb/internal/client"
	"kvweb/internal/events"
	"kvweb/internal/jobs"
	"kvweb/internal/params"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	defaults := params.Defaults()

	var (
		ligandPath      string
		name            string
		resolution      string
		probeIn         float64
		probeOut        float64
		volumeCutoff    float64
		removalDistance float64
		ligandCutoff    float64
		stepSize        float64
		boxSpec         string
		wait            bool
	)

	cmd := &cobra.Command{
		Use:   "submit <structure.pdb>",
		Short: "Submit a structure for cavity detection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			structure, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read structure: %w", err)
			}

			var ligand []byte
			if ligandPath != "" {
				ligand, err = os.ReadFile(ligandPath)
				if err != nil {
					return fmt.Errorf("read ligand: %w", err)
				}
			}

			baseName := strings.TrimSpace(name)
			if baseName == "" {
				baseName = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
			}

			parameters := defaults
			parameters.ResolutionMode = resolution
			parameters.ProbeIn = probeIn
			parameters.ProbeOut = probeOut
			parameters.VolumeCutoff = volumeCutoff
			parameters.RemovalDistance = removalDistance
			parameters.LigandCutoff = ligandCutoff
			parameters.StepSize = stepSize

			if boxSpec != "" {
				visible, err := parseBox(boxSpec)
				if err != nil {
					return err
				}
				internal := params.ExpandedBox(*visible, parameters.ProbeOut)
				parameters.VisibleBox = visible
				parameters.InternalBox = &internal
			}

			in := params.Input{
				Structure:  string(structure),
				Ligand:     string(ligand),
				Parameters: parameters,
			}

			return ctx.withClient(cmd.Context(), func(cl *client.Client) error {
				rec, err := cl.Submit(cmd.Context(), in, baseName)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %s submitted (%s)\n", rec.ID, rec.State)

				if !wait || rec.State.Terminal() {
					if rec.State == jobs.StateCompleted {
						fmt.Fprintf(out, "Results: %s\n", rec.ResultDir)
					}
					return nil
				}
				return waitForTerminal(cmd, cl, rec.ID)
			})
		},
	}

	cmd.Flags().StringVarP(&ligandPath, "ligand", "l", "", "Ligand PDB file for ligand-adjustment mode")
	cmd.Flags().StringVarP(&name, "name", "n", "", "Base name for result artifacts (defaults to the file name)")
	cmd.Flags().StringVar(&resolution, "resolution", defaults.ResolutionMode, "Resolution mode: Low, Medium, or High")
	cmd.Flags().Float64Var(&probeIn, "probe-in", defaults.ProbeIn, "Probe In radius in angstroms")
	cmd.Flags().Float64Var(&probeOut, "probe-out", defaults.ProbeOut, "Probe Out radius in angstroms")
	cmd.Flags().Float64Var(&volumeCutoff, "volume-cutoff", defaults.VolumeCutoff, "Minimum cavity volume in cubic angstroms")
	cmd.Flags().Float64Var(&removalDistance, "removal-distance", defaults.RemovalDistance, "Boundary removal distance in angstroms")
	cmd.Flags().Float64Var(&ligandCutoff, "ligand-cutoff", defaults.LigandCutoff, "Ligand proximity cutoff in angstroms")
	cmd.Flags().Float64Var(&stepSize, "step-size", defaults.StepSize, "Grid step size in angstroms (0 lets the service choose)")
	cmd.Flags().StringVar(&boxSpec, "box", "", "Restrict detection to a box: xmin,ymin,zmin,xmax,ymax,zmax")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Block until the job reaches a final state")

	return cmd
}

// parseBox builds an axis-aligned visible box from min/max coordinates.
func parseBox(spec string) (*params.Box, error) {
	parts := strings.Split(spec, ",")
	if len(parts) != 6 {
		return nil, fmt.Errorf("box %q: expected xmin,ymin,zmin,xmax,ymax,zmax", spec)
	}
	coords := make([]float64, 6)
	for i, part := range parts {
		value, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return nil, fmt.Errorf("box coordinate %q: %w", part, err)
		}
		coords[i] = value
	}
	xmin, ymin, zmin, xmax, ymax, zmax := coords[0], coords[1], coords[2], coords[3], coords[4], coords[5]
	if xmax <= xmin || ymax <= ymin || zmax <= zmin {
		return nil, fmt.Errorf("box %q: maximum coordinates must exceed minimums", spec)
	}
	return &params.Box{
		P1: params.Vertex{X: xmin, Y: ymin, Z: zmin},
		P2: params.Vertex{X: xmax, Y: ymin, Z: zmin},
		P3: params.Vertex{X: xmin, Y: ymax, Z: zmin},
		P4: params.Vertex{X: xmin, Y: ymin, Z: zmax},
	}, nil
}

func waitForTerminal(cmd *cobra.Command, cl *client.Client, jobID string) error {
	out := cmd.OutOrStdout()
	for {
		select {
		case <-cmd.Context().Done():
			return cmd.Context().Err()
		case event, ok := <-cl.Events():
			if !ok {
				return fmt.Errorf("job %s: event stream ended before completion", jobID)
			}
			if event.JobID != jobID {
				continue
			}
			switch {
			case event.Kind == events.KindResultReady:
				fmt.Fprintf(out, "Job %s completed\nResults: %s\n", jobID, event.ResultDir)
				return nil
			case event.Kind == events.KindStateChanged && event.State == jobs.StateFailed:
				return fmt.Errorf("job %s failed: %s", jobID, event.Message)
			case event.Kind == events.KindStateChanged && event.State == jobs.StateCanceled:
				fmt.Fprintf(out, "Job %s canceled\n", jobID)
				return nil
			case event.Kind == events.KindStateChanged:
				fmt.Fprintf(out, "Job %s is %s\n", jobID, event.State)
			}
		}
	}
}
