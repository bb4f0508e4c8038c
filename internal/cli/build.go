package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/espkit/esphub/internal/api"
	"github.com/espkit/esphub/internal/channel"
)

func newBuildCmd() *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "build PROJECT",
		Short: "Trigger a build",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ack, err := rt.client.TriggerBuild(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "build of %s accepted (ref %s)\n", ack.Project, ack.RequestRef)
			if !follow {
				return nil
			}
			return followProgress(cmd.Context(), rt, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the build finishes")
	return cmd
}

func newDeployCmd() *cobra.Command {
	var (
		port   string
		follow bool
	)
	cmd := &cobra.Command{
		Use:   "deploy PROJECT",
		Short: "Build and flash a project to a device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ack, err := rt.client.TriggerDeploy(cmd.Context(), args[0], port)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deploy of %s to %s accepted (ref %s)\n",
				ack.Project, ack.Port, ack.RequestRef)
			if !follow {
				return nil
			}
			return followProgress(cmd.Context(), rt, args[0], cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&port, "port", "p", "", "device serial port")
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "stream progress until the deploy finishes")
	_ = cmd.MarkFlagRequired("port")
	return cmd
}

// followProgress opens the build-progress socket and prints events until
// a terminal one arrives.
func followProgress(ctx context.Context, rt runtime, project string, out io.Writer) error {
	ctx, cancel := context.WithTimeout(ctx, progressDeadline)
	defer cancel()

	sup := rt.newSupervisor()
	defer sup.CloseAll()
	sup.OpenBuildChannel(ctx, project)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sup.Events():
			if !ok {
				return fmt.Errorf("progress channel closed")
			}
			switch ev := ev.(type) {
			case channel.ProgressEvent:
				printProgress(out, ev.Event)
				if ev.Event.Type.Terminal() {
					if !eventSucceeded(ev.Event) {
						return fmt.Errorf("%s failed", project)
					}
					return nil
				}
			case channel.WarningEvent:
				fmt.Fprintf(out, "warning: %v\n", ev.Err)
			case channel.StatusEvent:
				if ev.Source == channel.SourceBuild && ev.State == channel.StateClosed {
					return fmt.Errorf("progress channel closed before completion")
				}
			}
		}
	}
}

func printProgress(out io.Writer, ev api.ProgressEvent) {
	switch ev.Type {
	case api.BuildStart:
		fmt.Fprintf(out, "building %s...\n", ev.Project)
	case api.DeployStart:
		fmt.Fprintf(out, "deploying %s to %s...\n", ev.Project, ev.Port)
	case api.BuildComplete:
		if ev.Success {
			fmt.Fprintf(out, "build succeeded: %d files, %d bytes in %.1fs\n",
				ev.FilesProcessed, ev.TotalSize, ev.BuildSeconds)
			for _, w := range ev.Warnings {
				fmt.Fprintf(out, "  warning: %s\n", w)
			}
		} else {
			fmt.Fprintf(out, "build failed: %s\n", ev.Detail)
		}
	case api.DeployComplete:
		if ev.Success {
			fmt.Fprintf(out, "deployed to %s\n", ev.Port)
		} else {
			fmt.Fprintf(out, "deploy failed: %s\n", ev.Detail)
		}
	case api.BuildError, api.DeployError:
		fmt.Fprintf(out, "error: %s\n", ev.Detail)
	}
}

func eventSucceeded(ev api.ProgressEvent) bool {
	return (ev.Type == api.BuildComplete || ev.Type == api.DeployComplete) && ev.Success
}
