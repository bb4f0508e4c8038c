package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/espkit/esphub/internal/channel"
)

// watch is the plain-text counterpart of the dashboard: it prints a line
// per snapshot and per warning, useful for piping and for debugging the
// live stream itself.
func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Print live hub updates as plain text",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			sup := rt.newSupervisor()
			defer sup.CloseAll()
			sup.StartLiveUpdates(ctx)

			out := cmd.OutOrStdout()
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sup.Events():
					if !ok {
						return nil
					}
					switch ev := ev.(type) {
					case channel.SnapshotEvent:
						connected := 0
						for _, d := range ev.Snapshot.Devices {
							if d.State == "connected" {
								connected++
							}
						}
						fmt.Fprintf(out, "snapshot: %d projects, %d devices (%d connected)\n",
							len(ev.Snapshot.Projects), len(ev.Snapshot.Devices), connected)
					case channel.WarningEvent:
						fmt.Fprintf(out, "warning [%s]: %v\n", ev.Source, ev.Err)
					case channel.StatusEvent:
						if ev.Source == channel.SourceLive {
							fmt.Fprintf(out, "live: %s\n", ev.State)
							if ev.State == channel.StateClosed {
								return nil
							}
						}
					}
				}
			}
		},
	}
}
