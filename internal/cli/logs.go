package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/espkit/esphub/internal/channel"
	"github.com/espkit/esphub/internal/logstore"
)

func newLogsCmd() *cobra.Command {
	var (
		follow bool
		lines  int
	)
	cmd := &cobra.Command{
		Use:   "logs PORT",
		Short: "Show archived serial output, or tail it live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			port := args[0]

			logs, err := logstore.Open(ctx, rt.cfg.LogDBPath)
			if err != nil {
				return err
			}
			defer logs.Close() //nolint:errcheck

			archived, err := logs.RecentLogs(ctx, port, lines)
			if err != nil {
				return err
			}
			for _, entry := range archived {
				fmt.Fprintf(cmd.OutOrStdout(), "[%s] %s\n",
					entry.LoggedAt.Local().Format("15:04:05"), entry.Line)
			}
			if !follow {
				return nil
			}

			sup := rt.newSupervisor()
			defer sup.CloseAll()
			if !sup.ToggleLogChannel(ctx, port) {
				return fmt.Errorf("open log channel for %s", port)
			}
			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sup.Events():
					if !ok {
						return nil
					}
					switch ev := ev.(type) {
					case channel.LogLineEvent:
						fmt.Fprintln(cmd.OutOrStdout(), ev.Line)
						if err := logs.AppendLogLine(ctx, logstore.LogLine{Port: port, Line: ev.Line}); err != nil {
							rt.log.Warn("archive log line", "error", err)
						}
					case channel.WarningEvent:
						fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", ev.Err)
					case channel.StatusEvent:
						if ev.State == channel.StateClosed {
							return nil
						}
					}
				}
			}
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep tailing live output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 50, "archived lines to print")
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "history [PROJECT]",
		Short: "Show archived build and deploy outcomes",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			project := ""
			if len(args) == 1 {
				project = args[0]
			}
			logs, err := logstore.Open(cmd.Context(), rt.cfg.LogDBPath)
			if err != nil {
				return err
			}
			defer logs.Close() //nolint:errcheck

			records, err := logs.BuildHistory(cmd.Context(), project, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tPROJECT\tACTION\tRESULT\tDETAIL")
			for _, rec := range records {
				result := "ok"
				if !rec.Success {
					result = "failed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					rec.FinishedAt.Local().Format("2006-01-02 15:04"),
					rec.Project, rec.Action, result, rec.Detail)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "records to print")
	return cmd
}
