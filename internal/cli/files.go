package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

func newFilesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Read and write project files",
	}

	get := &cobra.Command{
		Use:   "get PROJECT PATH",
		Short: "Print a project file to stdout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			content, err := rt.client.LoadFile(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			_, err = io.WriteString(cmd.OutOrStdout(), content)
			return err
		},
	}

	var from string
	put := &cobra.Command{
		Use:   "put PROJECT PATH",
		Short: "Write a project file from a local file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			var content []byte
			if from != "" {
				content, err = os.ReadFile(from)
			} else {
				content, err = io.ReadAll(cmd.InOrStdin())
			}
			if err != nil {
				return err
			}
			if err := rt.client.SaveFile(cmd.Context(), args[0], args[1], string(content)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%d bytes)\n", args[1], len(content))
			return nil
		},
	}
	put.Flags().StringVar(&from, "from", "", "local file to upload (default: stdin)")

	cmd.AddCommand(get, put)
	return cmd
}
