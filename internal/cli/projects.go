package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/espkit/esphub/internal/hubclient"
)

func newProjectsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List and manage projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectsList(cmd)
		},
	}

	var (
		template    string
		description string
		author      string
		tags        []string
	)
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a project on the hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if template == "" {
				template = rt.cfg.DefaultTemplate
			}
			project, err := rt.client.CreateProject(cmd.Context(), hubclient.CreateProjectRequest{
				Name:        args[0],
				Template:    template,
				Description: description,
				Author:      author,
				Tags:        tags,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created %s (template %s)\n", project.Name, project.Template)
			return nil
		},
	}
	create.Flags().StringVar(&template, "template", "", "project template (basic, iot)")
	create.Flags().StringVar(&description, "description", "", "project description")
	create.Flags().StringVar(&author, "author", "", "project author")
	create.Flags().StringSliceVar(&tags, "tag", nil, "project tag (repeatable)")

	del := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a project from the hub",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime()
			if err != nil {
				return err
			}
			if err := rt.client.DeleteProject(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProjectsList(cmd)
		},
	}

	cmd.AddCommand(list, create, del)
	return cmd
}

func runProjectsList(cmd *cobra.Command) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	projects, err := rt.client.ListProjects(cmd.Context())
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tTEMPLATE\tFILES\tSIZE\tLAST SUCCESS\tERRORS\tTAGS")
	for _, p := range projects {
		last := "never"
		if p.LastSuccess != nil {
			last = p.LastSuccess.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\t%d\t%s\n",
			p.Name, p.Template, p.Stats.Files, p.Stats.SizeBytes, last, len(p.BuildErrors),
			strings.Join(p.Tags, ","))
	}
	return w.Flush()
}
