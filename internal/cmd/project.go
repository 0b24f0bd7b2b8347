package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/reelforge/reelforge/internal/core/projects"
	"github.com/reelforge/reelforge/internal/core/store"
	"github.com/reelforge/reelforge/internal/metrics"
	"github.com/reelforge/reelforge/internal/output"
)

var projectCmd = &cobra.Command{
	Use:   "project",
	Short: "Manage projects that generation results attach to",
}

var projectCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a draft project",
	Args:  cobra.NoArgs,
	RunE:  runProjectCreate,
}

var projectShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a project with its assets",
	Args:  cobra.ExactArgs(1),
	RunE:  runProjectShow,
}

var projectListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent projects",
	Args:  cobra.NoArgs,
	RunE:  runProjectList,
}

func init() {
	rootCmd.AddCommand(projectCmd)
	projectCmd.AddCommand(projectCreateCmd, projectShowCmd, projectListCmd)

	projectCreateCmd.Flags().String("title", "", "Project title (required)")
	projectCreateCmd.Flags().String("prompt", "", "Creative brief stored with the project")
	projectCreateCmd.Flags().StringArray("meta", nil, "Metadata entry key=value (repeatable)")
	_ = projectCreateCmd.MarkFlagRequired("title")
	addOutputFlags(projectCreateCmd)

	addOutputFlags(projectShowCmd)

	projectListCmd.Flags().Int("limit", 20, "Maximum projects to list")
	addOutputFlags(projectListCmd)
}

func withProjects(cmd *cobra.Command, fn func(svc *projects.Service) error) error {
	return withStore(cmd, func(db *store.Store) error {
		return fn(newProjectService(db))
	})
}

func runProjectCreate(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	title, _ := cmd.Flags().GetString("title")
	brief, _ := cmd.Flags().GetString("prompt")
	rawMeta, _ := cmd.Flags().GetStringArray("meta")

	var meta map[string]string
	if len(rawMeta) > 0 {
		meta, err = parsePairs("--meta", rawMeta)
		if err != nil {
			return err
		}
	}

	return withProjects(cmd, func(svc *projects.Service) error {
		started := time.Now()
		project, err := svc.Create(cmd.Context(), projects.CreateInput{Title: title, Prompt: brief, Metadata: meta})
		recordOperation(metrics.OpProjectCreate, started, err)
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, project, func() string { return output.ProjectDetail(project) })
		if err != nil {
			return err
		}
		return writeOutput(cmd, format, "project."+project.ID, rendered)
	})
}

func runProjectShow(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}

	return withProjects(cmd, func(svc *projects.Service) error {
		project, err := svc.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, project, func() string { return output.ProjectDetail(project) })
		if err != nil {
			return err
		}
		return writeOutput(cmd, format, "project."+project.ID, rendered)
	})
}

func runProjectList(cmd *cobra.Command, args []string) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	return withProjects(cmd, func(svc *projects.Service) error {
		list, err := svc.List(cmd.Context(), limit)
		if err != nil {
			return err
		}
		rendered, err := output.Render(format, list, func() string { return output.ProjectsTable(list) })
		if err != nil {
			return err
		}
		return writeOutput(cmd, format, "projects", rendered)
	})
}
