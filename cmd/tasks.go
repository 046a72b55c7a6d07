package cmd

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/conneroisu/assetforge/internal/asset"
	"github.com/conneroisu/assetforge/internal/graph"
	"github.com/conneroisu/assetforge/internal/tasks"
)

var (
	tasksFormat string
	tasksGraph  bool
)

var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "List the registered tasks",
	Long: `List every task with its predecessors and input globs, in the order a
full build would run them.

With --graph a default build is run first and the resulting dependency
edges, each output artifact and the sources it was derived from, are
printed instead.

Examples:
  assetforge tasks
  assetforge tasks --production --format yaml
  assetforge tasks --graph --format json`,
	RunE: runTasks,
}

func init() {
	rootCmd.AddCommand(tasksCmd)

	addBuildFlags(tasksCmd)
	formatFlag(tasksCmd, &tasksFormat, "table", "json", "yaml")
	tasksCmd.Flags().BoolVar(&tasksGraph, "graph", false, "build, then print artifact to source edges")
}

// TaskInfo describes one registered task.
type TaskInfo struct {
	Name         string   `json:"name" yaml:"name"`
	Description  string   `json:"description,omitempty" yaml:"description,omitempty"`
	Default      bool     `json:"default" yaml:"default"`
	Predecessors []string `json:"predecessors" yaml:"predecessors"`
	Inputs       []string `json:"inputs,omitempty" yaml:"inputs,omitempty"`
}

func runTasks(cmd *cobra.Command, _ []string) error {
	switch tasksFormat {
	case "table", "json", "yaml":
	default:
		return fmt.Errorf("unsupported format: %s (supported: table, json, yaml)", tasksFormat)
	}

	ctx, stop := signalContext(cmd.Context())
	defer stop()

	e, err := newEngine()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()

	if tasksGraph {
		if _, err := e.build(ctx, nil); err != nil {
			return err
		}
		return printEdges(out, tasksFormat, e.deps.Snapshot())
	}

	infos, err := taskInfos(e)
	if err != nil {
		return err
	}

	switch tasksFormat {
	case "json":
		return writeJSON(out, infos)
	case "yaml":
		return writeYAML(out, infos)
	default:
		return printTaskTable(out, infos)
	}
}

func taskInfos(e *engine) ([]TaskInfo, error) {
	order, err := e.reg.TopologicalOrder(e.reg.Names())
	if err != nil {
		return nil, err
	}

	defaults := make(map[string]bool)
	for _, name := range tasks.Default(e.opts) {
		defaults[name] = true
	}

	infos := make([]TaskInfo, 0, len(order))
	for _, name := range order {
		t, _ := e.reg.Task(name)
		preds := append([]string{}, t.Predecessors...)
		infos = append(infos, TaskInfo{
			Name:         t.Name,
			Description:  t.Description,
			Default:      defaults[name],
			Predecessors: preds,
			Inputs:       t.Inputs,
		})
	}

	return infos, nil
}

func printTaskTable(w io.Writer, infos []TaskInfo) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tDEFAULT\tPREDECESSORS\tINPUTS\tDESCRIPTION")
	for _, info := range infos {
		def := "no"
		if info.Default {
			def = "yes"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			info.Name, def, orDash(strings.Join(info.Predecessors, ", ")),
			orDash(strings.Join(info.Inputs, " ")), info.Description)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	_, err := fmt.Fprintf(w, "\nTotal: %d tasks\n", len(infos))
	return err
}

func printEdges(w io.Writer, format string, edges []graph.Edge) error {
	switch format {
	case "json":
		return writeJSON(w, edges)
	case "yaml":
		return writeYAML(w, edges)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ARTIFACT\tKIND\tTASK\tHASH\tSOURCES")
	for _, edge := range edges {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			edge.Artifact, titleCase.String(asset.KindOf(edge.Artifact).String()),
			edge.Task, edge.Hash, strings.Join(edge.Sources, ", "))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
