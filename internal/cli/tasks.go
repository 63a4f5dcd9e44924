package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

var (
	taskStatus  string
	taskEntity  string
	taskLimit   int
	taskQuality float64
)

// tasksCmd groups research task commands
var tasksCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Inspect the research queue",
}

var tasksListCmd = &cobra.Command{
	Use:   "list",
	Short: "List research tasks by priority",
	Args:  cobra.NoArgs,
	RunE:  runTasksList,
}

var tasksSetCmd = &cobra.Command{
	Use:   "set-status <id> <status>",
	Short: "Advance a research task (researching, validating, publishing, failed)",
	Long: `Set-status moves a task through the research executor's stages.
Use 'signalqueue tasks complete' to finish a task, so its entity records the research.`,
	Args: cobra.ExactArgs(2),
	RunE: runTasksSet,
}

var tasksCompleteCmd = &cobra.Command{
	Use:   "complete <id>",
	Short: "Complete a research task and record it on its entity",
	Long: `Complete marks the task completed, appends it to the entity's research
history, takes --quality as the entity's quality score and restarts its decay.

Example:
  signalqueue tasks complete 6f1c... --quality 0.85`,
	Args: cobra.ExactArgs(1),
	RunE: runTasksComplete,
}

func init() {
	rootCmd.AddCommand(tasksCmd)
	tasksCmd.AddCommand(tasksListCmd)
	tasksCmd.AddCommand(tasksSetCmd)
	tasksCmd.AddCommand(tasksCompleteCmd)

	tasksListCmd.Flags().StringVar(&taskStatus, "status", "", "filter by status")
	tasksListCmd.Flags().StringVar(&taskEntity, "entity", "", "filter by entity id")
	tasksListCmd.Flags().IntVar(&taskLimit, "limit", 50, "max tasks to list")

	tasksCompleteCmd.Flags().Float64Var(&taskQuality, "quality", 0, "research quality score (0.0 to 1.0)")
	_ = tasksCompleteCmd.MarkFlagRequired("quality")
}

func runTasksList(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	tasks, err := a.store.ListTasks(cmd.Context(), store.TaskQuery{
		Status:   model.TaskStatus(taskStatus),
		EntityID: taskEntity,
		Limit:    taskLimit,
	})
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PRIORITY\tSTATUS\tENTITY\tPERSONA\tTRIGGER\tID")
	for _, t := range tasks {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
			t.Priority, t.Status, t.EntityID, t.PrimaryPersona, t.TriggeredBy, t.ID)
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

func runTasksSet(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	if err := a.orch.AdvanceTask(cmd.Context(), args[0], model.TaskStatus(args[1])); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s -> %s\n", args[0], args[1])
	return nil
}

func runTasksComplete(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	state, err := a.orch.CompleteTask(cmd.Context(), args[0], taskQuality)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "✓ %s completed (%s: quality %.2f, completeness %d/100)\n",
		args[0], state.EntityID, state.Quality.OverallScore, state.Completeness.Score)
	return nil
}
