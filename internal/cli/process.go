package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	processLimit   int
	processTimeout time.Duration
	decayLimit     int
)

// processCmd represents the process command
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one batch of pending signals",
	Long: `Process claims up to --limit pending or retry signals, extracts their
entities and admits research tasks. Failed signals are left in retry.`,
	Args: cobra.NoArgs,
	RunE: runProcess,
}

// decayCmd represents the decay command
var decayCmd = &cobra.Command{
	Use:   "decay",
	Short: "Recompute entity decay and enqueue re-research tasks",
	Long: `Decay refreshes the decay score of every known entity, then admits
re-research tasks for up to --limit critical and stale entities.`,
	Args: cobra.NoArgs,
	RunE: runDecay,
}

func init() {
	rootCmd.AddCommand(processCmd)
	rootCmd.AddCommand(decayCmd)

	processCmd.Flags().IntVar(&processLimit, "limit", 0, "max signals to process (default: scheduler.signal_limit)")
	processCmd.Flags().DurationVar(&processTimeout, "timeout", 5*time.Minute, "overall batch timeout")

	decayCmd.Flags().IntVar(&decayLimit, "limit", 0, "max re-research tasks to enqueue (default: scheduler.decay_limit)")
	decayCmd.Flags().DurationVar(&processTimeout, "timeout", 5*time.Minute, "overall pass timeout")
}

func runProcess(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	limit := processLimit
	if limit <= 0 {
		limit = a.cfg.Scheduler.SignalLimit
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), processTimeout)
	defer cancel()

	processed, err := a.orch.ProcessPendingSignals(ctx, limit)
	if err != nil {
		return fmt.Errorf("process signals: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "✓ Processed %d signal(s)\n", processed)
	return nil
}

func runDecay(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	limit := decayLimit
	if limit <= 0 {
		limit = a.cfg.Scheduler.DecayLimit
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), processTimeout)
	defer cancel()

	recomputed, enqueued, err := a.orch.DecayTick(ctx, limit)
	if err != nil {
		return fmt.Errorf("decay pass: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "✓ Recomputed decay for %d entities\n", recomputed)
	fmt.Fprintf(out, "✓ Enqueued %d re-research task(s)\n", enqueued)
	return nil
}
