package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/scheduler"
)

// runCmd represents the run command
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the signal and decay schedulers until interrupted",
	Long: `Run processes pending signals and recomputes entity decay on fixed
intervals (scheduler.signal_interval and scheduler.decay_interval).

It stops cleanly on SIGINT or SIGTERM after in-flight batches return.`,
	Args: cobra.NoArgs,
	RunE: runScheduler,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runScheduler(cmd *cobra.Command, args []string) (err error) {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := scheduler.New(a.orch, a.cfg.Scheduler, a.logger)
	s.Start(ctx)

	fmt.Fprintf(os.Stderr, "signalqueue running (signals every %v, decay every %v), press Ctrl+C to stop\n",
		a.cfg.Scheduler.SignalInterval, a.cfg.Scheduler.DecayInterval)

	<-ctx.Done()
	a.logger.Info("shutdown requested", zap.Error(context.Cause(ctx)))
	s.Stop()
	return nil
}
