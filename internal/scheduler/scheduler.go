// Package scheduler drives signal processing and decay recomputation on
// independent fixed intervals.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/model"
)

// Processor is the part of the orchestrator the scheduler drives
type Processor interface {
	ProcessPendingSignals(ctx context.Context, limit int) (int, error)
	DecayTick(ctx context.Context, limit int) (recomputed, enqueued int, err error)
}

// Scheduler runs two ticker loops. Each job skips a tick while its previous
// run is still in progress.
type Scheduler struct {
	proc   Processor
	cfg    model.SchedulerConfig
	logger *zap.Logger

	signalsBusy atomic.Bool
	decayBusy   atomic.Bool

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a scheduler; zero intervals fall back to the defaults
func New(proc Processor, cfg model.SchedulerConfig, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := model.DefaultConfig().Scheduler
	if cfg.SignalInterval <= 0 {
		cfg.SignalInterval = defaults.SignalInterval
	}
	if cfg.DecayInterval <= 0 {
		cfg.DecayInterval = defaults.DecayInterval
	}
	return &Scheduler{proc: proc, cfg: cfg, logger: logger.Named("scheduler")}
}

// Start launches both loops. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(2)
	go s.loop(ctx, "signals", s.cfg.SignalInterval, s.RunSignals)
	go s.loop(ctx, "decay", s.cfg.DecayInterval, s.RunDecay)

	s.logger.Info("scheduler started",
		zap.Duration("signal_interval", s.cfg.SignalInterval),
		zap.Duration("decay_interval", s.cfg.DecayInterval))
}

// Stop cancels both loops and waits for any running job to return
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) bool) {
	defer s.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				if !job(ctx) {
					s.logger.Debug("previous run still in progress, tick skipped", zap.String("job", name))
				}
			}()
		}
	}
}

// RunSignals processes one batch of pending signals. It returns false if a
// previous batch was still running and this call did nothing.
func (s *Scheduler) RunSignals(ctx context.Context) bool {
	if !s.signalsBusy.CompareAndSwap(false, true) {
		return false
	}
	defer s.signalsBusy.Store(false)

	n, err := s.proc.ProcessPendingSignals(ctx, s.cfg.SignalLimit)
	if err != nil {
		s.logger.Error("signal batch failed", zap.Int("processed", n), zap.Error(err))
		return true
	}
	s.logger.Debug("signal batch done", zap.Int("processed", n))
	return true
}

// RunDecay recomputes decay and enqueues re-research candidates. It returns
// false if a previous run was still in progress.
func (s *Scheduler) RunDecay(ctx context.Context) bool {
	if !s.decayBusy.CompareAndSwap(false, true) {
		return false
	}
	defer s.decayBusy.Store(false)

	recomputed, enqueued, err := s.proc.DecayTick(ctx, s.cfg.DecayLimit)
	if err != nil {
		s.logger.Error("decay pass failed",
			zap.Int("recomputed", recomputed),
			zap.Int("enqueued", enqueued),
			zap.Error(err))
		return true
	}
	s.logger.Debug("decay pass done", zap.Int("recomputed", recomputed), zap.Int("enqueued", enqueued))
	return true
}
