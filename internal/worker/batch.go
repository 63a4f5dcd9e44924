package worker

import (
	"context"
	"fmt"
	"sort"

	"github.com/ppiankov/signalqueue/internal/model"
)

// ProcessFunc runs the pipeline for one signal and reports where it ended up
type ProcessFunc func(ctx context.Context, signalID string) (model.ProcessingStatus, error)

// SignalJob processes a single signal
type SignalJob struct {
	SignalID string
	Process  ProcessFunc
}

// Execute executes the signal job. A panic in the pipeline is converted to
// an error so that one bad signal cannot take down the batch.
func (j *SignalJob) Execute(ctx context.Context) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = &SignalResult{SignalID: j.SignalID, Error: fmt.Errorf("panic processing signal %s: %v", j.SignalID, r)}
		}
	}()

	status, err := j.Process(ctx, j.SignalID)
	return &SignalResult{
		SignalID: j.SignalID,
		Status:   status,
		Error:    err,
	}
}

// SignalResult represents the result of a signal job
type SignalResult struct {
	SignalID string
	Status   model.ProcessingStatus
	Error    error
}

// GetError returns the error from the signal result
func (r *SignalResult) GetError() error {
	return r.Error
}

// BatchProcessor processes multiple signals concurrently
type BatchProcessor struct {
	process     ProcessFunc
	concurrency int
}

// NewBatchProcessor creates a new batch processor
func NewBatchProcessor(process ProcessFunc, concurrency int) *BatchProcessor {
	return &BatchProcessor{
		process:     process,
		concurrency: concurrency,
	}
}

// ProcessSignals runs each signal as an independent job and returns one
// result per signal that was started, in input order
func (b *BatchProcessor) ProcessSignals(ctx context.Context, ids []string) []*SignalResult {
	if len(ids) == 0 {
		return []*SignalResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for _, id := range ids {
		if !pool.Submit(&SignalJob{SignalID: id, Process: b.process}) {
			break
		}
	}

	results := pool.Wait()

	order := make(map[string]int, len(ids))
	for i, id := range ids {
		order[id] = i
	}

	signalResults := make([]*SignalResult, len(results))
	for i, result := range results {
		signalResults[i] = result.(*SignalResult)
	}
	sort.SliceStable(signalResults, func(i, j int) bool {
		return order[signalResults[i].SignalID] < order[signalResults[j].SignalID]
	})

	return signalResults
}
