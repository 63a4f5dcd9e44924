package pipeline

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

// CompleteTask marks a research task completed and records the research on
// its entity: one history entry, the new quality score and a fresh decay
// clock. quality must be within [0, 1].
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID string, quality float64) (model.EntityState, error) {
	if quality < 0 || quality > 1 {
		return model.EntityState{}, fmt.Errorf("quality score %v out of range [0, 1]", quality)
	}

	task, err := o.tasks.GetTask(ctx, taskID)
	if err != nil {
		return model.EntityState{}, fmt.Errorf("load task: %w", err)
	}
	if task.Status == model.TaskCompleted || task.Status == model.TaskFailed {
		return model.EntityState{}, fmt.Errorf("task %s is already %s: %w", taskID, task.Status, store.ErrInvalidTransition)
	}

	if err := o.tasks.UpdateTaskStatus(ctx, taskID, model.TaskCompleted); err != nil {
		return model.EntityState{}, fmt.Errorf("complete task: %w", err)
	}

	state, err := o.lifecycle.RecordResearch(ctx, task.EntityID, model.ResearchRecord{
		TaskID:       task.ID,
		QualityScore: quality,
		Personas:     task.Personas,
	})
	if err != nil {
		return model.EntityState{}, err
	}

	o.logger.Info("research task completed",
		zap.String("task_id", task.ID),
		zap.String("entity_id", task.EntityID),
		zap.String("triggered_by", string(task.TriggeredBy)),
		zap.Float64("quality", quality))
	return state, nil
}

// AdvanceTask moves a task to an intermediate status or to failed.
// Completion goes through CompleteTask so the entity's history is kept.
func (o *Orchestrator) AdvanceTask(ctx context.Context, taskID string, status model.TaskStatus) error {
	if status == model.TaskCompleted {
		return fmt.Errorf("task %s: completion needs a quality score: %w", taskID, store.ErrInvalidTransition)
	}
	if err := o.tasks.UpdateTaskStatus(ctx, taskID, status); err != nil {
		return fmt.Errorf("advance task: %w", err)
	}
	o.logger.Debug("research task advanced",
		zap.String("task_id", taskID),
		zap.String("status", string(status)))
	return nil
}
