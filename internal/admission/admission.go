// Package admission guards research task creation so that each entity has at
// most one queued, researching or validating task at a time.
package admission

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

// Controller admits research tasks through the store's conditional insert
type Controller struct {
	tasks  store.TaskStore
	logger *zap.Logger
}

// NewController creates an admission controller over tasks
func NewController(tasks store.TaskStore, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{tasks: tasks, logger: logger.Named("admission")}
}

// HasActiveTask reports whether entityID already has a non-terminal task.
// It is a fast-path check only; Admit is what enforces the invariant.
func (c *Controller) HasActiveTask(ctx context.Context, entityID string) (bool, error) {
	active, err := c.tasks.HasActiveTask(ctx, entityID)
	if err != nil {
		return false, fmt.Errorf("check active task for %s: %w", entityID, err)
	}
	return active, nil
}

// Admit creates task unless its entity already has an active one.
// A rejected admission returns false with a nil error.
func (c *Controller) Admit(ctx context.Context, task model.ResearchTask) (bool, error) {
	if task.EntityID == "" {
		return false, fmt.Errorf("admit task %s: empty entity id", task.ID)
	}
	task.Status = model.TaskQueued

	ok, err := c.tasks.CreateIfNoActive(ctx, task)
	if err != nil {
		return false, fmt.Errorf("admit task for %s: %w", task.EntityID, err)
	}

	if ok {
		c.logger.Debug("task admitted",
			zap.String("task_id", task.ID),
			zap.String("entity_id", task.EntityID),
			zap.Int("priority", task.Priority),
			zap.String("triggered_by", string(task.TriggeredBy)))
	} else {
		c.logger.Debug("task rejected, entity already active",
			zap.String("entity_id", task.EntityID),
			zap.String("triggered_by", string(task.TriggeredBy)))
	}
	return ok, nil
}
