package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

func TestDecayTick_ReachesEveryCriticalEntity(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	o := NewOrchestrator(testConfig(), s, model.DefaultPersonas(), nil)

	for _, name := range []string{"Alpha Co", "Beta Co", "Gamma Co"} {
		seedDecayed(t, o, name, 120*24*time.Hour, nil)
	}

	for tick := 1; tick <= 3; tick++ {
		_, enqueued, err := o.DecayTick(ctx, 1)
		if err != nil {
			t.Fatal(err)
		}
		if enqueued != 1 {
			t.Errorf("tick %d: expected 1 enqueued, got %d", tick, enqueued)
		}
	}

	tasks, err := s.ListTasks(ctx, store.TaskQuery{Status: model.TaskQueued})
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 3 {
		t.Errorf("Expected a queued task for every critical entity, got %d", len(tasks))
	}
}

func TestCompleteTask_RecordsResearchAndStopsRequeue(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	o := NewOrchestrator(testConfig(), s, model.DefaultPersonas(), nil)

	seedDecayed(t, o, "Old Co", 90*24*time.Hour, map[string]float64{"startup_banker": 0.8})
	if _, enqueued, err := o.DecayTick(ctx, 10); err != nil || enqueued != 1 {
		t.Fatalf("DecayTick: %d, %v", enqueued, err)
	}

	tasks, err := s.ListTasks(ctx, store.TaskQuery{EntityID: "company:old-co"})
	if err != nil || len(tasks) != 1 {
		t.Fatalf("Expected one task, got %v, %v", tasks, err)
	}
	taskID := tasks[0].ID

	if err := o.AdvanceTask(ctx, taskID, model.TaskResearching); err != nil {
		t.Fatal(err)
	}
	state, err := o.CompleteTask(ctx, taskID, 0.85)
	if err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}

	if len(state.ResearchHistory) != 1 || state.ResearchHistory[0].TaskID != taskID {
		t.Errorf("Expected one history entry for %s, got %+v", taskID, state.ResearchHistory)
	}
	if state.Quality.OverallScore != 0.85 {
		t.Errorf("Expected quality 0.85, got %v", state.Quality.OverallScore)
	}
	if state.Freshness.DecayScore != 1 {
		t.Errorf("Expected decay reset to 1, got %v", state.Freshness.DecayScore)
	}

	task, err := s.GetTask(ctx, taskID)
	if err != nil || task.Status != model.TaskCompleted {
		t.Fatalf("Expected completed task, got %+v, %v", task, err)
	}

	_, enqueued, err := o.DecayTick(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if enqueued != 0 {
		t.Errorf("Expected no re-research right after completion, got %d", enqueued)
	}
}

func TestCompleteTask_Rejections(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	o := NewOrchestrator(testConfig(), s, model.DefaultPersonas(), nil)
	addSignal(t, s, "sig-1", fundingHeadline, model.UrgencyHigh)

	out, err := o.ProcessSignal(ctx, "sig-1")
	if err != nil || len(out.Created) == 0 {
		t.Fatalf("ProcessSignal: %+v, %v", out, err)
	}
	taskID := out.Created[0]

	if _, err := o.CompleteTask(ctx, taskID, 1.5); err == nil {
		t.Error("Expected out-of-range quality to be rejected")
	}
	if err := o.AdvanceTask(ctx, taskID, model.TaskCompleted); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected completion via AdvanceTask to be rejected, got %v", err)
	}
	if err := o.AdvanceTask(ctx, taskID, model.TaskStatus("bogus")); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected unknown status to be rejected, got %v", err)
	}

	if _, err := o.CompleteTask(ctx, taskID, 0.7); err != nil {
		t.Fatalf("CompleteTask failed: %v", err)
	}
	if _, err := o.CompleteTask(ctx, taskID, 0.7); !errors.Is(err, store.ErrInvalidTransition) {
		t.Errorf("Expected second completion to be rejected, got %v", err)
	}
	if _, err := o.CompleteTask(ctx, "missing", 0.7); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}
