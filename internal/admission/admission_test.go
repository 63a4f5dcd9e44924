package admission

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/store"
)

func task(id, entityID string, trigger model.Trigger) model.ResearchTask {
	return model.ResearchTask{
		ID:          id,
		EntityID:    entityID,
		EntityType:  model.EntityCompany,
		EntityName:  "Acme",
		Priority:    50,
		TriggeredBy: trigger,
	}
}

func TestController_AdmitOncePerEntity(t *testing.T) {
	ctx := context.Background()
	c := NewController(store.NewMemoryStore(), nil)

	ok, err := c.Admit(ctx, task("t1", "company:acme", model.TriggerSignal))
	if err != nil || !ok {
		t.Fatalf("Expected first admit to succeed, got %v, %v", ok, err)
	}

	ok, err = c.Admit(ctx, task("t2", "company:acme", model.TriggerDecay))
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if ok {
		t.Error("Expected decay-triggered duplicate to be rejected")
	}

	active, err := c.HasActiveTask(ctx, "company:acme")
	if err != nil || !active {
		t.Errorf("Expected active task, got %v, %v", active, err)
	}

	ok, err = c.Admit(ctx, task("t3", "company:other", model.TriggerSignal))
	if err != nil || !ok {
		t.Errorf("Expected other entity to be admitted, got %v, %v", ok, err)
	}
}

func TestController_AdmitForcesQueued(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	c := NewController(s, nil)

	in := task("t1", "company:acme", model.TriggerManual)
	in.Status = model.TaskCompleted
	if ok, err := c.Admit(ctx, in); err != nil || !ok {
		t.Fatalf("Admit failed: %v, %v", ok, err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.TaskQueued {
		t.Errorf("Expected queued, got %s", got.Status)
	}
}

func TestController_RejectsEmptyEntity(t *testing.T) {
	c := NewController(store.NewMemoryStore(), nil)

	if _, err := c.Admit(context.Background(), task("t1", "", model.TriggerSignal)); err == nil {
		t.Error("Expected error for empty entity id")
	}
}

func TestController_StoreUnavailable(t *testing.T) {
	s := store.NewMemoryStore()
	_ = s.Close()
	c := NewController(s, nil)

	_, err := c.HasActiveTask(context.Background(), "company:acme")
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
	_, err = c.Admit(context.Background(), task("t1", "company:acme", model.TriggerSignal))
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("Expected ErrUnavailable, got %v", err)
	}
}

func TestController_ConcurrentSignalAndDecay(t *testing.T) {
	ctx := context.Background()
	c := NewController(store.NewMemoryStore(), nil)

	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			trigger := model.TriggerSignal
			if i%2 == 0 {
				trigger = model.TriggerDecay
			}
			ok, err := c.Admit(ctx, task(fmt.Sprintf("t%d", i), "company:acme", trigger))
			if err != nil {
				t.Errorf("admit: %v", err)
				return
			}
			if ok {
				admitted.Add(1)
			}
		}(i)
	}
	wg.Wait()

	if admitted.Load() != 1 {
		t.Errorf("Expected exactly one admitted task, got %d", admitted.Load())
	}
}
