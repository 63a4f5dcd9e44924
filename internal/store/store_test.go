package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ppiankov/signalqueue/internal/model"
)

type storeFactory func(t *testing.T) Store

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) Store {
			s := NewMemoryStore()
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
		"sqlite": func(t *testing.T) Store {
			s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		},
	}
}

func forEachBackend(t *testing.T, fn func(t *testing.T, s Store)) {
	for name, factory := range backends() {
		t.Run(name, func(t *testing.T) {
			fn(t, factory(t))
		})
	}
}

func newTask(id, entityID string, priority int) model.ResearchTask {
	return model.ResearchTask{
		ID:          id,
		EntityID:    entityID,
		EntityType:  model.EntityCompany,
		EntityName:  entityID,
		Personas:    []string{"startup_banker"},
		Priority:    priority,
		Status:      model.TaskQueued,
		TriggeredBy: model.TriggerSignal,
	}
}

func TestSignalLifecycle(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		require.NoError(t, s.CreateSignal(ctx, model.Signal{
			ID:         "sig-1",
			Title:      "Acme raises",
			RawContent: "Acme Inc raises $5 million",
			Urgency:    model.UrgencyHigh,
		}))

		got, err := s.GetSignal(ctx, "sig-1")
		require.NoError(t, err)
		require.Equal(t, model.StatusPending, got.Status)
		require.Equal(t, model.UrgencyHigh, got.Urgency)

		claimed, err := s.ClaimSignal(ctx, "sig-1")
		require.NoError(t, err)
		require.Equal(t, model.StatusProcessing, claimed.Status)
		require.Equal(t, 1, claimed.Attempts)

		_, err = s.ClaimSignal(ctx, "sig-1")
		require.ErrorIs(t, err, ErrAlreadyClaimed)

		require.NoError(t, s.RetrySignal(ctx, "sig-1", "store hiccup"))
		got, err = s.GetSignal(ctx, "sig-1")
		require.NoError(t, err)
		require.Equal(t, model.StatusRetry, got.Status)
		require.Equal(t, "store hiccup", got.Error)

		claimed, err = s.ClaimSignal(ctx, "sig-1")
		require.NoError(t, err)
		require.Equal(t, 2, claimed.Attempts)

		require.NoError(t, s.CompleteSignal(ctx, "sig-1", []string{"Acme Inc"}, []string{"startup_banker"}))
		got, err = s.GetSignal(ctx, "sig-1")
		require.NoError(t, err)
		require.Equal(t, model.StatusProcessed, got.Status)
		require.Equal(t, []string{"Acme Inc"}, got.ExtractedEntities)
		require.Equal(t, []string{"startup_banker"}, got.SuggestedPersonas)
		require.Empty(t, got.Error)

		_, err = s.ClaimSignal(ctx, "sig-1")
		require.ErrorIs(t, err, ErrAlreadyClaimed)
		require.ErrorIs(t, s.RetrySignal(ctx, "sig-1", "late"), ErrInvalidTransition)
	})
}

func TestSignalNotFound(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetSignal(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		_, err = s.ClaimSignal(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
		require.ErrorIs(t, s.CompleteSignal(ctx, "missing", nil, nil), ErrNotFound)
	})
}

func TestFailSignal(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSignal(ctx, model.Signal{ID: "sig-f", Urgency: model.UrgencyLow}))

		require.ErrorIs(t, s.FailSignal(ctx, "sig-f", "nope"), ErrInvalidTransition)

		_, err := s.ClaimSignal(ctx, "sig-f")
		require.NoError(t, err)
		require.NoError(t, s.FailSignal(ctx, "sig-f", "poison"))

		got, err := s.GetSignal(ctx, "sig-f")
		require.NoError(t, err)
		require.Equal(t, model.StatusFailed, got.Status)
		require.True(t, got.Status.Terminal())
	})
}

func TestListClaimableOrdering(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

		for i, id := range []string{"c", "a", "b"} {
			require.NoError(t, s.CreateSignal(ctx, model.Signal{
				ID:        id,
				Urgency:   model.UrgencyLow,
				CreatedAt: base.Add(time.Duration(i) * time.Minute),
			}))
		}
		_, err := s.ClaimSignal(ctx, "a")
		require.NoError(t, err)

		list, err := s.ListClaimable(ctx, 10)
		require.NoError(t, err)
		require.Len(t, list, 2)
		require.Equal(t, "c", list[0].ID)
		require.Equal(t, "b", list[1].ID)

		list, err = s.ListClaimable(ctx, 1)
		require.NoError(t, err)
		require.Len(t, list, 1)
	})
}

func TestConcurrentClaim(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		require.NoError(t, s.CreateSignal(ctx, model.Signal{ID: "race", Urgency: model.UrgencyMedium}))

		var wins, losses atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.ClaimSignal(ctx, "race")
				switch {
				case err == nil:
					wins.Add(1)
				case errors.Is(err, ErrAlreadyClaimed):
					losses.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.EqualValues(t, 1, wins.Load())
		require.EqualValues(t, 15, losses.Load())
	})
}

func TestCreateIfNoActive(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		active, err := s.HasActiveTask(ctx, "company:acme")
		require.NoError(t, err)
		require.False(t, active)

		ok, err := s.CreateIfNoActive(ctx, newTask("t1", "company:acme", 50))
		require.NoError(t, err)
		require.True(t, ok)

		ok, err = s.CreateIfNoActive(ctx, newTask("t2", "company:acme", 90))
		require.NoError(t, err)
		require.False(t, ok, "second active task for the same entity must be rejected")

		active, err = s.HasActiveTask(ctx, "company:acme")
		require.NoError(t, err)
		require.True(t, active)

		// researching and validating still block admission
		require.NoError(t, s.UpdateTaskStatus(ctx, "t1", model.TaskResearching))
		ok, err = s.CreateIfNoActive(ctx, newTask("t3", "company:acme", 10))
		require.NoError(t, err)
		require.False(t, ok)

		require.NoError(t, s.UpdateTaskStatus(ctx, "t1", model.TaskCompleted))
		active, err = s.HasActiveTask(ctx, "company:acme")
		require.NoError(t, err)
		require.False(t, active)

		ok, err = s.CreateIfNoActive(ctx, newTask("t4", "company:acme", 10))
		require.NoError(t, err)
		require.True(t, ok)

		// reviving the completed task while t4 is active violates the guard
		require.ErrorIs(t, s.UpdateTaskStatus(ctx, "t1", model.TaskQueued), ErrInvalidTransition)
	})
}

func TestUpdateTaskStatusRejectsUnknownStatus(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		ok, err := s.CreateIfNoActive(ctx, newTask("t1", "company:acme", 50))
		require.NoError(t, err)
		require.True(t, ok)

		require.ErrorIs(t, s.UpdateTaskStatus(ctx, "t1", model.TaskStatus("bogus")), ErrInvalidTransition)

		task, err := s.GetTask(ctx, "t1")
		require.NoError(t, err)
		require.Equal(t, model.TaskQueued, task.Status)

		active, err := s.HasActiveTask(ctx, "company:acme")
		require.NoError(t, err)
		require.True(t, active, "a rejected update must keep the entity's active task")
	})
}

func TestSQLiteCorruptColumnsSurface(t *testing.T) {
	ctx := context.Background()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "queue.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	require.NoError(t, s.CreateSignal(ctx, model.Signal{ID: "s1", Title: "t", Urgency: model.UrgencyLow}))
	ok, err := s.CreateIfNoActive(ctx, newTask("t1", "company:acme", 50))
	require.NoError(t, err)
	require.True(t, ok)

	_, err = s.db.ExecContext(ctx, `UPDATE signals SET extracted_entities = '{broken' WHERE id = 's1'`)
	require.NoError(t, err)
	_, err = s.db.ExecContext(ctx, `UPDATE research_tasks SET factors = 'not json' WHERE id = 't1'`)
	require.NoError(t, err)

	_, err = s.GetSignal(ctx, "s1")
	require.ErrorContains(t, err, "decode signal s1 entities")

	_, err = s.GetTask(ctx, "t1")
	require.ErrorContains(t, err, "decode task t1 factors")
}

func TestConcurrentAdmission(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var admitted atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ok, err := s.CreateIfNoActive(ctx, newTask(fmt.Sprintf("task-%d", i), "company:globex", i))
				if err != nil {
					t.Errorf("admit %d: %v", i, err)
					return
				}
				if ok {
					admitted.Add(1)
				}
			}(i)
		}
		wg.Wait()

		require.EqualValues(t, 1, admitted.Load())
		tasks, err := s.ListTasks(ctx, TaskQuery{EntityID: "company:globex"})
		require.NoError(t, err)
		require.Len(t, tasks, 1)
	})
}

func TestListTasksOrder(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		base := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

		inputs := []model.ResearchTask{
			newTask("low", "company:a", 20),
			newTask("high-old", "company:b", 80),
			newTask("high-new", "company:c", 80),
		}
		for i := range inputs {
			inputs[i].CreatedAt = base.Add(time.Duration(i) * time.Hour)
			ok, err := s.CreateIfNoActive(ctx, inputs[i])
			require.NoError(t, err)
			require.True(t, ok)
		}

		tasks, err := s.ListTasks(ctx, TaskQuery{Status: model.TaskQueued})
		require.NoError(t, err)
		require.Len(t, tasks, 3)
		require.Equal(t, "high-old", tasks[0].ID)
		require.Equal(t, "high-new", tasks[1].ID)
		require.Equal(t, "low", tasks[2].ID)

		got, err := s.GetTask(ctx, "high-old")
		require.NoError(t, err)
		require.Equal(t, []string{"startup_banker"}, got.Personas)
		require.Equal(t, model.TriggerSignal, got.TriggeredBy)

		_, err = s.GetTask(ctx, "missing")
		require.ErrorIs(t, err, ErrNotFound)
	})
}

func TestUpdateEntity(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, err := s.GetEntity(ctx, "company:acme")
		require.ErrorIs(t, err, ErrNotFound)

		state, err := s.UpdateEntity(ctx, "company:acme", func(st *model.EntityState, exists bool) error {
			require.False(t, exists)
			st.CanonicalName = "Acme"
			st.EntityType = model.EntityCompany
			st.Freshness.DecayScore = 1
			st.Completeness.Score = 40
			return nil
		})
		require.NoError(t, err)
		require.Equal(t, "company:acme", state.EntityID)

		_, err = s.UpdateEntity(ctx, "company:acme", func(st *model.EntityState, exists bool) error {
			require.True(t, exists)
			st.Quality.ContradictionCount++
			return nil
		})
		require.NoError(t, err)

		errAbort := errors.New("abort")
		_, err = s.UpdateEntity(ctx, "company:acme", func(st *model.EntityState, exists bool) error {
			st.CanonicalName = "changed"
			return errAbort
		})
		require.ErrorIs(t, err, errAbort)

		got, err := s.GetEntity(ctx, "company:acme")
		require.NoError(t, err)
		require.Equal(t, "Acme", got.CanonicalName)
		require.Equal(t, 1, got.Quality.ContradictionCount)
	})
}

func TestConcurrentEntityUpdates(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.UpdateEntity(ctx, "person:jane-doe", func(st *model.EntityState, exists bool) error {
					st.Engagement.ViewCount++
					return nil
				})
				if err != nil {
					t.Errorf("update: %v", err)
				}
			}()
		}
		wg.Wait()

		got, err := s.GetEntity(ctx, "person:jane-doe")
		require.NoError(t, err)
		require.Equal(t, 20, got.Engagement.ViewCount)
	})
}

func TestListEntitiesFiltersAndPaging(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		seed := []struct {
			id             string
			decay          float64
			completeness   int
			contradictions int
		}{
			{"company:a", 0.9, 100, 0},
			{"company:b", 0.4, 80, 0},
			{"company:c", 0.2, 30, 2},
			{"company:d", 0.1, 50, 0},
		}
		for _, e := range seed {
			e := e
			_, err := s.UpdateEntity(ctx, e.id, func(st *model.EntityState, _ bool) error {
				st.EntityType = model.EntityCompany
				st.Freshness.DecayScore = e.decay
				st.Completeness.Score = e.completeness
				st.Quality.ContradictionCount = e.contradictions
				return nil
			})
			require.NoError(t, err)
		}

		below := 0.5
		stale, err := s.ListEntities(ctx, EntityQuery{DecayBelow: &below})
		require.NoError(t, err)
		require.Equal(t, []string{"company:b", "company:c", "company:d"}, entityIDs(stale))

		incomplete := 60
		inc, err := s.ListEntities(ctx, EntityQuery{CompletenessBelow: &incomplete})
		require.NoError(t, err)
		require.Equal(t, []string{"company:c", "company:d"}, entityIDs(inc))

		contradicted, err := s.ListEntities(ctx, EntityQuery{Contradicted: true})
		require.NoError(t, err)
		require.Equal(t, []string{"company:c"}, entityIDs(contradicted))

		first, err := s.ListEntities(ctx, EntityQuery{Limit: 2})
		require.NoError(t, err)
		require.Equal(t, []string{"company:a", "company:b"}, entityIDs(first))
		second, err := s.ListEntities(ctx, EntityQuery{Limit: 2, After: "company:b"})
		require.NoError(t, err)
		require.Equal(t, []string{"company:c", "company:d"}, entityIDs(second))
	})
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s Store) {
		require.NoError(t, s.Close())

		_, err := s.ListClaimable(context.Background(), 10)
		require.ErrorIs(t, err, ErrUnavailable)
		_, err = s.HasActiveTask(context.Background(), "company:x")
		require.ErrorIs(t, err, ErrUnavailable)
	})
}

func entityIDs(states []model.EntityState) []string {
	out := make([]string, len(states))
	for i, st := range states {
		out[i] = st.EntityID
	}
	return out
}
