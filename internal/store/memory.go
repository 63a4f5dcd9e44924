package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/ppiankov/signalqueue/internal/model"
)

const (
	signalPrefix = "signal:"
	taskPrefix   = "task:"
	entityPrefix = "entity:"
	activePrefix = "active:"
	claimPrefix  = "claim:"
)

// MemoryStore implements Store on an in-process go-cache with no expiry.
// Claim and admission guards are go-cache Add calls, which fail atomically
// when the key is already present.
type MemoryStore struct {
	cache  *gocache.Cache
	mu     sync.Mutex
	closed atomic.Bool
	now    func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: gocache.New(gocache.NoExpiration, 0),
		now:   time.Now,
	}
}

// Close marks the store unavailable; later calls return ErrUnavailable
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}

func (s *MemoryStore) check(ctx context.Context) error {
	if s.closed.Load() {
		return ErrUnavailable
	}
	return ctx.Err()
}

// ========== Signals ==========

// CreateSignal stores a new signal
func (s *MemoryStore) CreateSignal(ctx context.Context, sig model.Signal) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if sig.Status == "" {
		sig.Status = model.StatusPending
	}
	now := s.now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now

	if err := s.cache.Add(signalPrefix+sig.ID, cloneSignal(sig), gocache.NoExpiration); err != nil {
		return fmt.Errorf("insert signal %s: %w", sig.ID, err)
	}
	return nil
}

// GetSignal loads one signal
func (s *MemoryStore) GetSignal(ctx context.Context, id string) (model.Signal, error) {
	if err := s.check(ctx); err != nil {
		return model.Signal{}, err
	}
	sig, ok := s.signal(id)
	if !ok {
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	return cloneSignal(sig), nil
}

func (s *MemoryStore) signal(id string) (model.Signal, bool) {
	v, ok := s.cache.Get(signalPrefix + id)
	if !ok {
		return model.Signal{}, false
	}
	return v.(model.Signal), true
}

// ListClaimable returns pending and retry signals, oldest first
func (s *MemoryStore) ListClaimable(ctx context.Context, limit int) ([]model.Signal, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []model.Signal
	for key, item := range s.cache.Items() {
		if !strings.HasPrefix(key, signalPrefix) {
			continue
		}
		sig := item.Object.(model.Signal)
		if sig.Status.Claimable() {
			out = append(out, cloneSignal(sig))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := pageSize(limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// ClaimSignal takes the claim key first, so only one caller can win
func (s *MemoryStore) ClaimSignal(ctx context.Context, id string) (model.Signal, error) {
	if err := s.check(ctx); err != nil {
		return model.Signal{}, err
	}
	if err := s.cache.Add(claimPrefix+id, true, gocache.NoExpiration); err != nil {
		if _, ok := s.signal(id); !ok {
			return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrNotFound)
		}
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrAlreadyClaimed)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signal(id)
	if !ok {
		s.cache.Delete(claimPrefix + id)
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	if !sig.Status.Claimable() {
		s.cache.Delete(claimPrefix + id)
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrAlreadyClaimed)
	}

	sig.Status = model.StatusProcessing
	sig.Attempts++
	sig.UpdatedAt = s.now().UTC()
	s.cache.Set(signalPrefix+id, sig, gocache.NoExpiration)
	return cloneSignal(sig), nil
}

// CompleteSignal marks a processing signal processed
func (s *MemoryStore) CompleteSignal(ctx context.Context, id string, entities, personas []string) error {
	return s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing}, func(sig *model.Signal) {
		sig.Status = model.StatusProcessed
		sig.ExtractedEntities = append([]string(nil), entities...)
		sig.SuggestedPersonas = append([]string(nil), personas...)
		sig.Error = ""
	})
}

// RetrySignal releases the claim so the next pass can pick the signal up again
func (s *MemoryStore) RetrySignal(ctx context.Context, id string, errText string) error {
	err := s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing}, func(sig *model.Signal) {
		sig.Status = model.StatusRetry
		sig.Error = errText
	})
	if err == nil {
		s.cache.Delete(claimPrefix + id)
	}
	return err
}

// FailSignal marks a signal as permanently failed
func (s *MemoryStore) FailSignal(ctx context.Context, id string, errText string) error {
	return s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing, model.StatusRetry}, func(sig *model.Signal) {
		sig.Status = model.StatusFailed
		sig.Error = errText
	})
}

func (s *MemoryStore) transitionSignal(ctx context.Context, id string, from []model.ProcessingStatus, apply func(*model.Signal)) error {
	if err := s.check(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sig, ok := s.signal(id)
	if !ok {
		return fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}

	allowed := false
	for _, f := range from {
		if sig.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("signal %s in %s: %w", id, sig.Status, ErrInvalidTransition)
	}

	apply(&sig)
	sig.UpdatedAt = s.now().UTC()
	s.cache.Set(signalPrefix+id, sig, gocache.NoExpiration)
	return nil
}

func cloneSignal(sig model.Signal) model.Signal {
	sig.ExtractedEntities = append([]string(nil), sig.ExtractedEntities...)
	sig.SuggestedPersonas = append([]string(nil), sig.SuggestedPersonas...)
	return sig
}

// ========== Research tasks ==========

// HasActiveTask reports whether the entity currently holds the active key
func (s *MemoryStore) HasActiveTask(ctx context.Context, entityID string) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	_, found := s.cache.Get(activePrefix + entityID)
	return found, nil
}

// CreateIfNoActive takes the entity's active key and stores the task only if it won
func (s *MemoryStore) CreateIfNoActive(ctx context.Context, task model.ResearchTask) (bool, error) {
	if err := s.check(ctx); err != nil {
		return false, err
	}
	if task.Status == "" {
		task.Status = model.TaskQueued
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	if task.Status.Active() {
		if err := s.cache.Add(activePrefix+task.EntityID, task.ID, gocache.NoExpiration); err != nil {
			return false, nil
		}
	}
	s.cache.Set(taskPrefix+task.ID, cloneTask(task), gocache.NoExpiration)
	return true, nil
}

// GetTask loads one research task
func (s *MemoryStore) GetTask(ctx context.Context, id string) (model.ResearchTask, error) {
	if err := s.check(ctx); err != nil {
		return model.ResearchTask{}, err
	}
	v, ok := s.cache.Get(taskPrefix + id)
	if !ok {
		return model.ResearchTask{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return cloneTask(v.(model.ResearchTask)), nil
}

// ListTasks returns tasks in queue order
func (s *MemoryStore) ListTasks(ctx context.Context, q TaskQuery) ([]model.ResearchTask, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var out []model.ResearchTask
	for key, item := range s.cache.Items() {
		if !strings.HasPrefix(key, taskPrefix) {
			continue
		}
		task := item.Object.(model.ResearchTask)
		if q.Status != "" && task.Status != q.Status {
			continue
		}
		if q.EntityID != "" && task.EntityID != q.EntityID {
			continue
		}
		out = append(out, cloneTask(task))
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	if n := pageSize(q.Limit); len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// UpdateTaskStatus advances a task and keeps the entity's active key in step
func (s *MemoryStore) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	if err := s.check(ctx); err != nil {
		return err
	}
	if !status.Valid() {
		return fmt.Errorf("task %s: unknown status %q: %w", id, status, ErrInvalidTransition)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.cache.Get(taskPrefix + id)
	if !ok {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	task := v.(model.ResearchTask)

	activeKey := activePrefix + task.EntityID
	switch {
	case task.Status.Active() && !status.Active():
		if owner, found := s.cache.Get(activeKey); found && owner.(string) == task.ID {
			s.cache.Delete(activeKey)
		}
	case !task.Status.Active() && status.Active():
		if err := s.cache.Add(activeKey, task.ID, gocache.NoExpiration); err != nil {
			return fmt.Errorf("task %s: %w", id, ErrInvalidTransition)
		}
	}

	task.Status = status
	task.UpdatedAt = s.now().UTC()
	s.cache.Set(taskPrefix+id, task, gocache.NoExpiration)
	return nil
}

func cloneTask(task model.ResearchTask) model.ResearchTask {
	task.Personas = append([]string(nil), task.Personas...)
	return task
}

// ========== Entities ==========

// GetEntity loads one entity state
func (s *MemoryStore) GetEntity(ctx context.Context, id string) (model.EntityState, error) {
	if err := s.check(ctx); err != nil {
		return model.EntityState{}, err
	}
	v, ok := s.cache.Get(entityPrefix + id)
	if !ok {
		return model.EntityState{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	return decodeEntity(v.([]byte))
}

// UpdateEntity serializes updates under the store mutex and stores the result as one document
func (s *MemoryStore) UpdateEntity(ctx context.Context, id string, fn EntityUpdateFunc) (model.EntityState, error) {
	if err := s.check(ctx); err != nil {
		return model.EntityState{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	state := model.EntityState{EntityID: id}
	exists := false
	if v, ok := s.cache.Get(entityPrefix + id); ok {
		decoded, err := decodeEntity(v.([]byte))
		if err != nil {
			return model.EntityState{}, err
		}
		state = decoded
		exists = true
	}

	if err := fn(&state, exists); err != nil {
		return model.EntityState{}, err
	}
	state.EntityID = id

	doc, err := json.Marshal(state)
	if err != nil {
		return model.EntityState{}, fmt.Errorf("encode entity %s: %w", id, err)
	}
	s.cache.Set(entityPrefix+id, doc, gocache.NoExpiration)
	return decodeEntity(doc)
}

// ListEntities pages through entities in id order
func (s *MemoryStore) ListEntities(ctx context.Context, q EntityQuery) ([]model.EntityState, error) {
	if err := s.check(ctx); err != nil {
		return nil, err
	}

	var ids []string
	docs := make(map[string][]byte)
	for key, item := range s.cache.Items() {
		if !strings.HasPrefix(key, entityPrefix) {
			continue
		}
		id := strings.TrimPrefix(key, entityPrefix)
		if q.After != "" && id <= q.After {
			continue
		}
		ids = append(ids, id)
		docs[id] = item.Object.([]byte)
	}
	sort.Strings(ids)

	limit := pageSize(q.Limit)
	var out []model.EntityState
	for _, id := range ids {
		state, err := decodeEntity(docs[id])
		if err != nil {
			return nil, err
		}
		if q.DecayBelow != nil && !(state.Freshness.DecayScore < *q.DecayBelow) {
			continue
		}
		if q.CompletenessBelow != nil && !(state.Completeness.Score < *q.CompletenessBelow) {
			continue
		}
		if q.Contradicted && state.Quality.ContradictionCount == 0 {
			continue
		}
		out = append(out, state)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func decodeEntity(doc []byte) (model.EntityState, error) {
	var state model.EntityState
	if err := json.Unmarshal(doc, &state); err != nil {
		return model.EntityState{}, fmt.Errorf("decode entity: %w", err)
	}
	return state, nil
}
