package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "modernc.org/sqlite"

	"github.com/ppiankov/signalqueue/internal/model"
)

const schema = `
CREATE TABLE IF NOT EXISTS signals (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL DEFAULT '',
	raw_content TEXT NOT NULL DEFAULT '',
	urgency TEXT NOT NULL,
	status TEXT NOT NULL,
	extracted_entities TEXT NOT NULL DEFAULT '[]',
	suggested_personas TEXT NOT NULL DEFAULT '[]',
	error TEXT NOT NULL DEFAULT '',
	attempts INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_signals_status_created ON signals(status, created_at);

CREATE TABLE IF NOT EXISTS research_tasks (
	id TEXT PRIMARY KEY,
	entity_id TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_name TEXT NOT NULL,
	personas TEXT NOT NULL DEFAULT '[]',
	primary_persona TEXT NOT NULL DEFAULT '',
	priority INTEGER NOT NULL,
	factors TEXT NOT NULL DEFAULT '{}',
	status TEXT NOT NULL,
	origin_signal_id TEXT NOT NULL DEFAULT '',
	triggered_by TEXT NOT NULL,
	retry_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_tasks_active_entity
	ON research_tasks(entity_id) WHERE status IN ('queued', 'researching', 'validating');
CREATE INDEX IF NOT EXISTS idx_tasks_status_priority ON research_tasks(status, priority DESC, created_at);

CREATE TABLE IF NOT EXISTS entities (
	entity_id TEXT PRIMARY KEY,
	entity_type TEXT NOT NULL,
	doc TEXT NOT NULL,
	decay_score REAL NOT NULL,
	completeness_score INTEGER NOT NULL,
	contradiction_count INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_entities_decay ON entities(decay_score);
CREATE INDEX IF NOT EXISTS idx_entities_completeness ON entities(completeness_score);
CREATE INDEX IF NOT EXISTS idx_entities_contradictions ON entities(contradiction_count);
`

var signalColumns = []string{
	"id", "title", "raw_content", "urgency", "status", "extracted_entities",
	"suggested_personas", "error", "attempts", "created_at", "updated_at",
}

var taskColumns = []string{
	"id", "entity_id", "entity_type", "entity_name", "personas", "primary_persona",
	"priority", "factors", "status", "origin_signal_id", "triggered_by", "retry_count",
	"created_at", "updated_at",
}

// SQLiteStore implements Store on an embedded SQLite database.
// A single connection serializes writers, so UpdateEntity transactions are
// atomic and the partial unique index on active tasks is the admission guard.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (and if needed creates) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{"PRAGMA busy_timeout = 5000"}
	if path != ":memory:" {
		pragmas = append(pragmas, "PRAGMA journal_mode = WAL")
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply %q: %w", p, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Close closes the database
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// wrap tags connection-level failures with ErrUnavailable
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrConnDone) || strings.Contains(err.Error(), "database is closed") {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// ========== Signals ==========

// CreateSignal inserts a new signal
func (s *SQLiteStore) CreateSignal(ctx context.Context, sig model.Signal) error {
	if sig.Status == "" {
		sig.Status = model.StatusPending
	}
	now := s.now().UTC()
	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = now
	}
	sig.UpdatedAt = now

	query, args, err := sq.Insert("signals").Columns(signalColumns...).Values(
		sig.ID, sig.Title, sig.RawContent, string(sig.Urgency), string(sig.Status),
		encodeJSON(sig.ExtractedEntities), encodeJSON(sig.SuggestedPersonas), sig.Error,
		sig.Attempts, sig.CreatedAt.UnixNano(), sig.UpdatedAt.UnixNano(),
	).ToSql()
	if err != nil {
		return fmt.Errorf("build insert signal: %w", err)
	}

	_, err = s.db.ExecContext(ctx, query, args...)
	return wrap("insert signal", err)
}

// GetSignal loads one signal
func (s *SQLiteStore) GetSignal(ctx context.Context, id string) (model.Signal, error) {
	query, args, err := sq.Select(signalColumns...).From("signals").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.Signal{}, fmt.Errorf("build select signal: %w", err)
	}

	sig, err := scanSignal(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrNotFound)
	}
	return sig, wrap("select signal", err)
}

// ListClaimable returns pending and retry signals, oldest first
func (s *SQLiteStore) ListClaimable(ctx context.Context, limit int) ([]model.Signal, error) {
	query, args, err := sq.Select(signalColumns...).From("signals").
		Where(sq.Eq{"status": []string{string(model.StatusPending), string(model.StatusRetry)}}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(pageSize(limit))).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list signals: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list signals", err)
	}
	defer rows.Close()

	var out []model.Signal
	for rows.Next() {
		sig, err := scanSignal(rows)
		if err != nil {
			return nil, wrap("scan signal", err)
		}
		out = append(out, sig)
	}
	return out, wrap("iterate signals", rows.Err())
}

// ClaimSignal performs the pending|retry -> processing transition in one statement
func (s *SQLiteStore) ClaimSignal(ctx context.Context, id string) (model.Signal, error) {
	query, args, err := sq.Update("signals").
		Set("status", string(model.StatusProcessing)).
		Set("attempts", sq.Expr("attempts + 1")).
		Set("updated_at", s.now().UTC().UnixNano()).
		Where(sq.Eq{"id": id, "status": []string{string(model.StatusPending), string(model.StatusRetry)}}).
		Suffix("RETURNING " + strings.Join(signalColumns, ", ")).
		ToSql()
	if err != nil {
		return model.Signal{}, fmt.Errorf("build claim signal: %w", err)
	}

	sig, err := scanSignal(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetSignal(ctx, id); getErr != nil {
			return model.Signal{}, getErr
		}
		return model.Signal{}, fmt.Errorf("signal %s: %w", id, ErrAlreadyClaimed)
	}
	return sig, wrap("claim signal", err)
}

// CompleteSignal marks a processing signal processed
func (s *SQLiteStore) CompleteSignal(ctx context.Context, id string, entities, personas []string) error {
	return s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing}, sq.Eq{
		"status":             string(model.StatusProcessed),
		"extracted_entities": encodeJSON(entities),
		"suggested_personas": encodeJSON(personas),
		"error":              "",
	})
}

// RetrySignal marks a processing signal for retry
func (s *SQLiteStore) RetrySignal(ctx context.Context, id string, errText string) error {
	return s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing}, sq.Eq{
		"status": string(model.StatusRetry),
		"error":  errText,
	})
}

// FailSignal marks a signal as permanently failed
func (s *SQLiteStore) FailSignal(ctx context.Context, id string, errText string) error {
	return s.transitionSignal(ctx, id, []model.ProcessingStatus{model.StatusProcessing, model.StatusRetry}, sq.Eq{
		"status": string(model.StatusFailed),
		"error":  errText,
	})
}

func (s *SQLiteStore) transitionSignal(ctx context.Context, id string, from []model.ProcessingStatus, set sq.Eq) error {
	fromStrings := make([]string, len(from))
	for i, f := range from {
		fromStrings[i] = string(f)
	}

	b := sq.Update("signals").
		SetMap(set).
		Set("updated_at", s.now().UTC().UnixNano()).
		Where(sq.Eq{"id": id, "status": fromStrings})
	query, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("build signal transition: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return wrap("update signal", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update signal", err)
	}
	if n == 0 {
		if _, getErr := s.GetSignal(ctx, id); getErr != nil {
			return getErr
		}
		return fmt.Errorf("signal %s: %w", id, ErrInvalidTransition)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSignal(row rowScanner) (model.Signal, error) {
	var (
		sig                  model.Signal
		urgency, status      string
		entities, personas   string
		createdAt, updatedAt int64
	)
	err := row.Scan(&sig.ID, &sig.Title, &sig.RawContent, &urgency, &status, &entities,
		&personas, &sig.Error, &sig.Attempts, &createdAt, &updatedAt)
	if err != nil {
		return model.Signal{}, err
	}
	sig.Urgency = model.Urgency(urgency)
	sig.Status = model.ProcessingStatus(status)
	if err := json.Unmarshal([]byte(entities), &sig.ExtractedEntities); err != nil {
		return model.Signal{}, fmt.Errorf("decode signal %s entities: %w", sig.ID, err)
	}
	if err := json.Unmarshal([]byte(personas), &sig.SuggestedPersonas); err != nil {
		return model.Signal{}, fmt.Errorf("decode signal %s personas: %w", sig.ID, err)
	}
	sig.CreatedAt = time.Unix(0, createdAt).UTC()
	sig.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return sig, nil
}

// ========== Research tasks ==========

// HasActiveTask reports whether a non-terminal task exists for entityID
func (s *SQLiteStore) HasActiveTask(ctx context.Context, entityID string) (bool, error) {
	query, args, err := sq.Select("1").From("research_tasks").
		Where(sq.Eq{"entity_id": entityID, "status": activeStatusStrings()}).
		Limit(1).
		ToSql()
	if err != nil {
		return false, fmt.Errorf("build active task check: %w", err)
	}

	var one int
	err = s.db.QueryRowContext(ctx, query, args...).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, wrap("check active task", err)
	}
	return true, nil
}

// CreateIfNoActive inserts the task unless the active-task index already holds its entity
func (s *SQLiteStore) CreateIfNoActive(ctx context.Context, task model.ResearchTask) (bool, error) {
	if task.Status == "" {
		task.Status = model.TaskQueued
	}
	now := s.now().UTC()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	query, args, err := sq.Insert("research_tasks").Columns(taskColumns...).Values(
		task.ID, task.EntityID, string(task.EntityType), task.EntityName, encodeJSON(task.Personas),
		task.PrimaryPersona, task.Priority, encodeJSON(task.Factors), string(task.Status),
		task.OriginSignalID, string(task.TriggeredBy), task.RetryCount,
		task.CreatedAt.UnixNano(), task.UpdatedAt.UnixNano(),
	).Suffix("ON CONFLICT DO NOTHING").ToSql()
	if err != nil {
		return false, fmt.Errorf("build insert task: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, wrap("insert task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("insert task", err)
	}
	return n == 1, nil
}

// GetTask loads one research task
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (model.ResearchTask, error) {
	query, args, err := sq.Select(taskColumns...).From("research_tasks").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return model.ResearchTask{}, fmt.Errorf("build select task: %w", err)
	}

	task, err := scanTask(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return model.ResearchTask{}, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return task, wrap("select task", err)
}

// ListTasks returns tasks in queue order
func (s *SQLiteStore) ListTasks(ctx context.Context, q TaskQuery) ([]model.ResearchTask, error) {
	b := sq.Select(taskColumns...).From("research_tasks").
		OrderBy("priority DESC", "created_at ASC", "id ASC").
		Limit(uint64(pageSize(q.Limit)))
	if q.Status != "" {
		b = b.Where(sq.Eq{"status": string(q.Status)})
	}
	if q.EntityID != "" {
		b = b.Where(sq.Eq{"entity_id": q.EntityID})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list tasks: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list tasks", err)
	}
	defer rows.Close()

	var out []model.ResearchTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, wrap("scan task", err)
		}
		out = append(out, task)
	}
	return out, wrap("iterate tasks", rows.Err())
}

// UpdateTaskStatus advances a task. Moving a terminal task back to an active
// status is rejected by the active-task index if the entity already has one.
func (s *SQLiteStore) UpdateTaskStatus(ctx context.Context, id string, status model.TaskStatus) error {
	if !status.Valid() {
		return fmt.Errorf("task %s: unknown status %q: %w", id, status, ErrInvalidTransition)
	}

	query, args, err := sq.Update("research_tasks").
		Set("status", string(status)).
		Set("updated_at", s.now().UTC().UnixNano()).
		Where(sq.Eq{"id": id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update task: %w", err)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("task %s: %w", id, ErrInvalidTransition)
		}
		return wrap("update task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("update task", err)
	}
	if n == 0 {
		return fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanTask(row rowScanner) (model.ResearchTask, error) {
	var (
		task                          model.ResearchTask
		entityType, personas, factors string
		status, triggeredBy           string
		createdAt, updatedAt          int64
	)
	err := row.Scan(&task.ID, &task.EntityID, &entityType, &task.EntityName, &personas,
		&task.PrimaryPersona, &task.Priority, &factors, &status, &task.OriginSignalID,
		&triggeredBy, &task.RetryCount, &createdAt, &updatedAt)
	if err != nil {
		return model.ResearchTask{}, err
	}
	task.EntityType = model.EntityType(entityType)
	task.Status = model.TaskStatus(status)
	task.TriggeredBy = model.Trigger(triggeredBy)
	if err := json.Unmarshal([]byte(personas), &task.Personas); err != nil {
		return model.ResearchTask{}, fmt.Errorf("decode task %s personas: %w", task.ID, err)
	}
	if err := json.Unmarshal([]byte(factors), &task.Factors); err != nil {
		return model.ResearchTask{}, fmt.Errorf("decode task %s factors: %w", task.ID, err)
	}
	task.CreatedAt = time.Unix(0, createdAt).UTC()
	task.UpdatedAt = time.Unix(0, updatedAt).UTC()
	return task, nil
}

func activeStatusStrings() []string {
	out := make([]string, len(model.ActiveTaskStatuses))
	for i, st := range model.ActiveTaskStatuses {
		out[i] = string(st)
	}
	return out
}

// ========== Entities ==========

// GetEntity loads one entity state
func (s *SQLiteStore) GetEntity(ctx context.Context, id string) (model.EntityState, error) {
	return getEntity(ctx, s.db, id)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getEntity(ctx context.Context, q queryer, id string) (model.EntityState, error) {
	query, args, err := sq.Select("doc").From("entities").Where(sq.Eq{"entity_id": id}).ToSql()
	if err != nil {
		return model.EntityState{}, fmt.Errorf("build select entity: %w", err)
	}

	var doc string
	err = q.QueryRowContext(ctx, query, args...).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.EntityState{}, fmt.Errorf("entity %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.EntityState{}, wrap("select entity", err)
	}

	var state model.EntityState
	if err := json.Unmarshal([]byte(doc), &state); err != nil {
		return model.EntityState{}, fmt.Errorf("decode entity %s: %w", id, err)
	}
	return state, nil
}

// UpdateEntity runs fn inside a transaction and upserts the resulting document
func (s *SQLiteStore) UpdateEntity(ctx context.Context, id string, fn EntityUpdateFunc) (model.EntityState, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.EntityState{}, wrap("begin entity update", err)
	}
	defer func() { _ = tx.Rollback() }()

	state, err := getEntity(ctx, tx, id)
	exists := true
	if errors.Is(err, ErrNotFound) {
		exists = false
		state = model.EntityState{EntityID: id}
	} else if err != nil {
		return model.EntityState{}, err
	}

	if err := fn(&state, exists); err != nil {
		return model.EntityState{}, err
	}
	state.EntityID = id

	doc, err := json.Marshal(state)
	if err != nil {
		return model.EntityState{}, fmt.Errorf("encode entity %s: %w", id, err)
	}

	query, args, err := sq.Insert("entities").
		Columns("entity_id", "entity_type", "doc", "decay_score", "completeness_score", "contradiction_count", "updated_at").
		Values(id, string(state.EntityType), string(doc), state.Freshness.DecayScore,
			state.Completeness.Score, state.Quality.ContradictionCount, s.now().UTC().UnixNano()).
		Suffix(`ON CONFLICT(entity_id) DO UPDATE SET
			entity_type = excluded.entity_type,
			doc = excluded.doc,
			decay_score = excluded.decay_score,
			completeness_score = excluded.completeness_score,
			contradiction_count = excluded.contradiction_count,
			updated_at = excluded.updated_at`).
		ToSql()
	if err != nil {
		return model.EntityState{}, fmt.Errorf("build upsert entity: %w", err)
	}

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return model.EntityState{}, wrap("upsert entity", err)
	}
	if err := tx.Commit(); err != nil {
		return model.EntityState{}, wrap("commit entity update", err)
	}
	return state, nil
}

// ListEntities pages through entities by id, using the decay/completeness indexes for filters
func (s *SQLiteStore) ListEntities(ctx context.Context, q EntityQuery) ([]model.EntityState, error) {
	b := sq.Select("doc").From("entities").
		OrderBy("entity_id ASC").
		Limit(uint64(pageSize(q.Limit)))
	if q.After != "" {
		b = b.Where(sq.Gt{"entity_id": q.After})
	}
	if q.DecayBelow != nil {
		b = b.Where(sq.Lt{"decay_score": *q.DecayBelow})
	}
	if q.CompletenessBelow != nil {
		b = b.Where(sq.Lt{"completeness_score": *q.CompletenessBelow})
	}
	if q.Contradicted {
		b = b.Where(sq.Gt{"contradiction_count": 0})
	}

	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list entities: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrap("list entities", err)
	}
	defer rows.Close()

	var out []model.EntityState
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, wrap("scan entity", err)
		}
		var state model.EntityState
		if err := json.Unmarshal([]byte(doc), &state); err != nil {
			return nil, fmt.Errorf("decode entity: %w", err)
		}
		out = append(out, state)
	}
	return out, wrap("iterate entities", rows.Err())
}

func encodeJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return "[]"
	}
	return string(data)
}
