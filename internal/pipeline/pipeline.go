package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ppiankov/signalqueue/internal/admission"
	"github.com/ppiankov/signalqueue/internal/extract"
	"github.com/ppiankov/signalqueue/internal/lifecycle"
	"github.com/ppiankov/signalqueue/internal/model"
	"github.com/ppiankov/signalqueue/internal/score"
	"github.com/ppiankov/signalqueue/internal/store"
	"github.com/ppiankov/signalqueue/internal/worker"
)

// Orchestrator turns signals into research tasks and feeds decayed entities
// back through the same admission path
type Orchestrator struct {
	signals   store.SignalStore
	tasks     store.TaskStore
	admission *admission.Controller
	lifecycle *lifecycle.Manager
	extractor *extract.EntityExtractor
	scorer    *score.PersonaScorer
	priority  *score.PriorityCalculator
	limiter   *worker.Limiter
	batch     *worker.BatchProcessor

	entityWorkers int
	logger        *zap.Logger
	newID         func() string
}

// NewOrchestrator wires every pipeline component from cfg over st
func NewOrchestrator(cfg model.Config, st store.Store, personas model.PersonaRegistry, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}

	o := &Orchestrator{
		signals:       st,
		tasks:         st,
		admission:     admission.NewController(st, logger),
		lifecycle:     lifecycle.NewManager(st, personas, cfg.Lifecycle, logger),
		extractor:     extract.NewEntityExtractor(cfg.Extraction),
		scorer:        score.NewPersonaScorer(personas),
		priority:      score.NewPriorityCalculator(cfg.Priority),
		limiter:       worker.NewLimiter(cfg.RateLimiting.RequestsPerSecond, cfg.RateLimiting.BurstSize),
		entityWorkers: cfg.Concurrency.EntityWorkers,
		logger:        logger.Named("pipeline"),
		newID:         uuid.NewString,
	}
	if o.entityWorkers <= 0 {
		o.entityWorkers = 1
	}
	o.batch = worker.NewBatchProcessor(o.processStatus, cfg.Concurrency.SignalWorkers)
	return o
}

// Lifecycle exposes the entity lifecycle manager
func (o *Orchestrator) Lifecycle() *lifecycle.Manager {
	return o.lifecycle
}

// Limiter exposes the enqueue rate limiter so callers can tune per-source rates
func (o *Orchestrator) Limiter() *worker.Limiter {
	return o.limiter
}

// Outcome describes what happened to one signal
type Outcome struct {
	SignalID string
	Status   model.ProcessingStatus
	Entities []string // extracted entity names
	Personas []string // suggested persona ids, best first
	Created  []string // ids of tasks created
	Skipped  []string // entity ids that already had an active task
	Error    string   // pipeline error recorded with a retry
}

// ProcessSignal claims one signal and runs it through extraction, scoring and
// admission. Pipeline failures move the signal to retry and are reported in the
// outcome; only claim failures and store unavailability are returned as errors.
func (o *Orchestrator) ProcessSignal(ctx context.Context, signalID string) (Outcome, error) {
	sig, err := o.signals.ClaimSignal(ctx, signalID)
	if err != nil {
		return Outcome{SignalID: signalID}, fmt.Errorf("claim signal: %w", err)
	}

	out, pipelineErr := o.run(ctx, sig)
	if errors.Is(pipelineErr, store.ErrUnavailable) {
		// best effort; if the store is really gone this fails too and the
		// signal stays in processing until an operator requeues it
		_ = o.signals.RetrySignal(ctx, sig.ID, pipelineErr.Error())
		out.Status = model.StatusRetry
		out.Error = pipelineErr.Error()
		return out, pipelineErr
	}

	if pipelineErr != nil {
		out.Status = model.StatusRetry
		out.Error = pipelineErr.Error()
		if err := o.signals.RetrySignal(ctx, sig.ID, out.Error); err != nil {
			return out, fmt.Errorf("mark signal %s for retry: %w", sig.ID, err)
		}
		o.logger.Warn("signal moved to retry",
			zap.String("signal_id", sig.ID),
			zap.Int("attempts", sig.Attempts),
			zap.Error(pipelineErr))
		return out, nil
	}

	if err := o.signals.CompleteSignal(ctx, sig.ID, out.Entities, out.Personas); err != nil {
		return out, fmt.Errorf("complete signal %s: %w", sig.ID, err)
	}
	out.Status = model.StatusProcessed

	o.logger.Info("signal processed",
		zap.String("signal_id", sig.ID),
		zap.Int("entities", len(out.Entities)),
		zap.Int("tasks_created", len(out.Created)),
		zap.Int("skipped_active", len(out.Skipped)))
	return out, nil
}

func (o *Orchestrator) run(ctx context.Context, sig model.Signal) (out Outcome, err error) {
	out = Outcome{SignalID: sig.ID}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in pipeline: %v", r)
		}
	}()

	text := sig.Text()

	// 1. Extract entities
	entities := o.extractor.Extract(text)

	// 2. Score personas against the same text
	scores := o.scorer.Score(entities, text)

	// 3. Urgency is consumed as given
	if !sig.Urgency.Valid() {
		o.logger.Warn("signal has unknown urgency, no boost applied",
			zap.String("signal_id", sig.ID),
			zap.String("urgency", string(sig.Urgency)))
	}

	out.Entities = make([]string, len(entities))
	for i, e := range entities {
		out.Entities[i] = e.Name
	}
	out.Personas = score.PersonaIDs(scores)

	// 4. Admit one task per entity; one entity failing never stops its siblings
	var (
		mu   sync.Mutex
		errs error
		g    errgroup.Group
	)
	g.SetLimit(o.entityWorkers)

	for _, entity := range entities {
		entity := entity
		g.Go(func() error {
			res, err := o.safeAdmitEntity(ctx, sig, entity, scores)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				errs = multierr.Append(errs, fmt.Errorf("entity %q: %w", entity.Name, err))
			case res.created != "":
				out.Created = append(out.Created, res.created)
			case res.skipped != "":
				out.Skipped = append(out.Skipped, res.skipped)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Strings(out.Created)
	sort.Strings(out.Skipped)
	return out, errs
}

func (o *Orchestrator) safeAdmitEntity(ctx context.Context, sig model.Signal, entity model.ExtractedEntity, scores []model.PersonaScore) (res admitResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic admitting entity: %v", r)
		}
	}()
	return o.admitEntity(ctx, sig, entity, scores)
}

type admitResult struct {
	created string
	skipped string
}

func (o *Orchestrator) admitEntity(ctx context.Context, sig model.Signal, entity model.ExtractedEntity, scores []model.PersonaScore) (admitResult, error) {
	entityID := model.EntityID(entity.Type, entity.Name)

	active, err := o.admission.HasActiveTask(ctx, entityID)
	if err != nil {
		o.logger.Warn("admission check failed, skipping entity this pass",
			zap.String("signal_id", sig.ID),
			zap.String("entity_id", entityID),
			zap.Error(err))
		return admitResult{}, err
	}
	if active {
		return admitResult{skipped: entityID}, nil
	}

	priority, factors := o.priority.Calculate(score.PriorityInput{
		Urgency:          sig.Urgency,
		EntityConfidence: entity.Confidence,
		TopPersonaScore:  score.TopScore(scores),
	})

	personaIDs := score.PersonaIDs(scores)
	primary := ""
	if len(personaIDs) > 0 {
		primary = personaIDs[0]
	}

	if _, _, err := o.lifecycle.Observe(ctx, lifecycle.UpsertInput{
		EntityID:       entityID,
		Name:           entity.Name,
		Type:           entity.Type,
		PrimaryPersona: primary,
		PersonaScores:  scoreMap(scores),
	}); err != nil {
		return admitResult{}, err
	}

	if err := o.limiter.Wait(ctx, string(model.TriggerSignal)); err != nil {
		return admitResult{}, fmt.Errorf("rate limit: %w", err)
	}

	task := model.ResearchTask{
		ID:             o.newID(),
		EntityID:       entityID,
		EntityType:     entity.Type,
		EntityName:     entity.Name,
		Personas:       personaIDs,
		PrimaryPersona: primary,
		Priority:       priority,
		Factors:        factors,
		OriginSignalID: sig.ID,
		TriggeredBy:    model.TriggerSignal,
		RetryCount:     0,
	}

	ok, err := o.admission.Admit(ctx, task)
	if err != nil {
		return admitResult{}, err
	}
	if !ok {
		return admitResult{skipped: entityID}, nil
	}
	return admitResult{created: task.ID}, nil
}

func (o *Orchestrator) processStatus(ctx context.Context, signalID string) (model.ProcessingStatus, error) {
	out, err := o.ProcessSignal(ctx, signalID)
	return out.Status, err
}

// ProcessPendingSignals processes up to limit pending or retry signals, each
// isolated from the others, and returns how many reached processed.
// Only store unavailability is returned as an error.
func (o *Orchestrator) ProcessPendingSignals(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		return 0, nil
	}

	pending, err := o.signals.ListClaimable(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list pending signals: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	ids := make([]string, len(pending))
	for i, sig := range pending {
		ids[i] = sig.ID
	}

	var unavailable error
	processed := 0
	for _, res := range o.batch.ProcessSignals(ctx, ids) {
		switch {
		case res.Error == nil:
			if res.Status == model.StatusProcessed {
				processed++
			}
		case errors.Is(res.Error, store.ErrUnavailable):
			unavailable = multierr.Append(unavailable, res.Error)
		case errors.Is(res.Error, store.ErrAlreadyClaimed):
			o.logger.Debug("signal claimed elsewhere", zap.String("signal_id", res.SignalID))
		default:
			o.logger.Warn("signal processing failed",
				zap.String("signal_id", res.SignalID),
				zap.Error(res.Error))
		}
	}

	o.logger.Info("signal batch complete",
		zap.Int("requested", len(ids)),
		zap.Int("processed", processed))
	return processed, unavailable
}

// EnqueueDecayCandidates admits re-research tasks for critical then stale
// entities, up to limit candidates, and returns how many tasks were created.
// Entities that already have an active task are not candidates.
func (o *Orchestrator) EnqueueDecayCandidates(ctx context.Context, limit int) (int, error) {
	candidates, err := o.lifecycle.DecayCandidates(ctx, limit, o.admission.HasActiveTask)
	if err != nil {
		return 0, fmt.Errorf("select decay candidates: %w", err)
	}

	created := 0
	for _, c := range candidates {
		ok, err := o.admitDecayed(ctx, c)
		if errors.Is(err, store.ErrUnavailable) {
			return created, err
		}
		if err != nil {
			o.logger.Warn("decay candidate skipped",
				zap.String("entity_id", c.State.EntityID),
				zap.String("tier", string(c.Tier)),
				zap.Error(err))
			continue
		}
		if ok {
			created++
		}
	}

	o.logger.Info("decay candidates enqueued",
		zap.Int("candidates", len(candidates)),
		zap.Int("created", created))
	return created, nil
}

func (o *Orchestrator) admitDecayed(ctx context.Context, c lifecycle.Candidate) (bool, error) {
	state := c.State

	active, err := o.admission.HasActiveTask(ctx, state.EntityID)
	if err != nil || active {
		return false, err
	}

	scores := rankedScores(state.Quality.PersonaScores)
	priority, factors := o.priority.Calculate(score.PriorityInput{
		Urgency:          c.Tier.Urgency(),
		EntityConfidence: 1.0,
		TopPersonaScore:  score.TopScore(scores),
	})

	personaIDs := score.PersonaIDs(scores)
	primary := state.PrimaryPersona
	if primary == "" && len(personaIDs) > 0 {
		primary = personaIDs[0]
	}

	if err := o.limiter.Wait(ctx, string(model.TriggerDecay)); err != nil {
		return false, fmt.Errorf("rate limit: %w", err)
	}

	return o.admission.Admit(ctx, model.ResearchTask{
		ID:             o.newID(),
		EntityID:       state.EntityID,
		EntityType:     state.EntityType,
		EntityName:     state.CanonicalName,
		Personas:       personaIDs,
		PrimaryPersona: primary,
		Priority:       priority,
		Factors:        factors,
		TriggeredBy:    model.TriggerDecay,
	})
}

// DecayTick recomputes decay for all entities and then enqueues up to limit
// re-research candidates
func (o *Orchestrator) DecayTick(ctx context.Context, limit int) (recomputed, enqueued int, err error) {
	recomputed, err = o.lifecycle.RecomputeDecay(ctx)
	if err != nil {
		return recomputed, 0, fmt.Errorf("recompute decay: %w", err)
	}
	enqueued, err = o.EnqueueDecayCandidates(ctx, limit)
	return recomputed, enqueued, err
}

func scoreMap(scores []model.PersonaScore) map[string]float64 {
	if len(scores) == 0 {
		return nil
	}
	m := make(map[string]float64, len(scores))
	for _, s := range scores {
		m[s.PersonaID] = s.Score
	}
	return m
}

// rankedScores orders stored persona scores best first and keeps the top 3
func rankedScores(m map[string]float64) []model.PersonaScore {
	scores := make([]model.PersonaScore, 0, len(m))
	for id, s := range m {
		if s > 0 {
			scores = append(scores, model.PersonaScore{PersonaID: id, Score: s})
		}
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].PersonaID < scores[j].PersonaID
	})
	if len(scores) > 3 {
		scores = scores[:3]
	}
	return scores
}
