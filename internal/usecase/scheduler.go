package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"GridCast/internal/domain/models"
	drepo "GridCast/internal/domain/repository"
	"GridCast/internal/domain/service"
	"GridCast/internal/service/registry"
	applogger "GridCast/pkg/logger"
)

// Lifecycle states of one forecast type's model pipeline.
const (
	StateCollecting = "collecting"
	StateEvaluating = "evaluating"
	StateRetraining = "retraining"
	StatePromoting  = "promoting"
)

// MsgTypeRetrain is the queue message type carrying retrain requests.
const MsgTypeRetrain = "model.retrain"

// RetrainPayload is the queued retrain request.
type RetrainPayload struct {
	Type        string    `json:"type"`
	Reason      string    `json:"reason"`
	RequestedAt time.Time `json:"requested_at"`
}

// RetrainEnqueuer hands retrain requests to the out-of-band worker pool.
type RetrainEnqueuer interface {
	Enqueue(ctx context.Context, msgType string, payload interface{}) error
}

// SchedulerConfig carries cycle cadences and the promotion policy.
type SchedulerConfig struct {
	ForecastEvery   time.Duration
	PricingEvery    time.Duration
	AccuracyEvery   time.Duration
	GridHealthEvery time.Duration
	MAPEThreshold   float64
	BreachWindows   int
	PromotionMargin float64
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.ForecastEvery <= 0 {
		c.ForecastEvery = time.Hour
	}
	if c.PricingEvery <= 0 {
		c.PricingEvery = 15 * time.Minute
	}
	if c.AccuracyEvery <= 0 {
		c.AccuracyEvery = 24 * time.Hour
	}
	if c.GridHealthEvery <= 0 {
		c.GridHealthEvery = 5 * time.Minute
	}
	if c.MAPEThreshold <= 0 {
		c.MAPEThreshold = 0.15
	}
	if c.BreachWindows <= 0 {
		c.BreachWindows = 3
	}
	if c.PromotionMargin <= 0 {
		c.PromotionMargin = 0.05
	}
	return c
}

type typeState struct {
	state         string
	breachStreak  int
	lastEvaluated time.Time
	lastRetrain   time.Time
}

// Scheduler drives the periodic cycles and the per-type model lifecycle:
// collecting telemetry, evaluating accuracy, retraining after sustained
// breaches and promoting candidates that beat the active model.
type Scheduler struct {
	cfg        SchedulerConfig
	forecasts  *ForecastRunner
	prices     *PriceRunner
	accuracy   *AccuracyTracker
	health     *GridHealthRunner
	trainer    service.Trainer
	loader     service.PredictorLoader
	reg        *registry.Models
	modelStore drepo.ModelStore
	queue      RetrainEnqueuer
	entities   []models.Entity
	metrics    drepo.Metrics
	logger     *applogger.Logger

	mu      sync.Mutex
	types   map[models.ForecastType]*typeState
	next    map[string]time.Time
	started bool
	stopCh  chan struct{}
}

func NewScheduler(
	cfg SchedulerConfig,
	forecasts *ForecastRunner,
	prices *PriceRunner,
	accuracy *AccuracyTracker,
	health *GridHealthRunner,
	trainer service.Trainer,
	loader service.PredictorLoader,
	reg *registry.Models,
	modelStore drepo.ModelStore,
	queue RetrainEnqueuer,
	entities []models.Entity,
	metrics drepo.Metrics,
	l *applogger.Logger,
) *Scheduler {
	s := &Scheduler{
		cfg:        cfg.withDefaults(),
		forecasts:  forecasts,
		prices:     prices,
		accuracy:   accuracy,
		health:     health,
		trainer:    trainer,
		loader:     loader,
		reg:        reg,
		modelStore: modelStore,
		queue:      queue,
		entities:   entities,
		metrics:    metrics,
		logger:     l,
		types:      make(map[models.ForecastType]*typeState, len(models.ForecastTypes)),
		next:       make(map[string]time.Time),
		stopCh:     make(chan struct{}),
	}
	for _, t := range models.ForecastTypes {
		s.types[t] = &typeState{state: StateCollecting}
	}
	return s
}

// Start launches the cycle loop and enqueues initial training for any type
// serving nothing yet.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	now := time.Now()
	s.next["forecast"] = now.Add(s.cfg.ForecastEvery)
	s.next["pricing"] = now.Add(s.cfg.PricingEvery)
	s.next["accuracy"] = now.Add(s.cfg.AccuracyEvery)
	s.next["grid_health"] = now.Add(s.cfg.GridHealthEvery)
	s.mu.Unlock()

	s.ensureModels(ctx)
	go s.loop(ctx)
}

// Stop halts the cycle loop. In-flight work finishes on its own context.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	s.started = false
	close(s.stopCh)
}

func (s *Scheduler) loop(ctx context.Context) {
	forecastT := time.NewTicker(s.cfg.ForecastEvery)
	pricingT := time.NewTicker(s.cfg.PricingEvery)
	accuracyT := time.NewTicker(s.cfg.AccuracyEvery)
	healthT := time.NewTicker(s.cfg.GridHealthEvery)
	defer forecastT.Stop()
	defer pricingT.Stop()
	defer accuracyT.Stop()
	defer healthT.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case now := <-forecastT.C:
			s.advance("forecast", now, s.cfg.ForecastEvery)
			s.ensureModels(ctx)
			if err := s.forecasts.Run(ctx, now); err != nil {
				s.logger.Warn("forecast cycle incomplete", applogger.Error(err))
			}
			// reprice on fresh forecasts instead of waiting out the pricing tick
			if err := s.prices.Run(ctx, now); err != nil {
				s.logger.Warn("repricing after forecasts failed", applogger.Error(err))
			}
		case now := <-pricingT.C:
			s.advance("pricing", now, s.cfg.PricingEvery)
			if err := s.prices.Run(ctx, now); err != nil {
				s.logger.Warn("pricing cycle failed", applogger.Error(err))
			}
		case now := <-accuracyT.C:
			s.advance("accuracy", now, s.cfg.AccuracyEvery)
			s.EvaluateAccuracy(ctx, now)
		case now := <-healthT.C:
			s.advance("grid_health", now, s.cfg.GridHealthEvery)
			if err := s.health.Run(ctx, now); err != nil {
				s.logger.Warn("grid health cycle failed", applogger.Error(err))
			}
		}
	}
}

func (s *Scheduler) advance(name string, now time.Time, every time.Duration) {
	s.mu.Lock()
	s.next[name] = now.Add(every)
	s.mu.Unlock()
}

// ensureModels enqueues an initial training for any type with an empty slot.
// Runs on the forecast cadence, so a bootstrap that failed on insufficient
// history retries once data accrues instead of hammering the queue.
func (s *Scheduler) ensureModels(ctx context.Context) {
	for _, t := range models.ForecastTypes {
		if _, _, ok := s.reg.Active(t); ok {
			continue
		}
		if _, err := s.TriggerRetrain(ctx, t, "bootstrap"); err != nil {
			s.logger.Warn("bootstrap training not enqueued",
				applogger.String("type", string(t)),
				applogger.Error(err))
		}
	}
}

// TriggerRetrain enqueues an out-of-band training run for a type. Returns
// false without enqueueing when one is already pending, so repeated requests
// collapse into the run already scheduled.
func (s *Scheduler) TriggerRetrain(ctx context.Context, t models.ForecastType, reason string) (bool, error) {
	if !t.Valid() {
		return false, fmt.Errorf("unknown forecast type %q", t)
	}
	s.mu.Lock()
	st := s.types[t]
	if st.state == StateRetraining {
		s.mu.Unlock()
		return false, nil
	}
	st.state = StateRetraining
	s.mu.Unlock()

	payload := RetrainPayload{Type: string(t), Reason: reason, RequestedAt: time.Now().UTC()}
	if err := s.queue.Enqueue(ctx, MsgTypeRetrain, payload); err != nil {
		s.setState(t, StateCollecting)
		s.metrics.RecordError("retrain_enqueue")
		return false, fmt.Errorf("enqueue retrain for %s: %w", t, err)
	}
	s.logger.Info("retrain enqueued",
		applogger.String("type", string(t)),
		applogger.String("reason", reason))
	return true, nil
}

// Retrain runs one training and hands the candidate to promotion. Invoked by
// the queue worker; errors bubble up to the queue's retry handling.
func (s *Scheduler) Retrain(ctx context.Context, t models.ForecastType) error {
	if !t.Valid() {
		return fmt.Errorf("unknown forecast type %q", t)
	}
	s.setState(t, StateRetraining)
	start := time.Now()

	v, err := s.trainer.Train(ctx, t, s.entities, time.Now().UTC())
	if err != nil {
		s.metrics.RecordRetrain(string(t), "failed")
		s.finishRetrain(t)
		return fmt.Errorf("%s: %w: %w", t, models.ErrTrainingFailed, err)
	}
	if err := s.modelStore.SaveVersion(ctx, v); err != nil {
		s.metrics.RecordRetrain(string(t), "failed")
		s.finishRetrain(t)
		return fmt.Errorf("save version %s: %w", v.ID, err)
	}
	s.metrics.RecordRetrain(string(t), "ok")
	s.logger.Info("training complete",
		applogger.String("type", string(t)),
		applogger.String("model", v.ID),
		applogger.Float64("validation_error", v.ValidationError),
		applogger.Duration("duration_ms", time.Since(start)))

	return s.OnTrainingComplete(ctx, v)
}

// OnTrainingComplete decides the candidate's fate. A candidate is promoted
// when it beats the active model's validation error by the promotion margin,
// or when the slot is empty. A rejected candidate is retired and the active
// model keeps serving; the rejection is reported as ErrPromotionRejected so
// callers can record it without retrying.
func (s *Scheduler) OnTrainingComplete(ctx context.Context, v *models.ModelVersion) error {
	t := v.Type
	s.setState(t, StatePromoting)
	defer s.finishRetrain(t)

	_, active, ok := s.reg.Active(t)
	if ok && v.ValidationError >= active.ValidationError*(1-s.cfg.PromotionMargin) {
		s.metrics.RecordPromotion(string(t), "rejected")
		if err := s.modelStore.UpdateStatus(ctx, v.ID, models.StatusRetired); err != nil {
			s.logger.Error("candidate not retired",
				applogger.String("model", v.ID),
				applogger.Error(err))
		}
		s.logger.Info("promotion rejected",
			applogger.String("type", string(t)),
			applogger.String("candidate", v.ID),
			applogger.Float64("candidate_error", v.ValidationError),
			applogger.Float64("active_error", active.ValidationError))
		return fmt.Errorf("candidate %s vs active %s: %w", v.ID, active.ID, models.ErrPromotionRejected)
	}

	pred, err := s.loader.Load(v, s.entities)
	if err != nil {
		s.metrics.RecordPromotion(string(t), "failed")
		if uerr := s.modelStore.UpdateStatus(ctx, v.ID, models.StatusRetired); uerr != nil {
			s.logger.Error("unloadable candidate not retired",
				applogger.String("model", v.ID),
				applogger.Error(uerr))
		}
		return fmt.Errorf("load candidate %s: %w", v.ID, err)
	}

	v.Status = models.StatusActive
	if err := s.modelStore.UpdateStatus(ctx, v.ID, models.StatusActive); err != nil {
		s.metrics.RecordPromotion(string(t), "failed")
		return fmt.Errorf("activate %s: %w", v.ID, err)
	}
	displaced := s.reg.Promote(t, pred, v)
	if displaced != nil {
		if err := s.modelStore.UpdateStatus(ctx, displaced.ID, models.StatusRetired); err != nil {
			s.logger.Error("displaced version not retired",
				applogger.String("model", displaced.ID),
				applogger.Error(err))
		}
	}
	s.resetStreak(t)
	s.metrics.RecordPromotion(string(t), "promoted")
	s.logger.Info("model promoted",
		applogger.String("type", string(t)),
		applogger.String("model", v.ID),
		applogger.Float64("validation_error", v.ValidationError))
	return nil
}

// EvaluateAccuracy scores the trailing evaluation window for every type and
// advances the breach state machine.
func (s *Scheduler) EvaluateAccuracy(ctx context.Context, now time.Time) {
	w := models.Window{From: now.Add(-s.cfg.AccuracyEvery), To: now}
	for _, t := range models.ForecastTypes {
		s.evaluateType(ctx, t, w, now)
	}
}

func (s *Scheduler) evaluateType(ctx context.Context, t models.ForecastType, w models.Window, now time.Time) {
	s.mu.Lock()
	st := s.types[t]
	if st.state == StateRetraining || st.state == StatePromoting {
		// a lifecycle transition is in flight; evaluate again next window
		s.mu.Unlock()
		return
	}
	st.state = StateEvaluating
	st.lastEvaluated = now
	s.mu.Unlock()

	records, err := s.accuracy.Evaluate(ctx, t, w)
	if err != nil {
		s.metrics.RecordError("accuracy_" + string(t))
		s.logger.Warn("accuracy evaluation failed",
			applogger.String("type", string(t)),
			applogger.Error(err))
		s.setState(t, StateCollecting)
		return
	}
	rec, ok := s.servingRecord(t, records)
	if !ok {
		// nothing matured in the window; the streak neither grows nor resets
		s.setState(t, StateCollecting)
		return
	}

	s.mu.Lock()
	if rec.MAPE > s.cfg.MAPEThreshold {
		st.breachStreak++
	} else {
		st.breachStreak = 0
	}
	streak := st.breachStreak
	st.state = StateCollecting
	s.mu.Unlock()

	if streak >= s.cfg.BreachWindows {
		s.logger.Warn("sustained accuracy breach",
			applogger.String("type", string(t)),
			applogger.Int("streak", streak),
			applogger.Float64("mape", rec.MAPE))
		if _, err := s.TriggerRetrain(ctx, t, "accuracy_breach"); err != nil {
			s.logger.Error("breach retrain not enqueued",
				applogger.String("type", string(t)),
				applogger.Error(err))
		}
	}
}

// servingRecord picks the record attributed to the serving version, falling
// back to the best-sampled record when the serving version has none in the
// window, as right after a promotion.
func (s *Scheduler) servingRecord(t models.ForecastType, records []models.AccuracyRecord) (models.AccuracyRecord, bool) {
	if len(records) == 0 {
		return models.AccuracyRecord{}, false
	}
	if _, v, ok := s.reg.Active(t); ok {
		for _, rec := range records {
			if rec.ModelVersion == v.ID {
				return rec, true
			}
		}
	}
	return records[0], true
}

// TypeStatus is one forecast type's lifecycle snapshot.
type TypeStatus struct {
	State         string    `json:"state"`
	BreachStreak  int       `json:"breach_streak"`
	ActiveModel   string    `json:"active_model,omitempty"`
	LastEvaluated time.Time `json:"last_evaluated"`
	LastRetrain   time.Time `json:"last_retrain"`
}

// SchedulerStatus is the full lifecycle snapshot served by the status API.
type SchedulerStatus struct {
	Types    map[string]TypeStatus `json:"types"`
	NextRuns map[string]time.Time  `json:"next_runs"`
}

// Status reports the per-type lifecycle and upcoming cycle times.
func (s *Scheduler) Status() SchedulerStatus {
	versions := s.reg.ActiveVersions()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := SchedulerStatus{
		Types:    make(map[string]TypeStatus, len(s.types)),
		NextRuns: make(map[string]time.Time, len(s.next)),
	}
	for t, st := range s.types {
		out.Types[string(t)] = TypeStatus{
			State:         st.state,
			BreachStreak:  st.breachStreak,
			ActiveModel:   versions[t],
			LastEvaluated: st.lastEvaluated,
			LastRetrain:   st.lastRetrain,
		}
	}
	for k, v := range s.next {
		out.NextRuns[k] = v
	}
	return out
}

func (s *Scheduler) setState(t models.ForecastType, state string) {
	s.mu.Lock()
	s.types[t].state = state
	s.mu.Unlock()
}

func (s *Scheduler) finishRetrain(t models.ForecastType) {
	s.mu.Lock()
	st := s.types[t]
	st.state = StateCollecting
	st.lastRetrain = time.Now().UTC()
	s.mu.Unlock()
}

func (s *Scheduler) resetStreak(t models.ForecastType) {
	s.mu.Lock()
	s.types[t].breachStreak = 0
	s.mu.Unlock()
}
