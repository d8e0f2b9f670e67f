package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"GridCast/internal/domain/models"
	applogger "GridCast/pkg/logger"
	"GridCast/pkg/queue"
)

// retrainLockTTL caps how long a crashed holder can block a type from
// retraining elsewhere.
const retrainLockTTL = 30 * time.Minute

// TrainLocker serializes training per forecast type across replicas. The
// queue hands each message to one worker, but independently triggered
// retrains for the same type can still land on different instances.
type TrainLocker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// RetrainJob consumes queued retrain requests and runs them through the
// scheduler. Outcomes that are decisions rather than faults, a rejected
// promotion or not enough history yet, complete the message instead of
// burning queue retries.
type RetrainJob struct {
	sched  *Scheduler
	locker TrainLocker
	logger *applogger.Logger
}

func NewRetrainJob(sched *Scheduler, locker TrainLocker, l *applogger.Logger) *RetrainJob {
	return &RetrainJob{sched: sched, locker: locker, logger: l}
}

func (j *RetrainJob) Name() string { return "model-retrain" }

func (j *RetrainJob) Type() string { return MsgTypeRetrain }

func (j *RetrainJob) Handle(ctx context.Context, payload interface{}) error {
	p, err := queue.ParsePayload[RetrainPayload](payload)
	if err != nil {
		return fmt.Errorf("retrain payload: %w", err)
	}

	if j.locker != nil {
		key := "retrain:" + p.Type
		ok, lerr := j.locker.TryLock(ctx, key, retrainLockTTL)
		if lerr != nil {
			// a broken lock store must not stop training on this replica
			j.logger.Warn("retrain lock unavailable, proceeding",
				applogger.String("type", p.Type),
				applogger.Error(lerr))
		} else if !ok {
			j.logger.Info("retrain already running on another instance",
				applogger.String("type", p.Type))
			return nil
		} else {
			defer func() {
				if uerr := j.locker.Unlock(context.Background(), key); uerr != nil {
					j.logger.Warn("retrain unlock failed", applogger.Error(uerr))
				}
			}()
		}
	}

	err = j.sched.Retrain(ctx, models.ForecastType(p.Type))
	switch {
	case err == nil:
		return nil
	case errors.Is(err, models.ErrPromotionRejected):
		return nil
	case errors.Is(err, models.ErrInsufficientHistory):
		// history accrues on the forecast cadence, not on queue retry delays
		j.logger.Warn("retrain deferred until enough history",
			applogger.String("type", p.Type),
			applogger.String("reason", p.Reason))
		return nil
	default:
		return err
	}
}

var _ queue.Job = (*RetrainJob)(nil)
