package models

import (
	"errors"
	"fmt"
	"time"
)

// Recoverable pipeline conditions. None of these are fatal to serving: the
// caller keeps the last published result and retries on the next cycle.
var (
	// ErrInsufficientHistory: fewer than the required hourly samples exist
	// before the requested as-of time.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrNotConverged: the price search exhausted its iteration budget.
	// The caller falls back to the previous cycle's price for that step.
	ErrNotConverged = errors.New("optimization did not converge")

	// ErrPromotionRejected: a candidate was not strictly better than the
	// active model by the configured margin. A recorded decision, not a fault.
	ErrPromotionRejected = errors.New("model promotion rejected")

	// ErrTrainingFailed: a training run aborted; the active model stays in
	// service and the retrain is retried on the next cadence.
	ErrTrainingFailed = errors.New("training failed")
)

// DataQualityError reports a gap longer than the interpolation tolerance.
// The whole window fails rather than silently degrading forecast quality.
type DataQualityError struct {
	EntityID string
	Signal   string
	GapStart time.Time
	GapHours int
}

func (e *DataQualityError) Error() string {
	return fmt.Sprintf("data quality: %s/%s gap of %dh starting %s",
		e.EntityID, e.Signal, e.GapHours, e.GapStart.Format(time.RFC3339))
}
