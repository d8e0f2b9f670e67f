package registry

import (
	"sync"

	"GridCast/internal/domain/models"
	"GridCast/internal/domain/service"
)

type slot struct {
	predictor service.Predictor
	version   *models.ModelVersion
}

// Models holds the serving predictor per forecast type. Each type owns one
// slot; Promote replaces the whole slot under the write lock, so a reader
// sees either the outgoing pair or the incoming pair, never a mix. The
// exclusive section is the swap only, so promoting one type never blocks
// reads for another.
type Models struct {
	mu    sync.RWMutex
	slots map[models.ForecastType]slot
}

func NewModels() *Models {
	return &Models{slots: make(map[models.ForecastType]slot)}
}

// Active returns the serving predictor and version for a type.
func (m *Models) Active(t models.ForecastType) (service.Predictor, *models.ModelVersion, bool) {
	m.mu.RLock()
	s, ok := m.slots[t]
	m.mu.RUnlock()
	if !ok {
		return nil, nil, false
	}
	return s.predictor, s.version, true
}

// Promote installs a predictor as the single active model for its type and
// returns the version it displaced, nil when the slot was empty. Callers
// must not mutate version or predictor after promotion.
func (m *Models) Promote(t models.ForecastType, p service.Predictor, v *models.ModelVersion) *models.ModelVersion {
	m.mu.Lock()
	prev := m.slots[t]
	m.slots[t] = slot{predictor: p, version: v}
	m.mu.Unlock()
	return prev.version
}

// ActiveVersions maps each populated type to its serving version id.
func (m *Models) ActiveVersions() map[models.ForecastType]string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[models.ForecastType]string, len(m.slots))
	for t, s := range m.slots {
		if s.version != nil {
			out[t] = s.version.ID
		}
	}
	return out
}
