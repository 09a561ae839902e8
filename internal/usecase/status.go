package usecase

import (
	"sort"
	"sync"
	"time"

	"FinTrain/internal/domain/models"
)

// StatusTracker keeps the externally visible per-instrument state machine
// position. Reads come from the status API and WebSocket watchers while a
// run mutates it, so all access goes through the lock.
type StatusTracker struct {
	mu       sync.RWMutex
	statuses map[string]*models.InstrumentStatus
}

// NewStatusTracker seeds every configured instrument in the idle stage.
func NewStatusTracker(symbols []string) *StatusTracker {
	t := &StatusTracker{statuses: make(map[string]*models.InstrumentStatus, len(symbols))}
	now := time.Now().UTC()
	for _, s := range symbols {
		t.statuses[s] = &models.InstrumentStatus{Symbol: s, Stage: models.StageIdle, UpdatedAt: now}
	}
	return t
}

// SetStage moves an instrument to a new stage.
func (t *StatusTracker) SetStage(symbol string, stage models.Stage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ensure(symbol)
	st.Stage = stage
	st.UpdatedAt = time.Now().UTC()
}

// Finish records a terminal outcome for an instrument.
func (t *StatusTracker) Finish(symbol string, stage models.Stage, outcome bool, reason, version string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st := t.ensure(symbol)
	st.Stage = stage
	st.LastOutcome = &outcome
	st.LastReason = reason
	if version != "" {
		st.DeployedVersion = version
	}
	st.UpdatedAt = time.Now().UTC()
}

// Get returns one instrument's status.
func (t *StatusTracker) Get(symbol string) (models.InstrumentStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.statuses[symbol]
	if !ok {
		return models.InstrumentStatus{}, false
	}
	return *st, true
}

// All returns every tracked instrument, ordered by symbol.
func (t *StatusTracker) All() []models.InstrumentStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]models.InstrumentStatus, 0, len(t.statuses))
	for _, st := range t.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (t *StatusTracker) ensure(symbol string) *models.InstrumentStatus {
	st, ok := t.statuses[symbol]
	if !ok {
		st = &models.InstrumentStatus{Symbol: symbol, Stage: models.StageIdle}
		t.statuses[symbol] = st
	}
	return st
}
