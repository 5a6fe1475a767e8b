package scheduler

import (
	"sync"

	"github.com/mediaforge/mediaforge/internal/models"
)

// InfoBoard is the in-memory per-customer status surface the delivery
// protocol reads. It is a cache over what this process instance is doing;
// queue membership itself always lives in the store.
type InfoBoard struct {
	mu      sync.RWMutex
	entries map[string]map[string]models.ProcessingInfo // customer -> job id -> info
}

// NewInfoBoard creates an empty board.
func NewInfoBoard() *InfoBoard {
	return &InfoBoard{entries: make(map[string]map[string]models.ProcessingInfo)}
}

// SetProcessing records an in-flight job's progress.
func (b *InfoBoard) SetProcessing(customerID, jobID string, progress, speed float64) {
	b.set(customerID, jobID, models.ProcessingInfo{
		Status:   models.StatusProcessing,
		Progress: progress,
		Speed:    speed,
	})
}

// SetCompleted marks a job finished at full progress.
func (b *InfoBoard) SetCompleted(customerID, jobID string) {
	b.set(customerID, jobID, models.ProcessingInfo{
		Status:   models.StatusCompleted,
		Progress: 100,
	})
}

// SetError records a failed job with its reason.
func (b *InfoBoard) SetError(customerID, jobID, reason string) {
	b.set(customerID, jobID, models.ProcessingInfo{
		Status: models.StatusError,
		Reason: reason,
	})
}

func (b *InfoBoard) set(customerID, jobID string, info models.ProcessingInfo) {
	b.mu.Lock()
	defer b.mu.Unlock()
	jobs, ok := b.entries[customerID]
	if !ok {
		jobs = make(map[string]models.ProcessingInfo)
		b.entries[customerID] = jobs
	}
	jobs[jobID] = info
}

// Snapshot returns a copy of a customer's current map.
func (b *InfoBoard) Snapshot(customerID string) models.InfoMap {
	b.mu.RLock()
	defer b.mu.RUnlock()
	snapshot := make(models.InfoMap, len(b.entries[customerID]))
	for id, info := range b.entries[customerID] {
		snapshot[id] = info
	}
	return snapshot
}

// PurgeErrors removes every error entry of a customer. Called after the
// customer has observed them through a progress pull.
func (b *InfoBoard) PurgeErrors(customerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, info := range b.entries[customerID] {
		if info.Status == models.StatusError {
			delete(b.entries[customerID], id)
		}
	}
}

// Remove drops a single entry, typically after its files were pulled.
func (b *InfoBoard) Remove(customerID, jobID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.entries[customerID], jobID)
}
