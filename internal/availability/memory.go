package availability

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStore keeps weekly schedules in process. It serves single-instance
// deployments without Redis and the schedctl CLI.
type MemoryStore struct {
	mu       sync.RWMutex
	weeks    map[string]WeeklySchedule
	defaults Defaults
	now      func() time.Time
}

// NewMemoryStore creates an empty store that falls back to defaults.
func NewMemoryStore(defaults Defaults) *MemoryStore {
	return &MemoryStore{weeks: make(map[string]WeeklySchedule), defaults: defaults, now: time.Now}
}

// Get returns the stored week or the defaults.
func (m *MemoryStore) Get(_ context.Context, therapistID string) (*WeeklySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	week, ok := m.weeks[therapistID]
	if !ok {
		week = m.defaults.Week(therapistID)
	}
	return &week, nil
}

// Set validates and stores a week.
func (m *MemoryStore) Set(_ context.Context, week *WeeklySchedule) error {
	if week == nil || week.TherapistID == "" {
		return fmt.Errorf("%w: therapist_id required", ErrInvalidSchedule)
	}
	if err := week.Validate(); err != nil {
		return err
	}
	week.UpdatedAt = m.now().UTC()
	m.mu.Lock()
	m.weeks[week.TherapistID] = *week
	m.mu.Unlock()
	return nil
}

// Delete forgets a stored week.
func (m *MemoryStore) Delete(_ context.Context, therapistID string) error {
	m.mu.Lock()
	delete(m.weeks, therapistID)
	m.mu.Unlock()
	return nil
}
