package temporal

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockScheduler is a mock implementation of Scheduler for testing.
type MockScheduler struct {
	mu         sync.Mutex
	broadcasts map[string]*BroadcastStatus
	inputs     map[string]BroadcastInput
	prune      *[2]time.Duration // every, retention
	startErr   error
}

// NewMockScheduler creates a new MockScheduler.
func NewMockScheduler() *MockScheduler {
	return &MockScheduler{
		broadcasts: make(map[string]*BroadcastStatus),
		inputs:     make(map[string]BroadcastInput),
	}
}

// StartBroadcast records a running broadcast.
func (m *MockScheduler) StartBroadcast(ctx context.Context, workflowID string, input BroadcastInput) (*BroadcastStatus, error) {
	if m.startErr != nil {
		return nil, m.startErr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.broadcasts[workflowID]; ok {
		return existing, nil
	}
	status := &BroadcastStatus{
		WorkflowID: workflowID,
		RunID:      fmt.Sprintf("run-%d", len(m.broadcasts)+1),
		Status:     "Running",
	}
	m.broadcasts[workflowID] = status
	m.inputs[workflowID] = input
	return status, nil
}

// DescribeBroadcast returns the recorded status.
func (m *MockScheduler) DescribeBroadcast(ctx context.Context, workflowID string) (*BroadcastStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	status, ok := m.broadcasts[workflowID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrBroadcastNotFound, workflowID)
	}
	return status, nil
}

// UpsertPruneSchedule records the prune schedule.
func (m *MockScheduler) UpsertPruneSchedule(ctx context.Context, every, retention time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prune = &[2]time.Duration{every, retention}
	return nil
}

// Complete marks a broadcast as completed with result.
func (m *MockScheduler) Complete(workflowID string, result *BroadcastResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.broadcasts[workflowID]; ok {
		status.Status = "Completed"
		status.Result = result
	}
}

// SetStartError makes StartBroadcast return an error.
func (m *MockScheduler) SetStartError(err error) {
	m.startErr = err
}

// Input returns the input a broadcast was started with.
func (m *MockScheduler) Input(workflowID string) (BroadcastInput, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.inputs[workflowID]
	return in, ok
}

// BroadcastCount returns the number of started broadcasts.
func (m *MockScheduler) BroadcastCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.broadcasts)
}

// PruneSchedule returns the prune schedule, if one was set.
func (m *MockScheduler) PruneSchedule() (every, retention time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.prune == nil {
		return 0, 0, false
	}
	return m.prune[0], m.prune[1], true
}
