package scheduler

import (
	"sync"
	"time"
)

// TaskMetrics tracks evaluation statistics for one task
type TaskMetrics struct {
	mu sync.RWMutex

	// Evaluation counts
	Evaluations int64
	Matches     int64
	Fires       int64
	Failures    int64

	// Timing statistics
	TotalDuration   time.Duration
	MaxDuration     time.Duration
	AverageDuration time.Duration
	LastEvaluation  time.Time

	// Error tracking
	LastError         error
	LastErrorTime     time.Time
	ConsecutiveErrors int64
}

// NewTaskMetrics creates a new metrics tracker
func NewTaskMetrics() *TaskMetrics {
	return &TaskMetrics{}
}

// RecordEvaluation records one evaluation with its timing and outcome
func (m *TaskMetrics) RecordEvaluation(duration time.Duration, matched, fired bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Evaluations++
	m.LastEvaluation = time.Now()

	m.TotalDuration += duration
	if duration > m.MaxDuration {
		m.MaxDuration = duration
	}
	m.AverageDuration = m.TotalDuration / time.Duration(m.Evaluations)

	if matched {
		m.Matches++
	}
	if err != nil {
		m.Failures++
		m.ConsecutiveErrors++
		m.LastError = err
		m.LastErrorTime = time.Now()
		return
	}
	if fired {
		m.Fires++
	}
	m.ConsecutiveErrors = 0
}

// Reset clears all counters. The lock itself is left alone.
func (m *TaskMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Evaluations = 0
	m.Matches = 0
	m.Fires = 0
	m.Failures = 0
	m.TotalDuration = 0
	m.MaxDuration = 0
	m.AverageDuration = 0
	m.LastEvaluation = time.Time{}
	m.LastError = nil
	m.LastErrorTime = time.Time{}
	m.ConsecutiveErrors = 0
}

// IsHealthy reports whether consecutive errors are below the threshold
func (m *TaskMetrics) IsHealthy(consecutiveErrorThreshold int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if consecutiveErrorThreshold <= 0 {
		consecutiveErrorThreshold = 3
	}
	return m.ConsecutiveErrors < consecutiveErrorThreshold
}

// GetStats returns a snapshot of current metrics
func (m *TaskMetrics) GetStats() TaskStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := TaskStats{
		Evaluations:       m.Evaluations,
		Matches:           m.Matches,
		Fires:             m.Fires,
		Failures:          m.Failures,
		AverageDuration:   m.AverageDuration,
		MaxDuration:       m.MaxDuration,
		LastEvaluation:    m.LastEvaluation,
		ConsecutiveErrors: m.ConsecutiveErrors,
		LastErrorTime:     m.LastErrorTime,
	}
	if m.Evaluations > 0 {
		stats.ErrorRate = float64(m.Failures) / float64(m.Evaluations) * 100.0
	}
	if m.LastError != nil {
		stats.LastError = m.LastError.Error()
	}
	return stats
}

// TaskStats is an immutable snapshot of task metrics
type TaskStats struct {
	Evaluations       int64         `json:"evaluations"`
	Matches           int64         `json:"matches"`
	Fires             int64         `json:"fires"`
	Failures          int64         `json:"failures"`
	AverageDuration   time.Duration `json:"average_duration"`
	MaxDuration       time.Duration `json:"max_duration"`
	LastEvaluation    time.Time     `json:"last_evaluation"`
	ErrorRate         float64       `json:"error_rate"`
	ConsecutiveErrors int64         `json:"consecutive_errors"`
	LastError         string        `json:"last_error,omitempty"`
	LastErrorTime     time.Time     `json:"last_error_time"`
}
