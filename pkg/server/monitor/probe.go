package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinybeacon/pkg/config"
)

// probeStaleAfter is how long a success keeps the store healthy without
// another one.
const probeStaleAfter = 5 * config.StorageProbeInterval

// maxConsecutiveFailures is the failure streak tolerated before the store
// is reported degraded.
const maxConsecutiveFailures = 3

// ProbeMonitor tracks the health of the periodic storage probe.
type ProbeMonitor struct {
	mu                sync.RWMutex
	now               func() time.Time
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
}

// NewProbeMonitor creates a monitor. now may be nil.
func NewProbeMonitor(now func() time.Time) *ProbeMonitor {
	if now == nil {
		now = time.Now
	}
	return &ProbeMonitor{now: now}
}

func (pm *ProbeMonitor) clock() time.Time {
	if pm.now == nil {
		return time.Now()
	}
	return pm.now()
}

// RecordSuccess records a successful probe.
func (pm *ProbeMonitor) RecordSuccess() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	now := pm.clock()
	pm.lastSuccess = now
	pm.lastAttempt = now
	pm.consecutiveErrors = 0
	pm.lastError = ""
}

// RecordFailure records a failed probe.
func (pm *ProbeMonitor) RecordFailure(err error) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.lastAttempt = pm.clock()
	pm.consecutiveErrors++
	if err != nil {
		pm.lastError = err.Error()
	}
}

// IsHealthy returns true if the store is answering.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within probeStaleAfter
//   - More than maxConsecutiveFailures consecutive failures
func (pm *ProbeMonitor) IsHealthy() bool {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.healthyLocked()
}

func (pm *ProbeMonitor) healthyLocked() bool {
	if pm.lastSuccess.IsZero() {
		return false
	}
	if pm.clock().Sub(pm.lastSuccess) > probeStaleAfter {
		return false
	}
	return pm.consecutiveErrors <= maxConsecutiveFailures
}

// ConsecutiveErrors is the current failure streak.
func (pm *ProbeMonitor) ConsecutiveErrors() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return pm.consecutiveErrors
}

// ProbeStatus is the storage section of the health response.
type ProbeStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current probe status for health checks.
func (pm *ProbeMonitor) Status() ProbeStatus {
	pm.mu.RLock()
	defer pm.mu.RUnlock()

	status := ProbeStatus{
		Healthy: pm.healthyLocked(),
	}

	if !pm.lastSuccess.IsZero() {
		status.LastSuccess = pm.lastSuccess.UTC().Format(time.RFC3339)
		status.TimeSinceSuccess = pm.clock().Sub(pm.lastSuccess).Round(time.Second).String()
	}

	if !pm.lastAttempt.IsZero() {
		status.LastAttempt = pm.lastAttempt.UTC().Format(time.RFC3339)
	}

	if pm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = pm.consecutiveErrors
		status.LastError = pm.lastError
	}

	return status
}
