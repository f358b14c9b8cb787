package monitor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// HealthStatus represents health status
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ProbeFunc inspects one dependency. A nil error is healthy.
type ProbeFunc func(ctx context.Context) (HealthStatus, error)

// HealthCheck represents a health check
type HealthCheck struct {
	Name        string       `json:"name"`
	Status      HealthStatus `json:"status"`
	LastCheck   time.Time    `json:"last_check"`
	LastError   string       `json:"last_error,omitempty"`
	Description string       `json:"description"`

	probe ProbeFunc
}

// HealthReport is the /health payload
type HealthReport struct {
	Status    HealthStatus  `json:"status"`
	Checks    []HealthCheck `json:"checks"`
	Timestamp time.Time     `json:"timestamp"`
}

// SystemHealthChecker runs named probes and aggregates their status
type SystemHealthChecker struct {
	checks map[string]*HealthCheck
	mu     sync.RWMutex
}

// NewSystemHealthChecker creates a new system health checker
func NewSystemHealthChecker() *SystemHealthChecker {
	return &SystemHealthChecker{
		checks: make(map[string]*HealthCheck),
	}
}

// AddCheck registers a probe. Without a probe the check stays healthy until UpdateCheck.
func (shc *SystemHealthChecker) AddCheck(name, description string, probe ProbeFunc) {
	shc.mu.Lock()
	defer shc.mu.Unlock()

	shc.checks[name] = &HealthCheck{
		Name:        name,
		Status:      HealthStatusHealthy,
		LastCheck:   time.Now(),
		Description: description,
		probe:       probe,
	}
}

// UpdateCheck updates a health check status
func (shc *SystemHealthChecker) UpdateCheck(name string, status HealthStatus, lastError string) error {
	shc.mu.Lock()
	defer shc.mu.Unlock()

	check, exists := shc.checks[name]
	if !exists {
		return fmt.Errorf("health check not found: %s", name)
	}

	check.Status = status
	check.LastCheck = time.Now()
	check.LastError = lastError
	return nil
}

// Run executes every probe and returns the aggregated report
func (shc *SystemHealthChecker) Run(ctx context.Context) HealthReport {
	shc.mu.RLock()
	names := make([]string, 0, len(shc.checks))
	for name := range shc.checks {
		names = append(names, name)
	}
	shc.mu.RUnlock()
	sort.Strings(names)

	// probes run without the lock; they may block on the network
	for _, name := range names {
		shc.mu.RLock()
		probe := shc.checks[name].probe
		shc.mu.RUnlock()
		if probe == nil {
			continue
		}

		status, err := probe(ctx)
		msg := ""
		if err != nil {
			msg = err.Error()
			if status == HealthStatusHealthy || status == "" {
				status = HealthStatusUnhealthy
			}
		}
		if status == "" {
			status = HealthStatusHealthy
		}
		_ = shc.UpdateCheck(name, status, msg)
	}

	report := HealthReport{Status: shc.GetOverallStatus(), Timestamp: time.Now().UTC()}
	shc.mu.RLock()
	for _, name := range names {
		report.Checks = append(report.Checks, *shc.checks[name])
	}
	shc.mu.RUnlock()
	return report
}

// GetCheck gets a health check
func (shc *SystemHealthChecker) GetCheck(name string) (HealthCheck, error) {
	shc.mu.RLock()
	defer shc.mu.RUnlock()

	check, exists := shc.checks[name]
	if !exists {
		return HealthCheck{}, fmt.Errorf("health check not found: %s", name)
	}
	return *check, nil
}

// GetOverallStatus gets overall system health status
func (shc *SystemHealthChecker) GetOverallStatus() HealthStatus {
	shc.mu.RLock()
	defer shc.mu.RUnlock()

	hasUnhealthy := false
	hasDegraded := false

	for _, check := range shc.checks {
		switch check.Status {
		case HealthStatusUnhealthy:
			hasUnhealthy = true
		case HealthStatusDegraded:
			hasDegraded = true
		}
	}

	if hasUnhealthy {
		return HealthStatusUnhealthy
	}
	if hasDegraded {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}
