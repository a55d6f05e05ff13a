// Package handlers holds the probes behind the worker's ops endpoints.
package handlers

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// CheckFunc returns nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

// Pinger is implemented by the Postgres pool and the Redis cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingCheck adapts a Pinger.
func PingCheck(p Pinger) CheckFunc {
	return p.Ping
}

// HealthStatus is the readiness report.
type HealthStatus struct {
	Healthy   bool                   `json:"healthy"`
	Message   string                 `json:"message,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
	Uptime    string                 `json:"uptime,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version,omitempty"`
}

// CheckResult is the outcome of one named check.
type CheckResult struct {
	Healthy  bool   `json:"healthy"`
	Message  string `json:"message,omitempty"`
	Duration string `json:"duration,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// COMPOSITE HEALTH CHECKER
// ══════════════════════════════════════════════════════════════════════════════

// HealthChecker runs named checks concurrently, each under its own timeout.
type HealthChecker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	started time.Time
	version string
	timeout time.Duration
}

// NewHealthChecker creates a checker with a 5s per-check timeout.
func NewHealthChecker(version string) *HealthChecker {
	return &HealthChecker{
		checks:  make(map[string]CheckFunc),
		started: time.Now(),
		version: version,
		timeout: 5 * time.Second,
	}
}

// SetTimeout bounds each check.
func (c *HealthChecker) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Add registers or replaces a check.
func (c *HealthChecker) Add(name string, check CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Uptime since the checker was created.
func (c *HealthChecker) Uptime() time.Duration {
	return time.Since(c.started)
}

// Check runs every registered check. A checker with no checks is healthy.
func (c *HealthChecker) Check(ctx context.Context) HealthStatus {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for name, fn := range c.checks {
		checks[name] = fn
	}
	c.mu.RUnlock()

	status := HealthStatus{
		Healthy:   true,
		Checks:    make(map[string]CheckResult, len(checks)),
		Uptime:    c.Uptime().Round(time.Second).String(),
		Timestamp: time.Now().UTC(),
		Version:   c.version,
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for name, fn := range checks {
		wg.Add(1)
		go func(name string, fn CheckFunc) {
			defer wg.Done()

			cctx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			err := fn(cctx)
			result := CheckResult{
				Healthy:  err == nil,
				Message:  "OK",
				Duration: time.Since(start).Round(time.Millisecond).String(),
			}
			if err != nil {
				result.Message = err.Error()
			}

			mu.Lock()
			status.Checks[name] = result
			mu.Unlock()
		}(name, fn)
	}
	wg.Wait()

	var failed []string
	for name, r := range status.Checks {
		if !r.Healthy {
			failed = append(failed, name)
		}
	}
	sort.Strings(failed)

	switch {
	case len(checks) == 0:
		status.Message = "no checks registered"
	case len(failed) == 0:
		status.Message = "all checks passed"
	default:
		status.Healthy = false
		status.Message = "failing: " + strings.Join(failed, ", ")
	}
	return status
}
