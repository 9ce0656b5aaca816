// Package health runs dependency checks for the HTTP API's /health route.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// CheckFunc is a function that checks a dependency's health.
type CheckFunc func(ctx context.Context) Status

// Report is the aggregated result of all checks.
type Report struct {
	Status Status            `json:"status"`
	Checks map[string]Status `json:"checks"`
}

// Ready reports whether no check is down.
func (r Report) Ready() bool { return r.Status != StatusDown }

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   map[string]Status
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		cache:   make(map[string]Status),
		timeout: 5 * time.Second,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for n := range c.checks {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Status {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Status, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			s := f(checkCtx)
			if s != StatusOK {
				c.logger.Warn().Str("check", n).Str("status", string(s)).Msg("health check not ok")
			}
			mu.Lock()
			results[n] = s
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Report runs all checks and aggregates them: down if any check is down,
// degraded if any is degraded, ok otherwise.
func (c *Checker) Report(ctx context.Context) Report {
	results := c.RunAll(ctx)
	overall := StatusOK
	for _, s := range results {
		switch {
		case s == StatusDown:
			overall = StatusDown
		case s == StatusDegraded && overall == StatusOK:
			overall = StatusDegraded
		}
	}
	return Report{Status: overall, Checks: results}
}

// IsReady returns true if no check is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return c.Report(ctx).Ready()
}

// Pinger is satisfied by *store.Store and *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) PingContext(ctx context.Context) error { return f(ctx) }

// PingFunc adapts a ping function such as (*store.Store).Ping.
func PingFunc(f func(ctx context.Context) error) Pinger { return pingFunc(f) }

// DatabaseCheck is down when the database does not answer a ping.
func DatabaseCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) Status {
		if err := p.PingContext(ctx); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

// TrackerCheck is degraded when no tracker credential is configured: the
// service still serves sync downloads and commits without one.
func TrackerCheck(configured bool) CheckFunc {
	return func(context.Context) Status {
		if !configured {
			return StatusDegraded
		}
		return StatusOK
	}
}

// MirrorCheck is down when a file cannot be created in the mirror root.
func MirrorCheck(root string) CheckFunc {
	return func(context.Context) Status {
		if err := probeWritable(root); err != nil {
			return StatusDown
		}
		return StatusOK
	}
}

func probeWritable(root string) error {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(root, ".health-*")
	if err != nil {
		return fmt.Errorf("mirror root not writable: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(filepath.Clean(name))
}
