// Package health probes upstream services (the reasoning provider, the
// data APIs) in the background so the API can report readiness without
// calling them on every request.
//
// A failing upstream is retried with exponential backoff (2s, 4s, ...
// capped at 60s); a healthy one is re-checked every poll interval.
package health

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc"
)

// Probe checks whether an upstream is reachable. Return nil if healthy.
type Probe func(ctx context.Context) error

// Schedule controls probe timing.
type Schedule struct {
	// InitialDelay is the first retry delay after a failure.
	InitialDelay time.Duration
	// MaxDelay caps the retry delay.
	MaxDelay time.Duration
	// PollInterval is the re-check interval while healthy.
	PollInterval time.Duration
	// ProbeTimeout bounds each probe call.
	ProbeTimeout time.Duration
}

// DefaultSchedule returns the production probe timing.
func DefaultSchedule() Schedule {
	return Schedule{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (s Schedule) withDefaults() Schedule {
	d := DefaultSchedule()
	if s.InitialDelay <= 0 {
		s.InitialDelay = d.InitialDelay
	}
	if s.MaxDelay < s.InitialDelay {
		s.MaxDelay = max(d.MaxDelay, s.InitialDelay)
	}
	if s.PollInterval <= 0 {
		s.PollInterval = d.PollInterval
	}
	if s.ProbeTimeout <= 0 {
		s.ProbeTimeout = d.ProbeTimeout
	}
	return s
}

// Status is the last known state of one upstream.
type Status struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

type check struct {
	name   string
	probe  Probe
	sched  Schedule
	logger *slog.Logger

	mu     sync.Mutex
	status Status
}

// Monitor runs one background probe loop per registered upstream.
type Monitor struct {
	logger *slog.Logger
	wg     conc.WaitGroup

	mu     sync.RWMutex
	checks map[string]*check
}

// NewMonitor creates an empty monitor.
func NewMonitor(logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		logger: logger.With("component", "health"),
		checks: make(map[string]*check),
	}
}

// Watch starts probing name until ctx is cancelled. Registering the same
// name twice panics.
func (m *Monitor) Watch(ctx context.Context, name string, probe Probe, sched Schedule) {
	if name == "" || probe == nil {
		panic("health: Watch requires a name and a probe")
	}
	c := &check{
		name:   name,
		probe:  probe,
		sched:  sched.withDefaults(),
		logger: m.logger,
		status: Status{Name: name},
	}

	m.mu.Lock()
	if _, dup := m.checks[name]; dup {
		m.mu.Unlock()
		panic("health: duplicate upstream " + name)
	}
	m.checks[name] = c
	m.mu.Unlock()

	m.wg.Go(func() { c.run(ctx) })
}

// Status returns a snapshot of every upstream keyed by name.
func (m *Monitor) Status() map[string]Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]Status, len(m.checks))
	for name, c := range m.checks {
		out[name] = c.snapshot()
	}
	return out
}

// Ready reports whether every upstream answered its latest probe.
func (m *Monitor) Ready() bool {
	for _, s := range m.Status() {
		if !s.Ready {
			return false
		}
	}
	return true
}

// Names returns the watched upstream names, sorted.
func (m *Monitor) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.checks))
	for name := range m.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Wait blocks until every probe loop has exited. Cancel the contexts
// passed to Watch first.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (c *check) run(ctx context.Context) {
	delay := c.sched.InitialDelay
	for {
		err := c.once(ctx)
		if ctx.Err() != nil {
			return
		}

		next := c.sched.PollInterval
		if err != nil {
			next = delay
			delay = min(delay*2, c.sched.MaxDelay)
		} else {
			delay = c.sched.InitialDelay
		}

		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (c *check) once(ctx context.Context) error {
	pctx, cancel := context.WithTimeout(ctx, c.sched.ProbeTimeout)
	defer cancel()
	err := c.probe(pctx)
	if ctx.Err() != nil {
		return err
	}

	c.mu.Lock()
	wasReady := c.status.Ready
	c.status.Ready = err == nil
	c.status.LastCheck = time.Now()
	c.status.LastError = ""
	if err != nil {
		c.status.LastError = err.Error()
	}
	c.mu.Unlock()

	switch {
	case err == nil && !wasReady:
		c.logger.Info("upstream reachable", "upstream", c.name)
	case err != nil && wasReady:
		c.logger.Warn("upstream became unreachable", "upstream", c.name, "error", err)
	case err != nil:
		c.logger.Debug("upstream still unreachable", "upstream", c.name, "error", err)
	}
	return err
}

func (c *check) snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}
