// Package liveness watches the process that launched the supervisor and ends
// the supervisor once that process is gone.
package liveness

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"dprint-plugin-yapf/internal/logging"
)

// Status is the outcome of a single liveness probe.
type Status int

const (
	Unknown Status = iota
	Alive
	Dead
)

func (s Status) String() string {
	switch s {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Checker reports whether pid still refers to the original parent process.
type Checker interface {
	Probe(pid int) Status
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(pid int) Status

func (f CheckerFunc) Probe(pid int) Status { return f(pid) }

const DefaultInterval = 3 * time.Second

var ErrNoParentPID = errors.New("parent process id is required")

// Monitor polls Checker every Interval and calls OnOrphaned once the parent
// is reported Dead. Unknown results are treated as alive.
type Monitor struct {
	PID        int
	Interval   time.Duration
	Checker    Checker
	OnOrphaned func()
	Logger     *logging.Logger

	once sync.Once
}

// NewMonitor returns a Monitor using the platform checker and a hard
// process exit as its orphan action.
func NewMonitor(pid int, interval time.Duration) (*Monitor, error) {
	if pid <= 0 {
		return nil, ErrNoParentPID
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Monitor{
		PID:        pid,
		Interval:   interval,
		Checker:    NewChecker(pid),
		OnOrphaned: func() { os.Exit(0) },
		Logger:     logging.WithFields(map[string]interface{}{"component": "liveness", "parent_pid": pid}),
	}, nil
}

// Start runs the monitor in its own goroutine and returns immediately.
func (m *Monitor) Start(ctx context.Context) {
	go m.Run(ctx)
}

// Run blocks until ctx is done or the parent is found dead.
func (m *Monitor) Run(ctx context.Context) {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		switch status := m.Checker.Probe(m.PID); status {
		case Dead:
			m.Logger.Debug("parent process exited, terminating", nil)
			m.once.Do(m.orphaned)
			return
		case Unknown:
			m.Logger.Debug("parent liveness unknown", nil)
		}
	}
}

func (m *Monitor) orphaned() {
	logging.Sync()
	if m.OnOrphaned != nil {
		m.OnOrphaned()
	}
}
