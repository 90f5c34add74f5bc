// Package replay tracks whether a replay run is active in this process.
// The replay harness itself is external; the registry only gates the
// scheduler and tags the API view.
package replay

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning rejects a second Start while a run is active.
var ErrAlreadyRunning = errors.New("replay run already in progress")

// Status is the registry's externally visible state.
type Status struct {
	Running   bool       `json:"running"`
	Label     string     `json:"label,omitempty"`
	StartedAt *time.Time `json:"started_at,omitempty"`
}

// Registry is the process-local replay state. While a run is active the
// scheduler suppresses its triggers.
type Registry struct {
	mu        sync.RWMutex
	running   bool
	label     string
	startedAt time.Time
	logger    zerolog.Logger
}

// NewRegistry creates an idle registry.
func NewRegistry() *Registry {
	return &Registry{
		logger: log.With().Str("component", "replay").Logger(),
	}
}

// Start marks a replay run active.
func (r *Registry) Start(label string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return ErrAlreadyRunning
	}
	r.running = true
	r.label = label
	r.startedAt = time.Now().UTC()
	r.logger.Info().Str("label", label).Msg("Replay run started, live triggers suppressed")
	return nil
}

// Stop clears the running state. Safe to call when idle.
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.logger.Info().
		Str("label", r.label).
		Dur("duration", time.Since(r.startedAt)).
		Msg("Replay run stopped")
	r.running = false
	r.label = ""
	r.startedAt = time.Time{}
}

// Running reports whether a replay run is active.
func (r *Registry) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Status snapshots the registry state.
func (r *Registry) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return Status{}
	}
	started := r.startedAt
	return Status{Running: true, Label: r.label, StartedAt: &started}
}
