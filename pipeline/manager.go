package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/c360/eventflow/errors"
)

// Manager owns a set of deployed pipelines: it starts them, wires
// them together and shuts them down as a unit.
type Manager struct {
	logger *slog.Logger

	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	order     []string
	deployID  string
	running   bool
}

// NewManager creates an empty pipeline manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:    logger,
		pipelines: map[string]*Pipeline{},
		deployID:  uuid.NewString(),
	}
}

// DeployID identifies this manager's deployment in logs and metrics.
func (m *Manager) DeployID() string { return m.deployID }

// Deploy registers a pipeline. Pipelines deploy before Start and stop
// in reverse deployment order, so downstream pipelines should deploy
// first.
func (m *Manager) Deploy(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Deploy", "deploy before Start")
	}
	if _, exists := m.pipelines[p.ID()]; exists {
		return errors.WrapInvalid(
			fmt.Errorf("pipeline %q already deployed", p.ID()),
			"Manager", "Deploy", "duplicate pipeline check")
	}
	m.pipelines[p.ID()] = p
	m.order = append(m.order, p.ID())
	return nil
}

// Pipeline looks a deployed pipeline up by id.
func (m *Manager) Pipeline(id string) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[id]
	return p, ok
}

// Start starts every deployed pipeline. A failure stops the ones
// already started.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Manager", "Start", "manager lifecycle")
	}
	m.running = true
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	m.logger.Info("starting pipelines", "deploy_id", m.deployID, "count", len(order))

	var started []*Pipeline
	for _, id := range order {
		p := m.pipelines[id]
		if err := p.Start(ctx); err != nil {
			m.stopAll(ctx, started)
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return errors.Wrap(err, "Manager", "Start", fmt.Sprintf("pipeline %q", id))
		}
		started = append(started, p)
	}
	return nil
}

// Stop stops every pipeline in reverse deployment order, draining
// each before moving upstream.
func (m *Manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return errors.WrapInvalid(errors.ErrNotStarted, "Manager", "Stop", "manager lifecycle")
	}
	m.running = false
	order := append([]string(nil), m.order...)
	m.mu.Unlock()

	// Reverse deployment order: upstream pipelines drain first so
	// nothing feeds a pipeline that has already stopped.
	var firstErr error
	for i := len(order) - 1; i >= 0; i-- {
		p := m.pipelines[order[i]]
		if err := p.Stop(ctx); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "Manager", "Stop", fmt.Sprintf("pipeline %q", p.ID()))
		}
	}
	m.logger.Info("pipelines stopped", "deploy_id", m.deployID)
	return firstErr
}

func (m *Manager) stopAll(ctx context.Context, pipelines []*Pipeline) {
	for i := len(pipelines) - 1; i >= 0; i-- {
		if err := pipelines[i].Stop(ctx); err != nil {
			m.logger.Error("pipeline stop failed during rollback",
				"pipeline", pipelines[i].ID(), "error", err)
		}
	}
}
