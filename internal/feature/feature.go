// Package feature manages the lifecycle of the bot's independent
// features.
package feature

import (
	"context"
	"fmt"
	"log/slog"
)

// Feature is one self-contained capability with its own init and
// shutdown.
type Feature interface {
	Name() string
	Init(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// Manager initializes and shuts down a set of features in
// registration order.
type Manager struct {
	features []Feature
	logger   *slog.Logger
}

// NewManager creates an empty feature manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger}
}

// Add registers a feature.
func (m *Manager) Add(f Feature) {
	m.features = append(m.features, f)
	m.logger.Info("added feature", "feature", f.Name())
}

// InitAll initializes every feature in order. The first failure
// aborts: a half-initialized process must not limp along.
func (m *Manager) InitAll(ctx context.Context) error {
	for _, f := range m.features {
		if err := f.Init(ctx); err != nil {
			return fmt.Errorf("initialize feature %s: %w", f.Name(), err)
		}
		m.logger.Info("initialized feature", "feature", f.Name())
	}
	return nil
}

// ShutdownAll shuts down every feature, best-effort: one failure does
// not stop the rest.
func (m *Manager) ShutdownAll(ctx context.Context) {
	for _, f := range m.features {
		if err := f.Shutdown(ctx); err != nil {
			m.logger.Error("feature shutdown failed", "feature", f.Name(), "error", err)
			continue
		}
		m.logger.Info("feature shut down", "feature", f.Name())
	}
}
