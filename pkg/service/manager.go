// Package service coordinates the lifecycle of the process's long-running
// components: registration, priority-ordered startup and reverse-order
// shutdown.
package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/small-frappuccino/galactica/pkg/log"
)

// Priority determines startup order; higher starts first and stops last.
type Priority int

const (
	PriorityLow    Priority = 1
	PriorityNormal Priority = 5
	PriorityHigh   Priority = 10
)

// Service is a long-running component managed by the Manager.
type Service interface {
	Name() string
	Start() error
	Stop(ctx context.Context) error
}

// Wrap adapts start/stop functions into a Service. Either function may be nil.
func Wrap(name string, start func() error, stop func(context.Context) error) Service {
	return &funcService{name: name, start: start, stop: stop}
}

type funcService struct {
	name  string
	start func() error
	stop  func(context.Context) error
}

func (f *funcService) Name() string { return f.name }

func (f *funcService) Start() error {
	if f.start == nil {
		return nil
	}
	return f.start()
}

func (f *funcService) Stop(ctx context.Context) error {
	if f.stop == nil {
		return nil
	}
	return f.stop(ctx)
}

type entry struct {
	svc      Service
	priority Priority
	order    int
	running  bool
}

// Manager starts registered services by priority and stops them in reverse.
type Manager struct {
	mu              sync.Mutex
	entries         []*entry
	shutdownTimeout time.Duration
}

// NewManager returns an empty manager.
func NewManager() *Manager {
	return &Manager{shutdownTimeout: 30 * time.Second}
}

// Register adds a service. Registration order breaks priority ties.
func (m *Manager) Register(svc Service, priority Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, &entry{svc: svc, priority: priority, order: len(m.entries)})
}

// StartAll starts every registered service, highest priority first. On
// failure the already-started services are stopped in reverse before the
// error is returned.
func (m *Manager) StartAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ordered := m.orderedLocked()
	for i, e := range ordered {
		log.ApplicationLogger().Info("Starting service", "service", e.svc.Name())
		if err := e.svc.Start(); err != nil {
			m.stopEntriesLocked(ordered[:i])
			return fmt.Errorf("start service %s: %w", e.svc.Name(), err)
		}
		e.running = true
	}
	return nil
}

// StopAll stops every running service in reverse startup order. All stops are
// attempted; the first error is returned.
func (m *Manager) StopAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stopEntriesLocked(m.orderedLocked())
}

// Running reports whether the named service started and has not been stopped.
func (m *Manager) Running(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.svc.Name() == name {
			return e.running
		}
	}
	return false
}

func (m *Manager) orderedLocked() []*entry {
	ordered := make([]*entry, len(m.entries))
	copy(ordered, m.entries)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].priority != ordered[j].priority {
			return ordered[i].priority > ordered[j].priority
		}
		return ordered[i].order < ordered[j].order
	})
	return ordered
}

func (m *Manager) stopEntriesLocked(started []*entry) error {
	var firstErr error
	for i := len(started) - 1; i >= 0; i-- {
		e := started[i]
		if !e.running {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
		err := e.svc.Stop(ctx)
		cancel()
		if err != nil {
			log.ApplicationLogger().Error("Failed to stop service", "service", e.svc.Name(), "err", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop service %s: %w", e.svc.Name(), err)
			}
		} else {
			log.ApplicationLogger().Info("Service stopped", "service", e.svc.Name())
		}
		e.running = false
	}
	return firstErr
}
