// Package system defines the lifecycle contract for long-running
// components and a manager that starts and stops them in order.
package system

import (
	"context"
	"fmt"

	"github.com/marbledao/market-layer/pkg/logger"
)

// Service is a long-running component with an ordered lifecycle.
type Service interface {
	Name() string
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Manager starts registered services in registration order and stops
// them in reverse.
type Manager struct {
	services []Service
	log      *logger.Logger
}

// NewManager creates an empty manager.
func NewManager(log *logger.Logger) *Manager {
	if log == nil {
		log = logger.NewDefault("system")
	}
	return &Manager{log: log}
}

// Register adds a service. Registration order is start order.
func (m *Manager) Register(svc Service) {
	m.services = append(m.services, svc)
}

// StartAll starts every service. On failure the already started
// services are stopped before returning.
func (m *Manager) StartAll(ctx context.Context) error {
	for i, svc := range m.services {
		if err := svc.Start(ctx); err != nil {
			m.stopFrom(ctx, i-1)
			return fmt.Errorf("start %s: %w", svc.Name(), err)
		}
		m.log.WithField("service", svc.Name()).Info("service started")
	}
	return nil
}

// StopAll stops every service in reverse order. Individual failures are
// logged and do not block the rest.
func (m *Manager) StopAll(ctx context.Context) {
	m.stopFrom(ctx, len(m.services)-1)
}

func (m *Manager) stopFrom(ctx context.Context, index int) {
	for i := index; i >= 0; i-- {
		svc := m.services[i]
		if err := svc.Stop(ctx); err != nil {
			m.log.WithError(err).WithField("service", svc.Name()).Warn("service stop failed")
			continue
		}
		m.log.WithField("service", svc.Name()).Info("service stopped")
	}
}

// NoopService satisfies Service for components with no background work.
type NoopService struct {
	ServiceName string
}

func (s NoopService) Name() string                { return s.ServiceName }
func (s NoopService) Start(context.Context) error { return nil }
func (s NoopService) Stop(context.Context) error  { return nil }
