package node

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// Service is a subsystem the node starts and stops.
type Service interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// ServiceManager starts services in order and stops the started ones in
// reverse order.
type ServiceManager struct {
	services []Service
	started  int
	logger   *zap.Logger
}

// NewServiceManager creates a service manager.
func NewServiceManager(logger *zap.Logger) *ServiceManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ServiceManager{logger: logger}
}

// Add appends a service to the manager.
func (sm *ServiceManager) Add(svc Service) {
	sm.services = append(sm.services, svc)
}

// StartAll starts all services in order. On failure the services already
// started are stopped again and the manager is left with none running.
func (sm *ServiceManager) StartAll(ctx context.Context) error {
	for _, svc := range sm.services {
		sm.logger.Info("starting service", zap.String("name", svc.Name()))
		if err := svc.Start(ctx); err != nil {
			startErr := fmt.Errorf("start %s: %w", svc.Name(), err)
			if stopErr := sm.StopAll(); stopErr != nil {
				sm.logger.Error("rollback after failed start", zap.Error(stopErr))
			}
			return startErr
		}
		sm.started++
	}
	return nil
}

// StopAll stops the started services in reverse order. Every service is
// asked to stop even when an earlier one fails.
func (sm *ServiceManager) StopAll() error {
	var errs []error
	for i := sm.started - 1; i >= 0; i-- {
		svc := sm.services[i]
		sm.logger.Info("stopping service", zap.String("name", svc.Name()))
		if err := svc.Stop(); err != nil {
			sm.logger.Error("failed to stop service",
				zap.String("name", svc.Name()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("stop %s: %w", svc.Name(), err))
		}
	}
	sm.started = 0
	return errors.Join(errs...)
}

// Services returns the list of managed services.
func (sm *ServiceManager) Services() []Service {
	return sm.services
}

// Running returns the number of started services.
func (sm *ServiceManager) Running() int {
	return sm.started
}
