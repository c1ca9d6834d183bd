// Package runner drives the engine's background components — in the
// demo binary, just a projection.TickerService — through a shared
// start/stop/health lifecycle so cmd/eventsourcingd doesn't hand-roll
// goroutine bookkeeping for something the Projection Manager already
// models as a Service.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Runner manages the lifecycle of multiple services.
// It handles sequential startup, graceful shutdown, and error aggregation.
type Runner struct {
	services        []Service
	logger          *slog.Logger
	shutdownTimeout time.Duration
	startupTimeout  time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithShutdownTimeout sets the timeout for graceful shutdown.
// Default is 30 seconds.
func WithShutdownTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.shutdownTimeout = timeout
	}
}

// WithStartupTimeout sets the timeout for service startup.
// Default is 1 minute.
func WithStartupTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		r.startupTimeout = timeout
	}
}

// New creates a new Runner with the given services and options.
func New(services []Service, opts ...Option) *Runner {
	r := &Runner{
		services:        services,
		logger:          slog.Default(),
		shutdownTimeout: 30 * time.Second,
		startupTimeout:  1 * time.Minute,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Run starts all services and blocks until the context is cancelled
// or a service fails to start. It handles graceful shutdown on context
// cancellation or an OS interrupt/termination signal.
//
// Services are started sequentially in the order they were registered.
// On shutdown, services are stopped concurrently in reverse order.
func (r *Runner) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		WaitForShutdownSignal()
		r.logger.Info("shutdown signal received")
		cancel()
	}()

	r.logger.Info("starting services", slog.Int("count", len(r.services)))
	started := make([]Service, 0, len(r.services))

	for _, service := range r.services {
		startCtx, startCancel := context.WithTimeout(ctx, r.startupTimeout)
		err := service.Start(startCtx)
		startCancel()

		if err != nil {
			r.logger.Error("failed to start service", slog.String("service", service.Name()), slog.Any("error", err))
			r.stopServices(started)
			return fmt.Errorf("start service %s: %w", service.Name(), err)
		}

		started = append(started, service)
		r.logger.Info("service started", slog.String("service", service.Name()))
	}

	<-ctx.Done()

	r.logger.Info("shutting down services", slog.Duration("timeout", r.shutdownTimeout))
	return r.stopServices(started)
}

// stopServices stops services in reverse start order, concurrently, and
// joins any errors raised within the shutdown timeout.
func (r *Runner) stopServices(services []Service) error {
	if len(services) == 0 {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.shutdownTimeout)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, len(services))

	for i := range services {
		wg.Add(1)
		go func(idx int, svc Service) {
			defer wg.Done()
			if err := svc.Stop(shutdownCtx); err != nil {
				r.logger.Error("error stopping service", slog.String("service", svc.Name()), slog.Any("error", err))
				errs[idx] = fmt.Errorf("stop %s: %w", svc.Name(), err)
				return
			}
			r.logger.Info("service stopped", slog.String("service", svc.Name()))
		}(i, services[len(services)-1-i])
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("shutdown errors: %w", err)
		}
		r.logger.Info("all services stopped")
		return nil
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timeout exceeded after %s", r.shutdownTimeout)
	}
}

// HealthCheck checks the health of every service implementing HealthChecker
// — in practice, projection.TickerService reporting whether its advance
// loop is still ticking.
func (r *Runner) HealthCheck(ctx context.Context) error {
	var errs []error
	for _, service := range r.services {
		if hc, ok := service.(HealthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				errs = append(errs, fmt.Errorf("service %s unhealthy: %w", service.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
