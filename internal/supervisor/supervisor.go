// Package supervisor wires the registry, controller, monitor and heartbeat
// tracker into one explicit context object constructed at program startup.
// There are no package-level singletons: command handlers receive a
// Supervisor and background loops live between StartLoops and Close.
package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hezky/lab-heartbeat/internal/api"
	"github.com/hezky/lab-heartbeat/internal/config"
	"github.com/hezky/lab-heartbeat/internal/controller"
	"github.com/hezky/lab-heartbeat/internal/heartbeat"
	"github.com/hezky/lab-heartbeat/internal/logging"
	"github.com/hezky/lab-heartbeat/internal/monitor"
	"github.com/hezky/lab-heartbeat/internal/registry"
	"github.com/hezky/lab-heartbeat/internal/watcher"
)

// safetyNetInterval bounds how long the serve loop goes without a forced
// observation pass when no store events arrive.
const safetyNetInterval = 30 * time.Second

// Supervisor owns the four subsystems and their shared store.
type Supervisor struct {
	InstanceID string
	Config     *config.Config

	Registry   *registry.Registry
	Controller *controller.Controller
	Monitor    *monitor.Monitor
	Tracker    *heartbeat.Tracker
	API        *api.Server

	loopsStarted bool
}

// Open builds a supervisor context from the configuration. Background loops
// are not started; call StartLoops for the daemon or use the components
// directly for one-shot commands.
func Open(ctx context.Context, cfg *config.Config) (*Supervisor, error) {
	if err := logging.Init(cfg.Supervisor.GetDataDir()); err != nil {
		return nil, fmt.Errorf("failed to initialize logging: %w", err)
	}

	reg, err := registry.OpenPath(ctx, cfg.Supervisor.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open registry: %w", err)
	}

	ctrl := controller.New(reg,
		controller.WithGracefulTimeout(cfg.Controller.GracefulTimeout()),
		controller.WithPollInterval(cfg.Controller.PollInterval()),
		controller.WithBackoff(cfg.Controller.RestartBackoff()),
	)

	mon := monitor.New(reg,
		monitor.WithInterval(cfg.Monitor.CheckInterval()),
		monitor.WithProbeTimeout(cfg.Monitor.HealthCheckTimeout()),
		monitor.WithStaleTimeout(cfg.Monitor.StaleTimeout()),
	)

	tracker := heartbeat.New(reg,
		heartbeat.WithCheckInterval(cfg.Heartbeat.CheckInterval()),
		heartbeat.WithThresholds(cfg.Heartbeat.WarnThreshold(), cfg.Heartbeat.CrashThreshold()),
	)

	s := &Supervisor{
		InstanceID: uuid.New().String(),
		Config:     cfg,
		Registry:   reg,
		Controller: ctrl,
		Monitor:    mon,
		Tracker:    tracker,
		API:        api.New(cfg.Supervisor.GetListenAddr(), reg, tracker, mon),
	}

	logging.Info("supervisor context opened",
		"instance_id", s.InstanceID, "db", cfg.Supervisor.DBPath())
	return s, nil
}

// StartLoops launches the global loops and the API server.
func (s *Supervisor) StartLoops() error {
	if s.loopsStarted {
		return fmt.Errorf("supervisor loops already started")
	}
	if err := s.Monitor.Start(); err != nil {
		return err
	}
	if err := s.Tracker.Start(); err != nil {
		s.Monitor.Stop()
		return err
	}
	s.API.Start()
	s.loopsStarted = true
	return nil
}

// Run drives the serve loop until the context is cancelled: store changes
// made by the CLI trigger an immediate observation pass, with a periodic
// safety net in between.
func (s *Supervisor) Run(ctx context.Context) error {
	w, err := watcher.New(watcher.DefaultConfig(s.Config.Supervisor.DBPath()))
	if err != nil {
		return fmt.Errorf("failed to create registry watcher: %w", err)
	}
	if err := w.Start(); err != nil {
		_ = w.Stop()
		return fmt.Errorf("failed to start registry watcher: %w", err)
	}
	defer w.Stop()

	sub := w.Broker().Subscribe(ctx)

	checkTimer := time.NewTimer(safetyNetInterval)
	defer checkTimer.Stop()

	logging.Info("supervisor running", "instance_id", s.InstanceID)

	for {
		select {
		case <-ctx.Done():
			logging.Info("supervisor stopping")
			return nil

		case evt, ok := <-sub:
			if !ok {
				return nil
			}
			if evt.Type == watcher.DBChanged {
				logging.Debug("registry changed, running observation pass")
				s.Monitor.CheckNow(ctx)
				s.Tracker.CheckNow(ctx)
			}

		case <-checkTimer.C:
			s.Monitor.CheckNow(ctx)
			s.Tracker.CheckNow(ctx)
			checkTimer.Reset(safetyNetInterval)
		}
	}
}

// Close tears the context down: loops are joined and the store is closed.
// Running children are left alone so that a one-shot command or a
// supervisor restart does not take its processes down with it; use
// Controller.StopAll first when that is wanted.
func (s *Supervisor) Close() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.loopsStarted {
		if err := s.API.Shutdown(shutdownCtx); err != nil {
			logging.Warn("api shutdown failed", "error", err)
		}
		s.Monitor.Stop()
		s.Tracker.Stop()
	}

	s.Controller.JoinLoops()

	err := s.Registry.Close()
	logging.Info("supervisor context closed", "instance_id", s.InstanceID)
	logging.Close()
	return err
}
