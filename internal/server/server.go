// Package server assembles the ampd daemon: stores, session manager,
// automation scheduler, profile registry and the HTTP gateway.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	v1 "ampd/api/v1"
	"ampd/internal/automation"
	"ampd/internal/config"
	"ampd/internal/gateway"
	"ampd/internal/mountplan"
	"ampd/internal/profile"
	"ampd/internal/provider"
	"ampd/internal/session"
	"ampd/internal/store"
)

// Daemon owns every long-lived component of a running ampd instance.
type Daemon struct {
	cfg       *config.Config
	gateway   *gateway.Server
	sessions  *session.Manager
	scheduler *automation.Scheduler
	profiles  *profile.Registry
	hub       *session.Hub
}

// New builds a daemon from validated settings. Storage directories are
// created eagerly so a misconfigured data root fails before listen.
func New(cfg *config.Config, version string) (*Daemon, error) {
	dataDir := cfg.Storage.DataDir
	workRoot := filepath.Join(dataDir, "work")
	for _, dir := range []string{
		dataDir,
		cfg.Storage.SessionsDir(),
		cfg.Storage.AutomationsDir(),
		cfg.Storage.AuditDir(),
		cfg.Storage.ProfilesDir(),
		workRoot,
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	sessions := store.NewSessionStore(cfg.Storage.SessionsDir())
	loader := mountplan.NewLoader(sessions,
		mountplan.WithDefaults(mountplan.Defaults{
			MaxIterations:    cfg.Orchestra.MaxIterations,
			ProviderPriority: cfg.Provider.DefaultPriority,
		}),
		mountplan.WithApprovalAudit(cfg.Approval.ResolveAuditPath(dataDir), cfg.Approval.Timeout),
		mountplan.WithAdapterOptions(
			provider.WithTimeout(cfg.Provider.Timeout),
			provider.WithContinuationCap(cfg.Provider.ContinuationCap),
			provider.WithThinkingBuffer(cfg.Provider.ThinkingBuffer),
			provider.WithDebugEvents(cfg.Events.Debug, cfg.Events.Raw),
		),
	)

	hub := session.NewHub()
	profiles := profile.NewRegistry(cfg.Storage.ProfilesDir())

	managerOpts := []session.Option{
		session.WithHub(hub),
		session.WithWorkRoot(workRoot),
	}
	// Automation firings run under the "default" profile's plan when one
	// is discovered.
	if p, ok := profiles.Get("default"); ok && p.Plan != nil {
		managerOpts = append(managerOpts, session.WithDefaultPlan(p.Plan))
	}
	manager := session.NewManager(sessions, loader, managerOpts...)

	autoStore := automation.NewStore(cfg.Storage.AutomationsDir())
	scheduler := automation.NewScheduler(autoStore, manager)

	api := v1.NewRouter(v1.RouterDeps{
		Sessions:    manager,
		Hub:         hub,
		Automations: autoStore,
		Scheduler:   scheduler,
		Profiles:    profiles,
		Loader:      loader,
		Version:     version,
	})

	return &Daemon{
		cfg:       cfg,
		gateway:   gateway.NewServer(cfg.Server.Addr(), api),
		sessions:  manager,
		scheduler: scheduler,
		profiles:  profiles,
		hub:       hub,
	}, nil
}

// Run starts every component and blocks until ctx is cancelled or the
// listener fails, then shuts everything down in reverse order.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.profiles.Watch(); err != nil {
		log.Warn().Err(err).Msg("profile watcher unavailable")
	}
	if err := d.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- d.gateway.Start() }()

	var runErr error
	select {
	case <-ctx.Done():
	case err := <-errCh:
		runErr = err
	}

	d.shutdown()
	return runErr
}

// shutdown stops the scheduler, the listener and every live session.
func (d *Daemon) shutdown() {
	// The scheduler waits for in-flight firings, bounded by config.
	stopTimeout := d.cfg.Automation.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = 30 * time.Second
	}
	stopped := make(chan struct{})
	go func() {
		d.scheduler.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(stopTimeout):
		log.Warn().Msg("scheduler stop timed out, abandoning in-flight firings")
	}

	if err := d.gateway.Shutdown(context.Background()); err != nil {
		log.Warn().Err(err).Msg("gateway shutdown failed")
	}
	if err := d.sessions.Close(); err != nil {
		log.Warn().Err(err).Msg("session manager close failed")
	}
	if err := d.profiles.Close(); err != nil {
		log.Warn().Err(err).Msg("profile watcher close failed")
	}
}
