// Package app wires settings, storage and the engine into a runnable service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"tnxgate/internal/agent"
	"tnxgate/internal/blob"
	"tnxgate/internal/config"
	"tnxgate/internal/db"
	"tnxgate/internal/dispatch"
	"tnxgate/internal/domain"
	"tnxgate/internal/engine"
	"tnxgate/internal/idempotency"
	"tnxgate/internal/migrate"
	"tnxgate/internal/server"
)

const (
	housekeepingInterval = 10 * time.Minute
	shutdownTimeout      = 15 * time.Second
)

// App holds the long-lived components of one tnxgate process.
type App struct {
	Settings    *config.Settings
	Config      *config.Config
	DB          *sql.DB
	Engine      engine.Engine
	Dispatcher  *dispatch.Dispatcher
	Idempotency *idempotency.Store
	Log         *logrus.Logger
}

// LoadSettings reads the settings file and environment, then overlays
// secrets from the configured provider.
func LoadSettings(ctx context.Context, path string) (*config.Settings, error) {
	s, err := config.LoadSettings(config.NewViper(), path)
	if err != nil {
		return nil, err
	}
	if err := config.ApplySecrets(ctx, s); err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}
	return s, nil
}

// Open migrates the workspace database and builds the engine. Background
// execution only starts with Serve.
func Open(ctx context.Context, s *config.Settings, log *logrus.Logger) (*App, error) {
	conn, err := db.Open(db.Config{Workspace: s.Workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	cfg, err := config.LoadOptional(s.Workspace)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("load %s: %w", config.Path(s.Workspace), err)
	}

	lanes, queue := s.Dispatch.Lanes, s.Dispatch.QueueSize
	d := dispatch.New(lanes, queue, log)
	e := engine.New(conn, cfg, engine.Options{
		Store:      blob.FS{Root: blobRoot(s)},
		Reviewer:   NewReviewer(s, log),
		Dispatcher: d,
		Log:        log,
	})
	ttl := time.Duration(s.Idempotency.TTLHours) * time.Hour
	return &App{
		Settings:    s,
		Config:      cfg,
		DB:          conn,
		Engine:      e,
		Dispatcher:  d,
		Idempotency: idempotency.NewStore(e.Repo, ttl),
		Log:         log,
	}, nil
}

func blobRoot(s *config.Settings) string {
	if filepath.IsAbs(s.Blob.Root) {
		return s.Blob.Root
	}
	return filepath.Join(s.Workspace, s.Blob.Root)
}

// NewReviewer returns the HTTP reviewer when an endpoint is configured and a
// static verdict otherwise.
func NewReviewer(s *config.Settings, log *logrus.Logger) agent.Reviewer {
	if s.Agent.Endpoint == "" {
		return agent.Static{Status: domain.AgentStatus(s.Agent.StaticVerdict)}
	}
	cfg := agent.DefaultHTTPConfig()
	cfg.Endpoint = s.Agent.Endpoint
	cfg.APIKey = s.Agent.APIKey
	cfg.RetryMax = s.Agent.RetryMax
	cfg.RetryWaitMin = time.Duration(s.Agent.RetryWaitMinMS) * time.Millisecond
	cfg.RetryWaitMax = time.Duration(s.Agent.RetryWaitMaxMS) * time.Millisecond
	cfg.RatePerSecond = s.Agent.RatePerSecond
	return agent.NewHTTP(cfg, log)
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

// Handler builds the HTTP API handler.
func (a *App) Handler() (http.Handler, error) {
	return server.New(server.Config{
		Engine:   a.Engine,
		BasePath: a.Settings.HTTP.BasePath,
		Auth: server.AuthConfig{
			JWTSecret: a.Settings.Auth.JWTSecret,
			Issuer:    a.Settings.Auth.JWTIssuer,
		},
		Idempotency: a.Idempotency,
		Log:         a.Log,
	})
}

// Serve runs the API until ctx is cancelled, then drains in-flight requests
// and queued pipeline jobs.
func (a *App) Serve(ctx context.Context) error {
	handler, err := a.Handler()
	if err != nil {
		return err
	}
	a.Dispatcher.Start(ctx)
	defer a.Dispatcher.Stop()

	n, err := a.Engine.ResumePending(ctx)
	if err != nil {
		return fmt.Errorf("resume pending runs: %w", err)
	}
	if n > 0 {
		a.Log.WithField("runs", n).Info("Resumed interrupted runs")
	}
	server.StartWebhookDispatcher(ctx, a.Engine, a.Log)
	go a.housekeeping(ctx)

	srv := &http.Server{
		Addr:              a.Settings.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.Log.WithFields(logrus.Fields{
			"addr":      srv.Addr,
			"base_path": a.Settings.HTTP.BasePath,
		}).Info("Serving API")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	a.Log.Info("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

func (a *App) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(housekeepingInterval)
	defer ticker.Stop()
	for {
		a.Sweep(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Sweep expires stale invites and purges old idempotency records.
func (a *App) Sweep(ctx context.Context) {
	if n, err := a.Engine.ExpireInvites(ctx); err != nil {
		a.Log.WithError(err).Warn("Invite expiry failed")
	} else if n > 0 {
		a.Log.WithField("invites", n).Info("Expired invites")
	}
	if n, err := a.Idempotency.Purge(ctx); err != nil {
		a.Log.WithError(err).Warn("Idempotency purge failed")
	} else if n > 0 {
		a.Log.WithField("records", n).Debug("Purged idempotency records")
	}
}
