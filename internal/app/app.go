package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/joho/godotenv"

	"esmpd/internal/audit"
	"esmpd/pkg/api"
	"esmpd/pkg/banner"
	"esmpd/pkg/config"
	"esmpd/pkg/engine"
	"esmpd/pkg/listener"
	"esmpd/pkg/logger"
	"esmpd/pkg/security"
	"esmpd/pkg/store"
)

// App encapsulates the server components and lifecycle.
type App struct {
	cfg     *config.Config
	version string

	eng *engine.Engine
	lst *listener.Listener
	srv *http.Server

	auditCancel context.CancelFunc
}

// New initializes resources that do not require a running context: env
// overrides, the master key, and the store. It does not start listeners;
// call Run to start those and block until shutdown.
func New(cfg *config.Config, version string) (*App, error) {
	_ = godotenv.Load(".env")
	config.ApplyEnvOverrides(cfg)

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	keyHex, err := cfg.MasterKeyHex()
	if err != nil {
		return nil, fmt.Errorf("failed to read master key: %w", err)
	}
	if keyHex != "" {
		if err := security.SetKeyHex(keyHex); err != nil {
			return nil, fmt.Errorf("invalid master key: %w", err)
		}
	} else {
		logger.Warn("master_key_missing", "msg", "private profile fields will be stored in clear")
	}

	if cfg.Logging.AuditLog != "" {
		if err := logger.AttachAuditFileSink(cfg.Logging.AuditLog); err != nil {
			return nil, fmt.Errorf("failed to open audit log: %w", err)
		}
	}

	if err := store.Open(cfg.Storage.DBPath); err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", cfg.Storage.DBPath, err)
	}

	a := &App{cfg: cfg, version: version, eng: engine.New()}
	return a, nil
}

// Run starts the TCP listener, the HTTP server and the audit sweep, and
// blocks until ctx is canceled or a fatal error occurs.
func (a *App) Run(ctx context.Context) error {
	maxLine := a.cfg.Security.MaxLineBytes
	rps := a.cfg.Security.RateLimit.RPS
	burst := a.cfg.Security.RateLimit.Burst
	a.lst = listener.New(a.cfg.TCPAddr(), a.eng, maxLine, rps, burst)

	if a.cfg.Audit.Enabled {
		cancel, err := audit.Start(ctx, a.eng.Groups, a.cfg.Audit.Cron)
		if err != nil {
			return err
		}
		a.auditCancel = cancel
	}

	banner.Print(a.cfg.TCPAddr(), a.cfg.HTTPAddr(), a.cfg.Storage.DBPath, security.Enabled(), a.version)

	errCh := make(chan error, 2)
	go func() {
		if err := a.lst.Serve(ctx); err != nil {
			errCh <- fmt.Errorf("tcp listener: %w", err)
		}
	}()
	errCh2 := a.startHTTP()

	defer a.close()
	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	case err := <-errCh2:
		return err
	}
}

// startHTTP starts the HTTP server in a goroutine and returns a channel
// that will carry any server error.
func (a *App) startHTTP() <-chan error {
	a.srv = &http.Server{Addr: a.cfg.HTTPAddr(), Handler: api.Handler(a.eng)}
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	logger.Info("http_listening", "addr", a.cfg.HTTPAddr())
	return errCh
}

// close shuts components down in reverse start order.
func (a *App) close() {
	if a.auditCancel != nil {
		a.auditCancel()
	}
	if a.srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(sctx); err != nil {
			logger.Error("http_shutdown_error", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Error("store_close_error", "error", err)
	}
	logger.Info("shutdown_complete")
}

// validateConfig fails fast on settings the server cannot run with.
func validateConfig(cfg *config.Config) error {
	if cfg.Storage.DBPath == "" {
		return fmt.Errorf("storage.db_path is required")
	}
	if cfg.Security.MaxLineBytes < 0 {
		return fmt.Errorf("security.max_line_bytes must not be negative")
	}
	if cfg.Security.RateLimit.RPS < 0 || cfg.Security.RateLimit.Burst < 0 {
		return fmt.Errorf("security.rate_limit values must not be negative")
	}
	return nil
}
