package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"printflow/internal/config"
	"printflow/internal/db"
	"printflow/internal/engine"
	"printflow/internal/logging"
	"printflow/internal/migrate"
	"printflow/internal/notify"
	"printflow/internal/reminder"
	"printflow/internal/storage"
)

// Runtime is a fully wired workspace: database, engine, storage and sinks.
type Runtime struct {
	Workspace string
	Config    *config.Config
	Log       *zap.Logger
	DB        *sql.DB
	Engine    engine.Engine

	webhooks *notify.WebhookSink
}

// LoadEnv reads <workspace>/.env into the process environment. Variables
// already set win over the file.
func LoadEnv(workspace string) error {
	path := filepath.Join(workspace, ".env")
	if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overlays secrets that should not live in printflow.yml.
func ApplyEnv(cfg *config.Config) {
	if v := os.Getenv("PRINTFLOW_JWT_SECRET"); v != "" {
		cfg.Server.JWTSecret = v
	}
	if v := os.Getenv("PRINTFLOW_MINIO_ACCESS_KEY"); v != "" {
		cfg.Storage.Minio.AccessKey = v
	}
	if v := os.Getenv("PRINTFLOW_MINIO_SECRET_KEY"); v != "" {
		cfg.Storage.Minio.SecretKey = v
	}
}

// Open loads config (unless cfg is given), migrates the database and seeds
// the bootstrap admin on an empty workspace.
func Open(ctx context.Context, workspace string, cfg *config.Config) (*Runtime, error) {
	if cfg == nil {
		if err := LoadEnv(workspace); err != nil {
			return nil, err
		}
		loaded, err := config.Load(workspace)
		if err != nil {
			return nil, err
		}
		ApplyEnv(loaded)
		cfg = loaded
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	rt := &Runtime{Workspace: workspace, Config: cfg, Log: log, DB: conn}
	if err := rt.init(ctx); err != nil {
		rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) init(ctx context.Context) error {
	if err := migrate.Migrate(ctx, rt.DB); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	blobs, err := OpenStore(ctx, rt.Workspace, rt.Config)
	if err != nil {
		return err
	}
	e := engine.New(rt.DB, rt.Config)
	e.Log = rt.Log
	e.Blobs = blobs
	e.Notify = rt.sinks()
	rt.Engine = e

	admin := rt.Config.Bootstrap.Admin
	u, created, err := e.BootstrapAdmin(ctx, admin.Name, admin.Email)
	if err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}
	if created {
		rt.Log.Info("bootstrap admin created", zap.Int64("user_id", u.ID), zap.String("name", u.Name))
	}
	return nil
}

func (rt *Runtime) sinks() notify.Sink {
	var sinks notify.Multi
	n := rt.Config.Notifications
	if n.Log {
		sinks = append(sinks, notify.LogSink{Log: rt.Log.Named("notify")})
	}
	for _, hook := range n.Webhooks {
		if hook.Active() {
			rt.webhooks = notify.NewWebhookSink(n.Webhooks, n.Queue, rt.Log.Named("webhook"))
			sinks = append(sinks, rt.webhooks)
			break
		}
	}
	if len(sinks) == 0 {
		return notify.Nop{}
	}
	return sinks
}

// OpenStore builds the blob store named by storage.driver. Relative local
// directories resolve against the workspace.
func OpenStore(ctx context.Context, workspace string, cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Driver {
	case "minio":
		s, err := storage.NewMinioStore(ctx, cfg.Storage.Minio)
		if err != nil {
			return nil, fmt.Errorf("minio store: %w", err)
		}
		return s, nil
	default:
		dir := cfg.Storage.Dir
		if dir == "" {
			dir = filepath.Join(db.Dir(workspace), "blobs")
		} else if !filepath.IsAbs(dir) {
			dir = filepath.Join(workspace, dir)
		}
		return storage.NewLocalStore(dir)
	}
}

// Reminders returns a reminder service bound to the runtime's engine.
func (rt *Runtime) Reminders() *reminder.Service {
	return &reminder.Service{
		Repo:       rt.Engine.Repo,
		Notify:     rt.Engine.Notify,
		Log:        rt.Log.Named("reminder"),
		StaleAfter: rt.Config.StaleAfterDuration(),
	}
}

// Close drains pending webhooks and closes the database.
func (rt *Runtime) Close() error {
	if rt.webhooks != nil {
		rt.webhooks.Close()
	}
	if rt.Log != nil {
		_ = rt.Log.Sync()
	}
	if rt.DB != nil {
		return rt.DB.Close()
	}
	return nil
}
