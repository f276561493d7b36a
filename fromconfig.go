package flowline

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/jpkallio/flowline/pkg/config"
	"github.com/jpkallio/flowline/pkg/sender"
)

// OptionsFromConfig maps the engine section of a loaded deployment
// configuration onto engine Options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		MaxStepsPerInvocation: cfg.Engine.MaxStepsPerInvocation,
		SendTimeout:           time.Duration(cfg.Engine.SendTimeout),
		CallbackTimeout:       time.Duration(cfg.Engine.CallbackTimeout),
		SessionTTL:            time.Duration(cfg.Engine.SessionTTL),
		LeaseTTL:              time.Duration(cfg.Engine.LeaseTTL),
		LeaseWait:             time.Duration(cfg.Engine.LeaseWait),
		FallbackMessage:       cfg.Engine.FallbackMessage,
	}
}

// NewBundleFromConfig builds a durable WorkerBundle from a loaded
// deployment configuration, opening the storage backends it names. The
// returned close function releases those handles; call it after the
// bundle's worker has stopped.
//
// When deps.Sender is nil and sender.baseURL is configured, a WhatsApp
// Cloud API sender pointed at that URL is wired in.
//
// The memory backend has no durable resume queue, so it has no bundle;
// use NewLocalRunner for in-memory deployments.
func NewBundleFromConfig(cfg *config.Config, deps Dependencies) (*WorkerBundle, func() error, error) {
	if deps.Sender == nil && cfg.Sender.BaseURL != "" {
		sopts := []sender.Option{sender.WithBaseURL(cfg.Sender.BaseURL)}
		if deps.Logger != nil {
			sopts = append(sopts, sender.WithLogger(deps.Logger))
		}
		deps.Sender = sender.New(sopts...)
	}

	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := openConfiguredDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		bundle, err := NewSQLiteBundle(db, deps, OptionsFromConfig(cfg))
		if err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return bundle, db.Close, nil

	case "redis":
		if cfg.Storage.SQLitePath == "" {
			return nil, nil, fmt.Errorf("storage.sqlitePath is required for the redis backend: flow graphs, the message log and the resume queue live in SQLite")
		}
		db, err := openConfiguredDB(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.RedisAddr,
			Password: cfg.Storage.RedisPassword,
		})
		bundle, err := NewRedisBundle(client, db, cfg.Storage.RedisPrefix, deps, OptionsFromConfig(cfg))
		if err != nil {
			_ = client.Close()
			_ = db.Close()
			return nil, nil, err
		}
		closeAll := func() error {
			cerr := client.Close()
			if derr := db.Close(); derr != nil {
				return derr
			}
			return cerr
		}
		return bundle, closeAll, nil

	default:
		return nil, nil, fmt.Errorf("storage backend %q has no durable bundle; use NewLocalRunner for in-memory deployments", cfg.Storage.Backend)
	}
}

func openConfiguredDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database %s: %w", path, err)
	}
	// One connection keeps the worker's dequeue transactions from
	// tripping over the engine's writes with SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}
