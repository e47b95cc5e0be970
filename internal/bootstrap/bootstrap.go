// Package bootstrap assembles the engine from configuration. Both the API
// server and the operator CLI start from here.
package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"strings"

	"missionsync/internal/app"
	"missionsync/internal/config"
	"missionsync/internal/ledger"
	"missionsync/internal/propagate"
	"missionsync/internal/registry"
	"missionsync/internal/search"
	"missionsync/internal/store"
)

type Runtime struct {
	Config  config.Config
	Service *app.Service
	// DB is set only for the postgres backend.
	DB *sql.DB

	closers []func()
}

type Options struct {
	// SkipMigrations leaves the schema alone; the migrate command manages it
	// explicitly.
	SkipMigrations bool
	Logger         *log.Logger
}

// Build connects every configured dependency. On error, whatever was already
// opened is closed again.
func Build(ctx context.Context, cfg config.Config, opts Options) (rt *Runtime, err error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	rt = &Runtime{Config: cfg}
	defer func() {
		if err != nil {
			rt.Close()
			rt = nil
		}
	}()

	backend, directory, recorder, err := rt.openStore(ctx, cfg, opts, logger)
	if err != nil {
		return nil, err
	}

	var (
		reg      registry.Registry
		notifier propagate.Notifier
	)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		redisRegistry, err := registry.NewRedisRegistry(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = redisRegistry.Close() })
		logger.Printf("Using Redis for the conversation registry and notices")
		reg = redisRegistry
		notifier = propagate.NewRedisNotifier(redisRegistry.Client())
	} else {
		logger.Printf("Using the entity store for the conversation registry")
		reg = registry.NewStoreRegistry(backend)
		notifier = propagate.LogNotifier{Logger: logger}
	}

	var ledgerService *ledger.Service
	if dir := strings.TrimSpace(cfg.LedgerDir); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger dir: %w", err)
		}
		ledgerService = ledger.New(dir)
	}

	repo := store.NewRepository(backend)
	var fallback search.Searcher = search.NewScanner(app.MissionSource(repo))
	if rt.DB != nil {
		fallback = search.NewPgFTS(rt.DB)
	}
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		rt.closers = append(rt.closers, meiliClient.Close)
	}

	rt.Service = app.New(cfg, app.Deps{
		Repository:   repo,
		Registry:     reg,
		Directory:    directory,
		Participants: recorder,
		Notifier:     notifier,
		Ledger:       ledgerService,
		Search:       search.NewService(meiliClient, fallback),
		Logger:       logger,
	})
	return rt, nil
}

func (rt *Runtime) openStore(ctx context.Context, cfg config.Config, opts Options, logger *log.Logger) (store.Backend, app.Directory, app.ParticipantRecorder, error) {
	switch cfg.StoreBackend {
	case config.BackendPostgres:
		db, err := store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("database connection failed: %w", err)
		}
		rt.DB = db
		rt.closers = append(rt.closers, func() { _ = db.Close() })
		if !opts.SkipMigrations {
			applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
			if err != nil {
				return nil, nil, nil, fmt.Errorf("migrations failed: %w", err)
			}
			for _, name := range applied {
				logger.Printf("Applied migration %s", name)
			}
		}
		pg := store.NewPostgresStore(db)
		return pg, pg, pg, nil

	case config.BackendMinio:
		objects, err := store.NewObjectStore(ctx, store.ObjectStoreOptions{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.MinioBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, nil, nil, fmt.Errorf("object store connection failed: %w", err)
		}
		directory := app.NewMemoryDirectory()
		return objects, directory, directory, nil

	case config.BackendMemory, "":
		logger.Printf("WARNING: using the in-memory store; mission state is lost on restart")
		directory := app.NewMemoryDirectory()
		return store.NewMemoryStore(), directory, directory, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Close releases connections in reverse order of opening.
func (rt *Runtime) Close() {
	if rt == nil {
		return
	}
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
