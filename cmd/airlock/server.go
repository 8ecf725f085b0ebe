package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/airlock-labs/airlock/pkg/api"
	"github.com/airlock-labs/airlock/pkg/archive"
	"github.com/airlock-labs/airlock/pkg/audit"
	"github.com/airlock-labs/airlock/pkg/catalog"
	"github.com/airlock-labs/airlock/pkg/classify"
	"github.com/airlock-labs/airlock/pkg/config"
	"github.com/airlock-labs/airlock/pkg/gate"
	"github.com/airlock-labs/airlock/pkg/observability"
	"github.com/airlock-labs/airlock/pkg/session"
	"github.com/airlock-labs/airlock/pkg/store"
	"github.com/airlock-labs/airlock/pkg/sweeper"
	"github.com/airlock-labs/airlock/pkg/validate"
)

// drainTimeout bounds graceful shutdown once a signal arrives.
const drainTimeout = 30 * time.Second

// openIntentStore selects Postgres when DATABASE_URL is set, SQLite
// otherwise. The *sql.DB is non-nil only for Postgres, so callers can hang
// further Postgres-backed components off the same pool. The returned
// cleanup closes the underlying handle.
func openIntentStore(ctx context.Context, cfg *config.Config) (store.IntentStore, *sql.DB, func(), error) {
	if cfg.DatabaseURL == "" {
		log.Printf("[airlock] DATABASE_URL not set, using SQLite at %s", cfg.SQLitePath)
		s, err := store.NewSQLiteIntentStore(cfg.SQLitePath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return s, nil, func() { _ = s.Close() }, nil
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("ping postgres: %w", err)
	}
	log.Println("[airlock] postgres: connected")

	s := store.NewPostgresIntentStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, nil, nil, fmt.Errorf("migrate postgres store: %w", err)
	}
	return s, db, func() { _ = db.Close() }, nil
}

//nolint:gocognit // linear wiring
func runServer() int {
	fmt.Fprintf(os.Stdout, "%sAirlock starting...%s\n", ColorBold+ColorBlue, ColorReset)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := loadConfig()

	provider, err := observability.New(ctx, &observability.Config{
		ServiceName:    "airlock",
		ServiceVersion: version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Enabled:        cfg.OTELEnabled,
		Insecure:       cfg.Environment == "development",
	})
	if err != nil {
		log.Fatalf("Failed to init observability: %v", err)
	}
	slog.SetDefault(provider.Logger("airlock"))

	// Catalog: sealed at startup, read-only afterwards.
	cat, err := catalog.Load(cfg.CatalogPath)
	if err != nil {
		log.Fatalf("Failed to load catalog: %v", err)
	}
	log.Printf("[airlock] catalog: %d action(s)", cat.Len())

	// Durable state.
	intents, db, cleanup, err := openIntentStore(ctx, cfg)
	if err != nil {
		log.Fatalf("Failed to open intent store: %v", err)
	}
	defer cleanup()

	// Session facts.
	var sessions session.Store
	if cfg.RedisAddr != "" {
		rs, err := session.DialRedis(ctx, cfg.RedisAddr, "", 0, cfg.SessionTTL)
		if err != nil {
			log.Fatalf("Failed to connect to Redis: %v", err)
		}
		sessions = rs
		log.Printf("[airlock] sessions: redis at %s", cfg.RedisAddr)
	} else {
		sessions = session.NewMemoryStore(cfg.SessionTTL)
	}

	// Validators compile schemas and context rules once, at startup.
	contracts, err := validate.NewContractValidator(cat)
	if err != nil {
		log.Fatalf("Failed to compile contract schemas: %v", err)
	}
	contexts, err := validate.NewContextValidator(cat, sessions)
	if err != nil {
		log.Fatalf("Failed to compile context rules: %v", err)
	}

	// Audit trail: hash-chained in memory, mirrored to Postgres when the
	// store is Postgres-backed, always echoed as AUDIT: lines.
	trail := audit.NewLog()
	recorders := []audit.Recorder{trail, audit.NewWriterRecorder(os.Stdout)}
	if db != nil {
		sink := audit.NewPostgresSink(db)
		if err := sink.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate audit sink: %v", err)
		}
		recorders = append(recorders, sink)
	}
	recorder := audit.NewMultiRecorder(recorders...)

	// Executors: the external operation layer. With EXECUTOR_URL set every
	// action is forwarded there; otherwise the registry starts empty and
	// the embedding application registers its own.
	executors := gate.NewRegistry()
	if cfg.ExecutorURL != "" {
		hook := newWebhookExecutor(cfg.ExecutorURL, cfg.ExecTimeout)
		for _, name := range cat.Names() {
			if err := executors.Register(name, hook); err != nil {
				log.Fatalf("Failed to register executor for %s: %v", name, err)
			}
		}
		log.Printf("[airlock] executor: webhook %s", cfg.ExecutorURL)
	}

	gateOpts := []gate.Option{
		gate.WithRecorder(recorder),
		gate.WithExecutionTimeout(cfg.ExecTimeout),
	}
	var keyring *audit.Keyring
	if cfg.ReceiptSecret != "" {
		keyring, err = audit.NewKeyring([]byte(cfg.ReceiptSecret))
		if err != nil {
			log.Fatalf("Failed to build receipt keyring: %v", err)
		}
		gateOpts = append(gateOpts, gate.WithKeyring(keyring))
	}
	ctrl := gate.New(cat, contracts, contexts, intents, executors, gateOpts...)

	words := classify.NewKeywords()
	conv := gate.NewConversation(ctrl, intents, words, words)

	// Recovery sweeper.
	sw := sweeper.New(intents,
		sweeper.WithTimeout(cfg.ExecTimeout),
		sweeper.WithInterval(cfg.SweepInterval),
		sweeper.WithRecorder(recorder),
	)
	go func() { _ = sw.Run(ctx) }()

	// Archive exporter, when configured.
	if cfg.ArchiveType != "" {
		blobs, err := archive.NewStore(ctx, archive.Options{
			Type:     archive.BackendType(cfg.ArchiveType),
			Dir:      cfg.ArchiveDir,
			Bucket:   cfg.ArchiveBucket,
			Region:   cfg.ArchiveRegion,
			Endpoint: cfg.ArchiveEndpoint,
			Prefix:   cfg.ArchivePrefix,
		})
		if err != nil {
			log.Fatalf("Failed to open archive store: %v", err)
		}
		exporter := archive.NewExporter(intents, blobs, cfg.ArchiveRetention)
		go runArchiveLoop(ctx, exporter)
		log.Printf("[airlock] archive: %s, retention %s", cfg.ArchiveType, cfg.ArchiveRetention)
	}

	// HTTP surface.
	var idem api.IdempotencyStorer = api.NewIdempotencyStore(24 * time.Hour)
	if db != nil {
		pgIdem := api.NewPostgresIdempotencyStore(db, 24*time.Hour)
		if err := pgIdem.Migrate(ctx); err != nil {
			log.Fatalf("Failed to migrate idempotency store: %v", err)
		}
		idem = pgIdem
	}
	serverOpts := []api.ServerOption{
		api.WithSLOTracker(observability.NewSLOTracker()),
		api.WithIdempotency(idem),
		api.WithWriteTimeout(cfg.ExecTimeout + time.Minute),
		api.WithEvidence(audit.NewExporter(trail)),
	}
	if cfg.RateRPS > 0 {
		serverOpts = append(serverOpts, api.WithRateLimit(cfg.RateRPS, cfg.RateBurst))
	}
	if keyring != nil {
		serverOpts = append(serverOpts, api.WithKeyring(keyring))
	}
	srv := api.NewServer(ctrl, conv, intents, cat, provider, serverOpts...)

	httpSrv := srv.HTTPServer(":" + cfg.Port)
	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.ListenAndServe() }()

	log.Printf("[airlock] ready: http://localhost:%s", cfg.Port)
	log.Println("[airlock] press ctrl+c to stop")

	select {
	case err := <-errCh:
		log.Printf("[airlock] server error: %v", err)
		return 1
	case <-ctx.Done():
	}

	log.Println("[airlock] shutting down")
	drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(drainCtx); err != nil {
		log.Printf("[airlock] drain failed: %v", err)
	}
	if err := provider.Shutdown(drainCtx); err != nil {
		log.Printf("[airlock] observability shutdown: %v", err)
	}
	return 0
}

// runArchiveLoop exports terminal intents once an hour.
func runArchiveLoop(ctx context.Context, exporter *archive.Exporter) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := exporter.Run(ctx)
			if err != nil {
				slog.Error("archive: export failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("archive: export complete", "uploaded", n)
			}
		}
	}
}
