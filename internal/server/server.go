// Package server orchestrates all components: NATS client, optional DB, engine, service, dispatcher, HTTP surface.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-dispatcher/internal/config"
	"github.com/morezero/service-dispatcher/pkg/commsutil"
	"github.com/morezero/service-dispatcher/pkg/db"
	"github.com/morezero/service-dispatcher/pkg/discovery"
	"github.com/morezero/service-dispatcher/pkg/dispatcher"
	"github.com/morezero/service-dispatcher/pkg/engine/memory"
	"github.com/morezero/service-dispatcher/pkg/events"
	"github.com/morezero/service-dispatcher/pkg/fhir"
	"github.com/morezero/service-dispatcher/pkg/properties"
	"github.com/morezero/service-dispatcher/pkg/scrub"
	"github.com/morezero/service-dispatcher/pkg/service"
	"github.com/morezero/service-dispatcher/pkg/task"
)

const logPrefix = "server:server"

// RunParams supplies what is compiled into the binary alongside the dispatcher.
type RunParams struct {
	// Knowledge registers process definitions and rules on the knowledge base. Optional.
	Knowledge func(kb *memory.KnowledgeBase) error
	Plugins   service.PluginLoader
	Variables service.VariableInitializer
	Scrubbers scrub.Locator
	Spaces    service.SpaceResolver
}

// Server is the service-dispatcher HTTP surface.
type Server struct {
	cfg  *config.Config
	svc  dispatcher.Service
	fhir *fhir.QueryHelper
}

// Run starts the server, blocks until shutdown signal, then cleans up.
func Run(params RunParams) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("%s - failed to load config: %w", logPrefix, err)
	}
	setupLogging(cfg.LogLevel)

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	slog.Info(fmt.Sprintf("%s - Starting service-dispatcher for %s", logPrefix, cfg.ServiceRelease))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Step 1: Load service configuration
	id, err := cfg.Release()
	if err != nil {
		return err
	}
	props, err := properties.Load(cfg.ServiceConfigFile)
	if err != nil {
		return fmt.Errorf("%s - failed to load service configuration: %w", logPrefix, err)
	}
	doc := discovery.Load(cfg.DiscoveryFile)

	// Step 2: Connect to NATS
	nc, err := commsutil.Connect(commsutil.ConnectParams{URL: cfg.COMMSURL, Name: cfg.COMMSName})
	if err != nil {
		return fmt.Errorf("%s - failed to connect to NATS: %w", logPrefix, err)
	}
	defer nc.Close()

	// Step 3: Connect to database when configured
	var (
		pool     *pgxpool.Pool
		store    task.Store
		database service.Pinger
	)
	if cfg.DatabaseURL != "" {
		pool, err = openDatabase(ctx, cfg)
		if err != nil {
			return err
		}
		defer pool.Close()
		repo := db.NewTaskRepository(pool)
		store, database = repo, repo
	} else {
		slog.Info(fmt.Sprintf("%s - DATABASE_URL not set, tasks are kept in memory", logPrefix))
	}

	// Step 4: Build engine and service
	kb := memory.NewKnowledgeBase(id.Artifact)
	if params.Knowledge != nil {
		if err := params.Knowledge(kb); err != nil {
			return fmt.Errorf("%s - failed to build knowledge base: %w", logPrefix, err)
		}
	}
	publisher := events.Multi(
		events.NewCommsPublisher(nc, &events.CommsPublisherOpts{Subject: cfg.ExecutionEventSubject}),
		&events.LogPublisher{},
	)
	svc, err := service.NewService(ctx, service.NewServiceParams{
		Release:      id,
		Properties:   props,
		Manager:      memory.NewManager(kb, store),
		Scrubbers:    params.Scrubbers,
		Variables:    params.Variables,
		Publisher:    publisher,
		Spaces:       params.Spaces,
		DefaultSpace: cfg.DefaultSpace,
		Plugins:      params.Plugins,
		Discovery:    doc,
		Database:     database,
	})
	if err != nil {
		return fmt.Errorf("%s - failed to create service: %w", logPrefix, err)
	}

	// Step 5: Create dispatcher and subscribe
	disp := dispatcher.NewDispatcher(svc)
	subs, err := subscribe(ctx, nc, disp, cfg.RequestTimeout, dispatchSubjects(cfg))
	if err != nil {
		return err
	}

	// Step 6: Optional FHIR helper
	s := &Server{cfg: cfg, svc: svc}
	if len(cfg.FHIRServerURLs) > 0 {
		if s.fhir, err = newFHIRHelper(cfg); err != nil {
			unsubscribe(subs)
			return err
		}
	}

	// Step 7: Start HTTP server
	httpAddr := fmt.Sprintf(":%d", cfg.HTTPPort)
	httpServer := &http.Server{Addr: httpAddr, Handler: s.Handler(), ReadHeaderTimeout: 10 * time.Second}
	go func() {
		slog.Info(fmt.Sprintf("%s - HTTP server listening on %s", logPrefix, httpAddr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error(fmt.Sprintf("%s - HTTP server error: %v", logPrefix, err))
		}
	}()

	slog.Info(fmt.Sprintf("%s - Service dispatcher is ready", logPrefix))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info(fmt.Sprintf("%s - Received signal %s, shutting down", logPrefix, sig))

	// Graceful shutdown
	unsubscribe(subs)
	svc.Stop()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn(fmt.Sprintf("%s - HTTP shutdown: %v", logPrefix, err))
	}
	if err := nc.Drain(); err != nil {
		slog.Warn(fmt.Sprintf("%s - NATS drain: %v", logPrefix, err))
	}

	slog.Info(fmt.Sprintf("%s - Shutdown complete", logPrefix))
	return nil
}

func setupLogging(level string) {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func openDatabase(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	pool, err := db.NewPool(ctx, cfg.PoolParams())
	if err != nil {
		return nil, fmt.Errorf("%s - failed to connect to database: %w", logPrefix, err)
	}
	if !cfg.RunMigrations {
		return pool, nil
	}
	migrations, err := db.LoadMigrations(cfg.MigrationPath)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to load migrations: %w", logPrefix, err)
	}
	if _, err := db.RunMigrations(ctx, pool, migrations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%s - failed to run migrations: %w", logPrefix, err)
	}
	return pool, nil
}

// dispatchSubjects returns the request and task subjects, derived from the
// release unless overridden.
func dispatchSubjects(cfg *config.Config) []string {
	id, _ := cfg.Release()
	request := cfg.DispatchSubject
	if request == "" {
		request = commsutil.BuildServiceSubject(id.Artifact, id.Major())
	}
	tasks := cfg.TaskSubject
	if tasks == "" {
		tasks = commsutil.BuildTaskSubject(id.Artifact, id.Major())
	}
	slog.Info(fmt.Sprintf("%s - Subjects for %s: request=%s tasks=%s", logPrefix, cfg.ServiceRelease, request, tasks))
	return []string{request, tasks}
}

func subscribe(ctx context.Context, nc *comms.Conn, disp *dispatcher.Dispatcher, timeout time.Duration, subjects []string) ([]*comms.Subscription, error) {
	subs := make([]*comms.Subscription, 0, len(subjects))
	for _, subject := range subjects {
		sub, err := nc.Subscribe(subject, disp.MsgHandler(ctx, timeout))
		if err != nil {
			unsubscribe(subs)
			return nil, fmt.Errorf("%s - failed to subscribe to %s: %w", logPrefix, subject, err)
		}
		slog.Info(fmt.Sprintf("%s - Subscribed to %s", logPrefix, subject))
		subs = append(subs, sub)
	}
	return subs, nil
}

func unsubscribe(subs []*comms.Subscription) {
	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Warn(fmt.Sprintf("%s - unsubscribe %s: %v", logPrefix, sub.Subject, err))
		}
	}
}

func newFHIRHelper(cfg *config.Config) (*fhir.QueryHelper, error) {
	version, err := fhir.ParseVersion(cfg.FHIRVersion)
	if err != nil {
		return nil, fmt.Errorf("%s - FHIR_VERSION: %w", logPrefix, err)
	}
	helper, err := fhir.NewQueryHelper(fhir.NewQueryHelperParams{
		BaseURLs:   cfg.FHIRServerURLs,
		Version:    version,
		HTTPClient: &http.Client{Timeout: cfg.FHIRTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("%s - failed to create FHIR helper: %w", logPrefix, err)
	}
	return helper, nil
}
