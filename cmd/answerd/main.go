// Package main is the entry point for the answerdesk server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/answerdesk/internal/collaborator"
	"github.com/pitabwire/answerdesk/internal/config"
	"github.com/pitabwire/answerdesk/internal/effects"
	"github.com/pitabwire/answerdesk/internal/notify"
	"github.com/pitabwire/answerdesk/internal/observability"
	"github.com/pitabwire/answerdesk/internal/openapi"
	"github.com/pitabwire/answerdesk/internal/remote"
	"github.com/pitabwire/answerdesk/internal/state"
	"github.com/pitabwire/answerdesk/internal/transport"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "answerd", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	metrics := observability.InitMetrics(prometheus.DefaultRegisterer)

	// Step 4: Load the API document used for request validation.
	api, err := openapi.Load()
	if err != nil {
		logger.Error("API document load failed", zap.Error(err))
		return 1
	}
	logger.Debug("API document loaded", zap.Int("operations", len(api.OperationIDs())))

	// Step 5: Build the workflow store.
	storeOpts := []state.Option{
		state.WithObserver(func(c state.Change) { metrics.RecordTransition(c.Transition) }),
	}
	if cfg.Workflow.PerQuestionAnalyzing {
		storeOpts = append(storeOpts, state.WithPerQuestionAnalyzing())
	}
	if cfg.Workflow.ScopedErrors {
		storeOpts = append(storeOpts, state.WithScopedErrors())
	}
	store := state.NewStore(storeOpts...)

	// Step 6: Build outbound collaborators.
	service := remote.New(cfg.Remote, logger, metrics)

	redisClients := newRedisPool()
	defer redisClients.Close()

	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	questions, questionsCheck, err := buildQuestionList(bgCtx, cfg.Collaborator, redisClients, logger, metrics)
	if err != nil {
		logger.Error("collaborator initialization failed", zap.Error(err))
		return 1
	}

	recorder := notify.NewRecorder(cfg.Notifications.History)
	notifier, notifierCheck, err := buildNotifier(cfg.Notifications, recorder, redisClients, logger)
	if err != nil {
		logger.Error("notifier initialization failed", zap.Error(err))
		return 1
	}

	// Step 7: Build the effect dispatcher.
	dispatcher := effects.NewDispatcher(store, service,
		effects.WithQuestionList(questions),
		effects.WithNotifier(notifier),
		effects.WithLogger(logger),
		effects.WithMetrics(metrics),
	)

	// Step 8: Build HTTP router.
	authenticate, err := buildAuthenticator(cfg.Identity, logger)
	if err != nil {
		logger.Error("identity initialization failed", zap.Error(err))
		return 1
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:        cfg,
		Logger:        logger,
		Metrics:       metrics,
		Gatherer:      prometheus.DefaultGatherer,
		Authenticate:  authenticate,
		Dispatcher:    dispatcher,
		Notifications: recorder,
		API:           api,
		Readiness: observability.ReadinessChecks{
			AnswerService: service.Breaker(),
			Collaborator:  questionsCheck,
			Notifications: notifierCheck,
		},
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 9: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("collaborator", cfg.Collaborator.Driver),
		zap.String("notifications", cfg.Notifications.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new intents and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Let running effect workers land their outcomes.
	drainCtx, drainCancel := context.WithTimeout(shutdownCtx, cfg.Workflow.DrainTimeout)
	defer drainCancel()
	if err := dispatcher.Drain(drainCtx); err != nil {
		logger.Warn("effect workers still running at shutdown", zap.Error(err))
	}
	if bus, ok := questions.(*collaborator.RedisBus); ok {
		if err := bus.Wait(drainCtx); err != nil {
			logger.Warn("collaborator intents still publishing at shutdown", zap.Error(err))
		}
	}

	bgCancel()

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	final := store.Snapshot()
	logger.Info("shutdown complete",
		zap.Uint64("revision", final.Revision()),
		zap.Int("questions", len(final.QuestionIDs())),
	)
	return 0
}

// buildQuestionList creates the question-list collaborator based on config.
// The returned checker is nil for drivers without an external dependency.
func buildQuestionList(ctx context.Context, cfg config.CollaboratorConfig, pool *redisPool, logger *zap.Logger, metrics *observability.Metrics) (collaborator.QuestionList, observability.HealthChecker, error) {
	switch cfg.Driver {
	case config.DriverMemory, "":
		bus := collaborator.NewMemoryBus(cfg.Buffer, logger, metrics)
		go consumeIntents(ctx, bus, logger)
		return bus, nil, nil
	case config.DriverRedis:
		client, err := pool.Get(cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("collaborator: %w", err)
		}
		bus := collaborator.NewRedisBus(client, cfg.Channel, logger, metrics)
		return bus, bus, nil
	default:
		return nil, nil, fmt.Errorf("unsupported collaborator driver: %q", cfg.Driver)
	}
}

// consumeIntents logs intents delivered on the in-process bus so that a
// single-process deployment keeps its buffer from filling up.
func consumeIntents(ctx context.Context, bus *collaborator.MemoryBus, logger *zap.Logger) {
	log := logger.Named("questions")
	for {
		select {
		case <-ctx.Done():
			return
		case in := <-bus.Intents():
			log.Debug("question list intent",
				zap.String("type", in.Type),
				zap.String("question_id", in.QuestionID),
			)
		}
	}
}

// buildNotifier creates the notification sink based on config. The recorder
// always receives every notification so /notifications can serve them.
func buildNotifier(cfg config.NotificationsConfig, recorder *notify.Recorder, pool *redisPool, logger *zap.Logger) (notify.Notifier, observability.HealthChecker, error) {
	switch cfg.Driver {
	case config.DriverLog, "":
		return notify.Multi{recorder, notify.NewLogNotifier(logger)}, nil, nil
	case config.DriverRedis:
		client, err := pool.Get(cfg.AddrEnv, cfg.DB)
		if err != nil {
			return nil, nil, fmt.Errorf("notifications: %w", err)
		}
		rn := notify.NewRedisNotifier(client, cfg.Channel, logger)
		return notify.Multi{recorder, rn}, rn, nil
	default:
		return nil, nil, fmt.Errorf("unsupported notifications driver: %q", cfg.Driver)
	}
}

// buildAuthenticator returns the bearer-token middleware, or an anonymous
// one when identity verification is disabled.
func buildAuthenticator(cfg config.IdentityConfig, logger *zap.Logger) (func(http.Handler) http.Handler, error) {
	if cfg.Disabled {
		logger.Warn("identity verification disabled, all requests are anonymous")
		return transport.AnonymousAuthenticator("anonymous"), nil
	}
	secret := cfg.Secret()
	if secret == "" {
		return nil, fmt.Errorf("%s environment variable not set", cfg.SecretEnv)
	}
	return transport.JWTAuthenticator(cfg, []byte(secret)), nil
}

// redisPool shares one client per address and database.
type redisPool struct {
	clients map[string]*redis.Client
}

func newRedisPool() *redisPool {
	return &redisPool{clients: make(map[string]*redis.Client)}
}

// Get returns the client for the address held in addrEnv.
func (p *redisPool) Get(addrEnv string, db int) (*redis.Client, error) {
	addr := os.Getenv(addrEnv)
	if addr == "" {
		return nil, fmt.Errorf("%s environment variable not set", addrEnv)
	}
	key := fmt.Sprintf("%s/%d", addr, db)
	if c, ok := p.clients[key]; ok {
		return c, nil
	}
	c := redis.NewClient(&redis.Options{Addr: addr, DB: db})
	p.clients[key] = c
	return c, nil
}

// Close closes every client.
func (p *redisPool) Close() {
	for _, c := range p.clients {
		_ = c.Close()
	}
}
