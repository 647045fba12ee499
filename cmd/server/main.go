package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"civicproof/internal/access"
	"civicproof/internal/anchor"
	"civicproof/internal/anchor/lock"
	anchorMetrics "civicproof/internal/anchor/metrics"
	"civicproof/internal/audit"
	"civicproof/internal/cluster"
	clusterHandler "civicproof/internal/cluster/handler"
	"civicproof/internal/diagnostics"
	feedbackHandler "civicproof/internal/feedback/handler"
	feedbackService "civicproof/internal/feedback/service"
	feedbackStore "civicproof/internal/feedback/store"
	"civicproof/internal/pipeline"
	"civicproof/internal/platform/config"
	"civicproof/internal/platform/httpserver"
	"civicproof/internal/platform/kafka/producer"
	"civicproof/internal/platform/logger"
	"civicproof/internal/platform/metrics"
	"civicproof/internal/platform/postgres"
	redisClient "civicproof/internal/platform/redis"
	reportHandler "civicproof/internal/report/handler"
	reportMetrics "civicproof/internal/report/metrics"
	reportService "civicproof/internal/report/service"
	reportStore "civicproof/internal/report/store"
	"civicproof/internal/report/synth"
	httptransport "civicproof/internal/transport/http"
	"civicproof/pkg/platform/circuit"
	"civicproof/pkg/platform/tx"
)

const draftCacheTTL = 7 * 24 * time.Hour

func main() {
	if err := run(); err != nil {
		slog.Error("civicproof exited", "error", err)
		os.Exit(1)
	}
}

// run wires the stores, pipeline stages and HTTP surface, then blocks until a shutdown
// signal arrives.
func run() error {
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log := logger.New(cfg.Environment)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	health := map[string]httptransport.HealthCheck{}

	// Storage. Without DATABASE_URL the service runs on in-memory stores, which is only
	// allowed outside production.
	var (
		db       *sql.DB
		feedback feedbackService.Store
		reports  reportService.Store
		txRunner tx.Runner = tx.NoopRunner{}
	)
	if cfg.DatabaseURL != "" {
		db, err = postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := postgres.ApplyMigrations(ctx, db); err != nil {
			return err
		}
		feedback = feedbackStore.NewPostgres(db)
		reports = reportStore.NewPostgres(db)
		txRunner = tx.SQLRunner{DB: db}
		health["postgres"] = db.PingContext
	} else {
		if cfg.IsProduction() {
			return errors.New("DATABASE_URL is required in production")
		}
		log.WarnContext(ctx, "DATABASE_URL not set, using in-memory stores")
		feedback = feedbackStore.NewInMemory()
		reports = reportStore.NewInMemory()
	}

	rdb, err := redisClient.New(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
		health["redis"] = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	// Lifecycle events: always logged, and published to Kafka when brokers are configured.
	bgCtx, cancelBg := context.WithCancel(context.Background())
	defer cancelBg()
	emitters := audit.Multi{audit.NewLogEmitter(log)}
	var (
		kafka     *producer.Producer
		auditSink *audit.AsyncEmitter
	)
	if len(cfg.Kafka.Brokers) > 0 {
		kafka, err = producer.New(cfg.Kafka.Brokers, log)
		if err != nil {
			return err
		}
		auditSink = audit.NewAsyncEmitter(audit.NewKafkaSink(kafka, cfg.Kafka.Topic), 1024, log)
		go auditSink.Run(bgCtx)
		emitters = append(emitters, auditSink)
		health["kafka"] = kafka.Ping
	}

	// Ledger.
	ledger, err := anchor.Connect(ctx, cfg.Ledger)
	if err != nil {
		return fmt.Errorf("connect ledger: %w", err)
	}
	defer ledger.Close()
	health["ledger"] = func(ctx context.Context) error {
		_, err := ledger.Backend.BlockNumber(ctx)
		return err
	}

	policy := cfg.Policy
	diagPolicy := access.DiagnosticsPolicy{Production: cfg.IsProduction()}
	anchorOpts := []anchor.Option{
		anchor.WithPolicy(policy.Anchoring),
		anchor.WithGasLimit(cfg.Ledger.GasLimit),
		anchor.WithBreaker(circuit.New("ledger-rpc")),
		anchor.WithDiagnosticsPolicy(diagPolicy),
		anchor.WithMetrics(anchorMetrics.New()),
		anchor.WithLogger(log),
	}
	if cfg.Ledger.AnchorAddress != "" {
		if !common.IsHexAddress(cfg.Ledger.AnchorAddress) {
			return fmt.Errorf("LEDGER_ANCHOR_ADDRESS %q is not an address", cfg.Ledger.AnchorAddress)
		}
		anchorOpts = append(anchorOpts, anchor.WithAnchorAddress(common.HexToAddress(cfg.Ledger.AnchorAddress)))
	}
	if cfg.Ledger.LowBalanceWei != "" {
		threshold, ok := new(big.Int).SetString(cfg.Ledger.LowBalanceWei, 10)
		if !ok {
			return fmt.Errorf("LEDGER_LOW_BALANCE_WEI %q is not an integer", cfg.Ledger.LowBalanceWei)
		}
		anchorOpts = append(anchorOpts, anchor.WithLowBalance(threshold))
	}
	if rdb != nil {
		// Replicas sharing the wallet must agree on nonces.
		anchorOpts = append(anchorOpts, anchor.WithLocker(lock.Chain{
			lock.NewLocal(),
			lock.NewRedis(rdb, cfg.Ledger.LockTTL, lock.WithLogger(log)),
		}))
	}
	anchorer := anchor.NewClient(ledger, anchorOpts...)

	// Report generation.
	chatModel, err := synth.NewOpenAIModel(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	rm := reportMetrics.New()
	synthOpts := []synth.Option{
		synth.WithRateLimit(policy.LLM.RequestsPerMinute, policy.LLM.Burst),
		synth.WithRetries(policy.LLM.MaxRetries, time.Second),
		synth.WithLogger(log),
		synth.WithMetrics(rm),
	}
	if rdb != nil {
		synthOpts = append(synthOpts, synth.WithCache(synth.NewRedisCache(rdb, draftCacheTTL)))
	} else {
		synthOpts = append(synthOpts, synth.WithCache(synth.NewMemoryCache()))
	}
	synthesizer := synth.New(chatModel, synthOpts...)

	registry := reportService.New(reports,
		reportService.WithTxRunner(txRunner),
		reportService.WithHistoryMode(policy.Reports.HistoryMode),
		reportService.WithMaxAttempts(policy.Anchoring.MaxAttempts),
		reportService.WithLogger(log),
		reportService.WithMetrics(rm),
		reportService.WithAudit(emitters),
	)
	aggregator := cluster.NewAggregator(feedback,
		cluster.WithMinFeedbackCount(policy.Clusters.MinFeedbackCount),
		cluster.WithLogger(log),
	)
	orchestrator := pipeline.New(aggregator, synthesizer, registry, anchorer,
		pipeline.WithConcurrency(policy.Reports.BatchConcurrency),
		pipeline.WithLogger(log),
	)

	watchdog := pipeline.NewWatchdog(registry, anchorer,
		pipeline.WithGrace(policy.Anchoring.PendingGrace),
		pipeline.WithInterval(policy.Anchoring.WatchdogInterval),
		pipeline.WithWatchdogLogger(log),
		pipeline.WithWatchdogAudit(emitters),
	)
	watchdogDone := make(chan struct{})
	go func() {
		defer close(watchdogDone)
		watchdog.Run(bgCtx)
	}()

	// HTTP.
	jwtService := access.NewJWTService(cfg.JWT.SigningKey, cfg.JWT.Issuer, cfg.JWT.Audience)
	router := httptransport.NewRouter(httptransport.Deps{
		Logger:        log,
		Authenticator: access.NewMiddlewareAdapter(jwtService),
		Gatherer:      prometheus.DefaultGatherer,
		HTTPMetrics:   metrics.NewHTTP(prometheus.DefaultRegisterer),
		HealthChecks:  health,
		Authenticated: []httptransport.Registrar{
			feedbackHandler.New(feedbackService.New(feedback, feedbackService.WithLogger(log)), log),
			clusterHandler.New(aggregator, log),
			reportHandler.New(orchestrator, registry, anchorer, log),
		},
		Diagnostics: []httptransport.Registrar{
			diagnostics.NewHandler(diagnostics.New(cfg, diagnostics.WithWallet(anchorer), diagnostics.WithLogger(log)), log),
		},
	})

	// Batch runs and anchoring hold a request open for generation plus confirmation.
	writeTimeout := policy.Anchoring.ConfirmTimeout + 2*time.Minute
	srv := httpserver.New(cfg.Addr, router, writeTimeout)
	serveErr := make(chan error, 1)
	go func() {
		log.InfoContext(ctx, "starting civicproof", "addr", cfg.Addr, "environment", cfg.Environment,
			"wallet", ledger.Wallet.Address().Hex(), "chain_id", ledger.ChainID.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}
	cancelBg()
	<-watchdogDone
	if auditSink != nil {
		<-auditSink.Done()
	}
	if kafka != nil {
		kafka.Close(shutdownCtx)
	}
	return nil
}
