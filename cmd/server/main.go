package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	accounthandler "bluecarbon/internal/account/handler"
	accountmetrics "bluecarbon/internal/account/metrics"
	"bluecarbon/internal/account/secrets"
	accountservice "bluecarbon/internal/account/service"
	identityservice "bluecarbon/internal/identity/service"
	identitystore "bluecarbon/internal/identity/store"
	jwttoken "bluecarbon/internal/jwt_token"
	"bluecarbon/internal/ledger"
	"bluecarbon/internal/ledger/ethereum"
	"bluecarbon/internal/notify"
	"bluecarbon/internal/objectstore"
	otpmetrics "bluecarbon/internal/otp/metrics"
	otpratelimit "bluecarbon/internal/otp/ratelimit"
	otpservice "bluecarbon/internal/otp/service"
	otpstore "bluecarbon/internal/otp/store"
	"bluecarbon/internal/platform/config"
	"bluecarbon/internal/platform/httpserver"
	"bluecarbon/internal/platform/kafka"
	"bluecarbon/internal/platform/logger"
	"bluecarbon/internal/platform/metrics"
	"bluecarbon/internal/platform/postgres"
	"bluecarbon/internal/platform/redis"
	ratelimit "bluecarbon/internal/ratelimit/middleware"
	ratelimitmodels "bluecarbon/internal/ratelimit/models"
	"bluecarbon/internal/ratelimit/store/bucket"
	taskhandler "bluecarbon/internal/task/handler"
	taskmetrics "bluecarbon/internal/task/metrics"
	taskservice "bluecarbon/internal/task/service"
	taskstore "bluecarbon/internal/task/store"
	httptransport "bluecarbon/internal/transport/http"
	audit "bluecarbon/pkg/platform/audit"
	auditpublisher "bluecarbon/pkg/platform/audit/publisher"
	auditmemory "bluecarbon/pkg/platform/audit/store/memory"
	auditpostgres "bluecarbon/pkg/platform/audit/store/postgres"
	"bluecarbon/pkg/platform/audit/worker"
	"bluecarbon/pkg/platform/circuit"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

// infra holds the optional external connections. Nil fields mean the
// in-process fallback is in use.
type infra struct {
	db       *sql.DB
	redis    *redis.Client
	producer *kafka.Producer
}

func (i *infra) close() {
	if i.producer != nil {
		i.producer.Close()
	}
	if i.redis != nil {
		_ = i.redis.Close()
	}
	if i.db != nil {
		_ = i.db.Close()
	}
}

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	if cfg.UsesDevSigningKey() {
		log.Warn("JWT_SIGNING_KEY is unset; using the development key")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	deps, err := connect(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer deps.close()

	var checks []httptransport.HealthCheck

	// Identity directory
	var accounts identityservice.Store = identitystore.NewInMemory()
	if deps.db != nil {
		accounts = identitystore.NewPostgres(deps.db)
		checks = append(checks, httptransport.HealthCheck{Name: "postgres", Check: deps.db.PingContext})
	}
	directory := identityservice.New(accounts, identityservice.WithLogger(log))

	// Audit
	var auditStore audit.Store = auditmemory.NewInMemoryStore()
	var outbox *auditpostgres.Store
	if deps.db != nil {
		outbox = auditpostgres.New(deps.db)
		auditStore = outbox
	}
	publisher := auditpublisher.NewPublisher(auditStore,
		auditpublisher.WithAsyncBuffer(256),
		auditpublisher.WithLogger(log),
	)
	defer publisher.Close()

	// OTP challenges
	otpManager, err := newOTPManager(cfg, deps, reg, log)
	if err != nil {
		return err
	}
	if deps.redis != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "redis", Check: deps.redis.Health})
	}

	tokens := jwttoken.NewJWTService(cfg.Server.JWTSigningKey, cfg.Server.JWTIssuer, cfg.Server.SessionTTL)
	accountSvc := accountservice.New(directory, otpManager, tokens,
		accountservice.WithLogger(log),
		accountservice.WithMetrics(accountmetrics.New(reg)),
		accountservice.WithAuditPublisher(publisher),
		accountservice.WithSetupSecret(cfg.Server.AdminSetupSecret),
		accountservice.WithHasher(secrets.NewHasher(0)),
	)

	// Tasks and minting
	ledgerClient, err := newLedger(ctx, cfg.Ledger, log)
	if err != nil {
		return err
	}
	var tasks taskservice.Store = taskstore.NewInMemory()
	if deps.db != nil {
		tasks = taskstore.NewPostgres(deps.db)
	}
	taskOpts := []taskservice.Option{
		taskservice.WithLogger(log),
		taskservice.WithMetrics(taskmetrics.New(reg)),
		taskservice.WithAuditPublisher(publisher),
		taskservice.WithConfirmTimeout(cfg.Ledger.ConfirmTimeout),
		taskservice.WithUploadURLTTL(cfg.Storage.UploadURLTTL),
	}
	if cfg.Storage.Bucket != "" {
		presigner, err := objectstore.New(ctx, objectstore.Config{
			Endpoint:        cfg.Storage.Endpoint,
			Region:          cfg.Storage.Region,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretKey,
			Bucket:          cfg.Storage.Bucket,
			UsePathStyle:    cfg.Storage.ForcePathStyle,
		})
		if err != nil {
			return fmt.Errorf("configure evidence storage: %w", err)
		}
		taskOpts = append(taskOpts, taskservice.WithPresigner(presigner))
	} else {
		log.Warn("B2_BUCKET_NAME is unset; evidence upload urls are disabled")
	}
	taskSvc := taskservice.New(tasks, directory, ledgerClient, taskOpts...)

	if deps.producer != nil {
		checks = append(checks, httptransport.HealthCheck{Name: "kafka", Check: deps.producer.Health})
	}

	localBuckets := bucket.NewInMemoryBucketStore()
	router := httptransport.NewRouter(httptransport.Config{
		Logger:         log,
		Metrics:        metrics.New(reg),
		Gatherer:       reg,
		Validator:      jwttoken.NewJWTServiceAdapter(tokens),
		RequestTimeout: cfg.Server.RequestTimeout,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		HealthChecks:   checks,
		RateLimiter:    newRateLimiter(cfg.RateLimit, localBuckets, deps, log),
	},
		accounthandler.New(accountSvc, log),
		taskhandler.New(taskSvc, log),
	)
	srv := httpserver.New(cfg.Server.Addr, router, cfg.Server.RequestTimeout)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting bluecarbon registry", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		log.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		purgeExpiredChallenges(gctx, otpManager, cfg.OTP.PurgeEvery, log)
		return nil
	})
	if cfg.RateLimit.AuthWindow > 0 {
		g.Go(func() error {
			ticker := time.NewTicker(cfg.RateLimit.AuthWindow)
			defer ticker.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-ticker.C:
					localBuckets.Sweep(cfg.RateLimit.AuthWindow)
				}
			}
		})
	}
	if outbox != nil && deps.producer != nil {
		relay := worker.NewWorker(outbox, deps.producer, cfg.Kafka.RelayEvery, log)
		g.Go(func() error {
			if err := relay.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("audit relay: %w", err)
			}
			return nil
		})
	}
	return g.Wait()
}

func connect(ctx context.Context, cfg config.Config, log *slog.Logger) (*infra, error) {
	deps := &infra{}

	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		deps.db = db
		if err := postgres.Migrate(ctx, db); err != nil {
			deps.close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	} else {
		log.Warn("DATABASE_URL is unset; using in-memory stores")
	}

	client, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		deps.close()
		return nil, err
	}
	deps.redis = client

	producer, err := kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.AuditTopic)
	if err != nil {
		deps.close()
		return nil, err
	}
	if producer != nil {
		deps.producer = producer
		if err := producer.EnsureTopic(ctx, 3, 1); err != nil {
			log.Warn("could not ensure audit topic", "topic", cfg.Kafka.AuditTopic, "error", err)
		}
	}
	return deps, nil
}

func newOTPManager(cfg config.Config, deps *infra, reg prometheus.Registerer, log *slog.Logger) (*otpservice.Manager, error) {
	var store otpservice.Store
	switch cfg.OTP.Store {
	case "redis":
		if deps.redis == nil {
			return nil, errors.New("OTP_STORE=redis requires REDIS_URL")
		}
		store = otpstore.NewRedis(deps.redis.Client)
	case "postgres":
		if deps.db == nil {
			log.Warn("OTP_STORE=postgres without DATABASE_URL; keeping challenges in memory")
			store = otpstore.NewInMemory()
		} else {
			store = otpstore.NewPostgres(deps.db)
		}
	case "memory":
		store = otpstore.NewInMemory()
	default:
		return nil, fmt.Errorf("unknown OTP_STORE %q", cfg.OTP.Store)
	}

	var notifier otpservice.Notifier
	if cfg.SMTP.Host != "" {
		notifier = notify.NewSMTPSender(cfg.SMTP)
	} else {
		log.Warn("SMTP_HOST is unset; one-time codes are written to the log")
		notifier = notify.NewLogSender(log)
	}

	opts := []otpservice.Option{
		otpservice.WithLogger(log),
		otpservice.WithMetrics(otpmetrics.New(reg)),
		otpservice.WithTTL(cfg.OTP.TTL),
	}
	if deps.redis != nil {
		opts = append(opts, otpservice.WithRateLimiter(
			otpratelimit.NewLimiter(deps.redis.Client, cfg.OTP.RateWindow, cfg.OTP.RateMax, cfg.OTP.Cooldown),
		))
	}
	return otpservice.New(store, notifier, opts...), nil
}

func newLedger(ctx context.Context, cfg config.LedgerConfig, log *slog.Logger) (ledger.Client, error) {
	if cfg.RPCURL == "" {
		log.Warn("SEPOLIA_RPC_URL is unset; minting against the in-memory ledger")
		return ledger.NewMemory(), nil
	}
	client, err := ethereum.Dial(ctx, ethereum.Config{
		RPCURL:          cfg.RPCURL,
		PrivateKey:      cfg.PrivateKey,
		ContractAddress: cfg.ContractAddr,
		ChainID:         cfg.ChainID,
		PollInterval:    cfg.PollInterval,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("configure ledger: %w", err)
	}
	breaker := circuit.New("ledger",
		circuit.WithFailureThreshold(cfg.BreakerFailures),
		circuit.WithSuccessThreshold(1),
		circuit.WithCooldown(cfg.BreakerCooldown),
	)
	return ledger.NewGuarded(client, breaker, log), nil
}

// newRateLimiter prefers shared Redis windows and falls back to per-process
// windows while Redis is failing.
func newRateLimiter(cfg config.RateLimitConfig, local *bucket.InMemoryBucketStore, deps *infra, log *slog.Logger) *ratelimit.Middleware {
	opts := []ratelimit.Option{
		ratelimit.WithLogger(log),
		ratelimit.WithLimit(ratelimitmodels.ClassAuth, ratelimit.Limit{Requests: cfg.AuthRequests, Window: cfg.AuthWindow}),
	}
	if deps.redis == nil {
		return ratelimit.New(local, opts...)
	}
	opts = append(opts, ratelimit.WithFallback(local, circuit.New("ratelimit-redis", circuit.WithCooldown(10*time.Second))))
	return ratelimit.New(bucket.NewRedisBucketStore(deps.redis.Client), opts...)
}

func purgeExpiredChallenges(ctx context.Context, m *otpservice.Manager, every time.Duration, log *slog.Logger) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := m.PurgeExpired(ctx); err != nil {
				log.WarnContext(ctx, "otp purge failed", "error", err)
			}
		}
	}
}
