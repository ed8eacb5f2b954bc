package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"relaygate/internal/access/captcha"
	accessservice "relaygate/internal/access/service"
	accessstore "relaygate/internal/access/store"
	"relaygate/internal/admin"
	adminhandler "relaygate/internal/admin/handler"
	adminmiddleware "relaygate/internal/admin/middleware"
	"relaygate/internal/bot"
	mappingstore "relaygate/internal/mapping/store"
	"relaygate/internal/platform/config"
	"relaygate/internal/platform/database"
	"relaygate/internal/platform/httpserver"
	"relaygate/internal/platform/kafka"
	"relaygate/internal/platform/logger"
	"relaygate/internal/platform/metrics"
	"relaygate/internal/platform/redis"
	"relaygate/internal/ratelimit/service/limiter"
	"relaygate/internal/ratelimit/store/bucket"
	"relaygate/internal/relay"
	"relaygate/internal/retention"
	"relaygate/internal/spam"
	topicservice "relaygate/internal/topic/service"
	topicstore "relaygate/internal/topic/store"
	"relaygate/internal/transport/telegram"
	"relaygate/pkg/domain"
	"relaygate/pkg/platform/audit"
	auditworker "relaygate/pkg/platform/audit/worker"
)

const (
	auditQueueSize  = 1024
	shutdownTimeout = 10 * time.Second
)

// main loads configuration and hands over to run; every failure before the
// run group starts is fatal.
func main() {
	configPath := flag.String("config", os.Getenv("RELAYGATE_CONFIG"), "path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "relaygate: %v\n", err)
		os.Exit(2)
	}
	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("relaygate stopped", "error", err)
		os.Exit(1)
	}
	log.Info("relaygate stopped")
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer closeDB(db, log)
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db, cfg.Database.Driver); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	retrier := database.NewRetrier(database.WithRetryHook(m.IncrementStorageRetries))

	// cancel stops background workers if wiring fails after they started
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	auditor, err := buildAuditor(ctx, g, cfg.Audit, log)
	if err != nil {
		return err
	}

	classifierWindow, err := buildClassifierWindow(ctx, g, cfg.Redis, log)
	if err != nil {
		return err
	}
	floodWindow := bucket.New()

	access, err := accessservice.New(accessstore.NewSQL(db, retrier),
		accessservice.WithLogger(log),
		accessservice.WithAuditor(auditor),
		accessservice.WithMetrics(m),
		accessservice.WithPolicy(cfg.Access),
		accessservice.WithRenderer(captcha.New()),
		accessservice.WithFloodCounter(floodWindow),
	)
	if err != nil {
		return err
	}

	client, err := telegram.New(cfg.Telegram.Token,
		telegram.WithAPIURL(cfg.Telegram.APIURL),
		telegram.WithPollTimeout(cfg.Telegram.PollTimeout),
		telegram.WithRateLimit(cfg.Telegram.SendRate, cfg.Telegram.SendBurst),
		telegram.WithLogger(log),
		telegram.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	space := domain.ChatID(cfg.Telegram.SpaceID)

	caps, err := client.Capabilities(ctx, space)
	if err != nil {
		return fmt.Errorf("self-test: %w", err)
	}
	if err := caps.Check(); err != nil {
		return fmt.Errorf("self-test: %w", err)
	}
	log.InfoContext(ctx, "self-test passed", "bot", caps.BotUsername, "space_id", space)

	topics, err := topicservice.New(topicstore.NewSQL(db, retrier), client, space,
		topicservice.WithLogger(log),
		topicservice.WithAuditor(auditor),
		topicservice.WithMetrics(m),
	)
	if err != nil {
		return err
	}
	if _, err := topics.EnsureSpamTopic(ctx); err != nil {
		return fmt.Errorf("spam topic: %w", err)
	}

	classifier, err := buildClassifier(cfg.Classifier, classifierWindow, log, m)
	if err != nil {
		return err
	}

	mappings := mappingstore.NewSQL(db, retrier)
	relaySvc, err := relay.New(access, topics, mappings, classifier, client,
		relay.WithLogger(log),
		relay.WithAuditor(auditor),
		relay.WithMetrics(m),
	)
	if err != nil {
		return err
	}

	dispatcher, err := bot.New(relaySvc, client, space,
		bot.WithLogger(log),
		bot.WithBotIdentity(caps.BotID, caps.BotUsername),
		bot.WithOperators(cfg.Telegram.AdminID),
	)
	if err != nil {
		return err
	}

	hour, minute, err := cfg.Retention.Clock()
	if err != nil {
		return err
	}
	sweeper, err := retention.New(hour, minute, retention.WithLogger(log), retention.WithMetrics(m))
	if err != nil {
		return err
	}
	sweeper.Register(
		retention.CacheEvictJob(topics, cfg.Retention.CacheTTL),
		retention.MappingPurgeJob(mappings, cfg.Retention.MappingAge),
		retention.FloodSweepJob(floodWindow),
	)

	g.Go(func() error { return client.Run(ctx, dispatcher.Handle) })
	g.Go(func() error { return sweeper.Run(ctx) })

	if cfg.HTTP.Addr != "" {
		var validator *adminmiddleware.Validator
		if cfg.HTTP.JWTSigningKey != "" {
			if validator, err = adminmiddleware.NewValidator(cfg.HTTP.JWTSigningKey); err != nil {
				return err
			}
		} else {
			log.WarnContext(ctx, "no jwt signing key configured; admin /v1 API disabled")
		}
		router := admin.NewRouter(adminhandler.New(relaySvc, sweeper, log), validator, registry, log)
		srv := httpserver.New(cfg.HTTP.Addr, router)
		g.Go(func() error {
			log.InfoContext(ctx, "admin server listening", "addr", cfg.HTTP.Addr)
			return httpserver.Serve(ctx, srv, shutdownTimeout)
		})
	}

	log.InfoContext(ctx, "relaygate started", "space_id", space, "driver", cfg.Database.Driver)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// buildAuditor always publishes to the log and also to Kafka when brokers are
// configured. Either way events go through the async worker.
func buildAuditor(ctx context.Context, g *errgroup.Group, cfg config.Audit, log *slog.Logger) (*audit.Emitter, error) {
	var next audit.Publisher = audit.NewLogPublisher(log)
	producer, err := kafka.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
	if err != nil {
		return nil, fmt.Errorf("audit: %w", err)
	}
	if producer != nil {
		next = audit.Multi{next, audit.NewKafkaPublisher(producer)}
		g.Go(func() error {
			<-ctx.Done()
			producer.Close()
			return nil
		})
		log.InfoContext(ctx, "audit events go to kafka", "topic", cfg.KafkaTopic)
	}

	subjects, err := audit.NewPseudonymizer([]byte(cfg.SubjectKey))
	if err != nil {
		return nil, err
	}
	worker := auditworker.NewWorker(next, auditQueueSize, log)
	g.Go(func() error { return worker.Run(ctx) })
	return audit.NewEmitter(log, worker, subjects), nil
}

// buildClassifierWindow shares the classifier budget through Redis when it is
// configured, so several replicas stay under one limit.
func buildClassifierWindow(ctx context.Context, g *errgroup.Group, cfg config.Redis, log *slog.Logger) (limiter.Store, error) {
	if cfg.URL == "" {
		return bucket.New(), nil
	}
	client, err := redis.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("redis: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		return client.Close()
	})
	log.InfoContext(ctx, "classifier window in redis")
	return bucket.NewRedis(client.Client), nil
}

func buildClassifier(cfg config.Classifier, window limiter.Store, log *slog.Logger, m *metrics.Metrics) (*spam.Pipeline, error) {
	terms := cfg.ProhibitedTerms
	if cfg.ProhibitedTermsFile != "" {
		loaded, err := spam.LoadTerms(cfg.ProhibitedTermsFile)
		if err != nil {
			return nil, err
		}
		terms = append(terms, loaded...)
	}

	var strategies []spam.Strategy
	if cfg.Enabled() {
		budget, err := limiter.New(window, "classifier", cfg.RPM, cfg.TimePeriod)
		if err != nil {
			return nil, err
		}
		remote := spam.NewOpenAI(spam.NewOpenAIClient(cfg.BaseURL, cfg.Token), cfg.Model, cfg.JSONMode)
		strategies = append(strategies, spam.RateLimited(spam.Timeout(remote, cfg.Timeout), budget))
	} else {
		log.Warn("remote classifier not configured; keyword matching only")
	}
	strategies = append(strategies, spam.NewKeyword(terms))
	return spam.NewPipeline(strategies, spam.WithLogger(log), spam.WithMetrics(m)), nil
}

func closeDB(db *sql.DB, log *slog.Logger) {
	if err := db.Close(); err != nil {
		log.Error("failed to close database", "error", err)
	}
}
