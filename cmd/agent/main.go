package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/ITZ-Steve3153/New-bot/internal/ack"
	"github.com/ITZ-Steve3153/New-bot/internal/commands"
	"github.com/ITZ-Steve3153/New-bot/internal/config"
	"github.com/ITZ-Steve3153/New-bot/internal/control"
	"github.com/ITZ-Steve3153/New-bot/internal/controller"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer"
	"github.com/ITZ-Steve3153/New-bot/internal/enforcer/discord"
	"github.com/ITZ-Steve3153/New-bot/internal/escalation"
	"github.com/ITZ-Steve3153/New-bot/internal/kafka"
	"github.com/ITZ-Steve3153/New-bot/internal/metrics"
	"github.com/ITZ-Steve3153/New-bot/internal/ratelimit"
	"github.com/ITZ-Steve3153/New-bot/internal/reconciler"
	"github.com/ITZ-Steve3153/New-bot/internal/scheduler"
	"github.com/ITZ-Steve3153/New-bot/internal/state"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger, err := buildLogger(cfg)
	if err != nil {
		panic(err)
	}
	defer logger.Sync() //nolint:errcheck

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	recorder := metrics.NewRecorder(registry)
	recorder.SetBackend(cfg.Gateway.Backend)

	store := state.NewStore(state.Options{
		TriggerPath:      cfg.TriggerStatePath,
		PunishmentPath:   cfg.PunishmentStatePath,
		HistoryRetention: cfg.ActionHistoryRetention,
		LockTimeout:      cfg.StateLockTimeout,
		OnPersistError: func(err error) {
			recorder.ObservePersistFailure()
			logger.Error("failed to persist moderation state, will retry", zap.Error(err))
		},
	})
	if err := store.Load(); err != nil {
		logger.Warn("failed to load persisted moderation state, using defaults", zap.Error(err))
	}
	recorder.SetActiveTimers(store.ActiveTimers())

	killSwitch := control.NewKillSwitch(cfg.KillSwitchEnabled)
	recorder.SetKillSwitch(killSwitch.Enabled())
	killSwitch.Watch(func(enabled bool) {
		recorder.SetKillSwitch(enabled)
		logger.Warn("kill switch changed", zap.Bool("enabled", enabled))
	})

	backend, err := enforcer.Factory(enforcer.Options{
		Backend: cfg.Gateway.Backend,
		DryRun:  cfg.Gateway.DryRun,
		Logger:  logger,
		Discord: discord.Config{Token: cfg.Gateway.Token},
	})
	if err != nil {
		logger.Fatal("failed to initialize gateway", zap.Error(err))
	}
	invoker := enforcer.NewInvoker(backend, enforcer.InvokerOptions{
		Timeout:    cfg.Gateway.Timeout,
		Logger:     logger,
		Metrics:    recorder,
		KillSwitch: killSwitch,
	})

	rateCoord, rateCleanup := buildRateCoordinator(ctx, cfg, store, logger)
	if rateCleanup != nil {
		defer rateCleanup()
	}
	guard := ratelimit.NewGuard(rateCoord, cfg.RateLimiter.MaxActions, cfg.RateLimiter.Window)

	instanceID := controllerInstanceID(cfg.InstanceID)
	ackPublisher, ackCloser := buildAckPublisher(ctx, cfg, recorder, logger)
	if ackCloser != nil {
		defer ackCloser()
	}

	rec := reconciler.New(store, invoker, cfg.ReconcilerMaxBackoff, killSwitch, logger.Named("reconciler"), recorder)
	engineOpts := escalation.Options{
		Guard:       guard,
		MuteTagName: cfg.MuteTagName,
		InstanceID:  instanceID,
		Logger:      logger.Named("escalation"),
		Metrics:     recorder,
	}
	if ackPublisher != nil {
		rec.WithPublisher(ackPublisher, instanceID)
		engineOpts.Publisher = ackPublisher
	}
	engine := escalation.New(store, invoker, engineOpts)
	ctrl := controller.New(rec, engine, recorder, logger.Named("controller"), controller.Options{})

	if source, ok := backend.(enforcer.EventSource); ok {
		source.OnMemberUpdate(ctrl.HandleMemberUpdate)
	}
	if host, ok := backend.(enforcer.CommandHost); ok {
		svc := commands.NewService(store, invoker, logger.Named("commands"), recorder)
		if err := host.RegisterCommands(ctx, commands.Definitions(), svc.Dispatch); err != nil {
			logger.Fatal("failed to register commands", zap.Error(err))
		}
	}
	if opener, ok := backend.(enforcer.Opener); ok {
		if err := opener.Open(ctx); err != nil {
			logger.Fatal("failed to open gateway session", zap.Error(err))
		}
		defer opener.Close() //nolint:errcheck
	}

	rec.RunOnce(ctx)
	go rec.Run(ctx)

	sched := scheduler.New(engine, store, cfg.EscalationInterval, cfg.SchedulerMaxBackoff, killSwitch, logger.Named("scheduler"), recorder)
	go sched.Run(ctx)

	if cfg.MemberEvents.Enabled {
		consumer, err := kafka.NewConsumer(kafka.Config{
			Brokers:       cfg.MemberEvents.Brokers,
			GroupID:       cfg.MemberEvents.GroupID,
			Topic:         cfg.MemberEvents.Topic,
			ClientID:      cfg.MemberEvents.ClientID,
			TLS:           cfg.MemberEvents.TLS,
			TLSCAPath:     cfg.MemberEvents.TLSCAPath,
			TLSCertPath:   cfg.MemberEvents.TLSCertPath,
			TLSKeyPath:    cfg.MemberEvents.TLSKeyPath,
			SASLEnabled:   cfg.MemberEvents.SASLEnabled,
			SASLMechanism: cfg.MemberEvents.SASLMechanism,
			SASLUsername:  cfg.MemberEvents.SASLUsername,
			SASLPassword:  cfg.MemberEvents.SASLPassword,
			Metrics:       recorder,
			Logger:        logger.Named("kafka"),
		}, ctrl)
		if err != nil {
			logger.Fatal("failed to create member event consumer", zap.Error(err))
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil {
				logger.Error("member event consumer stopped", zap.Error(err))
				cancel()
			}
		}()
	}

	metricsServer := buildHTTPServer(cfg.MetricsAddr, registry, backend, killSwitch, logger)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()

	logger.Info("moderation agent started",
		zap.String("backend", cfg.Gateway.Backend),
		zap.Bool("dry_run", cfg.Gateway.DryRun),
		zap.String("instance", instanceID))

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()
	metricsServer.Shutdown(shutdownCtx) //nolint:errcheck
	if err := store.Flush(); err != nil {
		logger.Error("failed to flush moderation state on shutdown", zap.Error(err))
	}
	logger.Info("agent shutdown complete")
}

func buildRateCoordinator(ctx context.Context, cfg config.Config, store *state.Store, logger *zap.Logger) (ratelimit.Coordinator, func()) {
	switch cfg.RateLimiter.Backend {
	case "redis":
		client, err := ratelimit.DialRedis(ctx, ratelimit.RedisConfig{
			Addrs:    cfg.RateLimiter.RedisAddrs,
			Username: cfg.RateLimiter.RedisUser,
			Password: cfg.RateLimiter.RedisPass,
			DB:       cfg.RateLimiter.RedisDB,
		})
		if err != nil {
			logger.Fatal("failed to connect to redis for rate limiter", zap.Error(err))
		}
		coord, err := ratelimit.Factory("redis", ratelimit.Options{
			Redis: &ratelimit.RedisOptions{
				Client:    ratelimit.NewRedisAdapter(client),
				KeyPrefix: cfg.RateLimiter.KeyPrefix,
			},
		})
		if err != nil {
			logger.Fatal("failed to create redis rate limiter", zap.Error(err))
		}
		return coord, func() { _ = client.Close() }
	default:
		coord, err := ratelimit.Factory("local", ratelimit.Options{
			Local: &ratelimit.LocalOptions{History: store},
		})
		if err != nil {
			logger.Fatal("failed to create local rate limiter", zap.Error(err))
		}
		return coord, nil
	}
}

func controllerInstanceID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "moderation-agent"
}

func buildAckPublisher(ctx context.Context, cfg config.Config, recorder *metrics.Recorder, logger *zap.Logger) (ack.Publisher, func()) {
	if !cfg.Ack.Enabled {
		return nil, nil
	}
	producerCfg := ack.ProducerConfig{
		Brokers:      cfg.Ack.Brokers,
		ClientID:     cfg.Ack.ClientID,
		RetryMax:     cfg.Ack.RetryMax,
		RetryBackoff: cfg.Ack.RetryBackoff,
	}
	if cfg.MemberEvents.TLS {
		tlsConfig, err := kafka.BuildTLSConfig(cfg.MemberEvents.TLSCAPath, cfg.MemberEvents.TLSCertPath, cfg.MemberEvents.TLSKeyPath)
		if err != nil {
			logger.Fatal("failed to build audit Kafka TLS config", zap.Error(err))
		}
		producerCfg.TLS = tlsConfig
	}
	if cfg.MemberEvents.SASLEnabled {
		producerCfg.SASL = &kafka.SASLConfig{
			Mechanism: cfg.MemberEvents.SASLMechanism,
			Username:  cfg.MemberEvents.SASLUsername,
			Password:  cfg.MemberEvents.SASLPassword,
		}
	}
	producer, err := ack.NewSyncProducer(producerCfg)
	if err != nil {
		logger.Fatal("failed to create audit producer", zap.Error(err))
	}
	basePublisher, err := ack.NewKafkaPublisher(ack.Options{
		Producer:     producer,
		Topic:        cfg.Ack.Topic,
		RetryMax:     cfg.Ack.RetryMax,
		RetryBackoff: cfg.Ack.RetryBackoff,
		Logger:       logger,
		Metrics:      recorder,
	})
	if err != nil {
		producer.Close()
		logger.Fatal("failed to initialize audit publisher", zap.Error(err))
	}
	queue, err := ack.OpenQueue(ack.QueueOptions{Path: cfg.Ack.QueuePath, MaxSize: cfg.Ack.QueueMaxSize})
	if err != nil {
		basePublisher.Close(ctx)
		logger.Fatal("failed to open audit queue", zap.Error(err))
	}
	if size, err := queue.Len(ctx); err == nil {
		recorder.ObserveAckQueueDepth(size)
	} else {
		logger.Warn("failed to read audit queue depth", zap.Error(err))
	}
	retrier, err := ack.NewRetryingPublisher(ack.RetrierOptions{
		Queue:    queue,
		Backend:  basePublisher,
		Metrics:  recorder,
		Logger:   logger,
		Interval: cfg.Ack.RetryBackoff,
	})
	if err != nil {
		queue.Close()
		basePublisher.Close(ctx)
		logger.Fatal("failed to initialize audit retrier", zap.Error(err))
	}
	return retrier, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = retrier.Close(ctx)
		_ = basePublisher.Close(ctx)
	}
}
