package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/convoport/convoport/internal/config"
	"github.com/convoport/convoport/internal/delivery"
	"github.com/convoport/convoport/internal/middleware"
	"github.com/convoport/convoport/internal/netquality"
	"github.com/convoport/convoport/internal/offline"
	"github.com/convoport/convoport/internal/ratelimit"
	"github.com/convoport/convoport/internal/security"
	"github.com/convoport/convoport/internal/server"
	"github.com/convoport/convoport/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "convoport: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	_ = godotenv.Load()

	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Log.Level)
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer log.Sync()

	// Counter store: in-process, optionally fronted by Redis with
	// automatic degradation on backend outage.
	memStore := ratelimit.NewMemoryStore()
	defer memStore.Close()
	var windowStore ratelimit.WindowStore = memStore
	if cfg.Redis.Enabled {
		redisStore := ratelimit.NewRedisStore(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		defer redisStore.Close()
		windowStore = ratelimit.NewFailoverStore(redisStore, memStore, log)
		log.Info("using redis counter store", zap.String("addr", cfg.Redis.Addr))
	}

	// Security event log, optionally mirrored to a durable file.
	var sink security.Sink
	if cfg.Security.EventsFile != "" {
		fileSink, err := security.NewFileSink(cfg.Security.EventsFile)
		if err != nil {
			return fmt.Errorf("opening events file: %w", err)
		}
		defer fileSink.Close()
		sink = fileSink
	}
	events := security.NewEventLog(sink, log)
	defer events.Close()

	trackerCfg := security.DefaultTrackerConfig()
	trackerCfg.AutoBlockThreshold = cfg.Abuse.AutoBlockThreshold
	trackerCfg.AutoBlockDuration = cfg.Abuse.AutoBlockDuration
	trackerCfg.SweepInterval = cfg.Abuse.SweepInterval
	tracker := security.NewTracker(trackerCfg, events, log)
	defer tracker.Close()

	rules := ratelimit.DefaultRules()
	if cfg.RateLimit.RulesFile != "" {
		rules, err = ratelimit.LoadRuleFile(cfg.RateLimit.RulesFile)
		if err != nil {
			return fmt.Errorf("loading rate limit rules: %w", err)
		}
	}
	limiter := ratelimit.NewLimiter(windowStore, tracker, rules, log)
	if cfg.RateLimit.RulesFile != "" && cfg.RateLimit.WatchRules {
		watcher, err := ratelimit.WatchRuleFile(cfg.RateLimit.RulesFile, limiter, log)
		if err != nil {
			return fmt.Errorf("watching rules file: %w", err)
		}
		defer watcher.Close()
	}

	// Offline queue: rehydrated from disk before any replay runs.
	queueStore, err := offline.NewBadgerStore(cfg.Queue.Path)
	if err != nil {
		return fmt.Errorf("opening offline queue: %w", err)
	}
	queue, err := offline.NewQueue(queueStore, events, log)
	if err != nil {
		return fmt.Errorf("rehydrating offline queue: %w", err)
	}
	defer queue.Close()

	classifier := netquality.NewClassifier(nil, log)
	executor := delivery.NewExecutor(&http.Client{}, classifier, log)
	executor.SetFailureQueue(queue)
	executor.SetReplayer(queue)
	queue.SetAttempt(func(ctx context.Context, action *offline.Action) error {
		url, ok := cfg.Delivery.Targets[action.Kind]
		if !ok {
			return fmt.Errorf("no delivery target configured for kind %q", action.Kind)
		}
		_, err := executor.Execute(ctx, delivery.Target{
			Name:        action.Kind,
			URL:         url,
			BaseTimeout: cfg.Delivery.BaseTimeout,
		}, action.Payload, delivery.Options{})
		return err
	})
	if cfg.Queue.ReplayOnStart {
		go queue.TriggerReplay()
	}

	admission := middleware.NewAdmission(limiter, tracker, events, log)
	srv := server.New(cfg.Server, admission, tracker, events, queue, log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Run()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
