package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gamiai/internal/api"
	"gamiai/internal/audio"
	"gamiai/internal/chat"
	"gamiai/internal/config"
	"gamiai/internal/logging"
	"gamiai/internal/redis"
	"gamiai/internal/service/ai"
	"gamiai/internal/service/conversation"
	"gamiai/internal/service/voice"
	"gamiai/internal/session"
	"gamiai/internal/storage"
	"gamiai/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			defer logger.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, cfg, logger)
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	db, backend, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer storage.Close(db) //nolint:errcheck

	store, err := prepareStore(ctx, db)
	if err != nil {
		return err
	}

	sessions, closeSessions, err := newSessionStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeSessions()

	persister, closePersister, err := newPersister(ctx, cfg, store, logger)
	if err != nil {
		return err
	}
	defer closePersister()

	artifacts, audioDir, err := newArtifactStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	voiceSvc := voice.NewService(cfg.Voice, cfg.VoiceTimeout())
	orchestrator := chat.NewOrchestrator(chat.Deps{
		Generator:   ai.NewService(cfg.LLM, cfg.LLMTimeout(), logger.Named("ai")),
		Sessions:    sessions,
		Persister:   persister,
		Synthesizer: voiceSvc,
		Transcriber: voiceSvc,
		Artifacts:   artifacts,
		Logger:      logger.Named("chat"),
	}, chat.Options{
		AutoSpeak:          cfg.Voice.AutoSpeak,
		SynthesisMaxLength: cfg.Voice.SynthesisMaxLength,
	})

	manager := worker.NewManager(cfg.BasicConfig.QueueSize,
		time.Duration(cfg.BasicConfig.SessionIdleTimeout)*time.Minute, logger.Named("worker"))
	defer manager.Close()

	handlers := api.NewHandler(api.Deps{
		Conversation: orchestrator,
		Sessions:     sessions,
		Workers:      manager,
		Threads:      store,
		Backend:      backend,
		Ping:         func(ctx context.Context) error { return storage.Ping(ctx, db) },
		AudioDir:     audioDir,
		Logger:       logger.Named("api"),
	})

	if cfg.BasicConfig.GinMode != "" {
		gin.SetMode(cfg.BasicConfig.GinMode)
	}
	router := gin.New()
	router.Use(gin.Recovery(), logging.GinLogger(logger.Named("http")))
	handlers.RegisterRoutes(router)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8000"
	}
	srv := &http.Server{Addr: addr, Handler: router}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", addr), zap.String("backend", backend.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newSessionStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (session.Store, func(), error) {
	if cfg.Redis.Addr == "" {
		logger.Info("session store: memory")
		return session.NewMemoryStore(), func() {}, nil
	}
	client, err := redis.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
	}
	logger.Info("session store: redis", zap.String("addr", cfg.Redis.Addr))
	ttl := time.Duration(cfg.Redis.SessionTTLMinutes) * time.Minute
	return session.NewRedisStore(client, ttl), func() { _ = client.Close() }, nil
}

// newPersister picks the broker-backed persister when AMQP is configured. The
// returned func drains the persister and then releases its connection.
func newPersister(ctx context.Context, cfg *config.Config, store *conversation.Store, logger *zap.Logger) (worker.Persister, func(), error) {
	if cfg.Queue.AMQPURL == "" {
		logger.Info("persistence: local buffer", zap.Int("buffer", cfg.Queue.Buffer))
		p := worker.NewLocalPersister(store, cfg.Queue.Buffer, logger.Named("persist"))
		return p, p.Close, nil
	}
	conn, err := worker.DialAMQP(ctx, cfg.Queue.AMQPURL)
	if err != nil {
		return nil, nil, err
	}
	p := worker.NewAMQPPersister(conn, store, cfg.Queue.PersistQueue, logger.Named("persist"))
	if err := p.Start(ctx); err != nil {
		p.Close()
		_ = conn.Close()
		return nil, nil, err
	}
	logger.Info("persistence: amqp", zap.String("queue", cfg.Queue.PersistQueue))
	return p, func() {
		p.Close()
		_ = conn.Close()
	}, nil
}

// newArtifactStore returns the store and, for local files, the directory to
// serve under /audio.
func newArtifactStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (audio.Store, string, error) {
	ttl := time.Duration(cfg.Audio.TTLMinutes) * time.Minute
	if cfg.Audio.MinioEndpoint != "" {
		store, err := audio.NewMinioStore(ctx, cfg.Audio.MinioEndpoint, cfg.Audio.MinioAccessKey,
			cfg.Audio.MinioSecretKey, cfg.Audio.MinioBucket, cfg.Audio.MinioUseSSL, ttl)
		if err != nil {
			return nil, "", err
		}
		logger.Info("audio store: minio", zap.String("bucket", cfg.Audio.MinioBucket))
		return store, "", nil
	}
	store, err := audio.NewFileStore(cfg.Audio.Dir, "/audio", logger.Named("audio"))
	if err != nil {
		return nil, "", err
	}
	store.StartCleaner(ctx, time.Duration(cfg.Audio.CleanupIntervalMinutes)*time.Minute, ttl)
	logger.Info("audio store: local", zap.String("dir", store.Dir()))
	return store, store.Dir(), nil
}
