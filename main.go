package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"blogsy/ai"
	"blogsy/config"
	"blogsy/database"
	"blogsy/handlers"
	"blogsy/logger"
	"blogsy/mailer"
	"blogsy/middleware"
	"blogsy/routes"
	"blogsy/storage"
	"blogsy/websocket"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	zl, err := logger.New(cfg.IsRelease())
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer zl.Sync()

	if cfg.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	zl.Info("starting BlogSy backend", zap.String("port", cfg.Port), zap.String("db", cfg.DBName))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := database.ConnectWithRetry(ctx, cfg.MongoURI, cfg.DBName, 3, 2*time.Second, zl); err != nil {
		zl.Fatal("failed to connect to MongoDB", zap.Error(err))
	}
	zl.Info("MongoDB connected", zap.Bool("transactions", database.SupportsTransactions))

	if err := database.EnsureIndexes(ctx); err != nil {
		zl.Fatal("failed to create indexes", zap.Error(err))
	}

	uploader, err := buildUploader(ctx, cfg, zl)
	if err != nil {
		zl.Fatal("failed to configure uploads", zap.Error(err))
	}

	var generator ai.Generator
	if cfg.GeminiAPIKey != "" {
		gemini, err := ai.NewGeminiClient(ctx, cfg.GeminiAPIKey, cfg.GeminiModel)
		if err != nil {
			zl.Fatal("failed to create AI client", zap.Error(err))
		}
		defer gemini.Close()
		generator = gemini
		zl.Info("AI assistant enabled", zap.String("model", cfg.GeminiModel))
	} else {
		zl.Warn("GEMINI_API_KEY not set, AI assistant disabled")
	}

	hubCtx, stopHub := context.WithCancel(context.Background())
	hub := websocket.NewManager(zl.Named("ws"))
	websocket.SetAllowedOrigins(cfg.CORSOrigins)
	go hub.Start(hubCtx)

	tokens := middleware.NewTokenManager(cfg.JWTSecret, cfg.JWTRefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	handlers.Setup(handlers.Dependencies{
		Config:    cfg,
		Logger:    zl,
		Tokens:    tokens,
		Uploader:  uploader,
		Mailer:    buildMailer(cfg, zl),
		AI:        generator,
		WebSocket: hub,
	})

	sweepStop := make(chan struct{})
	router := routes.SetupRouter(routes.Options{
		Config:    cfg,
		Logger:    zl,
		Tokens:    tokens,
		WebSocket: hub,
		Stop:      sweepStop,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		zl.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	zl.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		zl.Error("forced shutdown", zap.Error(err))
	}

	close(sweepStop)
	stopHub()
	if err := database.DisconnectMongo(); err != nil {
		zl.Error("failed to disconnect MongoDB", zap.Error(err))
	}
	zl.Info("server stopped")
}

// buildUploader chains the configured image hosts. Local disk is always the last resort.
func buildUploader(ctx context.Context, cfg *config.Config, zl *zap.Logger) (storage.Uploader, error) {
	var providers []storage.Uploader

	if cfg.CloudinaryURL != "" {
		cld, err := storage.NewCloudinaryUploader(cfg.CloudinaryURL, "blogsy")
		if err != nil {
			zl.Warn("cloudinary disabled", zap.Error(err))
		} else {
			providers = append(providers, cld)
		}
	}
	if cfg.AWSBucketName != "" {
		s3, err := storage.NewS3Uploader(ctx, cfg.AWSRegion, cfg.AWSBucketName)
		if err != nil {
			zl.Warn("s3 disabled", zap.Error(err))
		} else {
			providers = append(providers, s3)
		}
	}

	local, err := storage.NewLocalUploader(cfg.UploadDir, cfg.PublicURL)
	if err != nil {
		return nil, err
	}
	providers = append(providers, local)

	chain := storage.NewChain(zl.Named("storage"), providers...)
	zl.Info("upload providers", zap.String("chain", chain.Name()))
	return chain, nil
}

func buildMailer(cfg *config.Config, zl *zap.Logger) mailer.Sender {
	switch {
	case cfg.SendGridAPIKey != "":
		zl.Info("mail via SendGrid")
		return mailer.NewSendGridSender(cfg.SendGridAPIKey, cfg.MailFromName, cfg.MailFrom)
	case cfg.SMTPHost != "":
		zl.Info("mail via SMTP", zap.String("host", cfg.SMTPHost))
		return &mailer.SMTPSender{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUser,
			Password: cfg.SMTPPass,
			FromName: cfg.MailFromName,
			From:     cfg.MailFrom,
		}
	default:
		zl.Warn("no mail provider configured, emails will be logged")
		return mailer.LogSender{Log: zl.Named("mail")}
	}
}
