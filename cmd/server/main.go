package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"eventhub/internal/auth"
	"eventhub/internal/config"
	apphttp "eventhub/internal/http"
	"eventhub/internal/notify"
	"eventhub/internal/repository/memory"
	"eventhub/internal/repository/sqlite"
	"eventhub/internal/service"
	"eventhub/internal/storage"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.Log.Level); err == nil {
		logger.SetLevel(level)
	} else {
		logger.Warnf("unknown log level %q, keeping %s", cfg.Log.Level, logger.GetLevel())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	userRepo := sqlite.NewUserRepository(db)
	eventRepo := sqlite.NewEventRepository(db)
	outbox := sqlite.NewNotificationRepository(db)
	if err := sqlite.Init(ctx, userRepo, eventRepo, outbox); err != nil {
		logger.Fatalf("init repositories: %v", err)
	}

	transport, err := buildTransport(ctx, cfg, logger)
	if err != nil {
		logger.Fatalf("setup mail transport: %v", err)
	}

	dispatcher := notify.NewDispatcher(notify.Config{
		From:          cfg.Mail.From,
		MaxConcurrent: cfg.Notify.Workers,
		SendTimeout:   cfg.SendTimeout(),
		Logger:        logger,
	}, outbox, transport)
	if err := dispatcher.Start(ctx); err != nil {
		logger.Fatalf("start dispatcher: %v", err)
	}
	if err := dispatcher.Resume(ctx); err != nil {
		logger.Warnf("resume notifications: %v", err)
	}
	notifier := notify.NewNotifier(outbox, dispatcher, cfg.Notify.Async, logger)

	issuer := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.TokenTTL())
	// pending signups outlive their code so a late verify reports expiry, not a missing session
	pending := memory.NewPendingSignupStore(2 * cfg.OTPTTL())

	userService := service.NewUserService(userRepo, pending, notifier, issuer, service.UserServiceConfig{
		OTPTTL: cfg.OTPTTL(),
		Logger: logger,
	})
	eventService := service.NewEventService(eventRepo, userRepo, notifier, service.EventServiceConfig{
		Logger: logger,
	})

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	handler := apphttp.NewHandler(userService, eventService, issuer, apphttp.Options{
		SecureCookie: cfg.Auth.SecureCookie,
		SignupTTL:    cfg.OTPTTL(),
		Logger:       logger,
	})
	handler.RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("http server: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	dispatcher.Shutdown()

	logger.Info("bye")
}

func buildTransport(ctx context.Context, cfg config.Config, logger *logrus.Logger) (notify.Transport, error) {
	if cfg.Mail.Transport == config.TransportLog {
		logger.Info("mail transport: log")
		return notify.NewLogTransport(logger), nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Mail.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	switch cfg.Mail.Transport {
	case config.TransportSES:
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.Mail.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Mail.Endpoint)
			}
		})
		logger.Infof("mail transport: ses (region %s)", cfg.Mail.Region)
		return notify.NewSESTransport(client), nil
	case config.TransportS3:
		client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
			if cfg.Mail.Endpoint != "" {
				o.BaseEndpoint = aws.String(cfg.Mail.Endpoint)
				o.UsePathStyle = true
			}
		})
		logger.Infof("mail transport: s3 pickup bucket %s (region %s)", cfg.Mail.Bucket, cfg.Mail.Region)
		return notify.NewPickupTransport(storage.NewS3Service(client), cfg.Mail.Bucket, cfg.Mail.KeyPrefix), nil
	default:
		return nil, fmt.Errorf("unknown mail transport %q", cfg.Mail.Transport)
	}
}
