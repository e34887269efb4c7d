// Package main запускает HTTP-сервер сервиса бонусных скидок.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/bonyad-system/internal/config"
	"github.com/mmeshcher/bonyad-system/internal/handler"
	"github.com/mmeshcher/bonyad-system/internal/middleware"
	"github.com/mmeshcher/bonyad-system/internal/qr"
	"github.com/mmeshcher/bonyad-system/internal/repository"
	"github.com/mmeshcher/bonyad-system/internal/service"
	"github.com/mmeshcher/bonyad-system/internal/storage"
	"github.com/mmeshcher/bonyad-system/internal/verifier"
)

// stubVerifyDelay имитирует время обработки изображения заглушкой проверки.
const stubVerifyDelay = 1500 * time.Millisecond

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	var plateVerifier verifier.Verifier
	if cfg.VerifierAddress != "" {
		plateVerifier = verifier.NewRemoteVerifier(cfg.VerifierAddress)
	} else {
		plateVerifier = verifier.NewStubVerifier(stubVerifyDelay)
	}

	var images storage.ImageStore
	if cfg.S3Bucket != "" {
		images, err = storage.NewS3Store(context.Background(), storage.S3Config{
			Bucket:    cfg.S3Bucket,
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			BaseURL:   cfg.S3BaseURL,
		})
	} else {
		images, err = storage.NewDiskStore(cfg.UploadDir)
	}
	if err != nil {
		sugar.Fatalw("image store initialization error", "error", err.Error())
	}

	svc := service.NewService(repo, plateVerifier, images, qr.NewPNGRenderer(400), cfg.QRBaseURL)
	defer svc.Close()

	authMiddleware := middleware.NewAuthMiddleware(cfg.AuthSecret)
	h := handler.NewHandler(svc, logger, authMiddleware)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Ежедневная уборка: снять окна ожидания с неподтверждённых сканов
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		sugar.Fatalw("scheduler initialization error", "error", err.Error())
	}

	_, err = scheduler.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			cleaned, cleanupErr := svc.CleanupCooldowns(ctx)
			if cleanupErr != nil {
				sugar.Errorw("cooldown cleanup error", "error", cleanupErr.Error())
				return
			}
			if cleaned > 0 {
				sugar.Infow("cooldown cleanup complete", "scans", cleaned)
			}
		}),
	)
	if err != nil {
		sugar.Fatalw("scheduler job error", "error", err.Error())
	}
	scheduler.Start()

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting bonyad server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		if err := scheduler.Shutdown(); err != nil {
			sugar.Errorw("scheduler shutdown error", "error", err.Error())
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
