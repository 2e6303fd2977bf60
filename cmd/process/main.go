package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/timmy/recap/internal/config"
	"github.com/timmy/recap/internal/domain"
	"github.com/timmy/recap/internal/logger"
	"github.com/timmy/recap/internal/repository"
	"github.com/timmy/recap/internal/service"
	"github.com/timmy/recap/internal/storage"
)

var imageFormats = map[string]string{
	".png":  "png",
	".jpg":  "jpeg",
	".jpeg": "jpeg",
	".webp": "webp",
	".gif":  "gif",
}

func main() {
	appLogger := logger.New(&logger.Config{
		Level:       "info",
		Format:      "json",
		ServiceName: "recap-process",
	})
	logger.SetDefault(appLogger)

	dir := flag.String("dir", ".", "Directory of captures to process")
	force := flag.Bool("force", false, "Reprocess captures even when a cached record is complete")
	configPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}

	items, err := collectCaptures(*dir)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to read capture directory")
	}
	if len(items) == 0 {
		appLogger.WithField("dir", *dir).Fatal("No captures found")
	}

	appLogger.WithFields(logger.Fields{
		"dir":   *dir,
		"count": len(items),
		"force": *force,
	}).Info("Starting batch processing")

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}
	contentRepo := repository.NewContentRepository(db)

	var captures storage.ObjectStorage
	if cfg.Storage.Enabled {
		s3Storage, err := storage.NewS3Storage(&storage.S3Config{
			Endpoint:  cfg.Storage.Endpoint,
			AccessKey: cfg.Storage.AccessKey,
			SecretKey: cfg.Storage.SecretKey,
			UseSSL:    cfg.Storage.UseSSL,
			Bucket:    cfg.Storage.Bucket,
			Region:    cfg.Storage.Region,
			PublicURL: cfg.Storage.PublicURL,
		})
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := s3Storage.EnsureBucket(context.Background()); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		captures = s3Storage
	}

	visionService := service.NewVisionService(cfg.Vision)
	indexClient := service.NewIndexClient(cfg.Index)

	coordinator := service.NewCoordinator(
		cfg.Pipeline,
		contentRepo,
		visionService,
		service.NewResolver(indexClient, cfg.Resolver),
		indexClient,
		captures,
		service.NewCacheGate(cfg.Gate),
	)

	// Cancel processing on SIGINT via the wait context; the job itself keeps
	// running detached, so a second interrupt kills the process.
	ctx, stop := signalContext()
	defer stop()

	job, err := coordinator.SubmitBatch(ctx, items, *force)
	if err != nil {
		appLogger.WithError(err).Fatal("Batch rejected")
	}
	if err := coordinator.Wait(ctx, job.ID); err != nil {
		appLogger.WithError(err).Fatal("Interrupted while waiting for job")
	}

	final, err := coordinator.GetJob(job.ID)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load job result")
	}

	for _, item := range final.Items {
		fields := logger.Fields{
			"file":   item.Filename,
			"status": item.Status,
			"cached": item.Cached,
		}
		if item.Error != "" {
			fields["error"] = item.Error
		}
		appLogger.WithFields(fields).Info("Capture processed")
	}

	appLogger.WithFields(logger.Fields{
		"status":  final.Status,
		"success": final.SuccessCount,
		"failed":  final.FailureCount,
		"cost":    final.ActualCost,
	}).Info("Batch completed")

	if final.Status != domain.JobStatusCompleted {
		os.Exit(1)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func collectCaptures(dir string) ([]service.BatchItem, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var items []service.BatchItem
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		format, ok := imageFormats[strings.ToLower(filepath.Ext(entry.Name()))]
		if !ok {
			continue
		}
		payload, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		items = append(items, service.BatchItem{
			Filename: entry.Name(),
			Payload:  payload,
			Format:   format,
		})
	}
	return items, nil
}
