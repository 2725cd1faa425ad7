package main

import (
	"context"
	"time"

	"formlink/internal/handlers"
	"formlink/internal/ingest"
	"formlink/internal/link"
	"formlink/internal/metrics"
	"formlink/internal/session"
	"formlink/internal/store"
	"formlink/pkg/config"
	"formlink/pkg/logging"
	"formlink/pkg/monitoring"
	"formlink/pkg/server"
	"formlink/pkg/version"
)

const serviceName = "formlink"

func main() {
	logger := logging.NewLoggerWithService(serviceName)
	config.LoadEnv(logger)

	logger.WithFields(logging.Fields{
		"version": version.Version,
		"commit":  version.GetShortCommit(),
	}).Info("Starting session broker")

	projectID := config.RequireEnv("PROJECT_ID")
	bucketName := config.GetEnv("STORAGE_BUCKET", projectID+".appspot.com")
	storageEmulator := config.GetEnv("FIREBASE_STORAGE_EMULATOR_HOST", "")
	videoRoot := config.GetEnv("VIDEO_ROOT", ".video")
	mlRoot := config.GetEnv("ML_ROOT", ".ml")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	workouts, err := store.NewFirestoreWorkouts(ctx, projectID)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Firestore")
	}
	defer workouts.Close()

	blobs, err := store.NewBucketVideos(ctx, bucketName, storageEmulator)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open video bucket")
	}

	metricsCollector := monitoring.NewMetricsCollector(serviceName, version.Version, version.GitCommit)
	brokerMetrics := metrics.New(metricsCollector)

	healthChecker := monitoring.NewHealthChecker(serviceName, version.Version)
	healthChecker.AddCheck("config", monitoring.ConfigurationHealthCheck(map[string]string{
		"PROJECT_ID":     projectID,
		"STORAGE_BUCKET": bucketName,
	}))
	healthChecker.AddCheck("video_root", monitoring.DirectoryWritableHealthCheck(videoRoot))
	healthChecker.AddCheck("firestore", monitoring.PingHealthCheck("Firestore", func() error {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		return workouts.Ping(pingCtx)
	}))
	healthChecker.AddCheck("storage", monitoring.PingHealthCheck("Cloud Storage", func() error {
		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()
		return blobs.Ping(pingCtx)
	}))

	analyzer := ingest.NewPythonAnalyzer(mlRoot, logger)
	pipeline := ingest.NewPipeline(workouts, blobs, analyzer, videoRoot, logger, brokerMetrics)

	manager := link.NewManager(logger, brokerMetrics)
	go func() {
		// Run returns only on an invariant breach; the pairing state is
		// unrecoverable at that point.
		if err := manager.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Fatal("Link manager aborted")
		}
	}()

	router := server.SetupRouter(logger, serviceName)
	router.Use(metricsCollector.MetricsMiddleware())
	router.GET("/health", healthChecker.Handler())
	router.GET("/metrics", metricsCollector.Handler())

	handlers.New(manager, session.PipelineStarter{Pipeline: pipeline}, logger, brokerMetrics).RegisterRoutes(router)

	cfg := server.DefaultConfig(serviceName, "3000")
	if err := server.Start(cfg, router, logger); err != nil {
		logger.WithError(err).Fatal("Server failed")
	}
}
