package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/crimewatch/crimewatch/internal/analysis"
	"github.com/crimewatch/crimewatch/internal/api"
	"github.com/crimewatch/crimewatch/internal/config"
	"github.com/crimewatch/crimewatch/internal/db"
	"github.com/crimewatch/crimewatch/internal/detect"
	"github.com/crimewatch/crimewatch/internal/doctor"
	"github.com/crimewatch/crimewatch/internal/fetch"
	"github.com/crimewatch/crimewatch/internal/labels"
	"github.com/crimewatch/crimewatch/internal/logging"
	"github.com/crimewatch/crimewatch/internal/video"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Fatalf("fatal error: %v", err)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "crimewatch",
		Short:         "Classify surveillance video into crime categories",
		Version:       config.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API and background job runner",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return run()
			},
		},
		newPredictCmd(),
		newEvaluateCmd(),
		newInitWeightsCmd(),
	)
	return root
}

func run() error {
	startTime := time.Now()

	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDir(), 0755); err != nil {
		return fmt.Errorf("failed to create data dir: %w", err)
	}
	if err := os.MkdirAll(cfg.CacheDir(), 0755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	logger := logging.NewLogger(cfg.LogLevel())
	logger.Info("starting crimewatch", "version", config.Version, "data_dir", logging.SanitizePath(cfg.DataDir()))

	database, err := db.New(cfg.DBPath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer database.Close()

	repo := analysis.NewRepository(database.Conn())

	authToken, err := ensureAuthToken(repo)
	if err != nil {
		return fmt.Errorf("failed to ensure auth token: %w", err)
	}

	predictor, err := buildPredictor(cfg, logger)
	if err != nil {
		return err
	}
	defer predictor.Close()

	fmt.Println()
	fmt.Println("╔═══════════════════════════════════════════════════════════╗")
	fmt.Printf("║                   CRIMEWATCH v%-27s ║\n", config.Version)
	fmt.Println("╠═══════════════════════════════════════════════════════════╣")
	fmt.Printf("║  API URL:    http://%-37s ║\n", fmt.Sprintf("%s:%d", cfg.BindAddr(), cfg.Port()))
	fmt.Printf("║  Auth Token: %-45s ║\n", authToken)
	fmt.Printf("║  Model:      %-45s ║\n", predictor.ModelState())
	fmt.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	prober := &doctor.ToolProber{
		FFmpegPath:  cfg.FFmpegPath(),
		FFprobePath: cfg.FFprobePath(),
		Timeout:     cfg.DoctorTimeout(),
		Logger:      logger,
	}
	doc := doctor.NewCachedDoctor(prober, logger)

	initCtx, initCancel := context.WithTimeout(context.Background(), cfg.DoctorTimeout())
	if caps, err := doc.Refresh(initCtx); err != nil {
		logger.Warn("initial doctor probe failed, uploads will use the fallback path", "error", err)
	} else {
		logger.Info("video tooling detected",
			"ffmpeg", caps.FFmpeg.Version,
			"can_decode", caps.CanDecode,
		)
	}
	initCancel()

	fetcher := fetch.NewHTTPFetcher(cfg.CacheDir(), cfg.MaxUploadBytes(), cfg.FetchTimeout(), logger)
	svc := analysis.NewService(repo, predictor, fetcher, analysis.Options{
		CacheDir:       cfg.CacheDir(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
	}, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	runner := analysis.NewRunner(svc, repo, cfg.RunnerInterval(), logger)
	go runner.Start(ctx)

	apiServer := api.NewServer(api.ServerConfig{
		Port:           cfg.Port(),
		BindAddr:       cfg.BindAddr(),
		Version:        config.Version,
		Service:        svc,
		Tokens:         repo,
		Runner:         runner,
		Doctor:         doc,
		Database:       database,
		Logger:         logger,
		StartTime:      startTime,
		MaskDegraded:   cfg.MaskDegraded(),
		MaxUploadBytes: cfg.MaxUploadBytes(),
		CORSOrigins:    cfg.CORSOrigins(),
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil {
			logger.Error("HTTP server error", "error", err)
			return err
		}
	}

	logger.Info("initiating graceful shutdown")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown HTTP server", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// buildPredictor wires the label catalog, video decoder and model backend.
// A missing decoder or an unloadable model still yields a predictor that
// answers with the degraded outcome.
func buildPredictor(cfg config.Config, logger *slog.Logger) (*detect.Predictor, error) {
	catalog, err := labels.Load(cfg.LabelsFile())
	if err != nil {
		return nil, fmt.Errorf("failed to load labels: %w", err)
	}

	var decoder video.Decoder
	dec, err := video.NewFFmpegDecoder(cfg.FFmpegPath(), cfg.FFprobePath(), logger)
	if err != nil {
		logger.Warn("video decoder unavailable, every source will be classified as a blank clip", "error", err)
	} else {
		decoder = dec
	}

	seed, hasSeed := cfg.Seed()
	model, state, loadErr := detect.LoadModel(detect.LoadConfig{
		WeightsPath:    cfg.WeightsPath(),
		ONNXModelPath:  cfg.ONNXModelPath(),
		ONNXRuntimeLib: cfg.ONNXRuntimeLib(),
		Classes:        catalog.Len(),
		Seed:           seed,
		HasSeed:        hasSeed,
	}, logger)

	return detect.NewPredictor(detect.Config{
		Decoder: decoder,
		Model:   model,
		State:   state,
		LoadErr: loadErr,
		Catalog: catalog,
		Sample: video.Options{
			Frames:     cfg.Frames(),
			Resolution: cfg.Resolution(),
			Policy:     video.ParsePolicy(cfg.Sampling()),
		},
		Seed:    seed,
		HasSeed: hasSeed,
		Logger:  logging.WithComponent(logger, "detect"),
	}), nil
}

func ensureAuthToken(repo analysis.Repository) (string, error) {
	ctx := context.Background()

	existing, err := repo.GetConfig(ctx, api.AuthTokenKey)
	if err == nil && existing != "" {
		return existing, nil
	}

	tokenBytes := make([]byte, 32)
	if _, err := rand.Read(tokenBytes); err != nil {
		return "", err
	}
	token := hex.EncodeToString(tokenBytes)

	if err := repo.SetConfig(ctx, api.AuthTokenKey, token); err != nil {
		return "", err
	}

	return token, nil
}
