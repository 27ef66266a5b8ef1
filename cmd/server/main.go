package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Brownie44l1/fish-api/internal/config"
	"github.com/Brownie44l1/fish-api/internal/handlers"
	"github.com/Brownie44l1/fish-api/internal/imageio"
	"github.com/Brownie44l1/fish-api/internal/logging"
	"github.com/Brownie44l1/fish-api/internal/model"
	"github.com/Brownie44l1/fish-api/internal/predict"
)

const shutdownGrace = 10 * time.Second

var (
	flagPort     string
	flagModel    string
	flagMetadata string
	flagConfig   string
)

var rootCmd = &cobra.Command{
	Use:          "fish-api",
	Short:        "HTTP service classifying fish images as fresh or infected",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagConfig != "" {
			if err := os.Setenv("CONFIG_FILE", flagConfig); err != nil {
				return err
			}
		}
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		if flagPort != "" {
			cfg.Port = flagPort
		}
		if flagModel != "" {
			cfg.ModelPath = flagModel
		}
		if flagMetadata != "" {
			cfg.MetadataPath = flagMetadata
		}

		log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		defer func() { _ = log.Sync() }()

		return serve(cmd.Context(), cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	handle := model.NewHandle(model.HandleConfig{
		ModelPath:    cfg.ModelPath,
		MetadataPath: cfg.MetadataPath,
		Lazy:         cfg.LazyLoad,
		Factory:      model.ONNXFactory(cfg.OnnxLibPath),
	})
	defer func() {
		if err := handle.Close(); err != nil {
			log.Warnw("failed to close model", "error", err)
		}
	}()

	log.Infow("loading model", "path", cfg.ModelPath, "lazy", cfg.LazyLoad)
	if !cfg.LazyLoad {
		// Keep serving on failure; /predict reports model_not_loaded.
		if err := handle.Load(ctx); err != nil {
			log.Errorw("failed to load model", "path", cfg.ModelPath, "error", err)
		} else if m, err := handle.Get(ctx); err == nil {
			log.Infow("model loaded", "version", m.Version, "classes", m.Metadata.Classes,
				"image_size", m.Metadata.ImageSize)
		}
	}

	images := imageio.NewLoader(cfg.FetchTimeout, cfg.MaxFetchBytes).WithMaxPixels(cfg.MaxPixels)
	svc, err := predict.NewService(images, handle, predict.Options{
		ThresholdMode:    predict.ThresholdMode(cfg.ThresholdMode),
		DefaultThreshold: cfg.DefaultThreshold,
		ThumbSize:        cfg.ThumbSize,
	}, log)
	if err != nil {
		return err
	}

	handler := handlers.NewHandler(svc, cfg.MaxBodyBytes, log)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(handler, log),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infow("server starting", "port", cfg.Port)
		log.Info("endpoints: GET / banner, GET /health health check, POST /predict classify image_url or image_base64")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func init() {
	rootCmd.Flags().StringVar(&flagPort, "port", "", "listen port (overrides PORT)")
	rootCmd.Flags().StringVar(&flagModel, "model", "", "path to the ONNX model (overrides MODEL_PATH)")
	rootCmd.Flags().StringVar(&flagMetadata, "metadata", "", "path to the model metadata sidecar (overrides MODEL_METADATA_PATH)")
	rootCmd.Flags().StringVar(&flagConfig, "config", "", "YAML config file (overrides CONFIG_FILE)")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
