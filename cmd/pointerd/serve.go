package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/pointerd/internal/analytics"
	"github.com/fyrsmithlabs/pointerd/internal/config"
	httpapi "github.com/fyrsmithlabs/pointerd/internal/http"
	"github.com/fyrsmithlabs/pointerd/internal/input"
	"github.com/fyrsmithlabs/pointerd/internal/logging"
	"github.com/fyrsmithlabs/pointerd/internal/pipeline"
	"github.com/fyrsmithlabs/pointerd/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// services bundles everything the transports need.
type services struct {
	store     *telemetry.Store
	pipeline  *pipeline.Service
	analytics *analytics.Service
	logger    *zap.Logger
}

// runServe starts the HTTP daemon and blocks until a signal arrives.
func runServe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	cfg, logger, svcs, err := initServices()
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	srv, err := httpapi.NewServer(svcs.pipeline, svcs.store, svcs.analytics, logger, &httpapi.Config{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ScreenWidth:  cfg.Screen.Width,
		ScreenHeight: cfg.Screen.Height,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}
	srv.Echo().GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	logger.Info("pointerd configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.String("telemetry_root", cfg.Telemetry.RootDir),
		zap.Bool("drift_compensation", cfg.Telemetry.DriftCompensation),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}

// initServices loads configuration and wires the service graph shared by
// the HTTP daemon and the MCP stdio transport.
func initServices() (*config.Config, *zap.Logger, *services, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("starting pointerd",
		zap.Int("port", cfg.Server.Port),
		zap.Int("screen_width", cfg.Screen.Width),
		zap.Int("screen_height", cfg.Screen.Height),
	)

	// The store is always constructed; Enabled=false turns every write
	// into a no-op while the session API keeps working.
	store, err := telemetry.NewStore(&telemetry.Config{
		RootDir:           cfg.Telemetry.RootDir,
		Enabled:           cfg.Telemetry.Enabled,
		DriftCompensation: cfg.Telemetry.DriftCompensation,
		DriftAlpha:        cfg.Telemetry.DriftAlpha,
		Calibration:       cfg.Telemetry.Calibration,
	}, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize telemetry store: %w", err)
	}

	// The simulated desktop driver stands in until an OS binding is
	// plugged in; input.Driver is the integration point.
	driver := input.NewSim(cfg.Screen.Width, cfg.Screen.Height)

	pipeSvc, err := pipeline.NewService(pipelineConfig(cfg), driver, store, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	analyticsSvc, err := analytics.NewService(nil, store, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to initialize analytics: %w", err)
	}

	return cfg, logger, &services{
		store:     store,
		pipeline:  pipeSvc,
		analytics: analyticsSvc,
		logger:    logger,
	}, nil
}

// pipelineConfig maps the loaded configuration onto pipeline tunables.
func pipelineConfig(cfg *config.Config) *pipeline.Config {
	return &pipeline.Config{
		SuccessRadius:      cfg.Click.SuccessRadius,
		SettleDelay:        time.Duration(cfg.Click.SettleDelay),
		MultiClickInterval: time.Duration(cfg.Click.MultiClickInterval),
		CalibrationWindow:  cfg.Telemetry.CalibrationWindow,
		CalibrationDelay:   time.Duration(cfg.Telemetry.CalibrationDelay),
		ScreenWidth:        cfg.Screen.Width,
		ScreenHeight:       cfg.Screen.Height,
		Snap: pipeline.SnapConfig{
			Enabled:         cfg.Click.Snap.Enabled,
			Radius:          cfg.Click.Snap.Radius,
			DistancePenalty: cfg.Click.Snap.DistancePenalty,
			MinImprovement:  cfg.Click.Snap.MinImprovement,
			MaxShift:        cfg.Click.Snap.MaxShift,
		},
		Hover: pipeline.HoverConfig{
			Enabled:   cfg.Click.Hover.Enabled,
			Offset:    cfg.Click.Hover.Offset,
			Threshold: cfg.Click.Hover.Threshold,
		},
		Verify: pipeline.VerifyConfig{
			Enabled:         cfg.Click.Verify.Enabled,
			Delay:           time.Duration(cfg.Click.Verify.Delay),
			ROIRadius:       cfg.Click.Verify.ROIRadius,
			ChangeThreshold: cfg.Click.Verify.ChangeThreshold,
			RetryMax:        cfg.Click.Verify.RetryMax,
		},
	}
}
