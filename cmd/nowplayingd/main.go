package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/care/nowplaying/internal/artwork"
	"github.com/care/nowplaying/internal/canvas"
	"github.com/care/nowplaying/internal/config"
	"github.com/care/nowplaying/internal/control"
	"github.com/care/nowplaying/internal/core"
	"github.com/care/nowplaying/internal/emitter"
	"github.com/care/nowplaying/internal/source/spotify"
	"github.com/care/nowplaying/internal/source/ytm"
)

const defaultConfigPath = "config/nowplaying.yaml"

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup structured logger
	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	slog.Info("starting nowplaying service",
		"config", *configPath,
		"debug", *debug,
	)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("service error", "error", err)
		os.Exit(1)
	}
	slog.Info("nowplaying service stopped successfully")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var sink canvas.FrameSink
	if cfg.Display.OutputPath != "" {
		sink = &canvas.PNGSink{Path: cfg.Display.OutputPath}
	}
	display, err := canvas.New(cfg.Display.Width, cfg.Display.Height, sink)
	if err != nil {
		return fmt.Errorf("failed to create canvas: %w", err)
	}

	deps := core.Deps{
		Polling: spotify.New(
			cfg.Spotify.Endpoint,
			spotify.FileToken(cfg.Spotify.AccessTokenFile),
			time.Duration(cfg.Spotify.TimeoutS)*time.Second,
			nil,
		),
		Hybrid: ytm.New(ytm.Config{
			Broker:     cfg.YTM.Broker,
			StateTopic: cfg.YTM.StateTopic,
			ClientID:   cfg.YTM.ClientID,
		}, logger),
		Canvas:  display,
		Fetcher: artwork.New(artwork.Config{Timeout: cfg.ArtworkTimeout()}, nil, logger),
		Logger:  logger,
	}

	// Optional MQTT: state emission, priority switching and the control plane
	var mqttEmitter *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		mqttEmitter, err = emitter.NewMQTTEmitter(emitter.Config{
			Broker:        cfg.MQTT.Broker,
			ClientID:      fmt.Sprintf("%s-%s", cfg.InstanceID, uuid.NewString()[:8]),
			InstanceID:    cfg.InstanceID,
			StateTopic:    cfg.MQTT.Topics.State,
			PriorityTopic: cfg.MQTT.Topics.Priority,
			PayloadFormat: cfg.MQTT.PayloadFormat,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create mqtt emitter: %w", err)
		}
		if err := mqttEmitter.Connect(ctx); err != nil {
			return fmt.Errorf("failed to connect mqtt: %w", err)
		}
		deps.Switcher = mqttEmitter
		deps.Publisher = mqttEmitter
	} else {
		slog.Info("mqtt broker not configured, state emission and priority mode disabled")
	}

	engine := core.New(cfg, deps)

	var controlHandler *control.Handler
	if mqttEmitter != nil {
		controlHandler = control.NewHandler(mqttEmitter.Client, cfg.MQTT.Topics.Control, control.CommandCallbacks{
			OnGetStatus: engine.StatusMap,
			OnActivateDisplay: func() error {
				engine.ActivateDisplay()
				return nil
			},
			OnDeactivateDisplay: func() error {
				engine.DeactivateDisplay()
				return nil
			},
			OnForceRefresh: func() error {
				engine.ForceRefresh()
				return nil
			},
		}, logger)
		if err := controlHandler.Start(ctx); err != nil {
			return fmt.Errorf("failed to start control plane: %w", err)
		}
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// Render ticker: the display's cadence drives scrolling
	g.Go(func() error {
		ticker := time.NewTicker(cfg.RenderInterval())
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				engine.Render(false)
			}
		}
	})

	if cfg.Health.Port != "" {
		server := engine.NewHealthServer(cfg.Health.Port)
		g.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("health check server failed: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout())
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	slog.Info("nowplaying service running",
		"instance_id", cfg.InstanceID,
		"preferred_source", cfg.PreferredSource,
		"render_interval", cfg.RenderInterval(),
		"engine_enabled", engine.Enabled(),
	)

	runErr := g.Wait()

	// Graceful shutdown
	shutdownTimeout := cfg.ShutdownTimeout()
	slog.Info("shutting down gracefully", "timeout", shutdownTimeout)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if runErr != nil {
		errs = append(errs, runErr)
	}
	if controlHandler != nil {
		if err := controlHandler.Stop(); err != nil {
			slog.Error("failed to stop control handler", "error", err)
		}
	}
	if err := engine.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if mqttEmitter != nil {
		if err := mqttEmitter.Disconnect(); err != nil {
			slog.Error("failed to disconnect mqtt", "error", err)
		}
	}
	return errors.Join(errs...)
}
