package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/agriagent/agriagent/internal/api"
	"github.com/agriagent/agriagent/internal/buildinfo"
	"github.com/agriagent/agriagent/internal/health"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/mqtt"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *globalOpts) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), cmd, opts, port)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

// runServe loads config, assembles the service graph, starts the API
// server and the optional MQTT broadcaster, and blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func runServe(ctx context.Context, cmd *cobra.Command, opts *globalOpts, port int) error {
	cfg, cfgPath, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Listen.Port = port
	}
	logger, err := newLogger(cmd.OutOrStdout(), cfg, opts.logLevel)
	if err != nil {
		return err
	}

	logger.Info("starting AgriAgent", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)
	if cfgPath == "" {
		logger.Info("no config file found, using defaults")
	} else {
		logger.Info("config loaded", "path", cfgPath)
	}

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
	}

	a, err := buildApp(cfg, logger, m)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// --- MQTT broadcaster ---
	// Optional: every generated farm card is published as retained JSON
	// with Home Assistant discovery for its fields.
	var mqttPub *mqtt.Publisher
	if cfg.MQTT.Configured() {
		mqttPub = mqtt.New(cfg.MQTT, logger)
		a.cards.SetSink(mqttPub)
		go func() {
			if err := mqttPub.Start(ctx); err != nil {
				logger.Error("mqtt publisher failed", "error", err)
			}
		}()
		logger.Info("mqtt farm card broadcast enabled",
			"broker", cfg.MQTT.Broker,
			"device_name", cfg.MQTT.DeviceName,
		)
	} else {
		logger.Info("mqtt broadcast disabled (not configured)")
	}

	// --- Upstream health ---
	monitor := health.NewMonitor(logger)
	monitor.Watch(ctx, "reasoning", a.llm.Ping, health.DefaultSchedule())

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, api.Deps{
		Agent:       a.agent,
		Diagnoser:   a.vision,
		Interpreter: a.voice,
		Cards:       a.cards,
		Upstreams:   monitor,
		Metrics:     m,
	}, logger)
	server.SetAllowOrigins(cfg.CORS.AllowOrigins)

	go func() {
		<-ctx.Done()
		logger.Info("shutdown signal received")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if mqttPub != nil {
			if err := mqttPub.Stop(shutdownCtx); err != nil {
				logger.Error("mqtt shutdown failed", "error", err)
			}
		}
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("api shutdown failed", "error", err)
		}
	}()

	if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	monitor.Wait()
	logger.Info("AgriAgent stopped")
	return nil
}
