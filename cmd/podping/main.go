// Podping hivewriter daemon.
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

	"github.com/knadh/koanf/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/innerwebblueprint/podping-hivewriter/internal/hive"
	"github.com/innerwebblueprint/podping-hivewriter/internal/natsbridge"
	"github.com/innerwebblueprint/podping-hivewriter/internal/settings"
	"github.com/innerwebblueprint/podping-hivewriter/internal/util"
	"github.com/innerwebblueprint/podping-hivewriter/internal/writer"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/config"
	"github.com/innerwebblueprint/podping-hivewriter/pkg/models"
)

// version is stamped at build time via -ldflags.
var version = "1.2.0"

func main() {
	os.Exit(run())
}

func run() int {
	logger := util.InitLogger()
	logger.Info().Str("version", version).Msg("starting podping hivewriter")

	configPath := os.Getenv("PODPING_CONFIG")
	if configPath == "" {
		configPath = "config.toml"
	}
	cfg := util.InitConfig(logger, configPath)
	util.UpdateLogLevel(cfg, logger)

	if err := util.ValidateConfig(cfg, logger); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return writer.ExitCodeUnknown
	}

	// Network profile: built-in mainnet unless a profile file is given.
	chainCfg := config.DefaultMainnet()
	if chainsFile := cfg.String("hive.chains_file"); chainsFile != "" {
		chains, err := config.LoadConfig(chainsFile)
		if err != nil {
			logger.Error().Err(err).Str("path", chainsFile).Msg("failed to load chains file")
			return writer.ExitCodeUnknown
		}
		profile := stringOr(cfg, "hive.chain_profile", "mainnet")
		chainCfg, err = chains.GetChain(profile)
		if err != nil {
			logger.Error().Err(err).Str("profile", profile).Msg("chain profile not found")
			return writer.ExitCodeUnknown
		}
	}
	logger.Info().
		Str("chain", chainCfg.Name).
		Strs("nodes", chainCfg.Nodes).
		Msg("loaded chain configuration")

	medium, err := models.ParseMedium(stringOr(cfg, "hive.medium", string(models.MediumPodcast)))
	if err != nil {
		logger.Error().Err(err).Msg("invalid medium")
		return writer.ExitCodeUnknown
	}
	reason, err := models.ParseReason(stringOr(cfg, "hive.reason", string(models.ReasonUpdate)))
	if err != nil {
		logger.Error().Err(err).Msg("invalid reason")
		return writer.ExitCodeUnknown
	}

	serverAccount := cfg.String("hive.server_account")

	hiveClient, err := hive.NewClient(*logger, hive.Config{
		Nodes:      chainCfg.Nodes,
		ChainID:    chainCfg.ChainID,
		Account:    serverAccount,
		PostingKey: util.PostingKey(cfg),
	})
	if err != nil {
		logger.Error().Err(err).Msg("failed to create hive client")
		if errors.Is(err, hive.ErrInvalidBase58) {
			return writer.ExitCodeInvalidPostingKey
		}
		return writer.ExitCodeUnknown
	}
	defer hiveClient.Close()
	logger.Info().Str("account", serverAccount).Msg("initialized hive client")

	settingsMgr := settings.NewManager(*logger, settingsBase(cfg), hiveClient)

	w := writer.New(*logger, hiveClient, settingsMgr, writer.Config{
		ServerAccount: serverAccount,
		Medium:        medium,
		Reason:        reason,
		ListenIP:      stringOr(cfg, "server.listen_ip", "127.0.0.1"),
		ListenPort:    intOr(cfg, "server.listen_port", 9999),
		OperationID:   stringOr(cfg, "hive.operation_id", "pp"),
		ResourceTest:  boolOr(cfg, "hive.resource_test", true),
		DryRun:        cfg.Bool("hive.dry_run"),
		Daemon:        boolOr(cfg, "hive.daemon", true),
		Status:        boolOr(cfg, "hive.status", true),
		MaxRetries:    cfg.Int("hive.max_retries"),
		Version:       version,
	})

	// Optional NATS ingestion path.
	var bridge *natsbridge.Bridge
	if natsURL := cfg.String("nats.url"); natsURL != "" {
		subject := stringOr(cfg, "nats.subject", "podping.in")
		bridge, err = natsbridge.NewBridge(natsURL, subject, w.AcceptIRI, *logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to create nats bridge")
			return writer.ExitCodeUnknown
		}
		defer bridge.Close()
	}

	// Metrics server.
	metricsAddr := stringOr(cfg, "metrics.address", ":9090")
	metricsServer := &http.Server{Addr: metricsAddr, Handler: promhttp.Handler()}
	go func() {
		logger.Info().Str("address", metricsAddr).Msg("starting metrics server")
		if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("metrics server error")
		}
	}()

	// Health check server.
	healthAddr := stringOr(cfg, "health.address", ":9091")
	healthServer := &http.Server{Addr: healthAddr, Handler: http.HandlerFunc(healthCheckHandler(w, bridge))}
	go func() {
		logger.Info().Str("address", healthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 3)
	go func() {
		errChan <- w.Run(ctx)
	}()
	go func() {
		if err := settingsMgr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("settings refresh stopped")
		}
	}()
	if bridge != nil {
		go func() {
			if err := bridge.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error().Err(err).Msg("nats bridge stopped")
			}
		}()
	}

	exitCode := 0
	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error().Err(err).Msg("writer error")
			exitCode = writer.ExitCodeUnknown
			var exit *writer.ExitError
			if errors.As(err, &exit) {
				exitCode = exit.Code
			}
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
	return exitCode
}

// settingsBase merges local config over the stock defaults. On-chain
// overrides from the control account are applied later by the manager.
func settingsBase(cfg *koanf.Koanf) settings.Settings {
	base := settings.Default()
	if v := cfg.Int("settings.hive_operation_period"); v > 0 {
		base.HiveOperationPeriod = time.Duration(v) * time.Second
	}
	if v := cfg.Int("settings.max_url_list_bytes"); v > 0 {
		base.MaxURLListBytes = v
	}
	if v := cfg.Int("settings.diagnostic_report_period"); v > 0 {
		base.DiagnosticReportPeriod = time.Duration(v) * time.Second
	}
	if v := cfg.String("settings.control_account"); v != "" {
		base.ControlAccount = v
	}
	if v := cfg.Int("settings.control_account_check_period"); v > 0 {
		base.ControlAccountCheckPeriod = time.Duration(v) * time.Second
	}
	return base
}

func stringOr(cfg *koanf.Koanf, key, def string) string {
	if v := cfg.String(key); v != "" {
		return v
	}
	return def
}

func intOr(cfg *koanf.Koanf, key string, def int) int {
	if v := cfg.Int(key); v != 0 {
		return v
	}
	return def
}

func boolOr(cfg *koanf.Koanf, key string, def bool) bool {
	if cfg.Exists(key) {
		return cfg.Bool(key)
	}
	return def
}

// healthCheckHandler reports pipeline liveness and counters.
func healthCheckHandler(w *writer.Writer, bridge *natsbridge.Bridge) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if bridge != nil && !bridge.Healthy() {
			rw.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(rw, "unhealthy\n")
			return
		}
		recv, deduped, sent := w.Totals()
		rw.WriteHeader(http.StatusOK)
		fmt.Fprintf(rw, "healthy\nreceived: %d\ndeduped: %d\nsent: %d\nin_flight: %d\n",
			recv, deduped, sent, w.InFlight())
	}
}
