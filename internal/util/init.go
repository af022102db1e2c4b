// Package util provides initialization utilities for logger and
// configuration, plus validation of the daemon's configuration surface.
package util

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/rs/zerolog"

	"github.com/innerwebblueprint/podping-hivewriter/internal/writer"
)

// InitLogger initializes and returns a zerolog logger based on configuration.
// It supports both JSON (production) and pretty console (development) output.
func InitLogger() *zerolog.Logger {
	// Default to info level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	var logger zerolog.Logger

	// Check if we're in a terminal for pretty output
	if isTerminal() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().
			Timestamp().
			Caller().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Str("service", "podping-hivewriter").
			Logger()
	}

	return &logger
}

// InitConfig initializes and returns a koanf configuration instance.
// It loads configuration from the TOML file and allows environment variable
// overrides, e.g. NATS_URL overrides nats.url.
func InitConfig(logger *zerolog.Logger, configPath string) *koanf.Koanf {
	ko := koanf.New(".")

	if err := ko.Load(file.Provider(configPath), toml.Parser()); err != nil {
		logger.Fatal().
			Err(err).
			Str("path", configPath).
			Msg("failed to load config file")
	}

	if err := ko.Load(env.Provider("", ".", func(s string) string {
		return strings.Replace(strings.ToLower(s), "_", ".", -1)
	}), nil); err != nil {
		logger.Warn().
			Err(err).
			Msg("failed to load environment variables")
	}

	logger.Info().
		Str("config_file", configPath).
		Msg("configuration loaded successfully")

	return ko
}

// ValidateConfig checks the writer's configuration surface before any
// component is constructed, so misconfiguration fails the boot instead of
// the first broadcast.
func ValidateConfig(ko *koanf.Koanf, logger *zerolog.Logger) error {
	if ko.String("hive.server_account") == "" {
		return fmt.Errorf("hive.server_account is required")
	}

	// Without a posting key nothing can be signed; dry runs never sign.
	if PostingKey(ko) == "" && !ko.Bool("hive.dry_run") {
		return fmt.Errorf("one of hive.posting_key or hive.posting_keys is required unless hive.dry_run is set")
	}

	if port := ko.Int("server.listen_port"); port < 0 || port > 65535 {
		return fmt.Errorf("server.listen_port %d out of range", port)
	}

	// A URL list budget above the custom_json cap guarantees every full
	// batch fails at publish time.
	if budget := ko.Int("settings.max_url_list_bytes"); budget > writer.HiveCustomOpDataMaxLength {
		return fmt.Errorf("settings.max_url_list_bytes %d exceeds the custom_json payload cap %d",
			budget, writer.HiveCustomOpDataMaxLength)
	}

	if period := ko.Int("settings.hive_operation_period"); period < 0 {
		return fmt.Errorf("settings.hive_operation_period must be positive, got %d", period)
	}

	if ko.Exists("nats.subject") && ko.String("nats.url") == "" {
		logger.Warn().Msg("nats.subject is set but nats.url is not, nats bridge stays disabled")
	}

	return nil
}

// PostingKey returns the signing key: the first of hive.posting_keys when
// the list form is used, for config compatibility with other podping
// writers, otherwise hive.posting_key.
func PostingKey(ko *koanf.Koanf) string {
	if keys := ko.Strings("hive.posting_keys"); len(keys) > 0 {
		return keys[0]
	}
	return ko.String("hive.posting_key")
}

// UpdateLogLevel updates the global log level based on configuration.
func UpdateLogLevel(ko *koanf.Koanf, logger *zerolog.Logger) {
	levelStr := ko.String("logging.level")
	if levelStr == "" {
		levelStr = "info"
	}

	var level zerolog.Level
	switch strings.ToLower(levelStr) {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn", "warning":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
		logger.Warn().
			Str("configured_level", levelStr).
			Str("using_level", "info").
			Msg("unknown log level, defaulting to info")
	}

	zerolog.SetGlobalLevel(level)
	logger.Info().
		Str("level", level.String()).
		Msg("log level set")
}

// isTerminal checks if stdout is a terminal (for pretty console output).
func isTerminal() bool {
	fileInfo, _ := os.Stdout.Stat()
	return (fileInfo.Mode() & os.ModeCharDevice) != 0
}
