package main

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ekisa-team/audiogen/internal/config"
	"github.com/ekisa-team/audiogen/internal/env"
	"github.com/ekisa-team/audiogen/internal/logger"
)

const defaultEnvFile = ".env"

var (
	flagConfigFile string
	flagEnvFile    string
	flagLogLevel   string

	// Set by the root PersistentPreRunE.
	cfg         *config.Config
	environment env.Environment
)

var rootCmd = &cobra.Command{
	Use:           "audiogen",
	Short:         "Text-to-audio generation service",
	Long:          "audiogen serves music and sound effect generation models over HTTP and writes the results as WAV files.",
	SilenceUsage:  true,
	SilenceErrors: true,

	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := loadEnvFile(flagEnvFile); err != nil {
			return err
		}

		loaded, err := config.Load(flagConfigFile)
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			loaded.Log.Level = flagLogLevel
		}

		environment = env.FromEnv()
		slog.SetDefault(logger.New(environment, loggerOptions(loaded.Log)...))
		cfg = loaded

		slog.Debug("Configuration loaded", "environment", environment, "config", flagConfigFile)
		return nil
	},
}

func init() {
	pflags := rootCmd.PersistentFlags()
	pflags.StringVar(&flagConfigFile, "config", "", fmt.Sprintf("path to the config file (default %s)", config.DefaultConfigFile()))
	pflags.StringVar(&flagEnvFile, "env-file", "", "path to a .env file (default ./.env when present)")
	pflags.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(serveCmd, generateCmd)
	rootCmd.CompletionOptions.HiddenDefaultCmd = true
}

// loggerOptions maps the log config to logger options. The level is only set when configured,
// so development keeps debug output by default.
func loggerOptions(c config.LogConfig) []logger.Option {
	opts := []logger.Option{
		logger.WithLogToFile(c.File != ""),
		logger.WithLogFile(c.File),
	}
	if c.Level != "" {
		opts = append(opts, logger.WithLevel(logger.ParseLevel(c.Level)))
	}
	return opts
}

// loadEnvFile loads path into the environment without overriding variables already set.
// Only an explicitly named file has to exist.
func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = defaultEnvFile
	}

	err := godotenv.Load(path)
	if err == nil || (!explicit && errors.Is(err, fs.ErrNotExist)) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}
