package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/john/monox_bridge/internal/env"
)

var rootCmd = &cobra.Command{
	Use:   "monox-bridge",
	Short: "Status bridge for Anycubic Photon Mono X printers",
	Long: `monox-bridge polls an Anycubic Photon Mono X family printer over its
uart-wifi protocol (TCP 6000) and republishes the print status over HTTP and
WebSocket. Short Wi-Fi drops are absorbed; the last good status is served until
the printer has missed too many polls in a row.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// A .env beside the config file takes precedence over one found from
		// the working directory.
		dotenvErr := env.Ensure(filepath.Dir(rootConfigPath))
		level := rootLogLevel
		if !cmd.Flags().Changed("log-level") {
			level = env.String("MONOX_LOG_LEVEL", level)
		}
		if err := setupLogging(level); err != nil {
			return err
		}
		if dotenvErr != nil {
			log.Warn().Err(dotenvErr).Msg("dotenv not loaded")
		} else if path := env.LoadedPath(); path != "" {
			log.Debug().Str("dotenv", path).Msg("loaded environment file")
		}
		return nil
	},
}

var (
	rootConfigPath string
	rootLogLevel   string
)

func init() {
	output := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(output).With().Timestamp().Logger()

	rootCmd.PersistentFlags().StringVar(&rootConfigPath, "config", "config.yaml", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&rootLogLevel, "log-level", "info", "log level (debug, info, warn, error), or MONOX_LOG_LEVEL")
	rootCmd.AddCommand(
		newServeCmd(),
		newStatusCmd(),
		newSysInfoCmd(),
		newDiscoverCmd(),
	)
}

func setupLogging(level string) error {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	if lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("monox-bridge command failed")
	}
}
