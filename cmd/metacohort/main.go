package main

import (
	"fmt"
	"os"
	"strings"

	"metacohort/pkg/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const version = "0.1.0"

var (
	configFile string
	verbose    bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "metacohort",
		Short: "Federated metadata collections for an open metadata cohort",
		Long: `A cohort member serves its local metadata collection to the other members
and answers queries across all of them through the enterprise collection.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")

	rootCmd.AddCommand(
		serveCmd(),
		getCmd(),
		findCmd(),
		typesCmd(),
		statusCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "metacohort v%s\n", version)
		},
	}
}

// loadConfig reads the config file and environment, with the command's flags
// bound to the given keys taking precedence.
func loadConfig(cmd *cobra.Command, keys map[string]string) (*config.Config, error) {
	v := config.New()
	if err := config.BindFlags(v, cmd.Flags(), keys); err != nil {
		return nil, err
	}
	return config.Load(v, configFile)
}

func setupLogger(verbose bool, level zapcore.Level) *zap.Logger {
	cfg := zap.NewProductionConfig()
	if verbose {
		level = zapcore.DebugLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(level)

	cfg.EncoderConfig.TimeKey = "timestamp"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// dialAddress turns a listen address such as ":7070" into one a client can dial.
func dialAddress(addr string) string {
	if strings.HasPrefix(addr, ":") {
		return "localhost" + addr
	}
	return addr
}
