// Roborock-bridge talks to Roborock vacuums over the LAN socket and the
// cloud MQTT broker.
//
// Usage:
//
//	roborock-bridge run
//	roborock-bridge get <duid> <method> [params-json]
//	roborock-bridge devices
//	roborock-bridge history [--duid <duid>]
//	roborock-bridge migrations
//
// The configuration path comes from --config, then ROBOROCK_CONFIG, then
// configs/config.yaml.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version information, set at build time via ldflags.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const defaultConfigPath = "configs/config.yaml"

var configPath string

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "roborock-bridge",
	Short: "Roborock device bridge",
	Long: `Bridges Roborock vacuums over the local TCP protocol and the cloud
MQTT broker, persisting device credentials in SQLite and optionally
writing telemetry to InfluxDB.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config.yaml (default $ROBOROCK_CONFIG or "+defaultConfigPath+")")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(getCmd)
	rootCmd.AddCommand(devicesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(migrationsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "roborock-bridge %s (commit: %s, built: %s)\n", version, commit, date)
	},
}

// getConfigPath returns the configuration file path: the --config flag,
// then ROBOROCK_CONFIG, then the default.
func getConfigPath() string {
	if configPath != "" {
		return configPath
	}
	if path := os.Getenv("ROBOROCK_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
