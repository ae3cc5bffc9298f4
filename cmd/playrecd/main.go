// Package main is the entry point for playrecd.
// playrecd is a headless audio player and recorder. As a daemon it is driven
// over a unix socket and the OS media session; play and record run a single
// session in the foreground.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/austinkregel/local-media/playrec/internal/config"
	"github.com/austinkregel/local-media/playrec/internal/logging"
)

// Version is set at build time via ldflags
var Version = "dev"

var configDir string

var rootCmd = &cobra.Command{
	Use:           "playrecd",
	Short:         "Headless audio player and recorder",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config", config.DefaultDir(), "Configuration directory")
	rootCmd.AddCommand(serveCmd, playCmd, recordCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "playrecd: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and sets up logging from it. The
// returned function releases the log file.
func loadConfig() (*config.Manager, func(), error) {
	mgr := config.NewManager(config.Options{Dir: configDir, Logger: logging.For("config")})
	if err := mgr.Load(); err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	cfg := mgr.Get()
	closer, err := logging.Setup(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, nil, err
	}
	return mgr, func() { closer.Close() }, nil
}
