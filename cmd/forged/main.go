package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/forge3d/forge3d/pkg/config"
	"github.com/forge3d/forge3d/pkg/log"
	"github.com/forge3d/forge3d/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var (
	configPath string
	logLevel   string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "forged",
	Short: "Forge3D - local 3D generation orchestrator",
	Long: `Forge3D orchestrates a local text-to-3D pipeline: it supervises the
GPU inference worker, queues generation jobs durably, and serves a
localhost HTTP API for projects, assets, and generation history.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Forge3D version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Forge3D version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending store migrations and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		log.Init(log.Config{Level: log.Level(logLevel)})

		st, err := store.Open(cfg.StorePath)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		defer st.Close()

		version, err := st.SchemaVersion(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("store at %s is at schema version %d\n", cfg.StorePath, version)
		return nil
	},
}
