package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/HerbHall/camlink/internal/config"
	"github.com/HerbHall/camlink/internal/version"
)

var cfgFile string

func main() {
	root := &cobra.Command{
		Use:   "camlink",
		Short: "Connect to IP, USB and vendor SDK cameras through one API",
		Long: `CamLink keeps a camera inventory and reaches each camera through the
first connection strategy that works: vendor SDKs, ONVIF, HTTP, RTSP or a
local USB device.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (YAML)")

	root.AddCommand(newServeCmd(), newProbeCmd(), newDiscoverCmd(), newBackupCmd(), newRestoreCmd(), newVersionCmd())

	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadSettings reads the configuration file named by --config.
func loadSettings() (config.Settings, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Settings{}, err
	}
	return cfg.Settings()
}

func newLogger(s config.LogSettings) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(s.Level)
	if err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	zc := zap.NewProductionConfig()
	if s.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
