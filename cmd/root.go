package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"EmotionDetServer/config"
	"EmotionDetServer/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is the application version.
const Version = "0.1.0"

// Options holds the flags shared by every subcommand. Non-empty values
// override config.yaml.
type Options struct {
	ConfigPath string
	Device     string
	AssetsURL  string
	LogMode    string
}

var rootOpts Options

var rootCmd = &cobra.Command{
	Use:     "emotiondet",
	Short:   "Real-time face detection and emotion classification server",
	Version: Version,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), cmd.Flags().Changed("config"))
	},
	SilenceUsage: true,
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&rootOpts.ConfigPath, "config", "c", "config.yaml", "Path to the yaml configuration")
	rootCmd.PersistentFlags().StringVar(&rootOpts.Device, "device", "", "Camera device index, file or URL (overrides Capture.Device)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.AssetsURL, "assets", "", "Base URL of the asset server (overrides Assets.BaseURL)")
	rootCmd.PersistentFlags().StringVar(&rootOpts.LogMode, "log-mode", "", "production or development (overrides LogMode)")
}

// loadConfig reads opts.ConfigPath. A missing file falls back to defaults
// unless the path was given explicitly.
func loadConfig(opts Options, explicit bool) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, logger.Log())
	if err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return config.Config{}, err
		}
		logger.Log().Warn("config file not found, using defaults", zap.String("path", opts.ConfigPath))
		cfg = config.Default()
	}
	if opts.Device != "" {
		cfg.Capture.Device = opts.Device
	}
	if opts.AssetsURL != "" {
		cfg.Assets.BaseURL = opts.AssetsURL
		cfg.ApplyDefaults(logger.Log())
	}
	if opts.LogMode != "" {
		cfg.LogMode = opts.LogMode
	}
	return cfg, nil
}

// setup loads the configuration and installs the process logger.
func setup(cmd *cobra.Command) (config.Config, error) {
	cfg, err := loadConfig(rootOpts, cmd.Flags().Changed("config"))
	if err != nil {
		return config.Config{}, err
	}
	if err := logger.Init(cfg.LogMode); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}
