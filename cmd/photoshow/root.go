package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/xmx0632/photoshow/config"
)

// rootFlags are shared by every subcommand.
type rootFlags struct {
	configPaths []string
	logLevel    string
	logFormat   string
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}

	root := &cobra.Command{
		Use:   appName,
		Short: "Image gallery API with cached listings and a daily generation quota",
		Long: `photoshow serves an image gallery backed by S3-compatible object storage.

Listings are cached in a file snapshot or a NATS key-value bucket and
refreshed in the background. Generated images count against a daily quota.

Configuration is read from the given files and from PHOTOSHOW_* environment
variables, e.g. PHOTOSHOW_CACHE_BACKEND=external-kv.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	defaultConfig := []string{}
	if env := os.Getenv("PHOTOSHOW_CONFIG"); env != "" {
		defaultConfig = append(defaultConfig, env)
	}
	root.PersistentFlags().StringSliceVarP(&flags.configPaths, "config", "c", defaultConfig,
		"Configuration file, may be repeated; later files win (env: PHOTOSHOW_CONFIG)")
	root.PersistentFlags().StringVar(&flags.logLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides log.level)")
	root.PersistentFlags().StringVar(&flags.logFormat, "log-format", "",
		"Log format: json, text (overrides log.format)")

	root.AddCommand(
		newServeCmd(flags),
		newLimitCmd(flags),
		newCacheCmd(flags),
		newVersionCmd(),
	)
	return root
}

// load reads and validates configuration, then applies flag overrides.
func (f *rootFlags) load() (*config.Config, error) {
	loader := config.NewLoader()
	for _, p := range f.configPaths {
		loader.AddLayer(p)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if f.logFormat != "" {
		cfg.Log.Format = f.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "%s version %s (built %s)\n", appName, Version, BuildTime)
		},
	}
}
