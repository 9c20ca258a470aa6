package cli

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"apiforge/internal/config"
	"apiforge/internal/logging"
)

var (
	verbose    bool
	configPath string
	envFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "apictl",
	Short: "apictl - operate an apiforge server",
	Long: `apictl serves a resource manifest as a versioned REST API and inspects
the endpoints it generates.

Configuration is read from apiforge.toml (or --config) with environment
overrides, after loading a .env file if one exists.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadEnvFile(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", envFile, err)
		}
		return nil
	},
}

// Execute runs the root command. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file loaded before the config")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(docsCmd)
	rootCmd.AddCommand(routesCmd)
	rootCmd.AddCommand(tokenCmd)
	rootCmd.AddCommand(hashKeyCmd)
	rootCmd.AddCommand(configCmd)
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newLogger builds the process logger. Commands other than serve only log
// when --verbose is set.
func newLogger(cfg config.Config, quiet bool) (*zap.Logger, error) {
	if quiet && !verbose {
		return zap.NewNop(), nil
	}
	return logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		Development: !cfg.Hardened(),
	})
}
