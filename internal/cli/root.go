// Package cli implements the fastsink command line: a demo host that drives
// the sink engine from decoded audio files or generated tones.
package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/drgolem/fastsink/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	LogLevel   string
	LockFree   bool
}

// NewRootCommand creates the root command for the fastsink CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fastsink",
		Short: "fastsink - real-time PCM sink",
		Long: `Drive a fastsink engine from the command line.

The engine drains its ring buffer on a fixed clock and asks the host to
refill it through a serialized callback. These commands play the host's
part and print the engine diagnostics when they finish.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if opts.LogLevel != "" {
				if _, err := config.ParseLevel(opts.LogLevel); err != nil {
					return err
				}
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config file")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error), overrides config")
	cmd.PersistentFlags().BoolVar(&opts.LockFree, "lock-free", false, "use the lock-free SPSC ring buffer")

	cmd.AddCommand(NewPlayCommand(opts))
	cmd.AddCommand(NewCycleCommand(opts))

	return cmd
}

// load reads the config file (or the defaults) and applies flag overrides.
func (o *RootOptions) load(cmd *cobra.Command) (*config.Config, *slog.Logger, error) {
	cfg := config.Default()
	if o.ConfigPath != "" {
		var err error
		if cfg, err = config.Load(o.ConfigPath); err != nil {
			return nil, nil, err
		}
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if cmd.Flags().Changed("lock-free") {
		cfg.Stream.LockFree = o.LockFree
	}

	log, err := config.NewLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	return cfg, log, nil
}
