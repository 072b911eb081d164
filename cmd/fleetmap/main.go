// Command fleetmap renders farm machinery on a slippy map: single frames,
// replay videos, tile prefetching, data import and an interactive websocket
// server.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fleetmap/internal/config"
	"fleetmap/internal/logging"
)

var (
	cfgFile  string
	settings config.Settings
	logger   = zerolog.Nop()
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "fleetmap",
		Short:         "Render and serve farm machinery on a slippy map",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(cmd); err != nil {
				return err
			}
			if err := config.Load(cfgFile, ".", "$HOME/.config/fleetmap"); err != nil {
				return err
			}
			var err error
			settings, err = config.Current()
			if err != nil {
				return err
			}
			logger = logging.Setup(settings.LogLevel, settings.LogPretty, os.Stderr)
			if used := viper.ConfigFileUsed(); used != "" {
				logger.Debug().Str("file", used).Msg("config loaded")
			}
			return nil
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default ./fleetmap.yaml)")
	pf.String("log-level", "info", "log level: trace, debug, info, warn, error")
	pf.String("store", "fleetmap.db", "SQLite database with fleet, trajectories and fields")
	pf.String("style", "satellite", "basemap style: satellite or map")
	_ = viper.BindPFlag("logLevel", pf.Lookup("log-level"))
	_ = viper.BindPFlag("store.path", pf.Lookup("store"))
	_ = viper.BindPFlag("tiles.style", pf.Lookup("style"))

	root.AddCommand(
		newRenderCmd(),
		newReplayCmd(),
		newPrefetchCmd(),
		newImportCmd(),
		newServeCmd(),
	)
	return root
}

// bindFlags binds the flags a command lists in its annotations (flag name
// to config key). Commands share keys such as map.width, so binding happens
// only for the command that runs.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range cmd.Annotations {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("bind --%s: %w", name, err)
		}
	}
	return nil
}
