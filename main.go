// movekey gives web pages vim-style navigation keys, with a per-URL disable
// list.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"movekey/config"
	"movekey/dispatch"
	"movekey/logging"
	"movekey/rules"
	"movekey/storage"
	"movekey/storage/sqlite"
)

var (
	cfgFile      string
	backendFlag  string
	storePath    string
	logLevelFlag string
	verbose      bool
)

// app holds what PersistentPreRunE sets up for the subcommands.
type app struct {
	cfg   *config.Config
	log   *logging.Logger
	sub   storage.Substrate
	close func() error
}

var a app

var rootCmd = &cobra.Command{
	Use:   "movekey",
	Short: "Vim-style page navigation keys with a per-URL disable list",
	Long: `movekey binds j/k/d/u/gg/G/H/L/yy/i on web pages and keeps a list of URL
patterns where the keys stay off.

The disable list lives in ~/.config/movekey (rules.json, or rules.db with the
sqlite backend). "movekey run" opens Chrome with the keys active.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "init-config" {
			return nil
		}

		var err error
		if cfgFile != "" {
			a.cfg, err = config.LoadFile(cfgFile)
		} else {
			a.cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("%s", config.FormatError(err))
		}
		if backendFlag != "" {
			a.cfg.Storage.Backend = backendFlag
		}
		if storePath != "" {
			a.cfg.Storage.Path = storePath
		}
		if logLevelFlag != "" {
			a.cfg.Log.Level = logLevelFlag
		}
		if verbose {
			a.cfg.Log.Level = "debug"
		}
		if err := a.cfg.Validate(); err != nil {
			return fmt.Errorf("%s", config.FormatError(err))
		}

		level := logging.ParseLevel(a.cfg.Log.Level)
		a.log, err = logging.Open(a.cfg.Log.Dir, "movekey", level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: %v (logging to stderr)\n", err)
		}
		a.log.Debugf("%s: config loaded, backend=%s", cmd.CommandPath(), a.cfg.Storage.Backend)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if a.close != nil {
			if err := a.close(); err != nil {
				a.log.Warnf("closing storage: %v", err)
			}
		}
		a.log.Close()
	},
}

// openSubstrate opens the configured storage backend once per process.
func (a *app) openSubstrate() (storage.Substrate, error) {
	if a.sub != nil {
		return a.sub, nil
	}
	path := a.cfg.Storage.Path
	switch a.cfg.Storage.Backend {
	case config.BackendMemory:
		a.sub = storage.NewMemory()
	case config.BackendSQLite:
		if path == "" {
			p, err := sqlite.DefaultPath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		s, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		a.sub, a.close = s, s.Close
	default:
		if path == "" {
			p, err := storage.DefaultFilePath()
			if err != nil {
				return nil, err
			}
			path = p
		}
		f, err := storage.NewFile(path)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", path, err)
		}
		a.sub = f
	}
	a.log.Debugf("storage: %s %s", a.cfg.Storage.Backend, path)
	return a.sub, nil
}

// store returns the rule store over the configured substrate.
func (a *app) store() (*rules.Store, error) {
	sub, err := a.openSubstrate()
	if err != nil {
		return nil, err
	}
	return rules.NewStore(sub, rules.StoreOptions{
		Key:     a.cfg.Storage.Key,
		Timeout: a.cfg.StorageTimeout(),
		Logger:  a.log.With("rules"),
	}), nil
}

// dispatchOptions returns the key settings from cfg.
func dispatchOptions(cfg *config.Config) dispatch.Options {
	opts := dispatch.DefaultOptions()
	opts.SlightScroll = cfg.Keys.SlightScroll
	opts.FullScroll = cfg.Keys.FullScroll
	opts.ChordTimeout = cfg.ChordTimeout()
	opts.EditorSelectors = cfg.Keys.EditorSelectors
	return opts
}

var initConfigCmd = &cobra.Command{
	Use:   "init-config",
	Short: "Print the default config (redirect to ~/.config/movekey/config.toml)",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.DefaultTOML())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.config/movekey/config.toml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "storage backend: "+strings.Join([]string{config.BackendFile, config.BackendSQLite, config.BackendMemory}, ", "))
	rootCmd.PersistentFlags().StringVar(&storePath, "store", "", "path to the rule store (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")

	rootCmd.AddCommand(initConfigCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
