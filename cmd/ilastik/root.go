package main

import (
	"context"
	"errors"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/FynnBe/ilastik/internal/adapters/repository"
	"github.com/FynnBe/ilastik/internal/config"
	"github.com/FynnBe/ilastik/internal/core/project"
	"github.com/FynnBe/ilastik/internal/logging"
	"github.com/FynnBe/ilastik/internal/operators"
	"github.com/FynnBe/ilastik/pkg/serialization"
)

// app is the state shared by every subcommand, set up before they run.
type app struct {
	cfg     *config.Config
	logging *logging.Logging
	ser     *serialization.Serializer
	stop    context.CancelFunc
}

func (a *app) log(name string) zerolog.Logger { return a.logging.Get(name) }

func (a *app) cache() operators.CacheConfig {
	return operators.CacheConfig{BudgetBytes: a.cfg.CacheBudgetBytes(), BlockSize: a.cfg.Graph.BlockSize}
}

// openStore opens dsn, falling back to the configured store.
func (a *app) openStore(ctx context.Context, dsn string) (project.Store, func() error, error) {
	if dsn == "" {
		dsn = a.cfg.Project.Store
	}
	if dsn == "" {
		return nil, nil, errors.New("no project store: pass --store or set ILASTIK_PROJECT_STORE")
	}
	return repository.Open(ctx, dsn, a.ser)
}

func newRootCmd() *cobra.Command {
	a := &app{}
	var (
		envFiles []string
		debug    bool
		logMode  string
		store    string
	)
	root := &cobra.Command{
		Use:           "ilastik",
		Short:         "Interactive image classification and segmentation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFiles...)
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("debug") {
				cfg.Log.Debug = debug
			}
			if flags.Changed("log-mode") {
				cfg.Log.OutputMode = logMode
			}
			if flags.Changed("store") {
				cfg.Project.Store = store
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			lc, err := cfg.Logging()
			if err != nil {
				return err
			}
			l, err := logging.New(lc)
			if err != nil {
				return err
			}
			ser, err := cfg.Serializer()
			if err != nil {
				return err
			}
			a.cfg, a.logging, a.ser = cfg, l, ser

			ctx, stop := context.WithCancel(cmd.Context())
			a.stop = stop
			if cfg.Log.WatchOverride && lc.OverrideFile != "" {
				go func() {
					if err := l.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
						l.Get("ilastik.logging").Warn().Err(err).Msg("log config watcher stopped")
					}
				}()
			}
			cmd.SetContext(ctx)
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.stop != nil {
				a.stop()
			}
			if a.logging != nil {
				return a.logging.Close()
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.StringSliceVar(&envFiles, "env-file", nil, "env files to load before the environment (default .env)")
	pf.BoolVar(&debug, "debug", false, "debug logging and strict warnings")
	pf.StringVar(&logMode, "log-mode", "", "console, logfile, both or logfile_with_console_errors")
	pf.StringVar(&store, "store", "", "project store: memory:, sqlite:<path>, postgres://... or a directory")

	root.AddCommand(
		newRunCmd(a),
		newProjectCmd(a),
		newDebugServerCmd(a),
		newWorkflowsCmd(),
		newVersionCmd(),
	)
	return root
}
