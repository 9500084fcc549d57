package main

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goforj/cachefn"
	"github.com/spf13/cobra"
)

const defaultEnvPrefix = "CACHEFN"

type app struct {
	configPath string
	envPrefix  string
	database   string
	logLevel   string

	logger   *slog.Logger
	registry cachefn.Registry
	router   *cachefn.Router
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "cachefn",
		Short:         "Inspect and edit cached function results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if a.router == nil {
				return nil
			}
			return a.router.Close()
		},
	}
	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "registry file (env CACHEFN_CONFIG)")
	flags.StringVar(&a.envPrefix, "env-prefix", defaultEnvPrefix, "prefix for environment overrides")
	flags.StringVarP(&a.database, "database", "d", "", "database alias (falls back to default)")
	flags.StringVar(&a.logLevel, "log-level", "", "debug, info, warn or error (env CACHEFN_LOG_LEVEL)")

	root.AddCommand(
		newKeyCmd(),
		newGetCmd(a),
		newSetCmd(a),
		newDeleteCmd(a),
		newConfigCmd(a),
	)
	return root
}

// flagOrEnv returns the flag value, else the environment variable, else def.
func flagOrEnv(cmd *cobra.Command, flagName, envName, def string) string {
	if v, _ := cmd.Flags().GetString(flagName); v != "" {
		return v
	}
	if v, ok := os.LookupEnv(envName); ok {
		return v
	}
	return def
}

func (a *app) load(cmd *cobra.Command) error {
	level := slog.LevelWarn
	switch strings.ToLower(flagOrEnv(cmd, "log-level", defaultEnvPrefix+"_LOG_LEVEL", "warn")) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	path := flagOrEnv(cmd, "config", defaultEnvPrefix+"_CONFIG", "")
	if path == "" {
		a.registry = cachefn.Registry{}
		return nil
	}
	registry, err := cachefn.LoadRegistry(path, a.envPrefix)
	if err != nil {
		return err
	}
	a.registry = registry
	return nil
}

func (a *app) connection(ctx context.Context) (cachefn.Connection, error) {
	if len(a.registry) == 0 {
		return nil, errors.New("no databases configured, pass --config")
	}
	if a.router == nil {
		a.router = cachefn.NewRouter(a.registry, cachefn.WithLogger(a.logger))
	}
	return a.router.Connection(ctx, a.database)
}
