package main

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"tilepyramid/internal/config"
	"tilepyramid/internal/logger"
)

const version = "v0.2.0"

// app is the state shared by the subcommands once the root has run.
type app struct {
	configPath string
	logLevel   string

	loader *config.Loader
	conf   *config.Config
	log    *logrus.Logger
	exit   *SafeExit
	ctx    context.Context
}

func newRootCmd() (*cobra.Command, *app) {
	a := &app{loader: config.NewLoader()}

	root := &cobra.Command{
		Use:           "tiler",
		Short:         "Fetch, pack and serve web map tile pyramids",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&a.configPath, "config", "c", "", "set config `file` (TOML)")
	pf.StringVarP(&a.logLevel, "log-level", "l", "", "set log level (default: info)")

	root.AddCommand(newFetchCmd(a), newPackCmd(a), newServeCmd(a))
	return root, a
}

func (a *app) setup(cmd *cobra.Command) error {
	binds := map[string]string{}
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if key, ok := f.Annotations[configKey]; ok && len(key) > 0 {
			binds[key[0]] = f.Name
		}
	})
	if err := a.loader.BindFlags(cmd.Flags(), binds); err != nil {
		return err
	}

	conf, err := a.loader.Load(a.configPath)
	if err != nil {
		return err
	}
	a.conf = conf

	level := conf.Output.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, closer, err := logger.New(logger.Options{
		Level:    level,
		Dir:      conf.Output.LogDir,
		Terminal: conf.Output.OutputTerminal,
	})
	if err != nil {
		return err
	}
	a.log = log

	a.exit, a.ctx = NewSafeExit(cmd.Context(), log)
	a.exit.Register(func() { closeQuietly(closer) })
	if used := a.loader.Used(); used != "" {
		log.Debugf("config file %s", used)
	}
	return nil
}

// configKey annotates a flag with the config key it overrides.
const configKey = "tiler_config_key"

func bindKey(fs *pflag.FlagSet, name, key string) {
	if err := fs.SetAnnotation(name, configKey, []string{key}); err != nil {
		panic(fmt.Sprintf("annotate flag %s: %s", name, err))
	}
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
