package main

import (
	"os"
	"path"
	"path/filepath"

	"github.com/edmongo/edmongo/core"
	"github.com/edmongo/edmongo/serv"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// These variables are set using -ldflags
	version string
	commit  string
	date    string
)

var (
	log   *zap.SugaredLogger
	conf  *serv.Config
	cpath string
	debug bool
)

// Cmd is the entry point for the CLI
func Cmd() {
	log = newLogger(false).Sugar()

	if err := rootCmd().Execute(); err != nil {
		log.Fatalf("%s", err)
	}
}

func rootCmd() *cobra.Command {
	cobra.EnableCommandSorting = false
	c := &cobra.Command{
		Use:   "edmongo",
		Short: BuildDetails(),
	}

	c.PersistentFlags().StringVar(&cpath,
		"path", "./config", "path to config files")

	// Add --config as an alias for --path
	c.PersistentFlags().StringVar(&cpath,
		"config", "./config", "alias for --path")
	c.PersistentFlags().MarkHidden("config") //nolint:errcheck

	c.PersistentFlags().BoolVar(&debug,
		"debug", false, "log engine debug messages")

	c.AddCommand(resolveCmd())
	c.AddCommand(pipelineCmd())
	c.AddCommand(explainCmd())
	c.AddCommand(classifyCmd())
	c.AddCommand(entitiesCmd())
	c.AddCommand(servCmd())
	c.AddCommand(versionCmd())
	return c
}

// setup is a helper function to read the config file
func setup(cpath string) {
	if conf != nil {
		return
	}

	cp, err := filepath.Abs(cpath)
	if err != nil {
		log.Fatal(err)
	}

	if _, err := os.Stat(cp); os.IsNotExist(err) {
		log.Fatalf("config directory not found: %s", cp)
	}

	if conf, err = serv.ReadInConfig(path.Join(cp, serv.GetConfigName())); err != nil {
		log.Fatal(err)
	}
	conf.ResolvePaths()
}

// newEngine compiles the configured mappings. The CLI never watches
// mapping files.
func newEngine() *core.Engine {
	c := conf.Core
	c.WatchMappings = false

	elog := zap.NewNop()
	if debug {
		elog = log.Desugar()
	}

	g, err := core.NewEngine(&c,
		core.OptionSetLogger(elog),
		core.OptionSetFS(afero.NewOsFs()))
	if err != nil {
		log.Fatalf("failed to load mappings: %s", err)
	}
	return g
}

// newLogger creates a new logger
func newLogger(json bool) *zap.Logger {
	return newLoggerWithOutput(json, os.Stderr)
}

// newLoggerWithOutput creates a new logger with a custom output
func newLoggerWithOutput(json bool, output zapcore.WriteSyncer) *zap.Logger {
	econf := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}

	var core zapcore.Core

	if json {
		core = zapcore.NewCore(zapcore.NewJSONEncoder(econf), output, zap.DebugLevel)
	} else {
		econf.EncodeLevel = zapcore.CapitalColorLevelEncoder
		core = zapcore.NewCore(zapcore.NewConsoleEncoder(econf), output, zap.DebugLevel)
	}
	return zap.New(core)
}
