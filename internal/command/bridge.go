package command

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joeycumines/goja-hostbridge/internal/config"
	"github.com/joeycumines/goja-hostbridge/internal/extension"
	"github.com/joeycumines/goja-hostbridge/internal/logging"
	"github.com/joeycumines/goja-hostbridge/internal/memhost"
)

// bridgeFlags are the flags shared by commands that run a script against
// the in-memory host. Empty values fall back to the configuration.
type bridgeFlags struct {
	script   string
	entry    string
	logLevel string
	logFile  string
	trace    bool
}

func (f *bridgeFlags) setup(fs *flag.FlagSet) {
	fs.StringVar(&f.script, "script", "", "Script to load (overrides script.path)")
	fs.StringVar(&f.entry, "entry", "", "Entry function (overrides script.entry)")
	fs.StringVar(&f.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log.level)")
	fs.StringVar(&f.logFile, "log-file", "", "JSON log file (overrides log.file)")
	fs.BoolVar(&f.trace, "trace", false, "Log every host callback (implies -log-level debug)")
}

// bridgeSession is a running bridge plus the resources backing it.
type bridgeSession struct {
	logger   *logging.Logger
	host     *memhost.Host
	bindings *extension.Bindings
}

// openBridge loads the configured script into a fresh in-memory host. The
// host classes listed in host.classes are defined before the script runs.
func openBridge(ctx context.Context, cfg *config.Config, flags bridgeFlags, stderr io.Writer) (*bridgeSession, error) {
	schema := config.DefaultSchema()
	pick := func(flagValue, key string) string {
		if flagValue != "" {
			return flagValue
		}
		return schema.Resolve(cfg, key)
	}

	trace := flags.trace || schema.GetBool(cfg, config.KeyTraceCalls)
	level := pick(flags.logLevel, config.KeyLogLevel)
	if trace {
		level = "debug"
	}
	flags.trace = trace
	var console io.Writer
	logFile := pick(flags.logFile, config.KeyLogFile)
	if logFile == "" {
		console = stderr
	}
	logger, err := logging.Open(logging.Options{
		Level:      level,
		BufferSize: schema.GetInt(cfg, config.KeyLogBufferSize),
		File:       logFile,
		MaxSizeMB:  schema.GetInt(cfg, config.KeyLogMaxSizeMB),
		MaxFiles:   schema.GetInt(cfg, config.KeyLogMaxFiles),
		Output:     console,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	s, err := startBridge(ctx, cfg, schema, flags, pick, logger)
	if err != nil {
		_ = logger.Close()
		return nil, err
	}
	return s, nil
}

func startBridge(ctx context.Context, cfg *config.Config, schema *config.ConfigSchema, flags bridgeFlags, pick func(string, string) string, logger *logging.Logger) (*bridgeSession, error) {
	scriptPath := pick(flags.script, config.KeyScriptPath)
	if scriptPath == "" {
		return nil, errors.New("no script: use -script or set script.path")
	}
	source, err := os.ReadFile(scriptPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	host := memhost.New(memhost.WithLogger(logger.With(slog.String("component", "host"))))
	for _, def := range schema.GetClassList(cfg, config.KeyHostClasses) {
		if err := host.DefineClass(def.Name, def.Parent); err != nil {
			return nil, fmt.Errorf("failed to define host class %s: %w", def.Name, err)
		}
	}

	modulePaths := schema.GetPathList(cfg, config.KeyScriptModulePaths)
	modulePaths = append(modulePaths, filepath.Dir(scriptPath))

	bindings, err := extension.Initialize(ctx, host, extension.Options{
		Script:      string(source),
		ScriptName:  filepath.Base(scriptPath),
		Entry:       pick(flags.entry, config.KeyScriptEntry),
		Library:     host.NewLibrary(),
		Logger:      logger.Logger,
		TraceCalls:  flags.trace,
		ModulePaths: modulePaths,
	})
	if err != nil {
		return nil, err
	}
	return &bridgeSession{logger: logger, host: host, bindings: bindings}, nil
}

// Close shuts the bridge down and closes the log file.
func (s *bridgeSession) Close() error {
	return errors.Join(s.bindings.Shutdown(), s.logger.Close())
}
