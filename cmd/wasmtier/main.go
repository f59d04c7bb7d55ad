// Command wasmtier compiles and runs WebAssembly modules with a chosen compiler strategy.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wasmtier/wasmtier"
	"github.com/wasmtier/wasmtier/internal/source"
	"github.com/wasmtier/wasmtier/internal/wat"
)

func main() {
	doMain(os.Args[1:], os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	root := newRootCommand(stdOut, stdErr)
	root.SetArgs(args)
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(stdErr, "error: %v\n", err)
		exit(1)
		return
	}
	exit(0)
}

func newRootCommand(stdOut, stdErr io.Writer) *cobra.Command {
	root := &cobra.Command{
		Use:           "wasmtier",
		Short:         "wasmtier CLI",
		Long:          "wasmtier CLI\n\nCompiles WebAssembly modules ahead of time with a fast, optimizing or maximal strategy.",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.SetOut(stdOut)
	root.SetErr(stdErr)

	pf := root.PersistentFlags()
	pf.String("config", "", "path to a yaml config file")
	pf.String("compiler", "", fmt.Sprintf("compiler strategy: %s (env WASMTIER_COMPILER)",
		strings.Join(wasmtier.Strategies(), ", ")))
	pf.String("features", "", `comma separated features, ex. "threads,bulk_memory", or "all"`)
	pf.String("converter", "", fmt.Sprintf("text format converter: %s, %s", wat.Wasmtime, wat.Wasmer))
	pf.String("log-level", "", "debug, info, warn or error")
	pf.Int("compile-parallelism", 0, "functions compiled at once, 0 for GOMAXPROCS")
	pf.Uint32("memory-limit-pages", 0, "ceiling of memory limits in pages")

	root.AddCommand(
		newRunCommand(stdOut),
		newCompileCommand(stdOut),
		newInspectCommand(stdOut),
		newStrategiesCommand(stdOut),
	)
	return root
}

// session holds what every command needs once flags are parsed.
type session struct {
	cfg      *config
	logger   *zap.Logger
	registry *prometheus.Registry
}

func newSession(cmd *cobra.Command) (*session, error) {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	return &session{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}, nil
}

// load reads the module file, converting text and decompressing as needed.
func (s *session) load(path string) ([]byte, error) {
	l := &source.Loader{Logger: s.logger}
	if c, err := wat.Lookup(s.cfg.Converter); err == nil {
		l.Converter = c
	} else {
		// Binary sources don't need a converter: only fail when text is loaded.
		s.logger.Debug("text converter unavailable", zap.Error(err))
	}
	return l.Load(path)
}

func (s *session) newEngine(ctx context.Context) (wasmtier.Engine, error) {
	features, err := s.cfg.features()
	if err != nil {
		return nil, err
	}
	return wasmtier.NewEngine(ctx, wasmtier.NewEngineConfig().
		WithStrategy(s.cfg.Compiler).
		WithFeatures(features).
		WithLogger(s.logger).
		WithRegisterer(s.registry).
		WithCompileParallelism(s.cfg.CompileParallelism).
		WithMemoryLimitPages(s.cfg.MemoryLimitPages))
}

// newLogger returns a development logger at debug level, and a production one otherwise, both writing to w.
func newLogger(level string, w io.Writer) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	encoderConfig := zap.NewProductionEncoderConfig()
	encoder := zapcore.NewJSONEncoder(encoderConfig)
	if lvl == zapcore.DebugLevel {
		encoderConfig = zap.NewDevelopmentEncoderConfig()
		encoder = zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zap.New(zapcore.NewCore(encoder, zapcore.AddSync(w), lvl)), nil
}
