package main

import (
	"fmt"
	"io"
	"time"

	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wasmtier/wasmtier"
	"github.com/wasmtier/wasmtier/api"
)

func newRunCommand(stdOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <path to wasm file>",
		Short: "Instantiates a module and times calls to one of its exports",
		Long: `Instantiates a module and times calls to one of its exports.

Unless --no-memory is set, a memory is supplied as the "env" "memory" import.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doRun(cmd, args[0], stdOut)
		},
	}
	f := cmd.Flags()
	f.String("invoke", "fill_0", "name of the exported function to call")
	f.StringArray("arg", nil, `argument to the function, ex. "i32:5" or "f64:1.5". Repeat for each parameter`)
	f.Int("repeat", 1, "count of calls")
	f.Uint32("memory-min", 1, "initial pages of the imported memory")
	f.Uint32("memory-max", 1024, "maximum pages of the imported memory, 0 for unbounded")
	f.Bool("shared", true, "whether the imported memory is shared")
	f.Bool("no-memory", false, "don't supply the imported memory")
	f.Bool("metrics", false, "print engine metrics in the Prometheus text format after the calls")
	return cmd
}

func doRun(cmd *cobra.Command, path string, stdOut io.Writer) error {
	ctx := cmd.Context()
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync() //nolint

	invoke, _ := cmd.Flags().GetString("invoke")
	rawArgs, _ := cmd.Flags().GetStringArray("arg")
	repeat, _ := cmd.Flags().GetInt("repeat")
	if repeat < 1 {
		return fmt.Errorf("invalid repeat %d: must be positive", repeat)
	}
	params := make([]api.Value, 0, len(rawArgs))
	for _, a := range rawArgs {
		v, err := api.ParseValue(a)
		if err != nil {
			return err
		}
		params = append(params, v)
	}

	bin, err := s.load(path)
	if err != nil {
		return err
	}

	engine, err := s.newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	compiled, err := engine.CompileModule(ctx, bin)
	if err != nil {
		return err
	}

	imports := wasmtier.Imports{}
	if s.cfg.Memory.Import {
		mem, err := wasmtier.NewMemory(s.cfg.Memory.Min, s.cfg.memoryMax(), s.cfg.Memory.Shared)
		if err != nil {
			return err
		}
		imports["env"] = map[string]api.Extern{"memory": mem}
	}

	inst, err := engine.Instantiate(ctx, compiled, imports)
	if err != nil {
		return err
	}
	fn, err := inst.ExportedFunction(invoke)
	if err != nil {
		return err
	}

	for i := 0; i < repeat; i++ {
		start := time.Now()
		results, err := fn.Call(ctx, params...)
		elapsed := time.Since(start)
		if err != nil {
			return err
		}
		s.logger.Debug("called", zap.String("function", invoke), zap.Int("iteration", i), zap.Duration("elapsed", elapsed))
		fmt.Fprintf(stdOut, "elapsed: %s\n", elapsed)
		for _, r := range results {
			fmt.Fprintf(stdOut, "result: %s\n", r)
		}
	}

	if printMetrics, _ := cmd.Flags().GetBool("metrics"); printMetrics {
		families, err := s.registry.Gather()
		if err != nil {
			return err
		}
		enc := expfmt.NewEncoder(stdOut, expfmt.FmtText)
		for _, mf := range families {
			if err = enc.Encode(mf); err != nil {
				return err
			}
		}
	}
	return nil
}
