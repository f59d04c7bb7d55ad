package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
)

func newCompileCommand(stdOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "compile <path to wasm file>",
		Short: "Compiles a module without instantiating it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return doCompile(cmd, args[0], stdOut)
		},
	}
}

func doCompile(cmd *cobra.Command, path string, stdOut io.Writer) error {
	ctx := cmd.Context()
	s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.logger.Sync() //nolint

	bin, err := s.load(path)
	if err != nil {
		return err
	}
	engine, err := s.newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close(ctx)

	start := time.Now()
	compiled, err := engine.CompileModule(ctx, bin)
	if err != nil {
		return err
	}
	elapsed := time.Since(start)

	fmt.Fprintf(stdOut, "strategy: %s\n", compiled.Strategy())
	fmt.Fprintf(stdOut, "functions: %d\n", compiled.FunctionCount())
	if n := compiled.FusedInstructions(); n > 0 {
		fmt.Fprintf(stdOut, "fused instructions: %d\n", n)
	}
	fmt.Fprintf(stdOut, "id: %s\n", compiled.ID())
	fmt.Fprintf(stdOut, "elapsed: %s\n", elapsed)
	return nil
}
