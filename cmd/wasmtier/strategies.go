package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/wasmtier/wasmtier"
	"github.com/wasmtier/wasmtier/internal/engine/optimizing"
)

func newStrategiesCommand(stdOut io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "strategies",
		Short: "Lists the compiler strategies",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			for _, name := range wasmtier.Strategies() {
				if name == optimizing.Name {
					fmt.Fprintf(stdOut, "%s (default)\n", name)
				} else {
					fmt.Fprintln(stdOut, name)
				}
			}
			return nil
		},
	}
}
