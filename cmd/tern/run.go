package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/asm"
	"github.com/chazu/tern/host"
	"github.com/chazu/tern/vm"
)

// readProgram loads a .tasm source or an artifact in text or CBOR form.
func readProgram(path string) (*artifact.File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if filepath.Ext(path) == ".tasm" {
		return asm.Assemble(path, data)
	}
	f, err := artifact.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

func newRunCommand() *cobra.Command {
	var (
		entry string
		trace bool
	)
	cmd := &cobra.Command{
		Use:   "run FILE",
		Short: "Run a program and exit with its integer result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			f, err := readProgram(args[0])
			if err != nil {
				return err
			}
			opts, err := host.FromConfig(c)
			if err != nil {
				return err
			}
			opts.Entry = entry
			opts.Stdin, opts.Stdout, opts.Stderr = os.Stdin, os.Stdout, os.Stderr
			if trace || c.VM.Trace {
				opts.Machine = append(opts.Machine, vm.WithTracer(&vm.WriterTracer{W: os.Stderr}))
			}

			res, err := host.Run(f, opts)
			if err != nil {
				return err
			}
			if n, ok := res.Int(); ok {
				if n != 0 {
					return &exitError{code: int(n)}
				}
				return nil
			}
			if res.Type != vm.TypeVoid {
				fmt.Fprintln(cmd.OutOrStdout(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&entry, "entry", "e", "", "entry method (default: the entry-tagged method, then main)")
	cmd.Flags().BoolVar(&trace, "trace", false, "print every instruction to stderr")
	return cmd
}
