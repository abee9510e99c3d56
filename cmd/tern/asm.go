package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/asm"
	"github.com/chazu/tern/vm"
)

func newAsmCommand() *cobra.Command {
	var (
		output string
		binary bool
	)
	cmd := &cobra.Command{
		Use:   "asm FILE.tasm",
		Short: "Assemble a source file into an artifact",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			f, err := asm.Assemble(args[0], src)
			if err != nil {
				return err
			}
			var data []byte
			if binary {
				data, err = artifact.Marshal(f)
			} else {
				data, err = artifact.EncodeText(f)
			}
			if err != nil {
				return err
			}
			if output == "" {
				ext := ".tern"
				if binary {
					ext = ".ternc"
				}
				output = strings.TrimSuffix(args[0], filepath.Ext(args[0])) + ext
			}
			if output == "-" {
				_, err = cmd.OutOrStdout().Write(data)
				return err
			}
			if err := os.WriteFile(output, data, 0o644); err != nil {
				return err
			}
			hash, _ := artifact.HashString(f)
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s, %s\n", output, hash[:12], humanize.Bytes(uint64(len(data))))
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `output file, "-" for stdout (default: FILE.tern)`)
	cmd.Flags().BoolVar(&binary, "cbor", false, "write raw CBOR instead of the text form")
	return cmd
}

func newDisCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "dis FILE",
		Short: "Disassemble a program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := readProgram(args[0])
			if err != nil {
				return err
			}
			return disassemble(cmd.OutOrStdout(), f)
		},
	}
}

func disassemble(w io.Writer, f *artifact.File) error {
	p, err := artifact.Load(f, vm.NewInterner())
	if err != nil {
		return err
	}
	hash, err := artifact.HashString(f)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "; program %s\n; hash %s\n", f.Header.Name, hash)
	if f.Header.Entry != "" {
		fmt.Fprintf(w, "; entry %s\n", f.Header.Entry)
	}
	if len(f.Header.Capabilities) > 0 {
		fmt.Fprintf(w, "; requires %s\n", strings.Join(f.Header.Capabilities, " "))
	}
	for _, cd := range p.Classes {
		fmt.Fprintf(w, "\n; class %s %s\n", cd.Name, strings.Join(cd.Fields, " "))
		for _, m := range cd.Methods {
			fmt.Fprintf(w, "; %s.\n%s", cd.Name, vm.Disassemble(m))
		}
	}
	for _, m := range p.Methods {
		fmt.Fprintf(w, "\n%s", vm.Disassemble(m))
	}
	return nil
}
