package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/server"
)

func newRemoteCommand() *cobra.Command {
	var (
		addr    string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "remote",
		Short: "Talk to a tern runner service over gRPC",
	}
	cmd.PersistentFlags().StringVar(&addr, "addr", "", "service address (default: server.address from the configuration)")
	cmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")

	connect := func() (*server.Client, context.Context, context.CancelFunc, error) {
		if addr == "" {
			c, err := loadConfig()
			if err != nil {
				return nil, nil, nil, err
			}
			addr = c.Server.Address
		}
		client, err := server.Dial(addr)
		if err != nil {
			return nil, nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		return client, ctx, cancel, nil
	}

	var (
		hash  string
		entry string
		stdin bool
	)
	run := &cobra.Command{
		Use:   "run [FILE]",
		Short: "Run a program remotely, by file or by --hash",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &server.RunRequest{Hash: hash, Entry: entry}
			if len(args) == 1 {
				text, err := programText(args[0])
				if err != nil {
					return err
				}
				req.Artifact = text
			}
			if stdin {
				data, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				req.Stdin = string(data)
			}
			client, ctx, cancel, err := connect()
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()

			reply, err := client.Run(ctx, req)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), reply.Stdout)
			if !reply.Success {
				fmt.Fprintf(cmd.ErrOrStderr(), "fatal: %s\n", reply.Error)
				writeTrace(cmd.ErrOrStderr(), reply.Trace)
				return &exitError{code: 1}
			}
			if reply.HasValue {
				if reply.Value != 0 {
					return &exitError{code: int(reply.Value)}
				}
				return nil
			}
			if reply.Type != "void" {
				fmt.Fprintln(cmd.OutOrStdout(), reply.Result)
			}
			return nil
		},
	}
	run.Flags().StringVar(&hash, "hash", "", "run a program from the remote store")
	run.Flags().StringVarP(&entry, "entry", "e", "", "entry method")
	run.Flags().BoolVar(&stdin, "stdin", false, "forward standard input to the program")

	storeCmd := &cobra.Command{
		Use:   "store FILE",
		Short: "Upload a program to the remote store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := programText(args[0])
			if err != nil {
				return err
			}
			client, ctx, cancel, err := connect()
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			h, err := client.Store(ctx, text)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List programs in the remote store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, ctx, cancel, err := connect()
			if err != nil {
				return err
			}
			defer cancel()
			defer client.Close()
			programs, err := client.List(ctx)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tNAME\tSIZE")
			for _, p := range programs {
				fmt.Fprintf(w, "%s\t%s\t%s\n", p.Hash[:12], p.Name, humanize.Bytes(uint64(p.Size)))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(run, storeCmd, list)
	return cmd
}

// programText reads a program and renders it in text form.
func programText(path string) (string, error) {
	f, err := readProgram(path)
	if err != nil {
		return "", err
	}
	text, err := artifact.EncodeText(f)
	if err != nil {
		return "", err
	}
	return string(text), nil
}
