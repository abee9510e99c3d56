package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/config"
	"github.com/chazu/tern/store"
)

func openStore(c *config.Config) (*store.Store, error) {
	path, err := c.StorePath(store.DefaultPath)
	if err != nil {
		return nil, err
	}
	return store.Open(path)
}

func newStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the content-addressed program store",
	}

	withStore := func(fn func(cmd *cobra.Command, st *store.Store, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()
			return fn(cmd, st, args)
		}
	}

	put := &cobra.Command{
		Use:   "put FILE...",
		Short: "Store programs and print their hashes",
		Args:  cobra.MinimumNArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			for _, path := range args {
				f, err := readProgram(path)
				if err != nil {
					return err
				}
				hash, err := st.Put(f)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s  %s\n", hash, path)
			}
			return nil
		}),
	}

	var output string
	get := &cobra.Command{
		Use:   "get HASH",
		Short: "Write a stored program in text form",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			f, _, err := st.Get(args[0])
			if err != nil {
				return err
			}
			text, err := artifact.EncodeText(f)
			if err != nil {
				return err
			}
			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write(text)
				return err
			}
			return os.WriteFile(output, text, 0o644)
		}),
	}
	get.Flags().StringVarP(&output, "output", "o", "", "output file (default: stdout)")

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored programs",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			entries, err := st.List()
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "HASH\tNAME\tSIZE\tSTORED")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Hash[:12], e.Name, humanize.Bytes(uint64(e.Size)), humanize.Time(e.Created))
			}
			return w.Flush()
		}),
	}

	del := &cobra.Command{
		Use:   "rm HASH",
		Short: "Remove a stored program",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, st *store.Store, args []string) error {
			_, hash, err := st.Get(args[0])
			if err != nil {
				return err
			}
			return st.Delete(hash)
		}),
	}
	cmd.AddCommand(put, get, list, del)
	return cmd
}
