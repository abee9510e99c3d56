package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/tern/artifact"
	"github.com/chazu/tern/host"
	"github.com/chazu/tern/server"
)

func newServeCommand() *cobra.Command {
	var (
		addr    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the runner over Connect and gRPC",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := loadConfig()
			if err != nil {
				return err
			}
			if addr == "" {
				addr = c.Server.Address
			}
			st, err := openStore(c)
			if err != nil {
				return err
			}
			defer st.Close()
			opts, err := host.FromConfig(c)
			if err != nil {
				return err
			}

			policy := artifact.NewPermissivePolicy()
			if len(c.Server.Capabilities) > 0 {
				policy = artifact.NewRestrictedPolicy(c.Server.Capabilities)
			}
			s := server.New(
				server.WithStore(st),
				server.WithPolicy(policy),
				server.WithRunOptions(opts),
				server.WithWorkers(workers),
			)
			defer s.Stop()

			httpServer := s.HTTPServer(addr)
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()
			go func() {
				<-ctx.Done()
				shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpServer.Shutdown(shutdown)
			}()

			fmt.Fprintf(cmd.ErrOrStderr(), "tern runner listening on %s (store %s)\n", addr, st.Path())
			if err := httpServer.ListenAndServe(); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default: server.address from the configuration)")
	cmd.Flags().IntVar(&workers, "workers", 4, "maximum concurrent runs")
	return cmd
}
