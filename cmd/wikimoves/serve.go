package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"wikimoves/internal/routes"
)

func newServeCommand(flags *rootFlags) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve health, run history, metrics and an on-demand run trigger",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(flags, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			defer func() { _ = a.log.Sync() }()
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			srv := &http.Server{
				Addr: addr,
				Handler: routes.NewRouter(routes.Deps{
					Service:  a.svc,
					Wikis:    []routes.Prober{a.primary, a.mirror},
					Gatherer: a.registry,
					Logger:   a.log,
				}),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				a.log.Info("wikimoves listening", zap.String("addr", addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return err
			case <-cmd.Context().Done():
			}

			a.log.Info("shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			return srv.Shutdown(ctx)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from server.addr)")
	return cmd
}
