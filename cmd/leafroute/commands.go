package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/glennswest/leafroute/pkg/fabric/engine"
)

func newRunCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Configure the fabric once and print the report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.setup()
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			res, plan, err := engine.NewRunner(e.cfg, e.driver, nil, e.log).Run(cmd.Context())
			if err != nil {
				return err
			}

			if e.cfg.Report.Path != "" {
				if err := engine.NewStore(e.cfg.Report.Path).Save(res, plan); err != nil {
					e.log.Warnw("failed to save run report", "error", err)
				}
			}
			if err := engine.RenderReport(cmd.OutOrStdout(), res, o.output); err != nil {
				return err
			}
			if !res.Succeeded() {
				return errRunFailed
			}
			return nil
		},
	}
}

func newPlanCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plan",
		Short: "Show the clusters, identifiers and links a run would use",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.setup()
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			plan, err := engine.NewRunner(e.cfg, e.driver, nil, e.log).Plan(cmd.Context())
			if err != nil {
				return err
			}
			return engine.RenderPlan(cmd.OutOrStdout(), plan, o.output)
		},
	}
}

func newServeCmd(o *options) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Re-run on an interval and serve the last report over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := o.setup()
			if err != nil {
				return err
			}
			defer func() { _ = e.close() }()

			if cmd.Flags().Changed("listen") {
				e.cfg.Serve.ListenAddr = listen
			}
			return serve(cmd.Context(), e)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "HTTP listen address (default from config, :9470)")
	return cmd
}

func serve(ctx context.Context, e *env) error {
	store := engine.NewStore(e.cfg.Report.Path)
	if err := store.Load(); err != nil {
		e.log.Warnw("ignoring previous run report", "path", e.cfg.Report.Path, "error", err)
	}

	metrics := engine.NewMetrics()
	runner := engine.NewRunner(e.cfg, e.driver, metrics, e.log)

	srv := &http.Server{
		Addr:              e.cfg.Serve.ListenAddr,
		Handler:           engine.Routes(store, metrics),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		e.log.Infow("api listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	loopCtx, stop := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		runner.RunPeriodic(loopCtx, store, engine.PeriodicOpts{Interval: e.cfg.Serve.Interval})
		close(done)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-errCh:
	}
	stop()
	<-done

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil && err == nil {
		err = shutdownErr
	}
	return err
}
