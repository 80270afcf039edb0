package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/oabridge/depositd/pkg/dispatcher"
	"github.com/oabridge/depositd/pkg/events"
	"github.com/oabridge/depositd/pkg/log"
	"github.com/oabridge/depositd/pkg/metrics"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Consume repository events and run deposits continuously",
	Long: `Listen connects to the event broker and processes submission events as
they arrive, running the status refresh loop alongside. This is the normal
production mode; it runs until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := newEngine(cmd)
		if err != nil {
			return err
		}
		defer eng.close()

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		source, err := events.NewStompSource(eng.registry.Broker())
		if err != nil {
			return exitWith(exitTransient, err)
		}
		defer source.Close()

		filter := events.NewFilter(eng.store, eng.registry.AgentName())
		disp := dispatcher.New(eng.registry, eng.critical, eng.runner, eng.resolver, source, filter)

		var metricsSrv *http.Server
		if addr := eng.registry.MetricsAddr(); addr != "" {
			metricsSrv = serveMetrics(addr)
			defer shutdownMetrics(metricsSrv)
		}

		if err := disp.Start(ctx); err != nil {
			return exitWith(exitFatal, err)
		}
		metrics.UpdateComponent("dispatcher", true, "running")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		log.WithComponent("main").Info().Str("signal", sig.String()).Msg("shutting down")

		metrics.UpdateComponent("dispatcher", false, "shutting down")
		cancel()
		disp.Stop()
		return nil
	},
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/healthz", metrics.HealthHandler())

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.WithComponent("metrics").Info().Str("address", addr).Msg("serving metrics")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithComponent("metrics").Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func shutdownMetrics(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithComponent("metrics").Debug().Err(err).Msg("metrics server shutdown failed")
	}
}
