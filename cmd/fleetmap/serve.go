package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"fleetmap/internal/fleet"
	"fleetmap/internal/metrics"
	"fleetmap/internal/natsfeed"
	"fleetmap/internal/server"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve interactive map sessions over websocket",
		Long: `Serve opens one map session per websocket connection on /ws. Clients send
input events as JSON and receive frames as PNG. Live fleet snapshots arrive over
NATS when enabled and are stored and pushed to every session.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}

	f := cmd.Flags()
	f.String("addr", ":8080", "listen address")
	f.Bool("nats", false, "subscribe to live fleet snapshots")
	f.String("nats-url", "nats://127.0.0.1:4222", "NATS server")
	cmd.Annotations = map[string]string{"addr": "serve.addr", "nats": "nats.enabled", "nats-url": "nats.url"}
	return cmd
}

func runServe(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	m := metrics.New()
	mgr, err := newTileManager(m)
	if err != nil {
		return err
	}

	srv := server.New(server.Deps{
		Engine:       settings.Engine(),
		Tiles:        mgr,
		Trajectories: st,
		Fleet:        st,
		Fields:       st,
		Metrics:      m,
		Logger:       logger,
	})

	if settings.NATS.Enabled {
		feed, err := natsfeed.Connect(settings.NATS.URL, settings.NATS.Subject, logger)
		if err != nil {
			return err
		}
		defer feed.Close()
		feed.OnSnapshot(func(machines []fleet.MachineSnapshot) {
			if err := st.SaveFleet(context.Background(), machines); err != nil {
				logger.Error().Err(err).Msg("failed to store fleet snapshot")
			}
			srv.Broadcast(machines)
		})
		if err := feed.Start(); err != nil {
			return err
		}
	}

	httpServer := &http.Server{
		Addr:              settings.Serve.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("listening")
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Shutdown()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
