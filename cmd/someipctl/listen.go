package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/someip/internal/config"
	"github.com/danmuck/someip/internal/endpoint"
	"github.com/danmuck/someip/internal/observability"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newListenCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Receive SOME/IP traffic and log every delivery",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.LoadEngineConfig(path)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return listen(ctx, cfg, logDelivery)
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", "", "engine config file (TOML)")
	return cmd
}

func listen(ctx context.Context, cfg config.EngineConfig, handle endpoint.Handler) error {
	pipeline, err := endpoint.NewPipeline(endpoint.Config{
		Codec:           cfg.Codec,
		Conformance:     cfg.Conformance,
		TP:              cfg.TP,
		PeerIdleTimeout: cfg.Endpoint.PeerIdleTimeout,
	}, nil)
	if err != nil {
		return err
	}
	pipeline.OnFailure(func(f endpoint.PeerFailure) {
		log.Warn().Err(f.Err).Str("peer", f.Peer).Str("key", f.Key.String()).Int("received", f.Received).Msg("someipctl tp reassembly failed")
	})

	conn, err := net.ListenPacket("udp4", cfg.Endpoint.Listen)
	if err != nil {
		return fmt.Errorf("listen udp %s: %w", cfg.Endpoint.Listen, err)
	}
	if cfg.Endpoint.JoinSD {
		group, err := netip.ParseAddr(cfg.Endpoint.MulticastGroup)
		if err != nil {
			_ = conn.Close()
			return fmt.Errorf("parse multicast group: %w", err)
		}
		if _, err := endpoint.JoinSDGroup(conn, cfg.Endpoint.Interface, group); err != nil {
			_ = conn.Close()
			return err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	errs := make(chan error, 4)
	running := 0
	start := func(fn func() error) {
		running++
		go func() {
			err := fn()
			cancel()
			errs <- err
		}()
	}

	start(func() error { return pipeline.Run(ctx) })
	start(func() error { return endpoint.ServeUDP(ctx, conn, pipeline, handle) })
	if cfg.Endpoint.TCPListen != "" {
		ln, err := net.Listen("tcp", cfg.Endpoint.TCPListen)
		if err != nil {
			cancel()
			return errors.Join(fmt.Errorf("listen tcp %s: %w", cfg.Endpoint.TCPListen, err), drain(errs, running))
		}
		start(func() error { return endpoint.ServeTCP(ctx, ln, pipeline, handle) })
	}
	if cfg.Endpoint.MetricsAddr != "" {
		srv := &http.Server{
			Addr:              cfg.Endpoint.MetricsAddr,
			Handler:           metricsMux(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		start(func() error { return serveMetrics(ctx, srv) })
	}

	log.Info().
		Str("udp", cfg.Endpoint.Listen).
		Str("tcp", cfg.Endpoint.TCPListen).
		Bool("sd", cfg.Endpoint.JoinSD).
		Str("metrics", cfg.Endpoint.MetricsAddr).
		Msg("someipctl listening")
	return drain(errs, running)
}

func drain(errs <-chan error, n int) error {
	var out error
	for i := 0; i < n; i++ {
		out = errors.Join(out, <-errs)
	}
	return out
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	return mux
}

func serveMetrics(ctx context.Context, srv *http.Server) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func logDelivery(d endpoint.Delivery) {
	h := d.Message.Header
	evt := log.Info()
	if len(d.Violations) > 0 || d.Err != nil {
		evt = log.Warn()
	}
	evt = evt.
		Str("peer", d.Peer).
		Uint32("message_id", h.MessageID()).
		Uint32("request_id", h.RequestID()).
		Str("type", h.MessageType.String()).
		Int("payload", len(d.Message.Payload)).
		Bool("reassembled", d.Reassembled)
	if len(d.Violations) > 0 {
		rules := make([]string, 0, len(d.Violations))
		for _, r := range d.Violations.Rules() {
			rules = append(rules, string(r))
		}
		evt = evt.Strs("violations", rules)
	}
	if d.SD != nil {
		evt = evt.Int("sd_entries", len(d.SD.Entries)).Bool("sd_reboot", d.SD.Flags.Reboot())
	}
	if d.Err != nil {
		evt = evt.Err(d.Err)
	}
	evt.Msg("someipctl delivery")
}
