package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/micutio/airfuse/internal/aggregate"
	"github.com/micutio/airfuse/internal/broadcast"
	"github.com/micutio/airfuse/internal/config"
	"github.com/micutio/airfuse/internal/metrics"
	"github.com/micutio/airfuse/internal/pipeline"
	"github.com/micutio/airfuse/internal/throttle"
)

const (
	readHeaderTimeout = 5 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// serve publishes released batches to websocket clients and, if configured, to NATS. It also
// serves Prometheus metrics and a status summary until ctx is done.
func serve(ctx context.Context, cfg *config.Config, agg pipeline.Aggregator, logger zerolog.Logger) error {
	hub := broadcast.NewHub(logger.With().Str("component", "hub").Logger())
	consumers := broadcast.Fanout{hub}

	if cfg.Serve.NATSURL != "" {
		conn, err := broadcast.ConnectNATS(cfg.Serve.NATSURL, logger)
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		defer func() {
			if err := conn.Drain(); err != nil {
				logger.Warn().Err(err).Msg("unable to drain NATS connection")
			}
		}()
		publisher := broadcast.NewNATSPublisher(conn, cfg.Serve.NATSSubject, logger)
		consumers = append(consumers, publisher)
		logger.Info().Str("subject", cfg.Serve.NATSSubject+".*").Msg("publishing to NATS")
	}

	th := throttle.New(consumers, append(cfg.ThrottleOptions(),
		throttle.WithLogger(logger.With().Str("component", "throttle").Logger()),
		throttle.WithOverflowFunc(func(e throttle.OverflowEvent) {
			logger.Debug().Str("class", e.Class.String()).Str("outcome", string(e.Outcome)).
				Str("id", e.ID).Float64("score", e.Score).Msg("queue overflow")
		}),
	)...)

	if err := metrics.NewThrottleCollector(th).Register(nil); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	if err := metrics.RegisterClientGauge(nil, hub.ClientCount); err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	poller := pipeline.New(agg, th, cfg.MonitoredArea(), append(cfg.PollerOptions(),
		pipeline.WithLogger(logger.With().Str("component", "poller").Logger()),
	)...)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.ServeWS)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/status", statusHandler(poller.LastResult, th.Metrics))

	srv := &http.Server{
		Addr:              cfg.Serve.Addr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return pipeline.Run(gctx, th, poller)
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Serve.Addr).Msg("serving")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

type status struct {
	Aircraft    int                `json:"aircraft"`
	Quality     *aggregate.Quality `json:"quality,omitempty"`
	SourcesUsed []string           `json:"sources_used,omitempty"`
	Failures    []failureStatus    `json:"failures,omitempty"`
	Cached      bool               `json:"cached"`
	Stale       bool               `json:"stale"`
	FetchedAt   *time.Time         `json:"fetched_at,omitempty"`
	Queues      map[string]int     `json:"queues"`
	Received    uint64             `json:"received"`
	Processed   uint64             `json:"processed"`
	Dropped     uint64             `json:"dropped"`
}

type failureStatus struct {
	Source string `json:"source"`
	Kind   string `json:"kind"`
	Error  string `json:"error"`
}

// statusHandler reports the latest aggregation result and the throttler counters as JSON.
func statusHandler(lastResult func() *aggregate.Result, snapshot func() throttle.Snapshot) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		s := snapshot()
		resp := status{
			Queues:    make(map[string]int, len(throttle.Classes)),
			Received:  s.Received,
			Processed: s.Processed,
			Dropped:   s.Dropped,
		}
		for _, class := range throttle.Classes {
			resp.Queues[class.String()] = s.QueueDepth[class]
		}

		if r := lastResult(); r != nil {
			resp.Aircraft = len(r.Records)
			resp.Quality = &r.Quality
			resp.SourcesUsed = r.SourcesUsed
			resp.Cached = r.Cached
			resp.Stale = r.Stale
			resp.FetchedAt = &r.FetchedAt
			for _, f := range r.Failures {
				resp.Failures = append(resp.Failures, failureStatus{Source: f.Source, Kind: string(f.Kind), Error: f.Err.Error()})
			}
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
}
