package metrics

import (
	"net"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Sync metrics
	SyncRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeleak_sync_runs_total",
			Help: "Total sync runs by outcome",
		},
		[]string{"outcome"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timeleak_sync_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	UploadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeleak_upload_failures_total",
			Help: "Upload failures by kind",
		},
		[]string{"kind"},
	)

	// Reconciliation metrics
	SessionsClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timeleak_sessions_clamped_total",
			Help: "Sessions clamped to the per-session maximum",
		},
	)

	EventsDiscarded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeleak_events_discarded_total",
			Help: "Usage events discarded during reconciliation",
		},
		[]string{"reason"},
	)

	ReconcileRecoveries = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timeleak_reconcile_recoveries_total",
			Help: "Panics recovered during event reconciliation",
		},
	)

	// Aggregation metrics
	AggregateDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "timeleak_aggregate_duration_seconds",
			Help:    "Aggregation duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"window"},
	)

	NegativeUsageClamped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timeleak_negative_usage_clamped_total",
			Help: "Per-app usage values clamped from negative to zero",
		},
	)

	// Ingest metrics
	IngestEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timeleak_ingest_events_total",
			Help: "Usage records accepted by the ingest API",
		},
		[]string{"kind"},
	)

	// Retention metrics
	RecordsPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "timeleak_records_pruned_total",
			Help: "Usage records removed by retention pruning",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		SyncRunsTotal,
		SyncDuration,
		UploadFailures,
		SessionsClamped,
		EventsDiscarded,
		ReconcileRecoveries,
		AggregateDuration,
		NegativeUsageClamped,
		IngestEventsTotal,
		RecordsPruned,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		logger: logger.With().Str("component", "metrics").Logger(),
	}
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop stops the metrics server
func (s *Server) Stop() error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Close()
}
