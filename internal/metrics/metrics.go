// Package metrics wires Prometheus exactly the way the teacher repo does:
// package-level promauto vars, a CORS-wrapped /metrics handler, and a
// DB-seeding routine for the known-peer gauge. The vocabulary moves
// from chain-analytics (transactions, blocks) to session-layer concerns
// (frames, handshakes, sessions).
package metrics

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Codec / frame metrics
	FramesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_frames_sent_total",
		Help: "Total number of frames sent, by command",
	}, []string{"command"})

	FramesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_frames_received_total",
		Help: "Total number of frames received, by command",
	}, []string{"command"})

	ParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_parse_errors_total",
		Help: "Total number of frame parse errors, by kind",
	}, []string{"kind"})

	OversizedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitlab_oversized_frames_total",
		Help: "Total number of frames rejected for exceeding max_frame_bytes",
	})

	// Handshake metrics
	HandshakeAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitlab_handshake_attempts_total",
		Help: "Total number of handshake attempts",
	})

	HandshakeFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_handshake_failures_total",
		Help: "Total number of handshake failures, by reason",
	}, []string{"reason"})

	HandshakeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bitlab_handshake_duration_seconds",
		Help:    "Time to complete a successful handshake",
		Buckets: prometheus.DefBuckets,
	})

	// Session / manager metrics
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "bitlab_sessions_active",
		Help: "Number of currently ready peer sessions",
	})

	SessionConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitlab_session_connects_total",
		Help: "Total number of session connect attempts",
	})

	SessionDisconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_session_disconnects_total",
		Help: "Total number of session disconnections, by cause",
	}, []string{"cause"})

	BroadcastFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bitlab_broadcast_failures_total",
		Help: "Total number of per-peer broadcast write failures",
	})

	PingRoundTrip = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "bitlab_ping_round_trip_ms",
		Help:    "Observed ping/pong round trip in milliseconds",
		Buckets: []float64{10, 25, 50, 100, 200, 500, 1000, 2000, 5000},
	})

	// Inventory dedup metrics (§ SPEC_FULL.md opt-in AutoRequestInventory)
	InvDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_inv_deduplicated_total",
		Help: "Total inventory entries skipped because they were already seen",
	}, []string{"kind"})

	SeenMapSize = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bitlab_seen_map_size",
		Help: "Current size of the inventory dedup maps",
	}, []string{"kind"})

	// Discovery metrics
	DiscoveredPeers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "bitlab_discovered_peers",
		Help: "Number of candidate peers known per region",
	}, []string{"region"})

	// Database metrics
	DBErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bitlab_db_errors_total",
		Help: "Total number of peer-store database errors",
	}, []string{"operation"})
)

// SeedFromDB sets the DiscoveredPeers gauge (region "unknown") to the number
// of rows in peer_connections, so the known-peer count doesn't start at zero
// on restart, the same pattern as the teacher's SeedFromDB against its
// analytics tables. No counter is seeded.
func SeedFromDB(db *sql.DB) {
	var knownPeers float64
	row := db.QueryRow(`SELECT COUNT(*) FROM peer_connections`)
	if err := row.Scan(&knownPeers); err != nil {
		log.Printf("Failed to seed metrics from database: %v", err)
		return
	}
	DiscoveredPeers.WithLabelValues("unknown").Set(knownPeers)
	log.Printf("Seeded metrics from DB: %d known peer addresses", int(knownPeers))
}

// corsHandler wraps a handler with CORS headers.
func corsHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// StartMetricsServer starts the Prometheus metrics HTTP server.
func StartMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", corsHandler(promhttp.Handler()))
	go http.ListenAndServe(addr, mux)
}
