// Package peerstore persists known peer addresses and their handshake
// metadata, the same concern as the teacher's internal/database package,
// narrowed from its full blockchain-analytics schema down to the
// connection-table a pure P2P client needs: who we've talked to, what they
// said in their version message, and how they're doing.
package peerstore

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/bitlab-net/bitlab/internal/codec"
	"github.com/bitlab-net/bitlab/internal/metrics"
)

// PeerRecord is what's known about one peer address.
type PeerRecord struct {
	Address            string
	FirstConnectedAt   time.Time
	LastSeenAt         time.Time
	ProtocolVersion    int32
	UserAgent          string
	Services           uint64
	ConnectionCount    int
	AvgLatencyMs       *int
	TxAnnouncements    int64
	BlockAnnouncements int64
}

// Store is the peer-store interface; swap PostgresStore for MemoryStore in
// tests or for operators who don't want a database dependency.
type Store interface {
	RecordConnection(addr string, version codec.VersionPayload) error
	RecordLatency(addr string, latencyMs int) error
	RecordAnnouncements(addr string, txCount, blockCount int) error
	Get(addr string) (PeerRecord, bool, error)
	List() ([]PeerRecord, error)
	Close() error
}

// Config holds the Postgres connection parameters, the same field set as
// the teacher's database.Config.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
}

// PostgresStore backs Store with a Postgres connection, adapted from the
// teacher's database.DB but scoped to peer connection bookkeeping only —
// the teacher's transaction/block/propagation tables have no home once
// tx/block payloads stay opaque blobs.
type PostgresStore struct {
	conn *sql.DB
}

// Open connects to Postgres using cfg, the same DSN shape as database.New.
func Open(cfg Config) (*PostgresStore, error) {
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName,
	)
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("peerstore: open: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("peerstore: ping: %w", err)
	}
	metrics.SeedFromDB(conn)
	return &PostgresStore{conn: conn}, nil
}

func (s *PostgresStore) Close() error { return s.conn.Close() }

func (s *PostgresStore) RecordConnection(addr string, v codec.VersionPayload) error {
	_, err := s.conn.Exec(
		`INSERT INTO peer_connections (peer_addr, first_connected_at, last_seen_at, protocol_version, user_agent, services, connection_count)
		 VALUES ($1, NOW(), NOW(), $2, $3, $4, 1)
		 ON CONFLICT (peer_addr) DO UPDATE SET
		     last_seen_at = NOW(),
		     protocol_version = $2,
		     user_agent = $3,
		     services = $4,
		     connection_count = peer_connections.connection_count + 1`,
		addr, v.Version, v.UserAgent, v.Services,
	)
	if err != nil {
		metrics.DBErrors.WithLabelValues("record_connection").Inc()
	}
	return err
}

func (s *PostgresStore) RecordLatency(addr string, latencyMs int) error {
	_, err := s.conn.Exec(
		`UPDATE peer_connections SET
		     avg_latency_ms = CASE
		         WHEN avg_latency_ms IS NULL THEN $2
		         ELSE (avg_latency_ms + $2) / 2
		     END,
		     last_seen_at = NOW()
		 WHERE peer_addr = $1`,
		addr, latencyMs,
	)
	if err != nil {
		metrics.DBErrors.WithLabelValues("record_latency").Inc()
	}
	return err
}

func (s *PostgresStore) RecordAnnouncements(addr string, txCount, blockCount int) error {
	_, err := s.conn.Exec(
		`UPDATE peer_connections SET
		     tx_announcements = COALESCE(tx_announcements, 0) + $2,
		     block_announcements = COALESCE(block_announcements, 0) + $3,
		     last_seen_at = NOW()
		 WHERE peer_addr = $1`,
		addr, txCount, blockCount,
	)
	if err != nil {
		metrics.DBErrors.WithLabelValues("record_announcements").Inc()
	}
	return err
}

func (s *PostgresStore) Get(addr string) (PeerRecord, bool, error) {
	row := s.conn.QueryRow(
		`SELECT peer_addr, first_connected_at, last_seen_at, protocol_version, user_agent, services,
		        connection_count, avg_latency_ms, COALESCE(tx_announcements,0), COALESCE(block_announcements,0)
		 FROM peer_connections WHERE peer_addr = $1`,
		addr,
	)
	var rec PeerRecord
	var avgLatency sql.NullInt64
	err := row.Scan(&rec.Address, &rec.FirstConnectedAt, &rec.LastSeenAt, &rec.ProtocolVersion,
		&rec.UserAgent, &rec.Services, &rec.ConnectionCount, &avgLatency,
		&rec.TxAnnouncements, &rec.BlockAnnouncements)
	if err == sql.ErrNoRows {
		return PeerRecord{}, false, nil
	}
	if err != nil {
		metrics.DBErrors.WithLabelValues("get").Inc()
		return PeerRecord{}, false, err
	}
	if avgLatency.Valid {
		ms := int(avgLatency.Int64)
		rec.AvgLatencyMs = &ms
	}
	return rec, true, nil
}

func (s *PostgresStore) List() ([]PeerRecord, error) {
	rows, err := s.conn.Query(
		`SELECT peer_addr, first_connected_at, last_seen_at, protocol_version, user_agent, services,
		        connection_count, avg_latency_ms, COALESCE(tx_announcements,0), COALESCE(block_announcements,0)
		 FROM peer_connections ORDER BY last_seen_at DESC`,
	)
	if err != nil {
		metrics.DBErrors.WithLabelValues("list").Inc()
		return nil, err
	}
	defer rows.Close()

	var out []PeerRecord
	for rows.Next() {
		var rec PeerRecord
		var avgLatency sql.NullInt64
		if err := rows.Scan(&rec.Address, &rec.FirstConnectedAt, &rec.LastSeenAt, &rec.ProtocolVersion,
			&rec.UserAgent, &rec.Services, &rec.ConnectionCount, &avgLatency,
			&rec.TxAnnouncements, &rec.BlockAnnouncements); err != nil {
			return nil, err
		}
		if avgLatency.Valid {
			ms := int(avgLatency.Int64)
			rec.AvgLatencyMs = &ms
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
