package peerstore

import (
	"sync"
	"time"

	"github.com/bitlab-net/bitlab/internal/codec"
)

// MemoryStore is an in-process Store, for operators running without
// Postgres and for tests.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]PeerRecord
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]PeerRecord)}
}

func (s *MemoryStore) RecordConnection(addr string, v codec.VersionPayload) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, exists := s.records[addr]
	if !exists {
		rec.FirstConnectedAt = time.Now()
	}
	rec.Address = addr
	rec.LastSeenAt = time.Now()
	rec.ProtocolVersion = v.Version
	rec.UserAgent = v.UserAgent
	rec.Services = v.Services
	rec.ConnectionCount++
	s.records[addr] = rec
	return nil
}

func (s *MemoryStore) RecordLatency(addr string, latencyMs int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[addr]
	if !ok {
		return nil
	}
	if rec.AvgLatencyMs == nil {
		rec.AvgLatencyMs = new(int)
		*rec.AvgLatencyMs = latencyMs
	} else {
		avg := (*rec.AvgLatencyMs + latencyMs) / 2
		rec.AvgLatencyMs = &avg
	}
	rec.LastSeenAt = time.Now()
	s.records[addr] = rec
	return nil
}

func (s *MemoryStore) RecordAnnouncements(addr string, txCount, blockCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[addr]
	if !ok {
		return nil
	}
	rec.TxAnnouncements += int64(txCount)
	rec.BlockAnnouncements += int64(blockCount)
	rec.LastSeenAt = time.Now()
	s.records[addr] = rec
	return nil
}

func (s *MemoryStore) Get(addr string) (PeerRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[addr]
	return rec, ok, nil
}

func (s *MemoryStore) List() ([]PeerRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PeerRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec)
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
