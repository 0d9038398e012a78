package peerstore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bitlab-net/bitlab/internal/codec"
)

func TestMemoryStoreRecordAndGet(t *testing.T) {
	s := NewMemoryStore()
	v, err := codec.NewVersionPayload(net.ParseIP("1.2.3.4"), 8333, 1, "/BitLab:0.1/", 0)
	require.NoError(t, err)

	require.NoError(t, s.RecordConnection("1.2.3.4:8333", v))
	require.NoError(t, s.RecordConnection("1.2.3.4:8333", v))

	rec, ok, err := s.Get("1.2.3.4:8333")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 2, rec.ConnectionCount)
	require.Equal(t, "/BitLab:0.1/", rec.UserAgent)
}

func TestMemoryStoreLatencyAveraging(t *testing.T) {
	s := NewMemoryStore()
	v, _ := codec.NewVersionPayload(net.ParseIP("1.2.3.4"), 8333, 1, "/BitLab:0.1/", 0)
	require.NoError(t, s.RecordConnection("peer:8333", v))

	require.NoError(t, s.RecordLatency("peer:8333", 100))
	rec, _, _ := s.Get("peer:8333")
	require.Equal(t, 100, *rec.AvgLatencyMs)

	require.NoError(t, s.RecordLatency("peer:8333", 200))
	rec, _, _ = s.Get("peer:8333")
	require.Equal(t, 150, *rec.AvgLatencyMs)
}

func TestMemoryStoreList(t *testing.T) {
	s := NewMemoryStore()
	v, _ := codec.NewVersionPayload(net.ParseIP("1.2.3.4"), 8333, 1, "/A/", 0)
	require.NoError(t, s.RecordConnection("a:8333", v))
	require.NoError(t, s.RecordConnection("b:8333", v))

	list, err := s.List()
	require.NoError(t, err)
	require.Len(t, list, 2)
}

func TestMemoryStoreUnknownPeer(t *testing.T) {
	s := NewMemoryStore()
	_, ok, err := s.Get("ghost:8333")
	require.NoError(t, err)
	require.False(t, ok)
}
