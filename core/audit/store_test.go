package audit

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/chargenet/core/network"
)

func sampleRecords(base time.Time) []FrameRecord {
	return []FrameRecord{
		{Timestamp: base, Direction: "in", NodeID: "CS001", Kind: "json", Payload: []byte(`[2,"1","Heartbeat",{}]`)},
		{Timestamp: base.Add(time.Second), Direction: "out", NodeID: "CS001", Kind: "json", Payload: []byte(`[3,"1",{}]`), Result: "success"},
		{Timestamp: base.Add(2 * time.Second), Direction: "in", NodeID: "CS002", Kind: "binary", Binary: "AQI="},
	}
}

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	for _, r := range sampleRecords(base) {
		require.NoError(t, s.Append(ctx, r))
	}

	all, err := s.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.JSONEq(t, `[2,"1","Heartbeat",{}]`, string(all[0].Payload))

	byNode, err := s.Query(ctx, Query{NodeID: "CS001"})
	require.NoError(t, err)
	assert.Len(t, byNode, 2)

	window, err := s.Query(ctx, Query{Start: base.Add(500 * time.Millisecond), End: base.Add(1500 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, "out", window[0].Direction)

	inbound, err := s.Query(ctx, Query{Direction: "in"})
	require.NoError(t, err)
	assert.Len(t, inbound, 2)
}

func TestJSONLStore(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "audit", "frames.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestJSONLStoreEmpty(t *testing.T) {
	s, err := NewJSONLStore(filepath.Join(t.TempDir(), "frames.jsonl"), 0, 0, 0)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	out, err := s.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestSQLiteStore(t *testing.T) {
	s, err := NewSQLiteStore("file:audit_test.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer func() { _ = s.Close() }()
	exerciseStore(t, s)
}

func TestRecordFromEvent(t *testing.T) {
	now := time.Now()
	rec := RecordFromEvent(network.FrameEvent{
		Direction: network.Outbound,
		NodeID:    "CS001",
		Frame:     network.NewBinaryFrame([]byte{1, 2}),
		Result:    &network.SendResult{Status: network.SendTransmissionFailed, Cause: errors.New("reset")},
		Time:      now,
	})
	assert.Equal(t, "out", rec.Direction)
	assert.Equal(t, "binary", rec.Kind)
	assert.Equal(t, "AQI=", rec.Binary)
	assert.Empty(t, rec.Payload)
	assert.Equal(t, "reset", rec.Cause)
	assert.Equal(t, network.SendTransmissionFailed.String(), rec.Result)
}

func TestConfig(t *testing.T) {
	var c Config
	c.SetDefaults()
	assert.Equal(t, BackendJSONL, c.Backend)
	assert.Equal(t, "frames.jsonl", c.Path)

	s, err := Open(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)

	_, err = Open(Config{Enabled: true, Backend: "csv"})
	require.Error(t, err)

	s, err = Open(Config{Enabled: true, Backend: BackendJSONL, Path: filepath.Join(t.TempDir(), "f.jsonl")})
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
