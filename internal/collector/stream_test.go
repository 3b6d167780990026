package collector

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStream(t *testing.T, ttl time.Duration) *Stream {
	t.Helper()
	// Never started; tests drive handleMessage directly.
	return NewStream("ws://unused.invalid/feed", ttl, &mockLogger{})
}

func frameJSON(t *testing.T, payload poolPayload) []byte {
	t.Helper()
	data, err := json.Marshal(streamFrame{Type: "pool_update", Pool: &payload})
	require.NoError(t, err)
	return data
}

func TestStream_CachesPoolUpdates(t *testing.T) {
	stream := newTestStream(t, time.Minute)

	stream.handleMessage(frameJSON(t, testPayload("p1", 0.72)))

	snap, ok := stream.Lookup("p1", time.Now().UTC())
	require.True(t, ok)
	assert.Equal(t, "p1", snap.PoolID)
	assert.Equal(t, "SOL/USDC", snap.Pair)
	assert.True(t, snap.Alive)
	assert.InDelta(t, 0.72, snap.State.LiquidityFlow, 1e-9)
	assert.Equal(t, 1, stream.Size())
}

func TestStream_LatestUpdateWins(t *testing.T) {
	stream := newTestStream(t, time.Minute)

	stream.handleMessage(frameJSON(t, testPayload("p1", 0.40)))
	stream.handleMessage(frameJSON(t, testPayload("p1", 0.80)))

	snap, ok := stream.Lookup("p1", time.Now().UTC())
	require.True(t, ok)
	assert.InDelta(t, 0.80, snap.State.LiquidityFlow, 1e-9)
	assert.Equal(t, 1, stream.Size())
}

func TestStream_LookupExpiresByTTL(t *testing.T) {
	stream := newTestStream(t, time.Minute)

	stream.handleMessage(frameJSON(t, testPayload("p1", 0.72)))

	_, ok := stream.Lookup("p1", time.Now().UTC().Add(2*time.Minute))
	assert.False(t, ok, "snapshots past the TTL are stale")
	assert.Equal(t, 1, stream.Size(), "expiry is read-side only")
}

func TestStream_IgnoresIrrelevantFrames(t *testing.T) {
	stream := newTestStream(t, time.Minute)

	stream.handleMessage([]byte(`not json at all`))
	stream.handleMessage([]byte(`{"type": "heartbeat"}`))
	stream.handleMessage([]byte(`{"type": "pool_update"}`))
	stream.handleMessage([]byte(`{"type": "pool_update", "pool": {"pair": "SOL/USDC"}}`))

	assert.Zero(t, stream.Size())
}

func TestStream_UnknownPoolMisses(t *testing.T) {
	stream := newTestStream(t, time.Minute)

	_, ok := stream.Lookup("nope", time.Now().UTC())
	assert.False(t, ok)
}
