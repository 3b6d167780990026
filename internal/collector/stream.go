package collector

import (
	"encoding/json"
	"sync"
	"time"

	"lp_sentinel/internal/core"
	"lp_sentinel/pkg/websocket"
)

const defaultStreamTTL = 2 * time.Minute

// streamFrame is one message on the pool-telemetry feed.
type streamFrame struct {
	Type string       `json:"type"`
	Pool *poolPayload `json:"pool,omitempty"`
}

// Stream subscribes to a pool-telemetry WebSocket feed and keeps the last
// snapshot seen per pool. The poller consults it when a direct fetch fails,
// trading a little staleness for an unbroken cycle.
type Stream struct {
	mu     sync.RWMutex
	ttl    time.Duration
	logger core.ILogger
	client *websocket.Client
	cache  map[string]core.PoolSnapshot
}

// NewStream creates a stream client for url. Snapshots older than ttl are
// treated as expired; a non-positive ttl uses the default.
func NewStream(url string, ttl time.Duration, logger core.ILogger) *Stream {
	if ttl <= 0 {
		ttl = defaultStreamTTL
	}
	s := &Stream{
		ttl:    ttl,
		logger: logger.WithField("component", "telemetry_stream"),
		cache:  make(map[string]core.PoolSnapshot),
	}
	s.client = websocket.NewClient(url, s.handleMessage, s.logger)
	return s
}

// Start begins the connect/reconnect loop.
func (s *Stream) Start() {
	s.client.Start()
}

// Stop closes the connection and waits for the client loops to exit.
func (s *Stream) Stop() {
	s.client.Stop()
}

// Connected reports whether the underlying feed is currently up.
func (s *Stream) Connected() bool {
	return s.client.Connected()
}

// Lookup returns the cached snapshot for poolID when one exists and is
// younger than the TTL at now.
func (s *Stream) Lookup(poolID string, now time.Time) (core.PoolSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.cache[poolID]
	if !ok || now.Sub(snap.ObservedAt) > s.ttl {
		return core.PoolSnapshot{}, false
	}
	return snap, true
}

// Size returns the number of pools with a cached snapshot, expired or not.
func (s *Stream) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.cache)
}

func (s *Stream) handleMessage(message []byte) {
	var frame streamFrame
	if err := json.Unmarshal(message, &frame); err != nil {
		s.logger.Warn("Dropping malformed stream frame", "error", err)
		return
	}
	if frame.Type != "pool_update" || frame.Pool == nil || frame.Pool.PoolID == "" {
		return
	}

	snap := frame.Pool.snapshot(time.Now().UTC())
	s.mu.Lock()
	s.cache[snap.PoolID] = snap
	s.mu.Unlock()
}
