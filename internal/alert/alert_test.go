package alert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"lp_sentinel/internal/core"
)

type mockAlertChannel struct {
	name     string
	sent     []AlertPayload
	sendFunc func(ctx context.Context, alert AlertPayload) error
	mu       sync.Mutex
}

func (m *mockAlertChannel) Name() string {
	return m.name
}

func (m *mockAlertChannel) Send(ctx context.Context, alert AlertPayload) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, alert)
	if m.sendFunc != nil {
		return m.sendFunc(ctx, alert)
	}
	return nil
}

func (m *mockAlertChannel) getSent() []AlertPayload {
	m.mu.Lock()
	defer m.mu.Unlock()
	res := make([]AlertPayload, len(m.sent))
	copy(res, m.sent)
	return res
}

type mockLogger struct{}

func (m *mockLogger) Debug(msg string, f ...interface{})               {}
func (m *mockLogger) Info(msg string, f ...interface{})                {}
func (m *mockLogger) Warn(msg string, f ...interface{})                {}
func (m *mockLogger) Error(msg string, f ...interface{})               {}
func (m *mockLogger) Fatal(msg string, f ...interface{})               {}
func (m *mockLogger) WithField(k string, v interface{}) core.ILogger   { return m }
func (m *mockLogger) WithFields(f map[string]interface{}) core.ILogger { return m }

func TestAlertManager_Alert(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	ch1 := &mockAlertChannel{name: "mock1"}
	ch2 := &mockAlertChannel{name: "mock2"}

	am.AddChannel(ch1)
	am.AddChannel(ch2)

	am.Alert(context.Background(), "Kill switch tripped", "equity drawdown 13.0% from peak", Critical, map[string]string{"reason": "drawdown"})

	// Wait for goroutines (Alert is async)
	time.Sleep(100 * time.Millisecond)

	sent1 := ch1.getSent()
	sent2 := ch2.getSent()

	if len(sent1) != 1 {
		t.Errorf("Expected ch1 to receive 1 alert, got %d", len(sent1))
	}
	if len(sent2) != 1 {
		t.Errorf("Expected ch2 to receive 1 alert, got %d", len(sent2))
	}

	payload := sent1[0]
	if payload.Title != "Kill switch tripped" {
		t.Errorf("Expected title 'Kill switch tripped', got '%s'", payload.Title)
	}
	if payload.Level != Critical {
		t.Errorf("Expected level CRITICAL, got %s", payload.Level)
	}
	if payload.Fields["reason"] != "drawdown" {
		t.Errorf("Expected field reason=drawdown, got %s", payload.Fields["reason"])
	}
}

func TestAlertManager_FailingChannelDoesNotBlockOthers(t *testing.T) {
	am := NewAlertManager(&mockLogger{})

	failing := &mockAlertChannel{
		name: "failing",
		sendFunc: func(ctx context.Context, alert AlertPayload) error {
			return context.DeadlineExceeded
		},
	}
	healthy := &mockAlertChannel{name: "healthy"}

	am.AddChannel(failing)
	am.AddChannel(healthy)

	am.Alert(context.Background(), "Capital invariant violated", "deployed 66% exceeds cap 65%", Error, nil)
	time.Sleep(100 * time.Millisecond)

	if len(healthy.getSent()) != 1 {
		t.Errorf("Expected healthy channel to receive the alert despite the failing one")
	}
}

func TestLogChannel_Send(t *testing.T) {
	ch := NewLogChannel(&mockLogger{})

	if ch.Name() != "log" {
		t.Errorf("Expected channel name 'log', got '%s'", ch.Name())
	}

	err := ch.Send(context.Background(), AlertPayload{
		Level:   Warning,
		Title:   "Confidence unlocked",
		Message: "score 0.74, deploy cap raised to 60%",
		Fields:  map[string]string{"score": "0.74"},
	})
	if err != nil {
		t.Errorf("LogChannel send should never fail, got %v", err)
	}
}

func TestSlackChannel_Send(t *testing.T) {
	var body []byte
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	err := ch.Send(context.Background(), AlertPayload{
		Level:     Critical,
		Title:     "Kill switch tripped",
		Message:   "forced exit rate 40% over 10 exits",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Fields:    map[string]string{"reason": "forced_exits"},
	})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("webhook body is not JSON: %v", err)
	}
	if !strings.Contains(string(body), "Kill switch tripped") {
		t.Error("webhook body missing alert title")
	}
	if !strings.Contains(string(body), "#8b0000") {
		t.Error("critical alerts should use the dark red attachment color")
	}
}

func TestSlackChannel_ServerErrorSurfaces(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	ch := NewSlackChannel(server.URL)
	err := ch.Send(context.Background(), AlertPayload{Level: Info, Title: "t", Message: "m"})
	if err == nil {
		t.Error("Expected error for non-200 webhook response")
	}
}

func TestSlackChannel_NoWebhookConfigured(t *testing.T) {
	ch := NewSlackChannel("")
	if err := ch.Send(context.Background(), AlertPayload{Level: Info}); err != nil {
		t.Errorf("Unconfigured channel should be a no-op, got %v", err)
	}
}
