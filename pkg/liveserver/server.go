package liveserver

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"lp_sentinel/internal/core"
)

var (
	wsActiveConnections = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "lp_sentinel_ws_active_connections",
		Help: "Current number of active WebSocket connections",
	}, []string{"endpoint"})

	wsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "lp_sentinel_ws_rejected_total",
		Help: "Total number of rejected WebSocket connections",
	}, []string{"reason"})
)

func init() {
	prometheus.MustRegister(wsActiveConnections)
	prometheus.MustRegister(wsRejectedTotal)
}

// StatusFunc produces the document served at /status and in the snapshot
// frame sent to newly connected clients.
type StatusFunc func(ctx context.Context) (interface{}, error)

// Params tune the operator server. Zero values fall back to defaults.
type Params struct {
	ListenAddr     string
	AllowedOrigins []string
	MaxConnections int
	RateLimit      float64 // new connections per second per IP
	RateBurst      int
	Production     bool // reject wildcard origins
}

func DefaultParams() Params {
	return Params{
		ListenAddr:     ":8787",
		AllowedOrigins: []string{"*"},
		MaxConnections: 256,
		RateLimit:      10,
		RateBurst:      20,
	}
}

func (p Params) withDefaults() Params {
	def := DefaultParams()
	if p.ListenAddr == "" {
		p.ListenAddr = def.ListenAddr
	}
	if len(p.AllowedOrigins) == 0 {
		p.AllowedOrigins = def.AllowedOrigins
	}
	if p.MaxConnections <= 0 {
		p.MaxConnections = def.MaxConnections
	}
	if p.RateLimit <= 0 {
		p.RateLimit = def.RateLimit
	}
	if p.RateBurst <= 0 {
		p.RateBurst = def.RateBurst
	}
	return p
}

// Server is the operator HTTP surface: the WebSocket decision feed plus
// health, status and Prometheus endpoints. It implements core.IDecisionSink
// so the scan loop can publish directly to it.
type Server struct {
	params   Params
	hub      *Hub
	logger   core.ILogger
	health   core.IHealthMonitor
	statusFn StatusFunc

	srv      *http.Server
	upgrader websocket.Upgrader
	mu       sync.Mutex

	connSemaphore chan struct{}
	ipLimiters    sync.Map // map[string]*rate.Limiter
}

var _ core.IDecisionSink = (*Server)(nil)

// NewServer wires the operator surface. health and statusFn may be nil, in
// which case /healthz always reports ok and /status serves a minimal
// document.
func NewServer(params Params, hub *Hub, health core.IHealthMonitor, statusFn StatusFunc, logger core.ILogger) *Server {
	s := &Server{
		params:   params.withDefaults(),
		hub:      hub,
		logger:   logger.WithField("component", "live_server"),
		health:   health,
		statusFn: statusFn,
	}
	s.connSemaphore = make(chan struct{}, s.params.MaxConnections)
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

// PublishDecision broadcasts one admission decision to the feed.
func (s *Server) PublishDecision(event core.DecisionEvent) {
	s.hub.Broadcast(NewDecisionMessage(event))
}

// PublishCycle broadcasts one cycle summary to the feed.
func (s *Server) PublishCycle(summary core.CycleSummary) {
	s.hub.Broadcast(NewCycleMessage(summary))
}

// Run serves until the context is cancelled. It owns the hub loop.
func (s *Server) Run(ctx context.Context) error {
	go s.hub.Run(ctx)
	return s.Start(ctx, s.params.ListenAddr)
}

// Start serves on addr until the context is cancelled or the listener
// fails.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/status", s.handleStatus)
	mux.Handle("/metrics", promhttp.Handler())

	s.srv = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	s.mu.Unlock()

	s.logger.Info("Starting live server", "addr", addr)

	errChan := make(chan error, 1)
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.Stop(shutdownCtx)
	}
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.srv == nil {
		return nil
	}
	s.logger.Info("Stopping live server")
	return s.srv.Shutdown(ctx)
}

// checkOrigin validates the WebSocket origin against the whitelist. The
// wildcard is honored outside production mode only.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		s.logger.Warn("Rejected WebSocket connection with missing Origin header",
			"remote_addr", r.RemoteAddr)
		return false
	}

	parsedOrigin, err := url.Parse(origin)
	if err != nil {
		s.logger.Warn("Rejected WebSocket connection with invalid Origin",
			"origin", origin, "error", err)
		return false
	}
	originStr := parsedOrigin.Scheme + "://" + parsedOrigin.Host

	for _, allowed := range s.params.AllowedOrigins {
		if allowed == "*" {
			if s.params.Production {
				s.logger.Warn("Rejected wildcard origin in production mode",
					"origin", origin, "remote_addr", r.RemoteAddr)
				wsRejectedTotal.WithLabelValues("invalid_origin").Inc()
				return false
			}
			return true
		}
		if originStr == allowed {
			return true
		}
	}

	s.logger.Warn("Rejected WebSocket connection from unauthorized origin",
		"origin", origin,
		"remote_addr", r.RemoteAddr,
		"allowed_origins", s.params.AllowedOrigins)
	wsRejectedTotal.WithLabelValues("invalid_origin").Inc()
	return false
}

// handleWebSocket upgrades the connection, sends the snapshot frame, then
// pumps the live feed until either side goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := s.getRemoteIP(r)
	if !s.getIPLimiter(ip).Allow() {
		s.logger.Warn("IP rate limit exceeded", "ip", ip)
		wsRejectedTotal.WithLabelValues("rate_limit").Inc()
		http.Error(w, "Too many requests", http.StatusTooManyRequests)
		return
	}

	select {
	case s.connSemaphore <- struct{}{}:
		wsActiveConnections.WithLabelValues(r.URL.Path).Inc()
		defer func() {
			<-s.connSemaphore
			wsActiveConnections.WithLabelValues(r.URL.Path).Dec()
		}()
	default:
		s.logger.Warn("Max connections reached")
		wsRejectedTotal.WithLabelValues("connection_limit").Inc()
		http.Error(w, "Server busy", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	client := NewClient(uuid.NewString())

	// Queue the snapshot before registering so it precedes any broadcast.
	if s.statusFn != nil {
		if doc, serr := s.statusFn(r.Context()); serr == nil {
			client.Send(NewSnapshotMessage(doc))
		} else {
			s.logger.Warn("Failed to build snapshot for client", "error", serr)
		}
	}
	s.hub.Register(client)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(conn, client)
	}()
	go func() {
		defer wg.Done()
		s.readPump(conn, client)
	}()
	wg.Wait()

	s.hub.Unregister(client)
	conn.Close()
}

// writePump drains the client queue onto the socket and keeps the
// connection alive with pings.
func (s *Server) writePump(conn *websocket.Conn, client *Client) {
	ticker := time.NewTicker(54 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.SendChan():
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(msg); err != nil {
				s.logger.Warn("Write error", "client_id", client.id, "error", err)
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes the socket for pong handling. Clients never send data
// frames; anything else ends the connection.
func (s *Server) readPump(conn *websocket.Conn, client *Client) {
	defer s.hub.Unregister(client)

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				s.logger.Warn("Read error", "client_id", client.id, "error", err)
			}
			break
		}
	}
}

// handleHealthz reports aggregate component health: 200 when every
// registered check passes, 503 otherwise.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	healthy := true
	components := map[string]string{}
	if s.health != nil {
		healthy = s.health.IsHealthy()
		components = s.health.GetStatus()
	}

	status := "ok"
	if !healthy {
		status = "degraded"
		w.WriteHeader(http.StatusServiceUnavailable)
	}

	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":     status,
		"components": components,
		"clients":    s.hub.ClientCount(),
		"time":       time.Now().Unix(),
	})
}

// handleStatus serves the current service status document.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.statusFn == nil {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"clients": s.hub.ClientCount(),
			"time":    time.Now().Unix(),
		})
		return
	}

	doc, err := s.statusFn(r.Context())
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	json.NewEncoder(w).Encode(doc)
}

// ClientCount returns the number of connected feed clients.
func (s *Server) ClientCount() int {
	return s.hub.ClientCount()
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv == nil {
		return s.params.ListenAddr
	}
	return s.srv.Addr
}

func (s *Server) getRemoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) getIPLimiter(ip string) *rate.Limiter {
	if val, ok := s.ipLimiters.Load(ip); ok {
		return val.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Limit(s.params.RateLimit), s.params.RateBurst)
	actual, _ := s.ipLimiters.LoadOrStore(ip, limiter)
	return actual.(*rate.Limiter)
}
