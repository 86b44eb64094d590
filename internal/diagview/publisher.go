// Package diagview serves a local diagnostics endpoint: a JSON status
// snapshot over plain HTTP and a websocket that pushes the same snapshot on
// an interval. It binds to loopback by default and is meant for a developer
// watching a live session, not for remote exposure.
package diagview

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"slipstream/netcore/internal/logging"
)

const (
	defaultPushInterval = time.Second
	writeWait           = 5 * time.Second
)

// Source produces the current status snapshot. It must be safe to call from
// multiple goroutines.
type Source func() any

// loopbackOrigin accepts non-browser clients (no Origin header) and pages
// served from the local machine, nothing else.
func loopbackOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}
	host := parsed.Hostname()
	return host == "localhost" || host == "127.0.0.1" || host == "::1"
}

// Publisher owns the diagnostics HTTP server.
type Publisher struct {
	addr     string
	interval time.Duration
	source   Source
	logger   *logging.Logger
	upgrader websocket.Upgrader

	mu       sync.Mutex
	listener net.Listener
	server   *http.Server
	closed   bool
}

// NewPublisher builds a publisher serving snapshots from the source.
func NewPublisher(addr string, interval time.Duration, source Source, logger *logging.Logger) *Publisher {
	if interval <= 0 {
		interval = defaultPushInterval
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Publisher{
		addr:     addr,
		interval: interval,
		source:   source,
		logger:   logger.With(logging.String("component", "diagview")),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			//1.- Local tooling only; browsers on other origins are refused.
			CheckOrigin: func(r *http.Request) bool {
				return loopbackOrigin(r.Header.Get("Origin"))
			},
		},
	}
}

// Start binds the listener and begins serving. It returns immediately.
func (p *Publisher) Start() error {
	if p == nil {
		return errors.New("publisher not initialised")
	}
	listener, err := net.Listen("tcp", p.addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/status", p.handleStatus)
	mux.HandleFunc("/ws", p.handleSocket)
	server := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	p.mu.Lock()
	p.listener = listener
	p.server = server
	p.mu.Unlock()

	p.logger.Info("diagnostics viewer listening", logging.String("addr", listener.Addr().String()))
	go func() {
		if serveErr := server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			p.logger.Warn("diagnostics server stopped", logging.Error(serveErr))
		}
	}()
	return nil
}

// Addr returns the bound address, empty before Start.
func (p *Publisher) Addr() string {
	if p == nil {
		return ""
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Close shuts the server down and hangs up every websocket.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	server := p.server
	p.closed = true
	p.mu.Unlock()
	if server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return server.Shutdown(ctx)
}

func (p *Publisher) snapshot() ([]byte, error) {
	if p.source == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.source())
}

func (p *Publisher) handleStatus(w http.ResponseWriter, r *http.Request) {
	payload, err := p.snapshot()
	if err != nil {
		http.Error(w, "snapshot failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(payload)
}

func (p *Publisher) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.logger.Debug("websocket upgrade refused", logging.Error(err))
		return
	}
	defer conn.Close()

	//1.- Drain client frames so pings and close handshakes are processed.
	go func() {
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	//2.- Push an immediate snapshot, then one per interval until write failure.
	for {
		payload, err := p.snapshot()
		if err != nil {
			p.logger.Warn("snapshot marshal failed", logging.Error(err))
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			return
		}
		select {
		case <-ticker.C:
		case <-r.Context().Done():
			return
		}
	}
}
