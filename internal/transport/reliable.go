// Package transport owns the two relay channels: a reliable ordered TCP
// stream (optionally TLS-wrapped) for control commands, and a connectionless
// UDP socket (optionally payload-encrypted) for high-frequency game data.
// Each channel runs one dedicated receive goroutine; decoded messages are
// handed to a sink and never touch shared state directly.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

// Sink consumes decoded inbound messages. It is invoked on the channel's
// receive goroutine, so implementations must only enqueue work, not mutate
// shared state.
type Sink func(protocol.Message)

// ClosedFunc reports receive-loop termination with its cause. It fires at
// most once per channel and never for a locally initiated Close.
type ClosedFunc func(error)

// Tap observes raw wire frames for diagnostics. Implementations must be safe
// for concurrent use; a nil Tap disables capture.
type Tap interface {
	ControlFrame(outbound bool, frame []byte)
	DatagramFrame(outbound bool, frame []byte)
}

const (
	readChunkBytes    = 4 * 1024
	writeTimeout      = 5 * time.Second
	loopExitWait      = time.Second
	tlsMinVersion     = tls.VersionTLS12
	closeGraceMessage = "channel closed locally"
)

// ErrChannelClosed reports a send on a channel that was already closed.
var ErrChannelClosed = errors.New("channel closed")

// ReliableConfig describes how to reach the relay's control port.
type ReliableConfig struct {
	Host            string
	Port            int
	ConnectTimeout  time.Duration
	UseTLS          bool
	ServerName      string
	AllowSelfSigned bool
	MaxLineBytes    int
}

// Reliable is the ordered control-plane channel. Writes are newline-framed
// and flushed immediately; control messages are never held back.
type Reliable struct {
	conn    net.Conn
	logger  *logging.Logger
	tap     Tap
	maxLine int

	writeMu   sync.Mutex
	closing   atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
	reportMu  sync.Once
	loopDone  chan struct{}

	rxFrames atomic.Int64
	txFrames atomic.Int64
}

// DialReliable opens the control channel, completing any TLS handshake
// before returning. Misconfiguration fails fast, before any goroutine starts.
func DialReliable(ctx context.Context, cfg ReliableConfig, logger *logging.Logger, tap Tap) (*Reliable, error) {
	if logger == nil {
		logger = logging.L()
	}
	addr, err := validateAddr(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}

	//1.- Bound the dial so a black-holed relay cannot hang the caller.
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control channel %s: %w", addr, err)
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		//2.- Control traffic is latency sensitive, so disable Nagle batching.
		_ = tcp.SetNoDelay(true)
	}

	if cfg.UseTLS {
		serverName := cfg.ServerName
		if serverName == "" {
			serverName = cfg.Host
		}
		tlsCfg := &tls.Config{
			ServerName: serverName,
			MinVersion: tlsMinVersion,
		}
		if cfg.AllowSelfSigned {
			//3.- Development escape hatch only: certificate checks are off.
			tlsCfg.InsecureSkipVerify = true
			logger.Warn("TLS certificate verification DISABLED, do not use outside development",
				logging.String("server", addr))
		}
		tlsConn := tls.Client(conn, tlsCfg)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("tls handshake with %s: %w", addr, err)
		}
		conn = tlsConn
	}

	return &Reliable{
		conn:     conn,
		logger:   logger.With(logging.String("channel", "tcp")),
		tap:      tap,
		maxLine:  cfg.MaxLineBytes,
		loopDone: make(chan struct{}),
	}, nil
}

// Start launches the dedicated receive loop. Decoded messages reach the sink;
// malformed frames are logged and skipped; loop termination reaches onClosed
// exactly once unless the channel was closed locally.
func (r *Reliable) Start(sink Sink, onClosed ClosedFunc) {
	if r == nil || !r.started.CompareAndSwap(false, true) {
		return
	}
	go r.receiveLoop(sink, onClosed)
}

func (r *Reliable) receiveLoop(sink Sink, onClosed ClosedFunc) {
	defer close(r.loopDone)

	lines := protocol.NewLineBuffer(r.maxLine)
	chunk := make([]byte, readChunkBytes)
	for {
		n, err := r.conn.Read(chunk)
		if n > 0 {
			if r.tap != nil {
				r.tap.ControlFrame(false, chunk[:n])
			}
			segments, feedErr := lines.Feed(chunk[:n])
			for _, segment := range segments {
				r.rxFrames.Add(1)
				r.dispatch(segment, sink)
			}
			if feedErr != nil {
				//1.- An unbounded segment is a connection-level failure, not a frame drop.
				r.report(onClosed, feedErr)
				return
			}
		}
		if err != nil {
			//2.- EOF and read errors share the single connection-lost path.
			r.report(onClosed, err)
			return
		}
	}
}

func (r *Reliable) dispatch(segment []byte, sink Sink) {
	msg, err := protocol.Decode(segment)
	if err != nil {
		//1.- Protocol errors drop the single frame and keep the stream alive.
		r.logger.Debug("dropping malformed control frame", logging.Error(err))
		return
	}
	if sink != nil {
		sink(msg)
	}
}

func (r *Reliable) report(onClosed ClosedFunc, err error) {
	r.reportMu.Do(func() {
		if r.closing.Load() {
			r.logger.Debug(closeGraceMessage)
			return
		}
		r.logger.Info("control channel lost", logging.Error(err))
		if onClosed != nil {
			onClosed(err)
		}
	})
}

// Send encodes the command, appends the newline terminator, and writes it
// immediately. Safe for concurrent callers.
func (r *Reliable) Send(msg protocol.Message) error {
	if r == nil || r.conn == nil {
		return ErrChannelClosed
	}
	if r.closing.Load() {
		return ErrChannelClosed
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	frame = append(frame, '\n')

	//1.- A single writer at a time keeps frames from interleaving on the wire.
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	_ = r.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := r.conn.Write(frame); err != nil {
		return fmt.Errorf("write control frame: %w", err)
	}
	r.txFrames.Add(1)
	if r.tap != nil {
		r.tap.ControlFrame(true, frame)
	}
	return nil
}

// Close shuts the socket down to unblock the receive loop, then waits
// briefly for the loop to exit. Idempotent.
func (r *Reliable) Close() error {
	if r == nil || r.conn == nil {
		return nil
	}
	var err error
	r.closeOnce.Do(func() {
		//1.- Flag local teardown first so the loop exit is not reported as a loss.
		r.closing.Store(true)
		err = r.conn.Close()
		//2.- There is no loop to drain when Start was never called.
		if !r.started.Load() {
			return
		}
		select {
		case <-r.loopDone:
		case <-time.After(loopExitWait):
			r.logger.Warn("control receive loop did not exit promptly")
		}
	})
	return err
}

// Stats reports frames received and sent since the channel opened.
func (r *Reliable) Stats() (rx, tx int64) {
	if r == nil {
		return 0, 0
	}
	return r.rxFrames.Load(), r.txFrames.Load()
}

func validateAddr(host string, port int) (string, error) {
	if host == "" {
		return "", errors.New("relay host must not be empty")
	}
	if port <= 0 || port > 65535 {
		return "", fmt.Errorf("relay port out of range: %d", port)
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}
