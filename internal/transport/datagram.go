package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

const (
	// maxDatagramBytes matches the relay's receive buffer; larger sends
	// would be truncated server-side.
	maxDatagramBytes = 2048
	datagramReadSize = 64 * 1024
)

// ErrDatagramTooLarge reports an encoded datagram exceeding the relay's
// receive buffer.
var ErrDatagramTooLarge = errors.New("datagram exceeds maximum size")

// DatagramConfig describes the relay's unreliable game-data endpoint.
type DatagramConfig struct {
	Host      string
	Port      int
	LocalPort int
}

// Datagram is the fire-and-forget channel for high-frequency state. No
// delivery or ordering guarantee is assumed by any caller.
type Datagram struct {
	conn   *net.UDPConn
	sealer *Sealer
	logger *logging.Logger
	tap    Tap

	writeMu   sync.Mutex
	closing   atomic.Bool
	started   atomic.Bool
	closeOnce sync.Once
	reportMu  sync.Once
	loopDone  chan struct{}

	rxFrames atomic.Int64
	txFrames atomic.Int64
	rxDrops  atomic.Int64
}

// OpenDatagram binds the UDP socket, optionally to a fixed local port for
// symmetric NAT traversal, and connects it to the relay endpoint. A nil
// sealer sends plaintext datagrams.
func OpenDatagram(ctx context.Context, cfg DatagramConfig, sealer *Sealer, logger *logging.Logger, tap Tap) (*Datagram, error) {
	if logger == nil {
		logger = logging.L()
	}
	addr, err := validateAddr(cfg.Host, cfg.Port)
	if err != nil {
		return nil, err
	}
	remote, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve datagram endpoint %s: %w", addr, err)
	}

	//1.- A fixed local port keeps the NAT mapping stable across reconnects.
	var local *net.UDPAddr
	if cfg.LocalPort > 0 {
		local = &net.UDPAddr{Port: cfg.LocalPort}
	}
	conn, err := net.DialUDP("udp", local, remote)
	if err != nil {
		return nil, fmt.Errorf("open datagram channel %s: %w", addr, err)
	}
	_ = ctx // the connectionless open cannot block beyond address resolution

	return &Datagram{
		conn:     conn,
		sealer:   sealer,
		logger:   logger.With(logging.String("channel", "udp")),
		tap:      tap,
		loopDone: make(chan struct{}),
	}, nil
}

// Start launches the dedicated receive loop.
func (d *Datagram) Start(sink Sink, onClosed ClosedFunc) {
	if d == nil || !d.started.CompareAndSwap(false, true) {
		return
	}
	go d.receiveLoop(sink, onClosed)
}

func (d *Datagram) receiveLoop(sink Sink, onClosed ClosedFunc) {
	defer close(d.loopDone)

	buf := make([]byte, datagramReadSize)
	for {
		n, err := d.conn.Read(buf)
		if n > 0 {
			//1.- Datagram boundaries are message boundaries: one frame per read.
			d.handlePacket(buf[:n], sink)
		}
		if err != nil {
			d.report(onClosed, err)
			return
		}
	}
}

func (d *Datagram) handlePacket(packet []byte, sink Sink) {
	if d.tap != nil {
		d.tap.DatagramFrame(false, packet)
	}
	plain, err := d.sealer.Open(packet)
	if err != nil {
		//1.- Unauthenticated packets are dropped silently; a stale datagram
		// from an earlier session is expected, not an attack signal.
		d.rxDrops.Add(1)
		d.logger.Debug("dropping unauthenticated datagram", logging.Error(err))
		return
	}
	msg, err := protocol.Decode(plain)
	if err != nil {
		d.rxDrops.Add(1)
		d.logger.Debug("dropping malformed datagram", logging.Error(err))
		return
	}
	d.rxFrames.Add(1)
	if sink != nil {
		sink(msg)
	}
}

func (d *Datagram) report(onClosed ClosedFunc, err error) {
	d.reportMu.Do(func() {
		if d.closing.Load() {
			d.logger.Debug(closeGraceMessage)
			return
		}
		d.logger.Info("datagram channel lost", logging.Error(err))
		if onClosed != nil {
			onClosed(err)
		}
	})
}

// Send encodes, optionally seals, and fires the datagram. Loss is acceptable;
// callers treat errors as advisory.
func (d *Datagram) Send(msg protocol.Message) error {
	if d == nil || d.conn == nil {
		return ErrChannelClosed
	}
	if d.closing.Load() {
		return ErrChannelClosed
	}
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	sealed, err := d.sealer.Seal(frame)
	if err != nil {
		return err
	}
	if len(sealed) > maxDatagramBytes {
		return fmt.Errorf("%w: %d bytes", ErrDatagramTooLarge, len(sealed))
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	_ = d.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if _, err := d.conn.Write(sealed); err != nil {
		return fmt.Errorf("write datagram: %w", err)
	}
	d.txFrames.Add(1)
	if d.tap != nil {
		d.tap.DatagramFrame(true, sealed)
	}
	return nil
}

// Close shuts the socket to unblock the receive loop and waits briefly for
// loop exit. Idempotent.
func (d *Datagram) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	var err error
	d.closeOnce.Do(func() {
		d.closing.Store(true)
		err = d.conn.Close()
		//1.- There is no loop to drain when Start was never called.
		if !d.started.Load() {
			return
		}
		select {
		case <-d.loopDone:
		case <-time.After(loopExitWait):
			d.logger.Warn("datagram receive loop did not exit promptly")
		}
	})
	return err
}

// Stats reports datagrams received, sent, and dropped since the channel opened.
func (d *Datagram) Stats() (rx, tx, drops int64) {
	if d == nil {
		return 0, 0, 0
	}
	return d.rxFrames.Load(), d.txFrames.Load(), d.rxDrops.Load()
}
