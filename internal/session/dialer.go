package session

import (
	"context"
	"fmt"

	"slipstream/netcore/internal/config"
	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
	"slipstream/netcore/internal/transport"
)

// Channel is the slice of a transport the manager depends on. Both the
// reliable and datagram transports satisfy it, and tests substitute scripted
// fakes.
type Channel interface {
	Start(sink transport.Sink, onClosed transport.ClosedFunc)
	Send(msg protocol.Message) error
	Close() error
}

// Dialer opens the two channels that make up one relay connection.
type Dialer interface {
	DialControl(ctx context.Context) (Channel, error)
	OpenData(ctx context.Context) (Channel, error)
}

// NetDialer is the production dialer: reliable TCP with optional TLS for the
// control plane, a connected UDP socket with optional sealing for game data.
type NetDialer struct {
	cfg    *config.Config
	logger *logging.Logger
	tap    transport.Tap
}

// NewNetDialer builds a dialer from the loaded configuration. The tap may be
// nil when wire capture is disabled.
func NewNetDialer(cfg *config.Config, logger *logging.Logger, tap transport.Tap) *NetDialer {
	return &NetDialer{cfg: cfg, logger: logger, tap: tap}
}

// DialControl establishes the reliable control-plane channel.
func (d *NetDialer) DialControl(ctx context.Context) (Channel, error) {
	return transport.DialReliable(ctx, transport.ReliableConfig{
		Host:            d.cfg.ServerHost,
		Port:            d.cfg.TCPPort,
		ConnectTimeout:  d.cfg.ConnectTimeout,
		UseTLS:          d.cfg.UseTLS,
		ServerName:      d.cfg.ServerHost,
		AllowSelfSigned: d.cfg.AllowSelfSigned,
	}, d.logger, d.tap)
}

// OpenData opens the unreliable game-data channel.
func (d *NetDialer) OpenData(ctx context.Context) (Channel, error) {
	var sealer *transport.Sealer
	if key := d.cfg.EncryptionKeyBytes(); key != nil {
		built, err := transport.NewSealer(key)
		if err != nil {
			return nil, fmt.Errorf("build datagram sealer: %w", err)
		}
		sealer = built
	}
	return transport.OpenDatagram(ctx, transport.DatagramConfig{
		Host:      d.cfg.ServerHost,
		Port:      d.cfg.UDPPort,
		LocalPort: d.cfg.LocalUDPPort,
	}, sealer, d.logger, d.tap)
}
