// Package session owns the lifetime of one relay connection: registration,
// keepalives, latency probes, silent-disconnect detection, and the bounded
// reconnect schedule. It is the only component that touches the transports
// directly; everything above it speaks protocol messages.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"slipstream/netcore/internal/config"
	"slipstream/netcore/internal/dispatch"
	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

// State names the connection lifecycle phase.
type State int32

const (
	// StateDisconnected is the idle state before Connect or after Disconnect.
	StateDisconnected State = iota
	// StateConnecting covers the dial, handshake, and registration wait.
	StateConnecting
	// StateConnected means the relay acknowledged registration.
	StateConnected
	// StateFailed means the connection was lost; only Reconnect leaves it.
	StateFailed
)

// String implements fmt.Stringer for log output.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// ErrNotConnected reports a send attempted without an established session.
var ErrNotConnected = errors.New("session not connected")

// ErrReconnectExhausted reports that every reconnect attempt failed.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// Hooks are the manager's upward-facing callbacks. All of them run on the
// consumer goroutine when a dispatch queue is wired, otherwise inline on the
// receive goroutine.
type Hooks struct {
	// OnStateChange fires on every lifecycle transition. The reason is nil
	// for deliberate transitions and carries the failure for lost ones.
	OnStateChange func(from, to State, reason error)
	// OnControlMessage receives every control-plane message the manager does
	// not consume itself.
	OnControlMessage func(msg protocol.Message)
	// OnGameData receives game-data frames from the unreliable channel.
	OnGameData func(data *protocol.GameData)
	// OnLatency fires after each ping response with the newest sample and the
	// rolling average.
	OnLatency func(sample, average time.Duration)
}

// conn bundles one connection generation. A fresh conn is built per Connect
// so stale channel callbacks from a previous life cannot touch the new one.
type conn struct {
	control Channel
	data    Channel

	stop        chan struct{}
	stopOnce    sync.Once
	failOnce    sync.Once
	registered  chan *protocol.Registered
	lastInbound atomic.Int64
}

func (c *conn) markInbound(now time.Time) {
	c.lastInbound.Store(now.UnixNano())
}

func (c *conn) sinceInbound(now time.Time) time.Duration {
	return now.Sub(time.Unix(0, c.lastInbound.Load()))
}

func (c *conn) halt() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Manager drives the relay session state machine.
type Manager struct {
	cfg    *config.Config
	dialer Dialer
	queue  *dispatch.Queue
	logger *logging.Logger
	hooks  Hooks

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu       sync.Mutex
	state    State
	conn     *conn
	clientID string

	latency *latencyWindow
}

// NewManager wires a session manager. The queue may be nil, in which case
// hooks run inline on the transport receive goroutine.
func NewManager(cfg *config.Config, dialer Dialer, queue *dispatch.Queue, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.L()
	}
	return &Manager{
		cfg:     cfg,
		dialer:  dialer,
		queue:   queue,
		logger:  logger.With(logging.String("component", "session")),
		now:     time.Now,
		sleep:   sleepContext,
		latency: newLatencyWindow(cfg.LatencyWindow),
	}
}

// SetHooks installs the upward callbacks. Call before Connect.
func (m *Manager) SetHooks(hooks Hooks) {
	m.hooks = hooks
}

// State returns the current lifecycle phase.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ClientID returns the relay-assigned identity, empty before registration.
func (m *Manager) ClientID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// Latency returns the newest round-trip sample and the rolling average.
func (m *Manager) Latency() (last, average time.Duration) {
	return m.latency.Last(), m.latency.Average()
}

// Connect dials the relay, registers, and waits for the acknowledgement.
// Failure at any stage leaves the manager in StateFailed so Reconnect can
// pick up the schedule.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnecting || m.state == StateConnected {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("connect rejected in state %s", state)
	}
	m.setStateLocked(StateConnecting, nil)
	m.mu.Unlock()

	//1.- Open both channels, tearing down the first if the second fails.
	control, err := m.dialer.DialControl(ctx)
	if err != nil {
		m.toFailed(fmt.Errorf("dial control channel: %w", err))
		return err
	}
	data, err := m.dialer.OpenData(ctx)
	if err != nil {
		_ = control.Close()
		m.toFailed(fmt.Errorf("open data channel: %w", err))
		return err
	}

	c := &conn{
		control:    control,
		data:       data,
		stop:       make(chan struct{}),
		registered: make(chan *protocol.Registered, 1),
	}
	c.markInbound(m.now())
	m.mu.Lock()
	m.conn = c
	m.mu.Unlock()

	//2.- Start receiving before the register so the ack cannot race past us.
	control.Start(m.controlSink(c), func(cause error) { m.fail(c, cause) })
	data.Start(m.dataSink(c), func(cause error) { m.fail(c, cause) })

	register := &protocol.Register{
		ProtocolVersion: protocol.ProtocolVersion,
		Name:            m.cfg.PlayerName,
	}
	if err := control.Send(register); err != nil {
		m.teardown(c)
		m.toFailed(fmt.Errorf("send register: %w", err))
		return err
	}

	//3.- Bound the wait for the relay's acknowledgement.
	timer := time.NewTimer(m.cfg.RegisterTimeout)
	defer timer.Stop()
	select {
	case ack := <-c.registered:
		m.mu.Lock()
		m.clientID = ack.ClientID
		m.setStateLocked(StateConnected, nil)
		m.mu.Unlock()
	case <-timer.C:
		err := fmt.Errorf("no registration ack within %s", m.cfg.RegisterTimeout)
		m.teardown(c)
		m.toFailed(err)
		return err
	case <-ctx.Done():
		m.teardown(c)
		m.toFailed(ctx.Err())
		return ctx.Err()
	case <-c.stop:
		// Disconnect also closes c.stop; a deliberate local halt must not
		// surface as a failure.
		m.mu.Lock()
		deliberate := m.state == StateDisconnected
		m.mu.Unlock()
		if deliberate {
			return errors.New("disconnected while registering")
		}
		err := errors.New("connection lost during registration")
		m.toFailed(err)
		return err
	}

	m.latency.Reset()
	m.logger.Info("session established",
		logging.String("client_id", m.ClientID()),
		logging.String("server", m.cfg.ServerHost))

	//4.- Publish the display name once registered.
	if m.cfg.PlayerName != "" {
		if err := control.Send(&protocol.PlayerInfo{Name: m.cfg.PlayerName}); err != nil {
			m.logger.Warn("player info send failed", logging.Error(err))
		}
	}

	go m.run(c)
	return nil
}

// Disconnect tears the session down deliberately. Safe to call repeatedly
// and in any state; a best-effort notice is sent before the sockets close.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	c := m.conn
	m.conn = nil
	alreadyIdle := m.state == StateDisconnected
	if !alreadyIdle {
		m.setStateLocked(StateDisconnected, nil)
	}
	m.clientID = ""
	m.mu.Unlock()

	if c == nil {
		return
	}
	//1.- Closing locally after the notice; transports suppress the loss report.
	if err := c.control.Send(&protocol.Disconnect{}); err != nil {
		m.logger.Debug("disconnect notice not delivered", logging.Error(err))
	}
	c.halt()
	_ = c.control.Close()
	_ = c.data.Close()
}

// Reconnect retries Connect on the exponential backoff schedule. It is only
// legal from StateFailed; exhausting the attempts is terminal and leaves the
// manager in StateFailed.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateFailed {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("reconnect is only valid after a failure, state is %s", state)
	}
	m.mu.Unlock()

	schedule := m.cfg.Reconnect
	delay := schedule.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= schedule.MaxAttempts; attempt++ {
		//1.- Wait out the backoff before each attempt, honoring cancellation.
		m.logger.Info("reconnect attempt scheduled",
			logging.Int("attempt", attempt),
			logging.Int("max_attempts", schedule.MaxAttempts),
			logging.Duration("delay", delay))
		if err := m.sleep(ctx, delay); err != nil {
			return err
		}
		if lastErr = m.Connect(ctx); lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		m.logger.Warn("reconnect attempt failed",
			logging.Int("attempt", attempt),
			logging.Error(lastErr))
		//2.- Grow the delay and clamp it at the schedule's ceiling.
		delay = time.Duration(float64(delay) * schedule.Factor)
		if delay > schedule.MaxDelay {
			delay = schedule.MaxDelay
		}
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrReconnectExhausted, schedule.MaxAttempts, lastErr)
}

// SendControl transmits one message on the reliable channel.
func (m *Manager) SendControl(msg protocol.Message) error {
	c, err := m.activeConn()
	if err != nil {
		return err
	}
	return c.control.Send(msg)
}

// SendGameData wraps a payload in a game-data frame stamped with the local
// identity and the target room, then transmits it on the unreliable channel.
func (m *Manager) SendGameData(roomID string, payload protocol.GamePayload) error {
	m.mu.Lock()
	c, clientID := m.conn, m.clientID
	connected := m.state == StateConnected
	m.mu.Unlock()
	if !connected || c == nil {
		return ErrNotConnected
	}
	encoded, err := protocol.EncodeGamePayload(payload)
	if err != nil {
		return fmt.Errorf("encode game payload: %w", err)
	}
	return c.data.Send(&protocol.GameData{ClientID: clientID, RoomID: roomID, Data: encoded})
}

func (m *Manager) activeConn() (*conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateConnected || m.conn == nil {
		return nil, ErrNotConnected
	}
	return m.conn, nil
}

// run owns the per-connection timers: heartbeat, latency probe, and the
// inbound-silence watchdog.
func (m *Manager) run(c *conn) {
	heartbeat := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeat.Stop()
	ping := time.NewTicker(m.cfg.PingInterval)
	defer ping.Stop()
	watchdogInterval := m.cfg.SilenceTimeout / 4
	if watchdogInterval <= 0 {
		watchdogInterval = time.Second
	}
	watchdog := time.NewTicker(watchdogInterval)
	defer watchdog.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-heartbeat.C:
			if err := c.control.Send(&protocol.Heartbeat{}); err != nil {
				m.fail(c, fmt.Errorf("heartbeat send: %w", err))
				return
			}
		case <-ping.C:
			stamp := float64(m.now().UnixNano()) / float64(time.Millisecond)
			if err := c.control.Send(&protocol.Ping{Timestamp: stamp}); err != nil {
				m.fail(c, fmt.Errorf("ping send: %w", err))
				return
			}
		case <-watchdog.C:
			//1.- A quiet wire past the timeout is treated as a lost socket.
			if quiet := c.sinceInbound(m.now()); quiet > m.cfg.SilenceTimeout {
				m.fail(c, fmt.Errorf("no inbound traffic for %s", quiet.Round(time.Millisecond)))
				return
			}
		}
	}
}

// controlSink routes inbound control messages, consuming the session-level
// ones and forwarding the rest upward.
func (m *Manager) controlSink(c *conn) func(protocol.Message) {
	return func(msg protocol.Message) {
		c.markInbound(m.now())
		switch typed := msg.(type) {
		case *protocol.Registered:
			select {
			case c.registered <- typed:
			default:
			}
		case *protocol.HeartbeatAck:
			// Keepalive bookkeeping only.
		case *protocol.PingResponse:
			m.recordLatency(typed)
		default:
			m.deliver(func() {
				if m.hooks.OnControlMessage != nil {
					m.hooks.OnControlMessage(msg)
				}
			})
		}
	}
}

// dataSink forwards game-data frames; anything else on the unreliable
// channel is handed to the control path unchanged.
func (m *Manager) dataSink(c *conn) func(protocol.Message) {
	return func(msg protocol.Message) {
		c.markInbound(m.now())
		if data, ok := msg.(*protocol.GameData); ok {
			m.deliver(func() {
				if m.hooks.OnGameData != nil {
					m.hooks.OnGameData(data)
				}
			})
			return
		}
		m.deliver(func() {
			if m.hooks.OnControlMessage != nil {
				m.hooks.OnControlMessage(msg)
			}
		})
	}
}

func (m *Manager) recordLatency(resp *protocol.PingResponse) {
	nowMillis := float64(m.now().UnixNano()) / float64(time.Millisecond)
	elapsed := nowMillis - resp.Timestamp
	if elapsed < 0 {
		return
	}
	sample := time.Duration(elapsed * float64(time.Millisecond))
	m.latency.Add(sample)
	average := m.latency.Average()
	m.deliver(func() {
		if m.hooks.OnLatency != nil {
			m.hooks.OnLatency(sample, average)
		}
	})
}

// fail is the single funnel for losing a connection. The failOnce guard
// keeps a burst of channel errors from producing more than one transition.
func (m *Manager) fail(c *conn, cause error) {
	c.failOnce.Do(func() {
		c.halt()
		_ = c.control.Close()
		_ = c.data.Close()

		m.mu.Lock()
		current := m.conn == c
		if current {
			m.conn = nil
			m.setStateLocked(StateFailed, cause)
		}
		m.mu.Unlock()
		if current {
			m.logger.Warn("session lost", logging.Error(cause))
		}
	})
}

// teardown closes a connection's channels without a failure transition, used
// while Connect itself still owns the error path.
func (m *Manager) teardown(c *conn) {
	c.failOnce.Do(func() {
		c.halt()
		_ = c.control.Close()
		_ = c.data.Close()
		m.mu.Lock()
		if m.conn == c {
			m.conn = nil
		}
		m.mu.Unlock()
	})
}

func (m *Manager) toFailed(cause error) {
	m.mu.Lock()
	m.setStateLocked(StateFailed, cause)
	m.mu.Unlock()
}

// setStateLocked transitions the state machine and schedules the hook. The
// caller holds m.mu.
func (m *Manager) setStateLocked(to State, reason error) {
	from := m.state
	if from == to {
		return
	}
	m.state = to
	m.logger.Debug("session state change",
		logging.String("from", from.String()),
		logging.String("to", to.String()))
	if m.hooks.OnStateChange != nil {
		m.deliver(func() { m.hooks.OnStateChange(from, to, reason) })
	}
}

// deliver hands a callback to the consumer goroutine when a queue is wired.
func (m *Manager) deliver(fn func()) {
	if m.queue != nil {
		m.queue.Enqueue(fn)
		return
	}
	fn()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
