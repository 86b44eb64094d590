// Package netcore is the networking core for a multiplayer racing client:
// one Client owns the relay session, room membership, the game-data path,
// and remote car interpolation. Inbound traffic is queued and drained on the
// caller's Tick, so gameplay code never sees a network goroutine.
package netcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"slipstream/netcore/internal/config"
	"slipstream/netcore/internal/diagview"
	"slipstream/netcore/internal/dispatch"
	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
	"slipstream/netcore/internal/rooms"
	"slipstream/netcore/internal/session"
	"slipstream/netcore/internal/statesync"
	"slipstream/netcore/internal/transport"
	"slipstream/netcore/internal/wiretrace"
)

// Client bundles every networking concern behind one handle. Construct it
// with New, drive it with Tick from the game loop, and observe it through
// Subscribe.
type Client struct {
	cfg    *config.Config
	logger *logging.Logger

	queue   *dispatch.Queue
	session *session.Manager
	rooms   *rooms.Registry
	sync    *statesync.Synchronizer
	events  *observers

	trace *wiretrace.Recorder
	diag  *diagview.Publisher
}

// New wires a client from the loaded configuration. The dialer override is
// for tests; production callers pass nil to use real sockets.
func New(cfg *config.Config, logger *logging.Logger, dialer session.Dialer) (*Client, error) {
	if cfg == nil {
		return nil, errors.New("configuration must be provided")
	}
	if logger == nil {
		logger = logging.L()
	}

	c := &Client{
		cfg:    cfg,
		logger: logger,
		queue:  dispatch.NewQueue(),
		sync:   statesync.NewSynchronizer(cfg.DesyncThreshold, logger),
		events: newObservers(),
	}

	//1.- Optional wire capture plugs into the transports as a tap.
	var tap transport.Tap
	if cfg.Trace.Enabled {
		recorder, manifest, err := wiretrace.NewRecorder(cfg.Trace.Dir, cfg.PlayerName, logger, nil)
		if err != nil {
			return nil, fmt.Errorf("open wire trace: %w", err)
		}
		logger.Info("wire trace enabled",
			logging.String("dir", recorder.Directory()),
			logging.String("control", manifest.ControlPath))
		c.trace = recorder
		tap = recorder
	}

	if dialer == nil {
		dialer = session.NewNetDialer(cfg, logger, tap)
	}
	c.session = session.NewManager(cfg, dialer, c.queue, logger)
	c.session.SetHooks(session.Hooks{
		OnStateChange:    c.onStateChange,
		OnControlMessage: c.onControlMessage,
		OnGameData:       c.onGameData,
		OnLatency:        c.onLatency,
	})
	c.rooms = rooms.NewRegistry(c.session, cfg.ListThrottle, logger)

	//2.- Optional localhost diagnostics viewer.
	if cfg.Diag.Enabled {
		c.diag = diagview.NewPublisher(cfg.Diag.Addr, 0, func() any { return c.CurrentStatus() }, logger)
		if err := c.diag.Start(); err != nil {
			if c.trace != nil {
				_ = c.trace.Close()
			}
			return nil, fmt.Errorf("start diagnostics viewer: %w", err)
		}
	}
	return c, nil
}

// Connect establishes the relay session and registers the local player.
func (c *Client) Connect(ctx context.Context) error {
	return c.session.Connect(ctx)
}

// Disconnect tears the session down deliberately.
func (c *Client) Disconnect() {
	c.session.Disconnect()
}

// Reconnect retries a lost session on the configured backoff schedule.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.session.Reconnect(ctx)
}

// Close releases everything the client owns: session, trace, and viewer.
func (c *Client) Close() error {
	c.session.Disconnect()
	var firstErr error
	if c.diag != nil {
		if err := c.diag.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if c.trace != nil {
		if err := c.trace.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Tick drains queued network work and advances remote car interpolation.
// Call it once per frame from the game loop.
func (c *Client) Tick(dt float64) {
	c.queue.Drain(c.cfg.DrainBudget)
	c.sync.Step(dt)
}

// Subscribe registers an observer for every published event.
func (c *Client) Subscribe(fn func(Event)) Subscription {
	return c.events.subscribe(fn)
}

// Unsubscribe removes a previously registered observer.
func (c *Client) Unsubscribe(id Subscription) {
	c.events.unsubscribe(id)
}

// ClientID returns the relay-assigned identity, empty before registration.
func (c *Client) ClientID() string {
	return c.session.ClientID()
}

// State returns the session lifecycle phase.
func (c *Client) State() session.State {
	return c.session.State()
}

// Latency returns the newest round-trip sample and the rolling average.
func (c *Client) Latency() (last, average time.Duration) {
	return c.session.Latency()
}

// RefreshRooms asks the relay for the current room list, subject to the
// client-side throttle.
func (c *Client) RefreshRooms() error {
	return c.rooms.RequestList()
}

// Rooms returns the last received room list.
func (c *Client) Rooms() []protocol.RoomInfo {
	return c.rooms.Rooms()
}

// HostRoom creates a room owned by this client.
func (c *Client) HostRoom(name string, maxPlayers int) error {
	return c.rooms.Host(name, maxPlayers)
}

// JoinRoom joins an existing room by identifier.
func (c *Client) JoinRoom(roomID string) error {
	return c.rooms.Join(roomID)
}

// LeaveRoom leaves the current room.
func (c *Client) LeaveRoom() error {
	return c.rooms.Leave()
}

// StartGame begins the race; the relay accepts it from the host only.
func (c *Client) StartGame() error {
	return c.rooms.Start()
}

// Roster returns the current room's players.
func (c *Client) Roster() []string {
	return c.rooms.Roster()
}

// InRoom reports whether the client currently belongs to a room.
func (c *Client) InRoom() bool {
	return c.rooms.InRoom()
}

// IsHost reports whether the local client hosts the current room.
func (c *Client) IsHost() bool {
	return c.rooms.IsHost()
}

// SendState publishes the local car's state on the unreliable channel. The
// player identity is stamped from the session.
func (c *Client) SendState(state *protocol.PlayerState) error {
	if state == nil {
		return errors.New("player state must be provided")
	}
	if state.PlayerID == "" {
		state.PlayerID = c.session.ClientID()
	}
	return c.session.SendGameData(c.rooms.RoomID(), state)
}

// SendInput publishes the local control inputs on the unreliable channel.
func (c *Client) SendInput(input *protocol.PlayerInput) error {
	if input == nil {
		return errors.New("player input must be provided")
	}
	if input.PlayerID == "" {
		input.PlayerID = c.session.ClientID()
	}
	return c.session.SendGameData(c.rooms.RoomID(), input)
}

// SendRelay forwards an opaque text message to one peer or the whole room
// through the reliable channel.
func (c *Client) SendRelay(targetID, message string) error {
	msg := &protocol.RelayMessage{Message: message}
	if targetID != "" {
		msg.TargetID = targetID
	} else {
		msg.RoomID = c.rooms.RoomID()
	}
	return c.session.SendControl(msg)
}

// Pose returns the interpolated pose of a remote player.
func (c *Client) Pose(playerID string) (statesync.Pose, bool) {
	return c.sync.Pose(playerID)
}

// Status is the diagnostics snapshot served by the local viewer.
type Status struct {
	State          string   `json:"state"`
	ClientID       string   `json:"client_id,omitempty"`
	RoomID         string   `json:"room_id,omitempty"`
	IsHost         bool     `json:"is_host"`
	Roster         []string `json:"roster,omitempty"`
	TrackedPlayers int      `json:"tracked_players"`
	LatencyMs      float64  `json:"latency_ms"`
	QueueDepth     int      `json:"queue_depth"`
}

// CurrentStatus builds the snapshot; safe from any goroutine.
func (c *Client) CurrentStatus() Status {
	_, average := c.session.Latency()
	return Status{
		State:          c.session.State().String(),
		ClientID:       c.session.ClientID(),
		RoomID:         c.rooms.RoomID(),
		IsHost:         c.rooms.IsHost(),
		Roster:         c.rooms.Roster(),
		TrackedPlayers: c.sync.TrackedPlayers(),
		LatencyMs:      float64(average) / float64(time.Millisecond),
		QueueDepth:     c.queue.Len(),
	}
}

func (c *Client) onStateChange(from, to session.State, reason error) {
	switch to {
	case session.StateConnected:
		//1.- Registration just completed; propagate the assigned identity.
		id := c.session.ClientID()
		c.rooms.SetClientID(id)
		c.sync.SetLocalID(id)
	case session.StateDisconnected, session.StateFailed:
		//2.- Room membership and remote cars do not survive the connection.
		c.rooms.Clear()
		c.sync.Reset()
	}
	c.events.publish(ConnectionEvent{From: from, To: to, Reason: reason})
}

func (c *Client) onControlMessage(msg protocol.Message) {
	switch typed := msg.(type) {
	case *protocol.GameList:
		c.rooms.HandleGameList(typed)
		c.events.publish(RoomListEvent{Rooms: c.rooms.Rooms()})
	case *protocol.GameHosted:
		c.rooms.HandleGameHosted(typed)
		c.events.publish(RoomJoinedEvent{RoomID: typed.RoomID, HostID: c.session.ClientID(), IsHost: true})
	case *protocol.JoinedGame:
		c.rooms.HandleJoinedGame(typed)
		c.events.publish(RoomJoinedEvent{RoomID: typed.RoomID, HostID: typed.HostID, IsHost: c.rooms.IsHost()})
	case *protocol.JoinFailed:
		c.events.publish(JoinFailedEvent{Reason: typed.Reason})
	case *protocol.PlayerJoined:
		if c.rooms.HandlePlayerJoined(typed.ClientID) {
			c.events.publish(PlayerJoinedEvent{PlayerID: typed.ClientID})
		}
	case *protocol.PlayerDisconnected:
		if c.rooms.HandlePlayerDisconnected(typed.PlayerID) {
			//1.- Drop the car so a stale ghost never lingers on track.
			c.sync.RemovePlayer(typed.PlayerID)
			c.events.publish(PlayerLeftEvent{PlayerID: typed.PlayerID})
		}
	case *protocol.RoomPlayers:
		c.rooms.HandleRoomPlayers(typed)
		c.events.publish(RosterEvent{Players: c.rooms.Roster()})
	case *protocol.GameStarted:
		c.rooms.HandleGameStarted()
		c.events.publish(GameStartedEvent{PlayerIDs: typed.PlayerIDs, Spawn: typed.SpawnPosition})
	case *protocol.Relay:
		c.events.publish(RelayEvent{From: typed.From, Message: typed.Message})
	case *protocol.Kicked:
		c.events.publish(KickedEvent{Message: typed.Message})
		c.session.Disconnect()
	case *protocol.ServerMessage:
		c.events.publish(NoticeEvent{Message: typed.Message})
	case *protocol.ResetPosition:
		c.events.publish(ResetPositionEvent{Position: typed.Position})
	case *protocol.Unknown:
		c.logger.Debug("unhandled message type", logging.String("tag", typed.Tag))
	default:
		c.logger.Debug("unrouted control message", logging.String("type", msg.Type()))
	}
}

func (c *Client) onGameData(data *protocol.GameData) {
	payload, err := data.Payload()
	if err != nil {
		c.logger.Debug("undecodable game payload",
			logging.String("from", data.From),
			logging.Error(err))
		return
	}
	switch typed := payload.(type) {
	case *protocol.PlayerState:
		c.sync.ApplyState(typed)
	case *protocol.PlayerInput:
		c.sync.ApplyInput(typed)
	}
}

func (c *Client) onLatency(sample, average time.Duration) {
	c.events.publish(LatencyEvent{Sample: sample, Average: average})
}
