// Package rooms holds the client-side view of the relay's room list and the
// roster of the currently joined room. It never touches sockets directly; all
// commands go through the session manager's send method, and all inbound
// handlers run on the consumer goroutine.
package rooms

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

// Sender abstracts the session manager's control-plane send path.
type Sender interface {
	SendControl(msg protocol.Message) error
}

// ErrListThrottled reports a room-list refresh skipped because the previous
// one was too recent. Debug-visible, never a silent drop.
var ErrListThrottled = errors.New("room list refresh skipped, too soon")

// ErrNotInRoom reports a room operation issued while browsing.
var ErrNotInRoom = errors.New("not currently in a room")

// ErrNotHost reports a host-only operation from a non-host client.
var ErrNotHost = errors.New("only the host may start the game")

// Registry tracks discoverable rooms and the joined room's roster.
type Registry struct {
	mu       sync.RWMutex
	sender   Sender
	logger   *logging.Logger
	clock    func() time.Time
	throttle time.Duration

	clientID string
	lastList time.Time

	rooms       []protocol.RoomInfo
	roomID      string
	hostID      string
	isHost      bool
	gameStarted bool
	roster      map[string]struct{}
}

// NewRegistry constructs a registry issuing commands through the sender.
func NewRegistry(sender Sender, throttle time.Duration, logger *logging.Logger) *Registry {
	if throttle <= 0 {
		throttle = 2 * time.Second
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Registry{
		sender:   sender,
		logger:   logger.With(logging.String("component", "rooms")),
		clock:    time.Now,
		throttle: throttle,
		roster:   make(map[string]struct{}),
	}
}

// SetClock swaps the time source, used by tests to drive the throttle.
func (r *Registry) SetClock(clock func() time.Time) {
	if r == nil || clock == nil {
		return
	}
	r.mu.Lock()
	r.clock = clock
	r.mu.Unlock()
}

// SetClientID records the local identity assigned at registration.
func (r *Registry) SetClientID(id string) {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.clientID = id
	r.mu.Unlock()
}

// RequestList asks the relay for the current room list, enforcing the
// client-side minimum interval so refresh spam cannot flood the relay.
func (r *Registry) RequestList() error {
	if r == nil || r.sender == nil {
		return errors.New("registry not wired to a sender")
	}
	r.mu.Lock()
	now := r.clock()
	if since := now.Sub(r.lastList); since < r.throttle {
		r.mu.Unlock()
		//1.- Surface the skip so callers and logs can see it happened.
		r.logger.Debug("room list refresh throttled",
			logging.Duration("since_last", since),
			logging.Duration("min_interval", r.throttle))
		return ErrListThrottled
	}
	r.lastList = now
	r.mu.Unlock()

	return r.sender.SendControl(&protocol.ListGames{})
}

// Host asks the relay to create a room owned by this client.
func (r *Registry) Host(name string, maxPlayers int) error {
	if r == nil || r.sender == nil {
		return errors.New("registry not wired to a sender")
	}
	if name == "" {
		return errors.New("room name must not be empty")
	}
	if maxPlayers < 1 {
		return fmt.Errorf("max players must be positive, got %d", maxPlayers)
	}
	return r.sender.SendControl(&protocol.HostGame{RoomName: name, MaxPlayers: maxPlayers})
}

// Join asks the relay to add this client to an existing room.
func (r *Registry) Join(roomID string) error {
	if r == nil || r.sender == nil {
		return errors.New("registry not wired to a sender")
	}
	if roomID == "" {
		return errors.New("room id must not be empty")
	}
	return r.sender.SendControl(&protocol.JoinGame{RoomID: roomID})
}

// Leave notifies the relay and returns to the room-browsing state. When the
// local client hosts the room, the relay closes it for everyone.
func (r *Registry) Leave() error {
	if r == nil || r.sender == nil {
		return errors.New("registry not wired to a sender")
	}
	r.mu.Lock()
	roomID := r.roomID
	r.mu.Unlock()
	if roomID == "" {
		return ErrNotInRoom
	}
	err := r.sender.SendControl(&protocol.LeaveRoom{RoomID: roomID})
	//1.- Local state clears regardless: the client is leaving either way.
	r.clearRoomState()
	return err
}

// Start begins the race. Host only.
func (r *Registry) Start() error {
	if r == nil || r.sender == nil {
		return errors.New("registry not wired to a sender")
	}
	r.mu.RLock()
	roomID, isHost := r.roomID, r.isHost
	r.mu.RUnlock()
	if roomID == "" {
		return ErrNotInRoom
	}
	if !isHost {
		return ErrNotHost
	}
	return r.sender.SendControl(&protocol.StartGame{RoomID: roomID})
}

// HandleGameList replaces the discoverable room list wholesale, collapsing
// duplicate room identifiers.
func (r *Registry) HandleGameList(list *protocol.GameList) {
	if r == nil || list == nil {
		return
	}
	seen := make(map[string]struct{}, len(list.Rooms))
	deduped := make([]protocol.RoomInfo, 0, len(list.Rooms))
	for _, room := range list.Rooms {
		if room.RoomID == "" {
			continue
		}
		if _, dup := seen[room.RoomID]; dup {
			continue
		}
		seen[room.RoomID] = struct{}{}
		deduped = append(deduped, room)
	}
	r.mu.Lock()
	r.rooms = deduped
	r.mu.Unlock()
}

// HandleGameHosted records the acknowledged room and seeds the roster with
// the local client, which is now the host.
func (r *Registry) HandleGameHosted(ack *protocol.GameHosted) {
	if r == nil || ack == nil {
		return
	}
	r.mu.Lock()
	r.roomID = ack.RoomID
	r.hostID = r.clientID
	r.isHost = true
	r.gameStarted = false
	r.roster = map[string]struct{}{r.clientID: {}}
	r.mu.Unlock()
	r.logger.Info("room hosted", logging.String("room_id", ack.RoomID))
}

// HandleJoinedGame records the join acknowledgement and issues the explicit
// roster fetch; the ack's snapshot alone is not guaranteed complete.
func (r *Registry) HandleJoinedGame(ack *protocol.JoinedGame) {
	if r == nil || ack == nil {
		return
	}
	r.mu.Lock()
	r.roomID = ack.RoomID
	r.hostID = ack.HostID
	r.isHost = ack.HostID != "" && ack.HostID == r.clientID
	r.gameStarted = ack.GameStarted
	r.roster = map[string]struct{}{r.clientID: {}}
	for _, player := range ack.Players {
		if player != "" {
			r.roster[player] = struct{}{}
		}
	}
	r.mu.Unlock()
	r.logger.Info("room joined",
		logging.String("room_id", ack.RoomID),
		logging.String("host_id", ack.HostID),
		logging.Bool("is_host", r.IsHost()))

	//1.- Known protocol gap: always follow up with the full roster fetch.
	if r.sender != nil {
		if err := r.sender.SendControl(&protocol.GetRoomPlayers{RoomID: ack.RoomID}); err != nil {
			r.logger.Warn("roster fetch failed", logging.Error(err))
		}
	}
}

// HandlePlayerJoined inserts one player. Returns true when the roster changed.
func (r *Registry) HandlePlayerJoined(playerID string) bool {
	if r == nil || playerID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" {
		return false
	}
	if _, ok := r.roster[playerID]; ok {
		return false
	}
	r.roster[playerID] = struct{}{}
	return true
}

// HandlePlayerDisconnected removes one player. Returns true when the roster
// changed.
func (r *Registry) HandlePlayerDisconnected(playerID string) bool {
	if r == nil || playerID == "" {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.roster[playerID]; !ok {
		return false
	}
	delete(r.roster, playerID)
	return true
}

// HandleRoomPlayers merges the fetched roster by set-insert. Entries are
// never removed here: a wholesale replacement could race with a concurrent
// join event and drop a player.
func (r *Registry) HandleRoomPlayers(resp *protocol.RoomPlayers) {
	if r == nil || resp == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.roomID == "" {
		return
	}
	for _, player := range resp.Players {
		if player != "" {
			r.roster[player] = struct{}{}
		}
	}
}

// HandleGameStarted flips the started flag when the race begins.
func (r *Registry) HandleGameStarted() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.gameStarted = true
	r.mu.Unlock()
}

// Clear drops all room state, used on disconnect.
func (r *Registry) Clear() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.rooms = nil
	r.mu.Unlock()
	r.clearRoomState()
}

func (r *Registry) clearRoomState() {
	r.mu.Lock()
	r.roomID = ""
	r.hostID = ""
	r.isHost = false
	r.gameStarted = false
	r.roster = make(map[string]struct{})
	r.mu.Unlock()
}

// Rooms returns a copy of the last room-list refresh.
func (r *Registry) Rooms() []protocol.RoomInfo {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]protocol.RoomInfo(nil), r.rooms...)
}

// Roster returns the joined room's players sorted for stable display.
func (r *Registry) Roster() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	players := make([]string, 0, len(r.roster))
	for player := range r.roster {
		players = append(players, player)
	}
	sort.Strings(players)
	return players
}

// RoomID returns the joined room identifier, empty while browsing.
func (r *Registry) RoomID() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.roomID
}

// HostID returns the joined room's host identifier.
func (r *Registry) HostID() string {
	if r == nil {
		return ""
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hostID
}

// IsHost reports whether the local client hosts the joined room.
func (r *Registry) IsHost() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.isHost
}

// InRoom reports whether the client currently belongs to a room.
func (r *Registry) InRoom() bool {
	return r != nil && r.RoomID() != ""
}

// GameStarted reports whether the joined room's race has begun.
func (r *Registry) GameStarted() bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.gameStarted
}
