package netcore

import (
	"sync"
	"time"

	"slipstream/netcore/internal/protocol"
	"slipstream/netcore/internal/session"
)

// Event is the tagged union delivered to subscribers. All events fire on the
// consumer goroutine during Tick, never from a network goroutine.
type Event interface {
	Kind() string
}

// ConnectionEvent reports a session lifecycle transition. Reason is nil for
// deliberate transitions and carries the failure otherwise.
type ConnectionEvent struct {
	From   session.State
	To     session.State
	Reason error
}

func (ConnectionEvent) Kind() string { return "connection" }

// RoomListEvent carries the refreshed room list.
type RoomListEvent struct {
	Rooms []protocol.RoomInfo
}

func (RoomListEvent) Kind() string { return "room_list" }

// RoomJoinedEvent reports a successful host or join.
type RoomJoinedEvent struct {
	RoomID string
	HostID string
	IsHost bool
}

func (RoomJoinedEvent) Kind() string { return "room_joined" }

// JoinFailedEvent reports an application-level join rejection; the
// connection itself stays up.
type JoinFailedEvent struct {
	Reason string
}

func (JoinFailedEvent) Kind() string { return "join_failed" }

// PlayerJoinedEvent reports a peer entering the current room.
type PlayerJoinedEvent struct {
	PlayerID string
}

func (PlayerJoinedEvent) Kind() string { return "player_joined" }

// PlayerLeftEvent reports a peer leaving the current room.
type PlayerLeftEvent struct {
	PlayerID string
}

func (PlayerLeftEvent) Kind() string { return "player_left" }

// RosterEvent carries the full roster after an explicit fetch.
type RosterEvent struct {
	Players []string
}

func (RosterEvent) Kind() string { return "roster" }

// GameStartedEvent reports the race start with the local spawn assignment.
type GameStartedEvent struct {
	PlayerIDs []string
	Spawn     protocol.SpawnPosition
}

func (GameStartedEvent) Kind() string { return "game_started" }

// RelayEvent delivers an opaque peer message forwarded by the relay.
type RelayEvent struct {
	From    string
	Message string
}

func (RelayEvent) Kind() string { return "relay" }

// KickedEvent reports an operator removal. The client disconnects after
// publishing it.
type KickedEvent struct {
	Message string
}

func (KickedEvent) Kind() string { return "kicked" }

// NoticeEvent carries an operator broadcast for display.
type NoticeEvent struct {
	Message string
}

func (NoticeEvent) Kind() string { return "notice" }

// ResetPositionEvent is an operator-initiated teleport for the local car.
type ResetPositionEvent struct {
	Position protocol.Vec3
}

func (ResetPositionEvent) Kind() string { return "reset_position" }

// LatencyEvent reports a fresh round-trip sample and the rolling average.
type LatencyEvent struct {
	Sample  time.Duration
	Average time.Duration
}

func (LatencyEvent) Kind() string { return "latency" }

// Subscription identifies one observer for later removal.
type Subscription int

// observers is the event fanout. Publish order is subscription order.
type observers struct {
	mu   sync.Mutex
	next Subscription
	subs map[Subscription]func(Event)
	ids  []Subscription
}

func newObservers() *observers {
	return &observers{subs: make(map[Subscription]func(Event))}
}

func (o *observers) subscribe(fn func(Event)) Subscription {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.next++
	id := o.next
	o.subs[id] = fn
	o.ids = append(o.ids, id)
	return id
}

func (o *observers) unsubscribe(id Subscription) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.subs[id]; !ok {
		return
	}
	delete(o.subs, id)
	for i, existing := range o.ids {
		if existing == id {
			o.ids = append(o.ids[:i], o.ids[i+1:]...)
			break
		}
	}
}

func (o *observers) publish(event Event) {
	o.mu.Lock()
	fns := make([]func(Event), 0, len(o.ids))
	for _, id := range o.ids {
		if fn, ok := o.subs[id]; ok {
			fns = append(fns, fn)
		}
	}
	o.mu.Unlock()
	//1.- Callbacks run outside the lock so subscribers may re-subscribe.
	for _, fn := range fns {
		fn(event)
	}
}
