package protocol

import "encoding/json"

// ProtocolVersion pins the canonical JSON revision of the relay protocol.
// Earlier revisions (pipe-delimited text) are not spoken by this client.
const ProtocolVersion = 3

// Wire discriminators for every command and event the relay speaks.
const (
	TypeRegister       = "REGISTER"
	TypeHeartbeat      = "HEARTBEAT"
	TypePing           = "PING"
	TypePlayerInfo     = "PLAYER_INFO"
	TypeHostGame       = "HOST_GAME"
	TypeJoinGame       = "JOIN_GAME"
	TypeListGames      = "LIST_GAMES"
	TypeLeaveRoom      = "LEAVE_ROOM"
	TypeGetRoomPlayers = "GET_ROOM_PLAYERS"
	TypeStartGame      = "START_GAME"
	TypeRelayMessage   = "RELAY_MESSAGE"
	TypeGameData       = "GAME_DATA"
	TypeDisconnect     = "DISCONNECT"

	TypeRegistered         = "REGISTERED"
	TypeHeartbeatAck       = "HEARTBEAT_ACK"
	TypePingResponse       = "PING_RESPONSE"
	TypeGameHosted         = "GAME_HOSTED"
	TypeGameList           = "GAME_LIST"
	TypeJoinedGame         = "JOINED_GAME"
	TypeJoinFailed         = "JOIN_FAILED"
	TypePlayerJoined       = "PLAYER_JOINED"
	TypePlayerDisconnected = "PLAYER_DISCONNECTED"
	TypeRoomPlayers        = "ROOM_PLAYERS"
	TypeGameStarted        = "GAME_STARTED"
	TypeRelay              = "RELAY"
	TypeKicked             = "KICKED"
	TypeServerMessage      = "SERVER_MESSAGE"
	TypeResetPosition      = "RESET_POSITION"
)

// Message is the tagged union decoded once at the wire codec boundary.
type Message interface {
	Type() string
}

// Register announces a new client to the relay.
type Register struct {
	ProtocolVersion int    `json:"protocol_version,omitempty"`
	Name            string `json:"name,omitempty"`
}

func (*Register) Type() string { return TypeRegister }

// Heartbeat keeps the relay's staleness sweeper at bay.
type Heartbeat struct{}

func (*Heartbeat) Type() string { return TypeHeartbeat }

// Ping carries a client timestamp in milliseconds for round-trip measurement.
type Ping struct {
	Timestamp float64 `json:"timestamp"`
}

func (*Ping) Type() string { return TypePing }

// PlayerInfo publishes the local display name.
type PlayerInfo struct {
	Name string `json:"name"`
}

func (*PlayerInfo) Type() string { return TypePlayerInfo }

// HostGame asks the relay to create a room owned by this client.
type HostGame struct {
	RoomName   string `json:"room_name"`
	MaxPlayers int    `json:"max_players"`
}

func (*HostGame) Type() string { return TypeHostGame }

// JoinGame asks to join an existing room.
type JoinGame struct {
	RoomID string `json:"room_id"`
}

func (*JoinGame) Type() string { return TypeJoinGame }

// ListGames requests the current room list.
type ListGames struct{}

func (*ListGames) Type() string { return TypeListGames }

// LeaveRoom notifies the relay that this client is leaving its room.
type LeaveRoom struct {
	RoomID string `json:"room_id"`
}

func (*LeaveRoom) Type() string { return TypeLeaveRoom }

// GetRoomPlayers requests the full roster of a room. Join acknowledgements do
// not guarantee a complete roster, so this follow-up is always issued.
type GetRoomPlayers struct {
	RoomID string `json:"room_id"`
}

func (*GetRoomPlayers) Type() string { return TypeGetRoomPlayers }

// StartGame is the host-only command that begins the race.
type StartGame struct {
	RoomID string `json:"room_id"`
}

func (*StartGame) Type() string { return TypeStartGame }

// RelayMessage forwards an opaque payload to a room or a single target.
type RelayMessage struct {
	RoomID   string `json:"room_id,omitempty"`
	TargetID string `json:"target_id,omitempty"`
	Message  string `json:"message"`
}

func (*RelayMessage) Type() string { return TypeRelayMessage }

// GameData is the UDP envelope for high-frequency state. Outbound frames set
// ClientID/RoomID (or TargetID); inbound frames carry From instead.
type GameData struct {
	ClientID string          `json:"client_id,omitempty"`
	RoomID   string          `json:"room_id,omitempty"`
	TargetID string          `json:"target_id,omitempty"`
	From     string          `json:"from,omitempty"`
	Data     json.RawMessage `json:"data"`
}

func (*GameData) Type() string { return TypeGameData }

// Payload decodes the typed game payload carried by the envelope.
func (g *GameData) Payload() (GamePayload, error) {
	if g == nil {
		return nil, &DecodeError{Reason: "nil game data envelope"}
	}
	return DecodeGamePayload(g.Data)
}

// Disconnect is the best-effort leaving notification.
type Disconnect struct{}

func (*Disconnect) Type() string { return TypeDisconnect }

// Registered is the relay's registration acknowledgement.
type Registered struct {
	ClientID string `json:"client_id"`
}

func (*Registered) Type() string { return TypeRegistered }

// HeartbeatAck acknowledges a heartbeat.
type HeartbeatAck struct{}

func (*HeartbeatAck) Type() string { return TypeHeartbeatAck }

// PingResponse echoes the ping timestamp back to the sender.
type PingResponse struct {
	Timestamp float64 `json:"timestamp"`
}

func (*PingResponse) Type() string { return TypePingResponse }

// GameHosted confirms room creation and carries the assigned identifier.
type GameHosted struct {
	RoomID string `json:"room_id"`
}

func (*GameHosted) Type() string { return TypeGameHosted }

// GameList is the wholesale room-list refresh.
type GameList struct {
	Rooms []RoomInfo `json:"rooms"`
}

func (*GameList) Type() string { return TypeGameList }

// JoinedGame acknowledges a join and snapshots the roster known at join time.
type JoinedGame struct {
	RoomID      string   `json:"room_id"`
	HostID      string   `json:"host_id"`
	Players     []string `json:"players,omitempty"`
	GameStarted bool     `json:"game_started,omitempty"`
}

func (*JoinedGame) Type() string { return TypeJoinedGame }

// JoinFailed reports an application-level join rejection.
type JoinFailed struct {
	Reason string `json:"reason"`
}

func (*JoinFailed) Type() string { return TypeJoinFailed }

// PlayerJoined is the incremental roster insertion event.
type PlayerJoined struct {
	ClientID string `json:"client_id"`
}

func (*PlayerJoined) Type() string { return TypePlayerJoined }

// PlayerDisconnected is the incremental roster removal event.
type PlayerDisconnected struct {
	PlayerID string `json:"player_id"`
}

func (*PlayerDisconnected) Type() string { return TypePlayerDisconnected }

// RoomPlayers is the full roster response to GET_ROOM_PLAYERS.
type RoomPlayers struct {
	Players []string `json:"players"`
}

func (*RoomPlayers) Type() string { return TypeRoomPlayers }

// GameStarted announces the race start with the local spawn assignment.
type GameStarted struct {
	PlayerIDs     []string      `json:"player_ids,omitempty"`
	SpawnPosition SpawnPosition `json:"spawn_position"`
}

func (*GameStarted) Type() string { return TypeGameStarted }

// Relay delivers an opaque peer message forwarded by the server.
type Relay struct {
	From    string `json:"from"`
	Message string `json:"message"`
}

func (*Relay) Type() string { return TypeRelay }

// Kicked informs the client it was removed by an operator.
type Kicked struct {
	Message string `json:"message,omitempty"`
}

func (*Kicked) Type() string { return TypeKicked }

// ServerMessage is an operator broadcast shown as a notification.
type ServerMessage struct {
	Message string `json:"message"`
}

func (*ServerMessage) Type() string { return TypeServerMessage }

// ResetPosition is an operator-initiated teleport for the local vehicle.
type ResetPosition struct {
	Position Vec3 `json:"position"`
}

func (*ResetPosition) Type() string { return TypeResetPosition }

// Unknown preserves messages with unrecognised discriminators so a delayed
// frame from an older session never terminates the connection.
type Unknown struct {
	Tag string
	Raw json.RawMessage
}

func (u *Unknown) Type() string {
	if u == nil {
		return ""
	}
	return u.Tag
}
