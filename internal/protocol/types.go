package protocol

import (
	"encoding/json"
	"fmt"
)

// Vec3 is the wire representation of a three-component vector.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is the wire representation of a rotation quaternion.
type Quat struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Identity returns the no-rotation quaternion.
func Identity() Quat { return Quat{W: 1} }

// RoomInfo describes one discoverable room in a GAME_LIST response.
type RoomInfo struct {
	RoomID      string `json:"room_id"`
	Name        string `json:"name"`
	HostID      string `json:"host_id,omitempty"`
	PlayerCount int    `json:"player_count"`
	MaxPlayers  int    `json:"max_players"`
}

// SpawnPosition is the garage slot assigned when a race starts.
type SpawnPosition struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Z     float64 `json:"z"`
	Index int     `json:"index"`
}

// Game payload discriminators carried inside GAME_DATA envelopes.
const (
	PayloadPlayerState = "PLAYER_STATE"
	PayloadPlayerInput = "PLAYER_INPUT"
)

// GamePayload is the tagged union of game-data payloads relayed between peers.
type GamePayload interface {
	PayloadKind() string
}

// PlayerState is a single simulation sample for one player's vehicle.
type PlayerState struct {
	PlayerID        string  `json:"player_id"`
	Position        Vec3    `json:"position"`
	Rotation        Quat    `json:"rotation"`
	Velocity        Vec3    `json:"velocity"`
	AngularVelocity Vec3    `json:"angular_velocity"`
	Timestamp       float64 `json:"timestamp"`
}

// PayloadKind identifies the payload inside a GAME_DATA envelope.
func (*PlayerState) PayloadKind() string { return PayloadPlayerState }

// PlayerInput carries raw control values for short-horizon prediction.
type PlayerInput struct {
	PlayerID  string  `json:"player_id"`
	Steering  float64 `json:"steering"`
	Throttle  float64 `json:"throttle"`
	Brake     float64 `json:"brake"`
	Timestamp float64 `json:"timestamp"`
}

// PayloadKind identifies the payload inside a GAME_DATA envelope.
func (*PlayerInput) PayloadKind() string { return PayloadPlayerInput }

// EncodeGamePayload serializes a payload with its type discriminator injected.
func EncodeGamePayload(payload GamePayload) (json.RawMessage, error) {
	if payload == nil {
		return nil, &DecodeError{Reason: "nil game payload"}
	}
	return tagJSON(payload, payload.PayloadKind())
}

// DecodeGamePayload restores the typed payload from a GAME_DATA data field.
func DecodeGamePayload(raw json.RawMessage) (GamePayload, error) {
	if len(raw) == 0 {
		return nil, &DecodeError{Reason: "empty game payload"}
	}
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, &DecodeError{Reason: "malformed game payload", Raw: append([]byte(nil), raw...)}
	}
	//1.- Dispatch on the discriminator and decode into the concrete struct.
	switch probe.Type {
	case PayloadPlayerState:
		var state PlayerState
		if err := json.Unmarshal(raw, &state); err != nil {
			return nil, &DecodeError{Reason: "malformed player state", Raw: append([]byte(nil), raw...)}
		}
		if state.PlayerID == "" {
			return nil, &DecodeError{Reason: "player state missing player_id"}
		}
		return &state, nil
	case PayloadPlayerInput:
		var input PlayerInput
		if err := json.Unmarshal(raw, &input); err != nil {
			return nil, &DecodeError{Reason: "malformed player input", Raw: append([]byte(nil), raw...)}
		}
		if input.PlayerID == "" {
			return nil, &DecodeError{Reason: "player input missing player_id"}
		}
		return &input, nil
	default:
		return nil, &DecodeError{Reason: fmt.Sprintf("unknown game payload type %q", probe.Type)}
	}
}
