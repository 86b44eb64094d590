package protocol

import (
	"encoding/json"
	"fmt"
)

// DecodeError reports a malformed or incomplete wire message. Callers drop
// the offending frame and keep the connection open.
type DecodeError struct {
	Reason string
	Raw    json.RawMessage
}

func (e *DecodeError) Error() string {
	if e == nil {
		return "decode error"
	}
	return "decode error: " + e.Reason
}

// Encode serializes a message to its compact JSON form with the type
// discriminator injected. Framing (the trailing newline on TCP) is the
// transport's concern.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &DecodeError{Reason: "nil message"}
	}
	//1.- Unknown messages are re-emitted verbatim to stay forward compatible.
	if unknown, ok := msg.(*Unknown); ok {
		if len(unknown.Raw) == 0 {
			return nil, &DecodeError{Reason: "unknown message without raw payload"}
		}
		return append([]byte(nil), unknown.Raw...), nil
	}
	return tagJSON(msg, msg.Type())
}

// tagJSON marshals v and injects the type discriminator into the object.
func tagJSON(v any, tag string) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	if fields == nil {
		fields = make(map[string]json.RawMessage, 1)
	}
	tagged, err := json.Marshal(tag)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", tag, err)
	}
	fields["type"] = tagged
	return json.Marshal(fields)
}

// Decode parses one complete wire frame into its typed message. Unrecognised
// discriminators yield *Unknown rather than an error; structural problems
// yield *DecodeError so the caller can drop the frame and continue.
func Decode(data []byte) (Message, error) {
	if len(data) == 0 {
		return nil, &DecodeError{Reason: "empty frame"}
	}
	var probe struct {
		Type *string `json:"type"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, &DecodeError{Reason: "malformed json", Raw: append([]byte(nil), data...)}
	}
	if probe.Type == nil || *probe.Type == "" {
		return nil, &DecodeError{Reason: "missing type discriminator", Raw: append([]byte(nil), data...)}
	}

	//1.- Instantiate the concrete struct for the advertised discriminator.
	msg := messageForTag(*probe.Type)
	if msg == nil {
		return &Unknown{Tag: *probe.Type, Raw: append([]byte(nil), data...)}, nil
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, &DecodeError{Reason: fmt.Sprintf("malformed %s payload", *probe.Type), Raw: append([]byte(nil), data...)}
	}
	//2.- Enforce the per-type required fields before handing the frame on.
	if err := validate(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func messageForTag(tag string) Message {
	switch tag {
	case TypeRegister:
		return &Register{}
	case TypeHeartbeat:
		return &Heartbeat{}
	case TypePing:
		return &Ping{}
	case TypePlayerInfo:
		return &PlayerInfo{}
	case TypeHostGame:
		return &HostGame{}
	case TypeJoinGame:
		return &JoinGame{}
	case TypeListGames:
		return &ListGames{}
	case TypeLeaveRoom:
		return &LeaveRoom{}
	case TypeGetRoomPlayers:
		return &GetRoomPlayers{}
	case TypeStartGame:
		return &StartGame{}
	case TypeRelayMessage:
		return &RelayMessage{}
	case TypeGameData:
		return &GameData{}
	case TypeDisconnect:
		return &Disconnect{}
	case TypeRegistered:
		return &Registered{}
	case TypeHeartbeatAck:
		return &HeartbeatAck{}
	case TypePingResponse:
		return &PingResponse{}
	case TypeGameHosted:
		return &GameHosted{}
	case TypeGameList:
		return &GameList{}
	case TypeJoinedGame:
		return &JoinedGame{}
	case TypeJoinFailed:
		return &JoinFailed{}
	case TypePlayerJoined:
		return &PlayerJoined{}
	case TypePlayerDisconnected:
		return &PlayerDisconnected{}
	case TypeRoomPlayers:
		return &RoomPlayers{}
	case TypeGameStarted:
		return &GameStarted{}
	case TypeRelay:
		return &Relay{}
	case TypeKicked:
		return &Kicked{}
	case TypeServerMessage:
		return &ServerMessage{}
	case TypeResetPosition:
		return &ResetPosition{}
	default:
		return nil
	}
}

func validate(msg Message) error {
	missing := func(field string) error {
		return &DecodeError{Reason: fmt.Sprintf("%s missing %s", msg.Type(), field)}
	}
	switch m := msg.(type) {
	case *Registered:
		if m.ClientID == "" {
			return missing("client_id")
		}
	case *GameHosted:
		if m.RoomID == "" {
			return missing("room_id")
		}
	case *JoinedGame:
		if m.RoomID == "" {
			return missing("room_id")
		}
	case *JoinGame:
		if m.RoomID == "" {
			return missing("room_id")
		}
	case *PlayerJoined:
		if m.ClientID == "" {
			return missing("client_id")
		}
	case *PlayerDisconnected:
		if m.PlayerID == "" {
			return missing("player_id")
		}
	case *GameData:
		if len(m.Data) == 0 {
			return missing("data")
		}
	}
	return nil
}
