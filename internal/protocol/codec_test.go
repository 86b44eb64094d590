package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"testing"
)

func TestEncodeDecodeRoundTripAllMessages(t *testing.T) {
	//1.- Cover every command and event the relay speaks with realistic values.
	messages := []Message{
		&Register{ProtocolVersion: ProtocolVersion, Name: "Dana"},
		&Heartbeat{},
		&Ping{Timestamp: 1712345678901.5},
		&PlayerInfo{Name: "Dana"},
		&HostGame{RoomName: "Alpha", MaxPlayers: 4},
		&JoinGame{RoomID: "room_1"},
		&ListGames{},
		&LeaveRoom{RoomID: "room_1"},
		&GetRoomPlayers{RoomID: "room_1"},
		&StartGame{RoomID: "room_1"},
		&RelayMessage{RoomID: "room_1", Message: "ready"},
		&RelayMessage{TargetID: "client_2", Message: "psst"},
		&Disconnect{},
		&Registered{ClientID: "client_7"},
		&HeartbeatAck{},
		&PingResponse{Timestamp: 1712345678901.5},
		&GameHosted{RoomID: "room_1"},
		&GameList{Rooms: []RoomInfo{
			{RoomID: "room_1", Name: "Alpha", PlayerCount: 2, MaxPlayers: 4},
			{RoomID: "room_2", Name: "Beta", HostID: "client_9", PlayerCount: 1, MaxPlayers: 8},
		}},
		&JoinedGame{RoomID: "room_1", HostID: "client_7", Players: []string{"client_7", "client_8"}, GameStarted: true},
		&JoinFailed{Reason: "Room is full"},
		&PlayerJoined{ClientID: "client_8"},
		&PlayerDisconnected{PlayerID: "client_8"},
		&RoomPlayers{Players: []string{"client_7", "client_8"}},
		&GameStarted{PlayerIDs: []string{"client_7", "client_8"}, SpawnPosition: SpawnPosition{X: 66, Y: -2, Z: 0.8, Index: 0}},
		&Relay{From: "client_7", Message: "gg"},
		&Kicked{Message: "You have been kicked"},
		&ServerMessage{Message: "maintenance soon"},
		&ResetPosition{Position: Vec3{X: 66, Y: -2, Z: 0.8}},
	}

	for _, msg := range messages {
		encoded, err := Encode(msg)
		if err != nil {
			t.Fatalf("encode %s failed: %v", msg.Type(), err)
		}
		decoded, err := Decode(encoded)
		if err != nil {
			t.Fatalf("decode %s failed: %v", msg.Type(), err)
		}
		//2.- Each frame must survive the round trip field for field.
		if !reflect.DeepEqual(msg, decoded) {
			t.Fatalf("%s round trip mismatch: sent %+v, got %+v", msg.Type(), msg, decoded)
		}
	}
}

func TestEncodeInjectsDiscriminator(t *testing.T) {
	encoded, err := Encode(&HostGame{RoomName: "Alpha", MaxPlayers: 4})
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(encoded, &fields); err != nil {
		t.Fatalf("encoded frame is not valid json: %v", err)
	}
	if fields["type"] != TypeHostGame {
		t.Fatalf("expected type %q, got %v", TypeHostGame, fields["type"])
	}
	if fields["room_name"] != "Alpha" {
		t.Fatalf("expected room_name Alpha, got %v", fields["room_name"])
	}
}

func TestGameDataRoundTripWithPlayerState(t *testing.T) {
	//1.- Build the nested payload exactly as the UDP sender would.
	state := &PlayerState{
		PlayerID:        "client_3",
		Position:        Vec3{X: 12.5, Y: -2, Z: 0.8},
		Rotation:        Quat{X: 0, Y: 0.707, Z: 0, W: 0.707},
		Velocity:        Vec3{X: 30, Y: 0, Z: 0},
		AngularVelocity: Vec3{Y: 0.1},
		Timestamp:       42.5,
	}
	payload, err := EncodeGamePayload(state)
	if err != nil {
		t.Fatalf("encode payload failed: %v", err)
	}
	envelope := &GameData{ClientID: "client_3", RoomID: "room_1", Data: payload}

	encoded, err := Encode(envelope)
	if err != nil {
		t.Fatalf("encode envelope failed: %v", err)
	}
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode envelope failed: %v", err)
	}
	data, ok := decoded.(*GameData)
	if !ok {
		t.Fatalf("expected *GameData, got %T", decoded)
	}

	//2.- The nested payload must decode back into the identical player state.
	inner, err := data.Payload()
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	got, ok := inner.(*PlayerState)
	if !ok {
		t.Fatalf("expected *PlayerState payload, got %T", inner)
	}
	if !reflect.DeepEqual(state, got) {
		t.Fatalf("payload round trip mismatch: sent %+v, got %+v", state, got)
	}
}

func TestGameDataPlayerInputPayload(t *testing.T) {
	input := &PlayerInput{PlayerID: "client_4", Steering: -0.4, Throttle: 1, Brake: 0, Timestamp: 42.6}
	payload, err := EncodeGamePayload(input)
	if err != nil {
		t.Fatalf("encode payload failed: %v", err)
	}
	decoded, err := DecodeGamePayload(payload)
	if err != nil {
		t.Fatalf("decode payload failed: %v", err)
	}
	if !reflect.DeepEqual(input, decoded) {
		t.Fatalf("input round trip mismatch: sent %+v, got %+v", input, decoded)
	}
}

func TestDecodeUnknownTypeIsNotAnError(t *testing.T) {
	//1.- Frames from a newer protocol revision must pass through as Unknown.
	raw := []byte(`{"type":"TELEMETRY_V9","payload":123}`)
	decoded, err := Decode(raw)
	if err != nil {
		t.Fatalf("unknown type should not error: %v", err)
	}
	unknown, ok := decoded.(*Unknown)
	if !ok {
		t.Fatalf("expected *Unknown, got %T", decoded)
	}
	if unknown.Tag != "TELEMETRY_V9" {
		t.Fatalf("expected tag TELEMETRY_V9, got %q", unknown.Tag)
	}

	//2.- Re-encoding an Unknown emits the original bytes untouched.
	encoded, err := Encode(unknown)
	if err != nil {
		t.Fatalf("re-encode unknown failed: %v", err)
	}
	if string(encoded) != string(raw) {
		t.Fatalf("unknown re-encode mismatch: %s", encoded)
	}
}

func TestDecodeRejectsMalformedFrames(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{name: "not json", raw: "REGISTER|10.0.0.1|7777"},
		{name: "missing type", raw: `{"client_id":"client_1"}`},
		{name: "empty type", raw: `{"type":""}`},
		{name: "registered without client id", raw: `{"type":"REGISTERED"}`},
		{name: "hosted without room id", raw: `{"type":"GAME_HOSTED"}`},
		{name: "joined without room id", raw: `{"type":"JOINED_GAME","host_id":"client_1"}`},
		{name: "player joined without id", raw: `{"type":"PLAYER_JOINED"}`},
		{name: "game data without data", raw: `{"type":"GAME_DATA","from":"client_2"}`},
		{name: "wrong field type", raw: `{"type":"PING","timestamp":"soon"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw))
			var decodeErr *DecodeError
			if !errors.As(err, &decodeErr) {
				t.Fatalf("expected DecodeError, got %v", err)
			}
		})
	}
}

func TestDecodeGamePayloadRejectsUnknownKind(t *testing.T) {
	_, err := DecodeGamePayload([]byte(`{"type":"CHAT","text":"hi"}`))
	var decodeErr *DecodeError
	if !errors.As(err, &decodeErr) {
		t.Fatalf("expected DecodeError for unknown payload kind, got %v", err)
	}
}
