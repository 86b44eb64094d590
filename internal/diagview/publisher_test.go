package diagview

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"slipstream/netcore/internal/logging"
)

type statusSample struct {
	State   string `json:"state"`
	Players int    `json:"players"`
}

func startPublisher(t *testing.T, source Source) *Publisher {
	t.Helper()
	pub := NewPublisher("127.0.0.1:0", 20*time.Millisecond, source, logging.NewTestLogger())
	if err := pub.Start(); err != nil {
		t.Fatalf("start publisher: %v", err)
	}
	t.Cleanup(func() { _ = pub.Close() })
	return pub
}

func TestStatusEndpointServesSnapshot(t *testing.T) {
	pub := startPublisher(t, func() any {
		return statusSample{State: "connected", Players: 3}
	})

	resp, err := http.Get("http://" + pub.Addr() + "/status")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status code = %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	var got statusSample
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("parse body %q: %v", body, err)
	}
	if got.State != "connected" || got.Players != 3 {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestWebsocketRefusesForeignOrigins(t *testing.T) {
	pub := startPublisher(t, func() any {
		return statusSample{State: "connected", Players: 2}
	})

	//1.- A page served from another host must not reach the socket.
	header := http.Header{"Origin": []string{"http://evil.example.com"}}
	conn, resp, err := websocket.DefaultDialer.Dial("ws://"+pub.Addr()+"/ws", header)
	if err == nil {
		conn.Close()
		t.Fatalf("cross-origin upgrade succeeded, want refusal")
	}
	if resp != nil && resp.StatusCode != http.StatusForbidden {
		t.Fatalf("refusal status = %d, want %d", resp.StatusCode, http.StatusForbidden)
	}

	//2.- A loopback-served page still upgrades.
	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, _, err = websocket.DefaultDialer.Dial("ws://"+pub.Addr()+"/ws", header)
	if err != nil {
		t.Fatalf("loopback origin refused: %v", err)
	}
	conn.Close()
}

func TestWebsocketPushesFreshSnapshots(t *testing.T) {
	var players atomic.Int64
	players.Store(1)
	pub := startPublisher(t, func() any {
		return statusSample{State: "connected", Players: int(players.Load())}
	})

	conn, _, err := websocket.DefaultDialer.Dial("ws://"+pub.Addr()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial websocket: %v", err)
	}
	defer conn.Close()

	readSnapshot := func() statusSample {
		t.Helper()
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, payload, readErr := conn.ReadMessage()
		if readErr != nil {
			t.Fatalf("read snapshot: %v", readErr)
		}
		var got statusSample
		if err := json.Unmarshal(payload, &got); err != nil {
			t.Fatalf("parse snapshot %q: %v", payload, err)
		}
		return got
	}

	//1.- The first push arrives immediately after the upgrade.
	if got := readSnapshot(); got.Players != 1 {
		t.Fatalf("first snapshot = %+v", got)
	}
	//2.- Later pushes reflect state changes between intervals.
	players.Store(4)
	deadline := time.Now().Add(2 * time.Second)
	for {
		if got := readSnapshot(); got.Players == 4 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reflected the new state")
		}
	}
}
