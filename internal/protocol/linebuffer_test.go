package protocol

import (
	"bytes"
	"errors"
	"testing"
)

func TestLineBufferReassemblesPartialReads(t *testing.T) {
	buf := NewLineBuffer(0)

	//1.- Feed a frame split across three reads plus the start of the next one.
	lines, err := buf.Feed([]byte(`{"type":"REGIS`))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %d", len(lines))
	}
	lines, err = buf.Feed([]byte(`TERED","client_id":"client_1"}`))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %d", len(lines))
	}
	lines, err = buf.Feed([]byte("\n{\"type\":\"HEART"))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(lines) != 1 {
		t.Fatalf("expected one complete line, got %d", len(lines))
	}
	if !bytes.Equal(lines[0], []byte(`{"type":"REGISTERED","client_id":"client_1"}`)) {
		t.Fatalf("unexpected line content: %s", lines[0])
	}

	//2.- The trailing partial segment must survive for the next read.
	if buf.Pending() == 0 {
		t.Fatal("expected a pending partial segment")
	}
	lines, err = buf.Feed([]byte("BEAT_ACK\"}\n"))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(lines) != 1 || !bytes.Equal(lines[0], []byte(`{"type":"HEARTBEAT_ACK"}`)) {
		t.Fatalf("unexpected second line: %v", lines)
	}
	if buf.Pending() != 0 {
		t.Fatalf("expected empty buffer, %d bytes pending", buf.Pending())
	}
}

func TestLineBufferSplitsBurstIntoMultipleLines(t *testing.T) {
	buf := NewLineBuffer(0)
	burst := []byte("{\"type\":\"PLAYER_JOINED\",\"client_id\":\"client_2\"}\n" +
		"{\"type\":\"PLAYER_JOINED\",\"client_id\":\"client_3\"}\n" +
		"\n" +
		"{\"type\":\"HEARTBEAT_ACK\"}\n")
	lines, err := buf.Feed(burst)
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	//1.- Blank lines are skipped, the three real frames come back in order.
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %d", len(lines))
	}
}

func TestLineBufferStripsCarriageReturn(t *testing.T) {
	buf := NewLineBuffer(0)
	lines, err := buf.Feed([]byte("{\"type\":\"HEARTBEAT_ACK\"}\r\n"))
	if err != nil {
		t.Fatalf("feed failed: %v", err)
	}
	if len(lines) != 1 || !bytes.Equal(lines[0], []byte(`{"type":"HEARTBEAT_ACK"}`)) {
		t.Fatalf("expected CR stripped, got %q", lines[0])
	}
}

func TestLineBufferRejectsOversizedSegment(t *testing.T) {
	buf := NewLineBuffer(16)
	//1.- A runaway segment with no newline must fail rather than grow forever.
	_, err := buf.Feed(bytes.Repeat([]byte("x"), 64))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if buf.Pending() != 0 {
		t.Fatal("expected buffer reset after overflow")
	}
}
