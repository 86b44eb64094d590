package wiretrace

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"slipstream/netcore/internal/logging"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestRecorderRoundTripMergesBothStreams(t *testing.T) {
	root := t.TempDir()
	rec, manifest, err := NewRecorder(root, "garage run #1", logging.NewTestLogger(), fixedClock(time.Unix(100, 0)))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	if manifest.ControlPath == "" || manifest.DatagramPath == "" {
		t.Fatalf("manifest missing stream paths: %+v", manifest)
	}

	//1.- Capture a mixed sequence across both channels and directions.
	rec.ControlFrame(true, []byte(`{"type":"register"}`))
	rec.DatagramFrame(true, []byte{0xde, 0xad, 0xbe, 0xef})
	rec.ControlFrame(false, []byte(`{"type":"registered","client_id":"client_1"}`))
	rec.DatagramFrame(false, []byte{0x01, 0x02})
	if err := rec.Close(); err != nil {
		t.Fatalf("close recorder: %v", err)
	}

	reader, err := Open(rec.Directory())
	if err != nil {
		t.Fatalf("open trace: %v", err)
	}
	entries := reader.Entries()
	if len(entries) != 4 {
		t.Fatalf("expected 4 entries, got %d", len(entries))
	}
	//2.- The merged timeline preserves capture order across streams.
	wantChannels := []Channel{ChannelControl, ChannelDatagram, ChannelControl, ChannelDatagram}
	wantOutbound := []bool{true, true, false, false}
	for i, entry := range entries {
		if entry.Channel != wantChannels[i] || entry.Outbound != wantOutbound[i] {
			t.Fatalf("entry %d = %s/%v, want %s/%v", i, entry.Channel, entry.Outbound, wantChannels[i], wantOutbound[i])
		}
	}
	if !bytes.Equal(entries[1].Payload, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("datagram payload did not survive: %x", entries[1].Payload)
	}
	if !bytes.Contains(entries[2].Payload, []byte("client_1")) {
		t.Fatalf("control payload did not survive: %s", entries[2].Payload)
	}
}

func TestRecorderSanitizesSessionLabel(t *testing.T) {
	root := t.TempDir()
	rec, _, err := NewRecorder(root, "../../etc passwd", logging.NewTestLogger(), fixedClock(time.Unix(200, 0)))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	defer rec.Close()

	//1.- The bundle directory stays inside the configured root.
	rel, err := filepath.Rel(root, rec.Directory())
	if err != nil || rel == ".." || filepath.IsAbs(rel) || len(rel) == 0 {
		t.Fatalf("bundle escaped root: %q (%v)", rec.Directory(), err)
	}
	if _, err := os.Stat(filepath.Join(rec.Directory(), manifestFileName)); err != nil {
		t.Fatalf("manifest missing: %v", err)
	}
}

func TestRecorderReplayWalksInOrder(t *testing.T) {
	root := t.TempDir()
	rec, _, err := NewRecorder(root, "replaywalk", logging.NewTestLogger(), fixedClock(time.Unix(300, 0)))
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.ControlFrame(true, []byte("a"))
	rec.ControlFrame(false, []byte("b"))
	if err := rec.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	//1.- Capture after close must be a silent no-op.
	rec.ControlFrame(true, []byte("late"))

	reader, err := Open(rec.Directory())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	var seen []string
	if err := reader.Replay(func(e Entry) error {
		seen = append(seen, string(e.Payload))
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seen) != 2 || seen[0] != "a" || seen[1] != "b" {
		t.Fatalf("replay order = %v", seen)
	}
}
