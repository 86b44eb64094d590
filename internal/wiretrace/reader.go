package wiretrace

import (
	"bufio"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Channel names which wire a captured frame travelled on.
type Channel string

const (
	// ChannelControl marks frames from the reliable channel.
	ChannelControl Channel = "control"
	// ChannelDatagram marks frames from the unreliable channel.
	ChannelDatagram Channel = "datagram"
)

// Entry is a single captured frame ready for inspection.
type Entry struct {
	CapturedAt time.Time
	Channel    Channel
	Outbound   bool
	Payload    []byte
}

// Reader rehydrates a trace bundle for offline analysis.
type Reader struct {
	entries []Entry
}

// Open loads every frame from the bundle directory, merging both streams
// into one capture-time ordered timeline.
func Open(dir string) (*Reader, error) {
	if dir == "" {
		return nil, fmt.Errorf("trace directory must be provided")
	}
	manifestData, err := os.ReadFile(filepath.Join(dir, manifestFileName))
	if err != nil {
		return nil, fmt.Errorf("read trace manifest: %w", err)
	}
	var manifest Manifest
	if err := json.Unmarshal(manifestData, &manifest); err != nil {
		return nil, fmt.Errorf("parse trace manifest: %w", err)
	}

	control, err := readControl(filepath.Join(dir, manifest.ControlPath))
	if err != nil {
		return nil, err
	}
	datagrams, err := readDatagrams(filepath.Join(dir, manifest.DatagramPath))
	if err != nil {
		return nil, err
	}

	entries := append(control, datagrams...)
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CapturedAt.Before(entries[j].CapturedAt)
	})
	return &Reader{entries: entries}, nil
}

// Entries exposes a defensive copy of the merged timeline.
func (r *Reader) Entries() []Entry {
	if r == nil {
		return nil
	}
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Replay walks the timeline in capture order.
func (r *Reader) Replay(apply func(Entry) error) error {
	if r == nil {
		return fmt.Errorf("reader not initialised")
	}
	if apply == nil {
		return fmt.Errorf("replay callback must be provided")
	}
	for _, entry := range r.entries {
		if err := apply(entry); err != nil {
			return err
		}
	}
	return nil
}

func readControl(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var entries []Entry
	scanner := bufio.NewScanner(snappy.NewReader(file))
	for scanner.Scan() {
		var record struct {
			CapturedAt string `json:"captured_at"`
			Direction  string `json:"direction"`
			PayloadB64 string `json:"payload_b64"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &record); err != nil {
			return nil, fmt.Errorf("parse control trace line: %w", err)
		}
		captured, err := time.Parse(time.RFC3339Nano, record.CapturedAt)
		if err != nil {
			return nil, fmt.Errorf("parse control captured_at: %w", err)
		}
		payload, err := base64.StdEncoding.DecodeString(record.PayloadB64)
		if err != nil {
			return nil, fmt.Errorf("decode control payload: %w", err)
		}
		entries = append(entries, Entry{
			CapturedAt: captured,
			Channel:    ChannelControl,
			Outbound:   record.Direction == "out",
			Payload:    payload,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

func readDatagrams(path string) ([]Entry, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	decoder, err := zstd.NewReader(file)
	if err != nil {
		return nil, err
	}
	defer decoder.Close()

	var entries []Entry
	header := make([]byte, 8+1+4)
	for {
		//1.- Each record is a fixed header followed by the raw payload.
		if _, err := io.ReadFull(decoder, header); err != nil {
			if err == io.EOF {
				return entries, nil
			}
			return nil, fmt.Errorf("read datagram trace header: %w", err)
		}
		captured := time.Unix(0, int64(binary.LittleEndian.Uint64(header[0:8]))).UTC()
		outbound := header[8] == directionOutbound
		payload := make([]byte, binary.LittleEndian.Uint32(header[9:13]))
		if _, err := io.ReadFull(decoder, payload); err != nil {
			return nil, fmt.Errorf("read datagram trace payload: %w", err)
		}
		entries = append(entries, Entry{
			CapturedAt: captured,
			Channel:    ChannelDatagram,
			Outbound:   outbound,
			Payload:    payload,
		})
	}
}
