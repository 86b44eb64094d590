// Package wiretrace captures raw wire traffic to a compressed on-disk bundle
// for offline protocol debugging. The recorder plugs into the transports as a
// tap and never blocks or fails the hot path: capture errors are logged and
// the trace degrades, the connection does not.
package wiretrace

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"

	"slipstream/netcore/internal/logging"
)

var sessionNameCleaner = regexp.MustCompile(`[^a-zA-Z0-9_-]+`)

const (
	controlFileName  = "control.jsonl.sz"
	datagramFileName = "datagrams.bin.zst"
	manifestFileName = "manifest.json"

	directionInbound  = byte(0)
	directionOutbound = byte(1)
)

// Manifest describes the trace bundle layout so tooling can locate artefacts.
type Manifest struct {
	Version      int    `json:"version"`
	CreatedAt    string `json:"created_at"`
	ControlPath  string `json:"control_path"`
	DatagramPath string `json:"datagram_path"`
}

// Recorder streams captured frames into the trace bundle. It satisfies the
// transport tap interface.
type Recorder struct {
	mu     sync.Mutex
	dir    string
	now    func() time.Time
	logger *logging.Logger

	controlFile    *os.File
	controlStream  *snappy.Writer
	datagramFile   *os.File
	datagramStream *zstd.Encoder
	closed         bool
}

// NewRecorder prepares a fresh trace directory under root and opens the
// compressed sinks. The session label only influences the directory name.
func NewRecorder(root, session string, logger *logging.Logger, clock func() time.Time) (*Recorder, Manifest, error) {
	if root == "" {
		return nil, Manifest{}, fmt.Errorf("trace root must be provided")
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = logging.L()
	}

	cleaned := sessionNameCleaner.ReplaceAllString(session, "")
	if cleaned == "" {
		cleaned = "session"
	}
	created := clock().UTC()
	folder := fmt.Sprintf("%s-%s", cleaned, created.Format("20060102T150405Z"))
	path := filepath.Join(root, folder)

	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, Manifest{}, err
	}

	controlFile, err := os.Create(filepath.Join(path, controlFileName))
	if err != nil {
		return nil, Manifest{}, err
	}
	controlStream := snappy.NewBufferedWriter(controlFile)

	datagramFile, err := os.Create(filepath.Join(path, datagramFileName))
	if err != nil {
		controlFile.Close()
		return nil, Manifest{}, err
	}
	datagramStream, err := zstd.NewWriter(datagramFile)
	if err != nil {
		controlStream.Close()
		controlFile.Close()
		datagramFile.Close()
		return nil, Manifest{}, err
	}

	manifest := Manifest{
		Version:      1,
		CreatedAt:    created.Format(time.RFC3339Nano),
		ControlPath:  controlFileName,
		DatagramPath: datagramFileName,
	}
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err == nil {
		err = os.WriteFile(filepath.Join(path, manifestFileName), data, 0o644)
	}
	if err != nil {
		datagramStream.Close()
		datagramFile.Close()
		controlStream.Close()
		controlFile.Close()
		return nil, Manifest{}, err
	}

	return &Recorder{
		dir:            path,
		now:            clock,
		logger:         logger.With(logging.String("component", "wiretrace")),
		controlFile:    controlFile,
		controlStream:  controlStream,
		datagramFile:   datagramFile,
		datagramStream: datagramStream,
	}, manifest, nil
}

// Directory exposes the directory backing the trace bundle.
func (r *Recorder) Directory() string {
	if r == nil {
		return ""
	}
	return r.dir
}

// ControlFrame records one reliable-channel frame as a compressed JSON line.
func (r *Recorder) ControlFrame(outbound bool, frame []byte) {
	if r == nil {
		return
	}
	captured := r.now().UTC()

	record := struct {
		CapturedAt string `json:"captured_at"`
		Direction  string `json:"direction"`
		PayloadB64 string `json:"payload_b64"`
	}{
		CapturedAt: captured.Format(time.RFC3339Nano),
		Direction:  directionLabel(outbound),
		PayloadB64: base64.StdEncoding.EncodeToString(frame),
	}
	line, err := json.Marshal(record)
	if err != nil {
		r.logger.Warn("control frame capture failed", logging.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.controlStream.Write(append(line, '\n')); err != nil {
		r.logger.Warn("control trace write failed", logging.Error(err))
		return
	}
	if err := r.controlStream.Flush(); err != nil {
		r.logger.Warn("control trace flush failed", logging.Error(err))
	}
}

// DatagramFrame records one unreliable-channel frame. Frames are written
// length-prefixed so readers can step the stream without a delimiter scan.
func (r *Recorder) DatagramFrame(outbound bool, frame []byte) {
	if r == nil {
		return
	}
	captured := r.now().UTC()

	//1.- Fixed header: capture time, direction, payload length.
	header := make([]byte, 8+1+4)
	binary.LittleEndian.PutUint64(header[0:8], uint64(captured.UnixNano()))
	header[8] = directionInbound
	if outbound {
		header[8] = directionOutbound
	}
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(frame)))

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if _, err := r.datagramStream.Write(header); err != nil {
		r.logger.Warn("datagram trace write failed", logging.Error(err))
		return
	}
	if _, err := r.datagramStream.Write(frame); err != nil {
		r.logger.Warn("datagram trace write failed", logging.Error(err))
	}
}

// Close flushes both streams and releases the file handles. The first
// failure is surfaced; every close still runs.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	var firstErr error
	if err := r.controlStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.controlFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.datagramStream.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := r.datagramFile.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func directionLabel(outbound bool) string {
	if outbound {
		return "out"
	}
	return "in"
}
