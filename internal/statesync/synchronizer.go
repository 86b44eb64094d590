// Package statesync reconciles inbound remote player state into temporally
// consistent poses: out-of-order samples are discarded, large drifts snap,
// and everything else blends smoothly across ticks.
package statesync

import (
	"sync"

	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

// Outcome classifies how an inbound sample was handled.
type Outcome int

const (
	// OutcomeIgnored means the sample targeted the local player or was invalid.
	OutcomeIgnored Outcome = iota
	// OutcomeStale means the sample was older than the last applied one.
	OutcomeStale
	// OutcomeTeleport means the pose snapped (first contact or desync).
	OutcomeTeleport
	// OutcomeBlend means the sample became the new interpolation target.
	OutcomeBlend
)

func (o Outcome) String() string {
	switch o {
	case OutcomeStale:
		return "stale"
	case OutcomeTeleport:
		return "teleport"
	case OutcomeBlend:
		return "blend"
	default:
		return "ignored"
	}
}

// Pose is the locally usable transform of one remote player.
type Pose struct {
	Position        protocol.Vec3
	Rotation        protocol.Quat
	Velocity        protocol.Vec3
	AngularVelocity protocol.Vec3
}

// record tracks per-remote-player synchronization state. Its lifetime matches
// the player's membership in the active room.
type record struct {
	lastTimestamp float64
	current       Pose
	target        Pose
	input         protocol.PlayerInput
	hasInput      bool
}

// DefaultBlendRate controls how quickly a pose converges on its target, in
// fraction-per-second terms fed to Step.
const DefaultBlendRate = 10.0

// Synchronizer owns the per-remote-player timestamps and interpolation
// targets. All methods are called from the consumer goroutine; the mutex only
// guards read access from diagnostics.
type Synchronizer struct {
	mu        sync.RWMutex
	localID   string
	threshold float64
	blendRate float64
	records   map[string]*record
	logger    *logging.Logger
}

// NewSynchronizer constructs a synchronizer with the given desync threshold.
func NewSynchronizer(threshold float64, logger *logging.Logger) *Synchronizer {
	if threshold <= 0 {
		threshold = 8.0
	}
	if logger == nil {
		logger = logging.L()
	}
	return &Synchronizer{
		threshold: threshold,
		blendRate: DefaultBlendRate,
		records:   make(map[string]*record),
		logger:    logger.With(logging.String("component", "statesync")),
	}
}

// SetLocalID records the local client identifier so its own echoes are ignored.
func (s *Synchronizer) SetLocalID(id string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.localID = id
	s.mu.Unlock()
}

// ApplyState reconciles one inbound remote sample.
func (s *Synchronizer) ApplyState(state *protocol.PlayerState) Outcome {
	if s == nil || state == nil || state.PlayerID == "" {
		return OutcomeIgnored
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	//1.- The local player's own state is authoritative locally; drop echoes.
	if state.PlayerID == s.localID {
		return OutcomeIgnored
	}

	pose := Pose{
		Position:        state.Position,
		Rotation:        normalizeQuat(state.Rotation),
		Velocity:        state.Velocity,
		AngularVelocity: state.AngularVelocity,
	}

	rec, ok := s.records[state.PlayerID]
	if !ok {
		//2.- First contact snaps directly and creates the tracking record.
		s.records[state.PlayerID] = &record{
			lastTimestamp: state.Timestamp,
			current:       pose,
			target:        pose,
		}
		return OutcomeTeleport
	}

	//3.- A sample older than the last applied one is already superseded.
	if state.Timestamp < rec.lastTimestamp {
		s.logger.Debug("discarding stale player state",
			logging.String("player_id", state.PlayerID),
			logging.Float64("timestamp", state.Timestamp),
			logging.Float64("last_applied", rec.lastTimestamp))
		return OutcomeStale
	}
	rec.lastTimestamp = state.Timestamp

	//4.- Beyond the desync threshold, snapping beats visible rubber-banding.
	if distance(rec.target.Position, pose.Position) > s.threshold {
		rec.current = pose
		rec.target = pose
		return OutcomeTeleport
	}
	rec.target = pose
	return OutcomeBlend
}

// ApplyInput stores the latest remote control sample for prediction. Inputs
// carry no staleness check; they are only routed away from the local player.
func (s *Synchronizer) ApplyInput(input *protocol.PlayerInput) bool {
	if s == nil || input == nil || input.PlayerID == "" {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if input.PlayerID == s.localID {
		return false
	}
	rec, ok := s.records[input.PlayerID]
	if !ok {
		rec = &record{}
		s.records[input.PlayerID] = rec
	}
	rec.input = *input
	rec.hasInput = true
	return true
}

// Step advances every pose toward its interpolation target: linear blends for
// position and velocity, spherical for rotation.
func (s *Synchronizer) Step(dt float64) {
	if s == nil || dt <= 0 {
		return
	}
	factor := clamp01(dt * s.blendRate)
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range s.records {
		rec.current.Position = lerpVec3(rec.current.Position, rec.target.Position, factor)
		rec.current.Velocity = lerpVec3(rec.current.Velocity, rec.target.Velocity, factor)
		rec.current.AngularVelocity = lerpVec3(rec.current.AngularVelocity, rec.target.AngularVelocity, factor)
		rec.current.Rotation = slerpQuat(rec.current.Rotation, rec.target.Rotation, factor)
	}
}

// Pose returns the current blended pose for a remote player.
func (s *Synchronizer) Pose(playerID string) (Pose, bool) {
	if s == nil {
		return Pose{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[playerID]
	if !ok {
		return Pose{}, false
	}
	return rec.current, true
}

// Target returns the pending interpolation target for a remote player.
func (s *Synchronizer) Target(playerID string) (Pose, bool) {
	if s == nil {
		return Pose{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[playerID]
	if !ok {
		return Pose{}, false
	}
	return rec.target, true
}

// Input returns the most recent remote control sample, if any arrived.
func (s *Synchronizer) Input(playerID string) (protocol.PlayerInput, bool) {
	if s == nil {
		return protocol.PlayerInput{}, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[playerID]
	if !ok || !rec.hasInput {
		return protocol.PlayerInput{}, false
	}
	return rec.input, true
}

// LastTimestamp exposes the last applied sample time for a remote player.
func (s *Synchronizer) LastTimestamp(playerID string) (float64, bool) {
	if s == nil {
		return 0, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[playerID]
	if !ok {
		return 0, false
	}
	return rec.lastTimestamp, true
}

// RemovePlayer drops the synchronization record when a player leaves the room.
func (s *Synchronizer) RemovePlayer(playerID string) {
	if s == nil || playerID == "" {
		return
	}
	s.mu.Lock()
	delete(s.records, playerID)
	s.mu.Unlock()
}

// Reset clears every record, used when leaving a room or disconnecting.
func (s *Synchronizer) Reset() {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.records = make(map[string]*record)
	s.mu.Unlock()
}

// TrackedPlayers reports how many remote players currently have records.
func (s *Synchronizer) TrackedPlayers() int {
	if s == nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
