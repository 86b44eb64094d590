package statesync

import (
	"math"
	"testing"

	"slipstream/netcore/internal/logging"
	"slipstream/netcore/internal/protocol"
)

func sample(playerID string, ts float64, pos protocol.Vec3) *protocol.PlayerState {
	return &protocol.PlayerState{
		PlayerID:  playerID,
		Position:  pos,
		Rotation:  protocol.Identity(),
		Timestamp: ts,
	}
}

func newTestSynchronizer() *Synchronizer {
	sync := NewSynchronizer(8.0, logging.NewTestLogger())
	sync.SetLocalID("client_local")
	return sync
}

func TestFirstContactTeleports(t *testing.T) {
	sync := newTestSynchronizer()

	//1.- The very first sample snaps the pose and creates the record.
	outcome := sync.ApplyState(sample("client_2", 1.0, protocol.Vec3{X: 50, Y: -2}))
	if outcome != OutcomeTeleport {
		t.Fatalf("expected teleport on first contact, got %s", outcome)
	}
	pose, ok := sync.Pose("client_2")
	if !ok || pose.Position.X != 50 {
		t.Fatalf("expected pose at x=50, got %+v ok=%v", pose, ok)
	}
}

func TestStaleStateIsANoOp(t *testing.T) {
	sync := newTestSynchronizer()
	sync.ApplyState(sample("client_2", 5.0, protocol.Vec3{X: 10}))

	//1.- An older timestamp must leave every piece of state untouched.
	before, _ := sync.Target("client_2")
	outcome := sync.ApplyState(sample("client_2", 4.0, protocol.Vec3{X: 99}))
	if outcome != OutcomeStale {
		t.Fatalf("expected stale outcome, got %s", outcome)
	}
	after, _ := sync.Target("client_2")
	if before != after {
		t.Fatalf("stale sample mutated state: before %+v after %+v", before, after)
	}
	if ts, _ := sync.LastTimestamp("client_2"); ts != 5.0 {
		t.Fatalf("expected last timestamp 5.0, got %g", ts)
	}
}

func TestOutOfOrderDatagramsResolveToNewest(t *testing.T) {
	sync := newTestSynchronizer()

	//1.- Timestamps 5.0 then 4.0 arrive out of network order.
	sync.ApplyState(sample("client_2", 3.0, protocol.Vec3{X: 1}))
	sync.ApplyState(sample("client_2", 5.0, protocol.Vec3{X: 2}))
	sync.ApplyState(sample("client_2", 4.0, protocol.Vec3{X: 7}))

	//2.- The applied target must correspond to the newest timestamp.
	target, _ := sync.Target("client_2")
	if target.Position.X != 2 {
		t.Fatalf("expected target from timestamp 5.0 (x=2), got x=%g", target.Position.X)
	}
}

func TestAppliedTimestampsAreMonotonic(t *testing.T) {
	sync := newTestSynchronizer()
	stamps := []float64{1, 3, 2, 5, 4, 6, 6, 0.5}

	last := math.Inf(-1)
	for _, ts := range stamps {
		outcome := sync.ApplyState(sample("client_2", ts, protocol.Vec3{X: ts}))
		if outcome == OutcomeStale {
			continue
		}
		//1.- Every applied sample must carry a timestamp >= the previous one.
		applied, _ := sync.LastTimestamp("client_2")
		if applied < last {
			t.Fatalf("applied timestamps rolled back: %g after %g", applied, last)
		}
		last = applied
	}
	if got, _ := sync.LastTimestamp("client_2"); got != 6 {
		t.Fatalf("expected final timestamp 6, got %g", got)
	}
}

func TestDesyncThresholdTriggersSnap(t *testing.T) {
	sync := newTestSynchronizer()
	sync.ApplyState(sample("client_2", 1.0, protocol.Vec3{}))

	//1.- A small delta becomes a blend target, leaving the current pose alone.
	outcome := sync.ApplyState(sample("client_2", 2.0, protocol.Vec3{X: 3}))
	if outcome != OutcomeBlend {
		t.Fatalf("expected blend inside threshold, got %s", outcome)
	}
	pose, _ := sync.Pose("client_2")
	if pose.Position.X != 0 {
		t.Fatalf("blend must not snap the current pose, got x=%g", pose.Position.X)
	}

	//2.- A delta past the threshold snaps both pose and target.
	outcome = sync.ApplyState(sample("client_2", 3.0, protocol.Vec3{X: 100}))
	if outcome != OutcomeTeleport {
		t.Fatalf("expected teleport beyond threshold, got %s", outcome)
	}
	pose, _ = sync.Pose("client_2")
	if pose.Position.X != 100 {
		t.Fatalf("teleport must snap the current pose, got x=%g", pose.Position.X)
	}
}

func TestStepBlendsTowardTarget(t *testing.T) {
	sync := newTestSynchronizer()
	sync.ApplyState(sample("client_2", 1.0, protocol.Vec3{}))
	sync.ApplyState(sample("client_2", 2.0, protocol.Vec3{X: 4}))

	//1.- Repeated small steps converge on the target without overshooting.
	prev := 0.0
	for i := 0; i < 50; i++ {
		sync.Step(1.0 / 60.0)
		pose, _ := sync.Pose("client_2")
		if pose.Position.X < prev {
			t.Fatalf("blend moved backwards at step %d: %g < %g", i, pose.Position.X, prev)
		}
		if pose.Position.X > 4.0001 {
			t.Fatalf("blend overshot the target: %g", pose.Position.X)
		}
		prev = pose.Position.X
	}
	if prev < 3.5 {
		t.Fatalf("blend converged too slowly, reached %g of 4", prev)
	}
}

func TestStepBlendsRotationAlongShortArc(t *testing.T) {
	sync := newTestSynchronizer()
	start := sample("client_2", 1.0, protocol.Vec3{})
	sync.ApplyState(start)

	//1.- Target a 90 degree yaw, presented on the negative hemisphere.
	turned := sample("client_2", 2.0, protocol.Vec3{X: 1})
	turned.Rotation = protocol.Quat{Y: -0.7071, W: -0.7071}
	sync.ApplyState(turned)

	for i := 0; i < 120; i++ {
		sync.Step(1.0 / 60.0)
	}
	pose, _ := sync.Pose("client_2")
	//2.- The blended quaternion must stay unit length and reach the target
	// orientation regardless of hemisphere sign.
	mag := math.Sqrt(pose.Rotation.X*pose.Rotation.X + pose.Rotation.Y*pose.Rotation.Y +
		pose.Rotation.Z*pose.Rotation.Z + pose.Rotation.W*pose.Rotation.W)
	if math.Abs(mag-1) > 1e-6 {
		t.Fatalf("rotation drifted off unit length: %g", mag)
	}
	if math.Abs(math.Abs(pose.Rotation.Y)-0.7071) > 0.01 {
		t.Fatalf("rotation did not converge: %+v", pose.Rotation)
	}
}

func TestLocalPlayerEchoIsIgnored(t *testing.T) {
	sync := newTestSynchronizer()
	if outcome := sync.ApplyState(sample("client_local", 1.0, protocol.Vec3{X: 5})); outcome != OutcomeIgnored {
		t.Fatalf("expected local echo ignored, got %s", outcome)
	}
	if sync.TrackedPlayers() != 0 {
		t.Fatal("local echo must not create a record")
	}
}

func TestRemoteInputRouting(t *testing.T) {
	sync := newTestSynchronizer()

	//1.- Remote inputs apply immediately, latest sample wins.
	if !sync.ApplyInput(&protocol.PlayerInput{PlayerID: "client_2", Steering: -0.5, Throttle: 1, Timestamp: 1}) {
		t.Fatal("remote input rejected")
	}
	if !sync.ApplyInput(&protocol.PlayerInput{PlayerID: "client_2", Steering: 0.25, Throttle: 0.5, Timestamp: 2}) {
		t.Fatal("remote input rejected")
	}
	input, ok := sync.Input("client_2")
	if !ok || input.Steering != 0.25 {
		t.Fatalf("expected latest input, got %+v ok=%v", input, ok)
	}

	//2.- Local inputs never route through the synchronizer.
	if sync.ApplyInput(&protocol.PlayerInput{PlayerID: "client_local", Throttle: 1}) {
		t.Fatal("local input must be ignored")
	}
}

func TestRecordLifetimeFollowsRoomMembership(t *testing.T) {
	sync := newTestSynchronizer()
	sync.ApplyState(sample("client_2", 1.0, protocol.Vec3{}))
	sync.ApplyState(sample("client_3", 1.0, protocol.Vec3{}))

	//1.- A disconnect removes exactly that player's record.
	sync.RemovePlayer("client_2")
	if _, ok := sync.Pose("client_2"); ok {
		t.Fatal("removed player still tracked")
	}
	if _, ok := sync.Pose("client_3"); !ok {
		t.Fatal("unrelated player lost its record")
	}

	//2.- After removal the next sample is first contact again.
	if outcome := sync.ApplyState(sample("client_2", 0.5, protocol.Vec3{X: 1})); outcome != OutcomeTeleport {
		t.Fatalf("expected teleport after record removal, got %s", outcome)
	}

	//3.- Leaving the room clears everything.
	sync.Reset()
	if sync.TrackedPlayers() != 0 {
		t.Fatal("reset left records behind")
	}
}
