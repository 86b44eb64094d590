package statesync

import (
	"math"

	"slipstream/netcore/internal/protocol"
)

// lerpVec3 linearly blends between two vectors.
func lerpVec3(a, b protocol.Vec3, t float64) protocol.Vec3 {
	return protocol.Vec3{
		X: a.X + (b.X-a.X)*t,
		Y: a.Y + (b.Y-a.Y)*t,
		Z: a.Z + (b.Z-a.Z)*t,
	}
}

// distance returns the euclidean distance between two positions.
func distance(a, b protocol.Vec3) float64 {
	dx, dy, dz := b.X-a.X, b.Y-a.Y, b.Z-a.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// normalizeQuat rescales a quaternion to unit length, falling back to the
// identity when the input is degenerate.
func normalizeQuat(q protocol.Quat) protocol.Quat {
	mag := math.Sqrt(q.X*q.X + q.Y*q.Y + q.Z*q.Z + q.W*q.W)
	if mag == 0 || math.IsNaN(mag) {
		return protocol.Identity()
	}
	inv := 1.0 / mag
	return protocol.Quat{X: q.X * inv, Y: q.Y * inv, Z: q.Z * inv, W: q.W * inv}
}

// slerpQuat spherically blends between two rotations. The shorter arc is
// always taken so remote cars never spin the long way around.
func slerpQuat(a, b protocol.Quat, t float64) protocol.Quat {
	//1.- Flip the target hemisphere when the dot product is negative.
	dot := a.X*b.X + a.Y*b.Y + a.Z*b.Z + a.W*b.W
	if dot < 0 {
		b = protocol.Quat{X: -b.X, Y: -b.Y, Z: -b.Z, W: -b.W}
		dot = -dot
	}
	//2.- Nearly parallel rotations degrade gracefully to a normalized lerp.
	if dot > 0.9995 {
		return normalizeQuat(protocol.Quat{
			X: a.X + (b.X-a.X)*t,
			Y: a.Y + (b.Y-a.Y)*t,
			Z: a.Z + (b.Z-a.Z)*t,
			W: a.W + (b.W-a.W)*t,
		})
	}
	theta := math.Acos(dot)
	sinTheta := math.Sin(theta)
	wa := math.Sin((1-t)*theta) / sinTheta
	wb := math.Sin(t*theta) / sinTheta
	return normalizeQuat(protocol.Quat{
		X: a.X*wa + b.X*wb,
		Y: a.Y*wa + b.Y*wb,
		Z: a.Z*wa + b.Z*wb,
		W: a.W*wa + b.W*wb,
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
