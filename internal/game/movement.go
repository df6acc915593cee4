package game

import "math"

// Movement and physics integration shared by the authoritative tick and the
// client-side predictor. Both sides MUST run these exact functions over
// their own stores, or reconciliation replay diverges from the server.

// StepParams carries the per-room constants the integration needs. The same
// values are handed to the client at join so prediction matches.
type StepParams struct {
	Dt        float64 // fixed timestep, seconds
	MapRadius float64 // world disk radius
	Accel     float64 // linear acceleration toward the desired velocity
	SpeedCap  float64 // MaxSpeedBase * SpeedTolerance, post-clamp bound
}

const arriveEpsilon = 1e-3

// MovementStep computes the slot's new velocity from its input row: steer
// toward (targetX, targetY) with linear acceleration, bounded by the slot's
// configured max speed. Uses arrive semantics - the desired speed collapses
// to dist/dt near the target so the entity stops instead of orbiting.
func MovementStep(s *Stores, i int, p StepParams) {
	in := s.In(i)
	cf := s.Cf(i)
	x, y := s.Pos(i)

	dx := float64(in[InTargetX]) - x
	dy := float64(in[InTargetY]) - y
	dist := math.Hypot(dx, dy)

	maxSpeed := float64(cf[CfMaxSpeed]) * float64(cf[CfSpeedMul])

	var desiredX, desiredY float64
	if dist > arriveEpsilon {
		speed := math.Min(maxSpeed, dist/p.Dt)
		desiredX = dx / dist * speed
		desiredY = dy / dist * speed
	}

	vx, vy := s.Vel(i)
	dvx := desiredX - vx
	dvy := desiredY - vy
	dvLen := math.Hypot(dvx, dvy)
	maxDelta := p.Accel * p.Dt
	if dvLen > maxDelta && dvLen > 0 {
		scale := maxDelta / dvLen
		dvx *= scale
		dvy *= scale
	}
	s.SetVel(i, vx+dvx, vy+dvy)

	// Face the travel direction when actually moving.
	if nvx, nvy := s.Vel(i); nvx != 0 || nvy != 0 {
		s.Tr(i)[TrRot] = float32(math.Atan2(nvy, nvx))
	}
}

// PhysicsStep integrates one slot: record prev transform, advance position,
// apply friction, clamp to the world disk, and enforce the speed bound.
// Returns true when the speed bound was violated before clamping, so the
// caller can log it (a violation means some phase wrote a bad velocity).
func PhysicsStep(s *Stores, i int, p StepParams) bool {
	tr := s.Tr(i)
	ph := s.Ph(i)

	tr[TrPrevX] = tr[TrX]
	tr[TrPrevY] = tr[TrY]
	tr[TrPrevRot] = tr[TrRot]

	x, y := s.Pos(i)
	vx, vy := s.Vel(i)

	x += vx * p.Dt
	y += vy * p.Dt

	// Friction lane holds the per-second velocity retention factor.
	if f := float64(ph[PhFriction]); f > 0 && f < 1 {
		decay := math.Pow(f, p.Dt)
		vx *= decay
		vy *= decay
	}

	// World is a disk: clamp position to the boundary and kill the radial
	// velocity component so entities slide along the edge.
	if d := math.Hypot(x, y); d > p.MapRadius && d > 0 {
		nx, ny := x/d, y/d
		x = nx * p.MapRadius
		y = ny * p.MapRadius
		if radial := vx*nx + vy*ny; radial > 0 {
			vx -= radial * nx
			vy -= radial * ny
		}
	}

	violated := false
	if speed := math.Hypot(vx, vy); speed > p.SpeedCap && speed > 0 {
		scale := p.SpeedCap / speed
		vx *= scale
		vy *= scale
		violated = true
	}

	s.SetPos(i, x, y)
	s.SetVel(i, vx, vy)

	tr[TrRot] += ph[PhVRot] * float32(p.Dt)
	return violated
}

// PredictStep is the client-side composition of the two phases for a single
// slot. The server never calls this; it exists so the predictor cannot get
// the ordering wrong.
func PredictStep(s *Stores, i int, p StepParams) {
	MovementStep(s, i, p)
	PhysicsStep(s, i, p)
}
