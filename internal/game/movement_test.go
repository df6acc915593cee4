package game

import (
	"math"
	"testing"
)

func testParams() StepParams {
	return StepParams{
		Dt:        0.05,
		MapRadius: 2000,
		Accel:     600,
		SpeedCap:  165,
	}
}

func newUnitAt(s *Stores, i int, x, y float64) {
	s.Flags[i] = FlagActive | FlagPlayer
	s.SetPos(i, x, y)
	s.Cf(i)[CfMaxSpeed] = 150
	s.Cf(i)[CfSpeedMul] = 1
	s.Ph(i)[PhFriction] = 0.12
}

// TestMovementOneTickBound verifies one tick never moves an entity farther
// than max speed times dt (plus float slack).
func TestMovementOneTickBound(t *testing.T) {
	s := NewStores(1)
	p := testParams()
	newUnitAt(s, 0, 0, 0)
	// A velocity already at max, aimed at a distant target.
	s.SetVel(0, 150, 0)
	s.SetInput(0, 1000, 0, 0)

	MovementStep(s, 0, p)
	PhysicsStep(s, 0, p)

	x, y := s.Pos(0)
	dist := math.Hypot(x, y)
	if max := 150*p.Dt + 1e-3; dist > max {
		t.Errorf("moved %v in one tick, bound %v", dist, max)
	}
}

// TestMovementArrive verifies the entity stops at a near target instead of
// orbiting it.
func TestMovementArrive(t *testing.T) {
	s := NewStores(1)
	p := testParams()
	newUnitAt(s, 0, 0, 0)
	s.SetInput(0, 3, 0, 0)

	for i := 0; i < 100; i++ {
		MovementStep(s, 0, p)
		PhysicsStep(s, 0, p)
	}

	x, _ := s.Pos(0)
	if math.Abs(x-3) > 0.5 {
		t.Errorf("settled at x=%v, want ~3", x)
	}
	vx, vy := s.Vel(0)
	if math.Hypot(vx, vy) > 1 {
		t.Errorf("still moving at speed %v near target", math.Hypot(vx, vy))
	}
}

// TestPhysicsDiskClamp verifies positions clamp to the world boundary and
// the outward velocity component dies there.
func TestPhysicsDiskClamp(t *testing.T) {
	s := NewStores(1)
	p := testParams()
	newUnitAt(s, 0, p.MapRadius-1, 0)
	s.SetVel(0, 100, 50)
	s.Ph(0)[PhFriction] = 0 // isolate the clamp

	PhysicsStep(s, 0, p)

	x, y := s.Pos(0)
	if d := math.Hypot(x, y); d > p.MapRadius+1e-3 {
		t.Errorf("position radius %v exceeds map radius %v", d, p.MapRadius)
	}
	vx, vy := s.Vel(0)
	// At the boundary on the +x axis the radial direction is ~(1, 0).
	if vx > 1e-3 {
		t.Errorf("outward radial velocity survived the clamp: vx=%v", vx)
	}
	if math.Abs(vy-50) > 1 {
		t.Errorf("tangential velocity should survive, vy=%v", vy)
	}
}

// TestPhysicsSpeedCap verifies an over-cap velocity is clamped and reported.
func TestPhysicsSpeedCap(t *testing.T) {
	s := NewStores(1)
	p := testParams()
	newUnitAt(s, 0, 0, 0)
	s.Ph(0)[PhFriction] = 0
	s.SetVel(0, 500, 0)

	violated := PhysicsStep(s, 0, p)
	if !violated {
		t.Fatal("speed violation not reported")
	}
	vx, vy := s.Vel(0)
	if speed := math.Hypot(vx, vy); speed > p.SpeedCap+1e-3 {
		t.Errorf("speed %v exceeds cap %v after clamp", speed, p.SpeedCap)
	}
}

// TestPhysicsPrevLanes verifies the previous transform is saved before
// integration (interpolation depends on it).
func TestPhysicsPrevLanes(t *testing.T) {
	s := NewStores(1)
	p := testParams()
	newUnitAt(s, 0, 10, 20)
	s.SetVel(0, 100, 0)

	PhysicsStep(s, 0, p)

	tr := s.Tr(0)
	if tr[TrPrevX] != 10 || tr[TrPrevY] != 20 {
		t.Errorf("prev = (%v, %v), want (10, 20)", tr[TrPrevX], tr[TrPrevY])
	}
	if tr[TrX] == tr[TrPrevX] {
		t.Error("position did not advance")
	}
}

// TestPredictStepMatchesServerPhases verifies the client composition equals
// movement followed by physics, input for input.
func TestPredictStepMatchesServerPhases(t *testing.T) {
	p := testParams()

	server := NewStores(1)
	clientS := NewStores(1)
	newUnitAt(server, 0, 5, -3)
	newUnitAt(clientS, 0, 5, -3)

	targets := [][2]float64{{100, 50}, {100, 50}, {-40, 80}, {0, 0}}
	for _, tg := range targets {
		server.SetInput(0, tg[0], tg[1], 0)
		MovementStep(server, 0, p)
		PhysicsStep(server, 0, p)

		clientS.SetInput(0, tg[0], tg[1], 0)
		PredictStep(clientS, 0, p)
	}

	sx, sy := server.Pos(0)
	cx, cy := clientS.Pos(0)
	if sx != cx || sy != cy {
		t.Errorf("client (%v,%v) diverged from server (%v,%v)", cx, cy, sx, sy)
	}
}
