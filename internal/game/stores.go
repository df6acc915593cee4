package game

import "math"

// Component stores are parallel typed arrays (struct-of-arrays), one row per
// entity slot. The stores are the ONLY truth about an entity; snapshots and
// render entities are projections, never mirrored object graphs.
//
// Rows are meaningless unless the slot's FlagActive bit is set; every reader
// must gate on it. All lanes are float32 for cache density and because the
// wire format carries f32; simulation math runs in float64 and rounds on
// store.

// Lane offsets per store. Strides are powers of two so row addressing is a
// shift, not a multiply.
const (
	TransformStride = 8
	TrX             = 0
	TrY             = 1
	TrRot           = 2
	TrScale         = 3
	TrPrevX         = 4
	TrPrevY         = 5
	TrPrevRot       = 6

	PhysicsStride = 8
	PhVX          = 0
	PhVY          = 1
	PhVRot        = 2
	PhMass        = 3
	PhRadius      = 4
	PhRestitution = 5
	PhFriction    = 6

	StatsStride  = 8
	StCurHP      = 0
	StMaxHP      = 1
	StScore      = 2
	StMatch      = 3
	StDefense    = 4
	StDamageMult = 5

	InputStride   = 4
	InTargetX     = 0
	InTargetY     = 1
	InActions     = 2 // u32 bitmask stored in the f32 lane; values stay tiny

	ConfigStride  = 4
	CfMaxSpeed    = 0
	CfSpeedMul    = 1
	CfMagnetRange = 2

	SkillStride = 8
	SkCooldown  = 0
	SkDuration  = 1
	SkKindID    = 2
	SkPayload0  = 3

	PigmentStride = 8
	PgR           = 0
	PgG           = 1
	PgB           = 2
	PgMatch       = 3
	PgTargetR     = 4
	PgTargetG     = 5
	PgTargetB     = 6
)

// Stores holds every component array at pool capacity.
type Stores struct {
	capacity  int
	Flags     []uint32
	Transform []float32
	Physics   []float32
	Stats     []float32
	Input     []float32
	Config    []float32
	Skill     []float32
	Pigment   []float32
}

// NewStores allocates all component arrays up front. Nothing grows after
// this; the tick never allocates store memory.
func NewStores(capacity int) *Stores {
	return &Stores{
		capacity:  capacity,
		Flags:     make([]uint32, capacity),
		Transform: make([]float32, capacity*TransformStride),
		Physics:   make([]float32, capacity*PhysicsStride),
		Stats:     make([]float32, capacity*StatsStride),
		Input:     make([]float32, capacity*InputStride),
		Config:    make([]float32, capacity*ConfigStride),
		Skill:     make([]float32, capacity*SkillStride),
		Pigment:   make([]float32, capacity*PigmentStride),
	}
}

// Capacity returns the number of rows in every store.
func (s *Stores) Capacity() int { return s.capacity }

// Row views. The returned slices alias store memory with capacity pinned to
// the row, so an append can never bleed into the neighbor's lanes.

func (s *Stores) Tr(i int) []float32 {
	o := i * TransformStride
	return s.Transform[o : o+TransformStride : o+TransformStride]
}

func (s *Stores) Ph(i int) []float32 {
	o := i * PhysicsStride
	return s.Physics[o : o+PhysicsStride : o+PhysicsStride]
}

func (s *Stores) St(i int) []float32 {
	o := i * StatsStride
	return s.Stats[o : o+StatsStride : o+StatsStride]
}

func (s *Stores) In(i int) []float32 {
	o := i * InputStride
	return s.Input[o : o+InputStride : o+InputStride]
}

func (s *Stores) Cf(i int) []float32 {
	o := i * ConfigStride
	return s.Config[o : o+ConfigStride : o+ConfigStride]
}

func (s *Stores) Sk(i int) []float32 {
	o := i * SkillStride
	return s.Skill[o : o+SkillStride : o+SkillStride]
}

func (s *Stores) Pg(i int) []float32 {
	o := i * PigmentStride
	return s.Pigment[o : o+PigmentStride : o+PigmentStride]
}

// ClearRow zeroes every component row for a slot. Called on release so a
// recycled slot starts from all-zero state.
func (s *Stores) ClearRow(i int) {
	s.Flags[i] = 0
	clearF32(s.Tr(i))
	clearF32(s.Ph(i))
	clearF32(s.St(i))
	clearF32(s.In(i))
	clearF32(s.Cf(i))
	clearF32(s.Sk(i))
	clearF32(s.Pg(i))
}

func clearF32(row []float32) {
	for j := range row {
		row[j] = 0
	}
}

// Convenience accessors used on hot paths. Position and velocity convert to
// float64 once so phase math does not round per operation.

func (s *Stores) Pos(i int) (x, y float64) {
	tr := s.Tr(i)
	return float64(tr[TrX]), float64(tr[TrY])
}

func (s *Stores) SetPos(i int, x, y float64) {
	tr := s.Tr(i)
	tr[TrX] = float32(x)
	tr[TrY] = float32(y)
}

func (s *Stores) Vel(i int) (vx, vy float64) {
	ph := s.Ph(i)
	return float64(ph[PhVX]), float64(ph[PhVY])
}

func (s *Stores) SetVel(i int, vx, vy float64) {
	ph := s.Ph(i)
	ph[PhVX] = float32(vx)
	ph[PhVY] = float32(vy)
}

func (s *Stores) Radius(i int) float64 { return float64(s.Ph(i)[PhRadius]) }

// Actions reads the input actions bitmask for a slot.
func (s *Stores) Actions(i int) uint32 { return uint32(s.In(i)[InActions]) }

// SetInput writes one consumed input into the slot's input row.
func (s *Stores) SetInput(i int, targetX, targetY float64, actions uint32) {
	in := s.In(i)
	in[InTargetX] = float32(targetX)
	in[InTargetY] = float32(targetY)
	in[InActions] = float32(actions)
}

// Has reports whether every bit in mask is set on the slot.
func (s *Stores) Has(i int, mask uint32) bool { return s.Flags[i]&mask == mask }

// SetFlags ors mask into the slot's flags word.
func (s *Stores) SetFlags(i int, mask uint32) { s.Flags[i] |= mask }

// ClearFlags removes mask from the slot's flags word.
func (s *Stores) ClearFlags(i int, mask uint32) { s.Flags[i] &^= mask }

// MatchPercent returns the pigment match in [0,1].
func (s *Stores) MatchPercent(i int) float64 { return float64(s.Pg(i)[PgMatch]) }

// AddMatch adjusts the pigment match, clamped to [0,1], and mirrors it into
// the stats lane the snapshot endpoint reads.
func (s *Stores) AddMatch(i int, delta float64) {
	m := float64(s.Pg(i)[PgMatch]) + delta
	m = math.Max(0, math.Min(1, m))
	s.Pg(i)[PgMatch] = float32(m)
	s.St(i)[StMatch] = float32(m)
}
