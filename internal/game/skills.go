package game

// Skill phase and the per-entity effect table.
//
// Individual skill formulas are hooks; the core only owns timing (cooldown,
// duration) and a single magnitude scalar per skill. Durable buffs and timed
// multipliers are tagged records in a fixed-capacity per-entity vector,
// looked up linearly.

// Effect flags. A record's flag tells the phases which lane it modifies.
const (
	EffectDash uint32 = 1 << iota
	EffectSlow
	EffectShield
)

// MaxEffectsPerEntity bounds the per-entity effect vector. Adding beyond the
// cap fails; skills that cannot record their effect do not fire.
const MaxEffectsPerEntity = 4

// Effect is one tagged record: a flag, a remaining timer (seconds; <= 0 is
// durable until removed), and one scalar payload.
type Effect struct {
	Flag   uint32
	Timer  float32
	Scalar float32
}

// EffectTable holds MaxEffectsPerEntity records per slot in one flat array.
type EffectTable struct {
	rows []Effect
}

// NewEffectTable allocates the table at pool capacity.
func NewEffectTable(capacity int) *EffectTable {
	return &EffectTable{rows: make([]Effect, capacity*MaxEffectsPerEntity)}
}

func (t *EffectTable) row(i int) []Effect {
	o := i * MaxEffectsPerEntity
	return t.rows[o : o+MaxEffectsPerEntity : o+MaxEffectsPerEntity]
}

// Add inserts a record into the slot's vector, replacing an existing record
// with the same flag. Returns false when the vector is full.
func (t *EffectTable) Add(i int, e Effect) bool {
	row := t.row(i)
	for j := range row {
		if row[j].Flag == e.Flag {
			row[j] = e
			return true
		}
	}
	for j := range row {
		if row[j].Flag == 0 {
			row[j] = e
			return true
		}
	}
	return false
}

// Active returns the scalar of the slot's record with the given flag.
func (t *EffectTable) Active(i int, flag uint32) (float64, bool) {
	row := t.row(i)
	for j := range row {
		if row[j].Flag == flag {
			return float64(row[j].Scalar), true
		}
	}
	return 0, false
}

// Tick decrements timers and expires timed records for one slot.
func (t *EffectTable) Tick(i int, dt float64) {
	row := t.row(i)
	for j := range row {
		if row[j].Flag == 0 || row[j].Timer <= 0 {
			continue
		}
		row[j].Timer -= float32(dt)
		if row[j].Timer <= 0 {
			row[j] = Effect{}
		}
	}
}

// ClearRow wipes the slot's vector (entity released or respawned).
func (t *EffectTable) ClearRow(i int) {
	row := t.row(i)
	for j := range row {
		row[j] = Effect{}
	}
}

// skillStep runs the skill phase for one active entity: decrement cooldowns,
// then honor queued actions. A space action fires only when the server-side
// cooldown has elapsed; clients may fire optimistically and are silently
// rejected here.
func (e *Engine) skillStep(i int, dt float64) {
	sk := e.stores.Sk(i)
	if sk[SkCooldown] > 0 {
		sk[SkCooldown] -= float32(dt)
	}
	if sk[SkPayload0] > 0 { // eject cooldown lane
		sk[SkPayload0] -= float32(dt)
	}
	e.effects.Tick(i, dt)

	actions := e.stores.Actions(i)
	if actions == 0 {
		return
	}

	if actions&ActionSpace != 0 && sk[SkCooldown] <= 0 {
		dash := e.tun.Skills.Dash
		if e.effects.Add(i, Effect{
			Flag:   EffectDash,
			Timer:  float32(dash.Duration),
			Scalar: float32(dash.Magnitude),
		}) {
			sk[SkCooldown] = float32(dash.Cooldown)
			sk[SkKindID] = float32(dash.ID)
		}
	}

	if actions&ActionEject != 0 && sk[SkPayload0] <= 0 {
		eject := e.tun.Skills.Eject
		e.stores.AddMatch(i, -eject.Magnitude)
		sk[SkPayload0] = float32(eject.Cooldown)
	}

	// Actions are consumed by the skill phase; movement keeps the target.
	e.stores.In(i)[InActions] = 0
}

// speedMultiplier composes the ring band multiplier with any active dash.
func (e *Engine) speedMultiplier(i int) float64 {
	ring := int(e.stores.Cf(i)[cfRingLane])
	mul := 1.0
	if ring >= 0 && ring < len(e.tun.Rings) {
		mul = e.tun.Rings[ring].SpeedMultiplier
	}
	if boost, ok := e.effects.Active(i, EffectDash); ok {
		mul *= boost
	}
	return mul
}
