package game

import "math"

// Food spawner. Each ring band has its own timer; when it fires the spawner
// places a burst of food at ring-appropriate radii. A global cap culls the
// oldest food first (FIFO) so the pool can never be starved by food.

// foodPigments maps food kinds to their pigment triples.
var foodPigments = [4][3]float32{
	FoodKindRed:     {1, 0.1, 0.1},
	FoodKindGreen:   {0.1, 1, 0.1},
	FoodKindBlue:    {0.1, 0.1, 1},
	FoodKindNeutral: {0.6, 0.6, 0.6},
}

// spawnerStep advances per-ring timers and fires due bursts.
func (e *Engine) spawnerStep(dt float64) {
	for r := range e.tun.Rings {
		e.spawnTimers[r] -= dt
		if e.spawnTimers[r] > 0 {
			continue
		}
		e.spawnTimers[r] = e.tun.Rings[r].SpawnInterval

		for n := 0; n < e.tun.Rings[r].BurstSize; n++ {
			e.spawnFood(r)
		}
	}

	for len(e.foodOrder) > e.cfg.MaxFood {
		e.cullOldestFood()
	}
}

// spawnFood allocates one food entity inside ring band r. Pool exhaustion is
// tolerated; food simply does not spawn this burst.
func (e *Engine) spawnFood(r int) {
	idx, err := e.pool.Allocate()
	if err != nil {
		return
	}

	ring := e.tun.Rings[r]
	// Uniform over the annulus area, not the radius, so density is even.
	outer2 := ring.OuterRadius * ring.OuterRadius
	inner2 := ring.InnerRadius * ring.InnerRadius
	d := math.Sqrt(inner2 + e.rng.Float64()*(outer2-inner2))
	theta := e.rng.Float64() * 2 * math.Pi
	x, y := d*math.Cos(theta), d*math.Sin(theta)

	kind := uint32(e.rng.Intn(len(foodPigments)))

	s := e.stores
	s.Flags[idx] = FlagActive | FlagFood | FoodKindBits(kind)
	s.SetPos(idx, x, y)
	tr := s.Tr(idx)
	tr[TrScale] = 1

	ph := s.Ph(idx)
	ph[PhRadius] = float32(ring.FoodRadius)
	ph[PhMass] = 1

	pg := s.Pg(idx)
	pig := foodPigments[kind]
	pg[PgR], pg[PgG], pg[PgB] = pig[0], pig[1], pig[2]

	e.grid.InsertStatic(uint16(idx), x, y)
	e.foodOrder = append(e.foodOrder, uint16(idx))
}

// releaseFood removes a food entity from the static grid layer and the pool.
// The FIFO entry is lazily skipped by cullOldestFood when stale.
func (e *Engine) releaseFood(idx int) {
	x, y := e.stores.Pos(idx)
	e.grid.RemoveStatic(uint16(idx), x, y)
	e.despawn(idx)
}

// cullOldestFood releases the oldest live food entity. Entries whose slot
// was already consumed (and possibly recycled to a non-food entity) are
// skipped.
func (e *Engine) cullOldestFood() {
	for len(e.foodOrder) > 0 {
		idx := int(e.foodOrder[0])
		e.foodOrder = e.foodOrder[1:]
		if e.pool.Live(idx) && e.stores.Has(idx, FlagActive|FlagFood) {
			e.releaseFood(idx)
			return
		}
	}
}

// compactFoodOrder drops consumed entries so the FIFO reflects live food.
// Called from the rules phase after consumption resolved.
func (e *Engine) compactFoodOrder() {
	n := 0
	for _, id := range e.foodOrder {
		if e.pool.Live(int(id)) && e.stores.Has(int(id), FlagActive|FlagFood) {
			e.foodOrder[n] = id
			n++
		}
	}
	e.foodOrder = e.foodOrder[:n]
}
