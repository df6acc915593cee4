package game

import "math"

// Ring progression. The arena is divided into radial bands (outer, middle,
// inner, core). A player commits to the next deeper ring when its pigment
// match crosses that ring's entry threshold while the player is physically
// inside the current ring's inner band. Commitment is one-way for a life;
// respawn resets to the outermost ring.

// cfRingLane is the Config store lane holding the committed ring index.
const cfRingLane = 3

// innerBandFraction defines "within the inner band": the innermost portion
// of the current ring, measured from its inner edge.
const innerBandFraction = 0.25

// ringStep checks one player for a ring transition.
func (e *Engine) ringStep(i int) {
	cf := e.stores.Cf(i)
	cur := int(cf[cfRingLane])
	next := cur + 1
	if next >= len(e.tun.Rings) {
		return // already committed to the core
	}

	if e.stores.MatchPercent(i) < e.tun.Rings[next].EntryMatch {
		return
	}

	x, y := e.stores.Pos(i)
	d := math.Hypot(x, y)

	// Inner band of the current ring: close to its inner edge.
	curRing := e.tun.Rings[cur]
	band := curRing.InnerRadius + (curRing.OuterRadius-curRing.InnerRadius)*innerBandFraction
	if d > band {
		return
	}

	cf[cfRingLane] = float32(next)
	cf[CfSpeedMul] = float32(e.tun.Rings[next].SpeedMultiplier)
	e.stores.St(i)[StScore] += float32(next * 10)

	e.events.Emit(EventRingCommit, e.tickCount, i, map[string]any{
		"ring":  e.tun.Rings[next].Name,
		"match": e.stores.MatchPercent(i),
	})
}

// ringIndexOf returns the committed ring of a slot.
func (e *Engine) ringIndexOf(i int) int {
	return int(e.stores.Cf(i)[cfRingLane])
}
