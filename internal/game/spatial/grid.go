// Package spatial provides the cache-friendly uniform grid used for
// broad-phase queries (magnet pull, bot steering, collision candidates).
//
// Buckets hold entity indices (not pointers) to minimize GC pressure. The
// arena is a disk centered on the origin, so cells are keyed by a packed
// integer of the signed cell coordinates rather than laid out row-major.
package spatial

// CellKey packs signed cell coordinates into a single map key:
// (cx << 16) | (cy & 0xFFFF).
type CellKey uint32

// Key computes the bucket key for cell coordinates.
func Key(cx, cy int32) CellKey {
	return CellKey(uint32(cx)<<16 | uint32(cy)&0xFFFF)
}

// Grid is a uniform-cell broad-phase index with persistent buckets.
//
// Clear empties buckets without freeing them, so steady-state ticks reuse
// the same backing arrays. Buckets that stay empty are garbage collected by
// MaybeGC on a tick-count timer rather than every frame.
//
// Two layers share the cell geometry: the dynamic layer is rebuilt every
// tick (players, bots, projectiles), the static layer holds food and is
// mutated incrementally on spawn/consume.
type Grid struct {
	cellSize    float64
	invCellSize float64
	dynamic     map[CellKey][]uint16
	static      map[CellKey][]uint16
	scratch     []uint16

	ticksSinceGC int
	gcInterval   int
}

// NewGrid creates a grid with the given cell size. Cell size should match
// the largest common query radius (magnet range) so most queries touch a
// 3x3 neighborhood.
func NewGrid(cellSize float64) *Grid {
	if cellSize <= 0 {
		cellSize = 128
	}
	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		dynamic:     make(map[CellKey][]uint16, 256),
		static:      make(map[CellKey][]uint16, 256),
		scratch:     make([]uint16, 0, 64),
		gcInterval:  600,
	}
}

func (g *Grid) cellOf(x, y float64) (int32, int32) {
	cx := int32(x * g.invCellSize)
	cy := int32(y * g.invCellSize)
	// Truncation rounds toward zero; shift negatives down one cell so the
	// boundary at 0 does not produce a double-width cell.
	if x < 0 {
		cx--
	}
	if y < 0 {
		cy--
	}
	return cx, cy
}

// Clear resets the dynamic layer without releasing bucket memory.
// O(occupied cells), not O(entities).
func (g *Grid) Clear() {
	for k, b := range g.dynamic {
		g.dynamic[k] = b[:0]
	}
}

// Insert adds a dynamic entity at (x, y). O(1).
func (g *Grid) Insert(id uint16, x, y float64) {
	k := Key(g.cellOf(x, y))
	g.dynamic[k] = append(g.dynamic[k], id)
}

// InsertStatic adds a food entity to the static layer.
func (g *Grid) InsertStatic(id uint16, x, y float64) {
	k := Key(g.cellOf(x, y))
	g.static[k] = append(g.static[k], id)
}

// RemoveStatic deletes a food entity from the static layer bucket at its
// known position. Linear in bucket size, which the food cap keeps small.
func (g *Grid) RemoveStatic(id uint16, x, y float64) {
	k := Key(g.cellOf(x, y))
	b := g.static[k]
	for i, v := range b {
		if v == id {
			b[i] = b[len(b)-1]
			g.static[k] = b[:len(b)-1]
			return
		}
	}
}

// QueryRadius returns dynamic-layer candidates within radius of (cx, cy).
//
// IMPORTANT: the returned slice aliases an internal scratch buffer that is
// reused on the next query; copy it to persist. Candidates may lie outside
// the radius - callers do the narrow-phase distance check.
func (g *Grid) QueryRadius(cx, cy, radius float64) []uint16 {
	return g.query(g.dynamic, cx, cy, radius)
}

// QueryStatic returns static-layer (food) candidates within radius.
// Shares the scratch buffer with QueryRadius.
func (g *Grid) QueryStatic(cx, cy, radius float64) []uint16 {
	return g.query(g.static, cx, cy, radius)
}

func (g *Grid) query(layer map[CellKey][]uint16, cx, cy, radius float64) []uint16 {
	g.scratch = g.scratch[:0]

	minX, minY := g.cellOf(cx-radius, cy-radius)
	maxX, maxY := g.cellOf(cx+radius, cy+radius)

	for y := minY; y <= maxY; y++ {
		for x := minX; x <= maxX; x++ {
			if b, ok := layer[Key(x, y)]; ok {
				g.scratch = append(g.scratch, b...)
			}
		}
	}
	return g.scratch
}

// MaybeGC drops buckets that were empty for a full GC interval. Called once
// per tick; the actual sweep runs every gcInterval ticks.
func (g *Grid) MaybeGC() {
	g.ticksSinceGC++
	if g.ticksSinceGC < g.gcInterval {
		return
	}
	g.ticksSinceGC = 0

	for k, b := range g.dynamic {
		if len(b) == 0 {
			delete(g.dynamic, k)
		}
	}
	for k, b := range g.static {
		if len(b) == 0 {
			delete(g.static, k)
		}
	}
}

// Stats returns occupancy counters for debugging and metrics.
func (g *Grid) Stats() GridStats {
	st := GridStats{}
	for _, b := range g.dynamic {
		st.DynamicCells++
		st.DynamicEntities += len(b)
		if len(b) > st.MaxBucket {
			st.MaxBucket = len(b)
		}
	}
	for _, b := range g.static {
		st.StaticCells++
		st.StaticEntities += len(b)
	}
	return st
}

// GridStats contains grid occupancy counters.
type GridStats struct {
	DynamicCells    int
	DynamicEntities int
	StaticCells     int
	StaticEntities  int
	MaxBucket       int
}

// CellSize returns the configured cell size.
func (g *Grid) CellSize() float64 { return g.cellSize }
