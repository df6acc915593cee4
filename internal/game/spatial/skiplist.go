package spatial

import "math/rand"

const (
	skipMaxLevel = 24
	skipP        = 0.25
)

// RankedEntry is a scored key in rank order (highest score first, key as
// tiebreaker).
type RankedEntry struct {
	Key   string
	Score float64
}

type rankedNode struct {
	entry RankedEntry
	next  []*rankedNode
	span  []int // distance to next node at each level
}

// RankedSet is a skip list augmented with span counts, giving O(log n)
// score updates and rank lookups. Not safe for concurrent use; callers
// that share one across goroutines wrap it in their own lock.
type RankedSet struct {
	head   *rankedNode
	level  int
	length int
	scores map[string]float64 // key -> stored score, for O(1) lookups
	rng    *rand.Rand
}

// NewRankedSet creates an empty ranked set seeded for level selection.
func NewRankedSet(seed int64) *RankedSet {
	return &RankedSet{
		head: &rankedNode{
			next: make([]*rankedNode, skipMaxLevel),
			span: make([]int, skipMaxLevel),
		},
		level:  1,
		scores: make(map[string]float64),
		rng:    rand.New(rand.NewSource(seed)),
	}
}

func (rs *RankedSet) randomLevel() int {
	level := 1
	for level < skipMaxLevel && rs.rng.Float64() < skipP {
		level++
	}
	return level
}

// before reports whether (aScore, aKey) ranks strictly ahead of
// (bScore, bKey). Higher scores first, lexicographic key on ties so the
// ordering is total.
func before(aScore float64, aKey string, bScore float64, bKey string) bool {
	if aScore != bScore {
		return aScore > bScore
	}
	return aKey < bKey
}

// Update inserts the key or moves it to the position its new score demands.
func (rs *RankedSet) Update(key string, score float64) {
	if old, ok := rs.scores[key]; ok {
		if old == score {
			return
		}
		rs.Remove(key)
	}

	update := make([]*rankedNode, skipMaxLevel)
	rank := make([]int, skipMaxLevel)

	x := rs.head
	for i := rs.level - 1; i >= 0; i-- {
		if i == rs.level-1 {
			rank[i] = 0
		} else {
			rank[i] = rank[i+1]
		}
		for x.next[i] != nil && before(x.next[i].entry.Score, x.next[i].entry.Key, score, key) {
			rank[i] += x.span[i]
			x = x.next[i]
		}
		update[i] = x
	}

	newLevel := rs.randomLevel()
	if newLevel > rs.level {
		for i := rs.level; i < newLevel; i++ {
			rank[i] = 0
			update[i] = rs.head
			update[i].span[i] = rs.length
		}
		rs.level = newLevel
	}

	node := &rankedNode{
		entry: RankedEntry{Key: key, Score: score},
		next:  make([]*rankedNode, newLevel),
		span:  make([]int, newLevel),
	}
	for i := 0; i < newLevel; i++ {
		node.next[i] = update[i].next[i]
		update[i].next[i] = node
		node.span[i] = update[i].span[i] - (rank[0] - rank[i])
		update[i].span[i] = (rank[0] - rank[i]) + 1
	}
	for i := newLevel; i < rs.level; i++ {
		update[i].span[i]++
	}
	rs.length++
	rs.scores[key] = score
}

// Remove deletes a key, reporting whether it was present.
func (rs *RankedSet) Remove(key string) bool {
	score, ok := rs.scores[key]
	if !ok {
		return false
	}

	update := make([]*rankedNode, skipMaxLevel)
	x := rs.head
	for i := rs.level - 1; i >= 0; i-- {
		for x.next[i] != nil && before(x.next[i].entry.Score, x.next[i].entry.Key, score, key) {
			x = x.next[i]
		}
		update[i] = x
	}

	x = x.next[0]
	if x == nil || x.entry.Key != key {
		return false
	}

	for i := 0; i < rs.level; i++ {
		if update[i].next[i] == x {
			update[i].span[i] += x.span[i] - 1
			update[i].next[i] = x.next[i]
		} else {
			update[i].span[i]--
		}
	}
	for rs.level > 1 && rs.head.next[rs.level-1] == nil {
		rs.level--
	}
	rs.length--
	delete(rs.scores, key)
	return true
}

// Score returns the stored score for a key.
func (rs *RankedSet) Score(key string) (float64, bool) {
	score, ok := rs.scores[key]
	return score, ok
}

// Rank returns the 1-indexed rank of a key, 0 if absent.
func (rs *RankedSet) Rank(key string) int {
	score, ok := rs.scores[key]
	if !ok {
		return 0
	}

	rank := 0
	x := rs.head
	for i := rs.level - 1; i >= 0; i-- {
		for x.next[i] != nil && (before(x.next[i].entry.Score, x.next[i].entry.Key, score, key) ||
			x.next[i].entry.Key == key) {
			rank += x.span[i]
			x = x.next[i]
			if x.entry.Key == key {
				return rank
			}
		}
	}
	return 0
}

// Range appends entries with ranks in [start, end] (1-indexed, inclusive)
// to dst.
func (rs *RankedSet) Range(start, end int, dst []RankedEntry) []RankedEntry {
	if start < 1 {
		start = 1
	}
	if end > rs.length {
		end = rs.length
	}
	if start > end {
		return dst
	}

	traversed := 0
	x := rs.head
	for i := rs.level - 1; i >= 0; i-- {
		for x.next[i] != nil && traversed+x.span[i] < start {
			traversed += x.span[i]
			x = x.next[i]
		}
	}

	for x = x.next[0]; x != nil && traversed < end; x = x.next[0] {
		traversed++
		if traversed >= start {
			dst = append(dst, x.entry)
		}
	}
	return dst
}

// Len returns the number of entries.
func (rs *RankedSet) Len() int { return rs.length }
