package game

import (
	"sync"

	"prism-arena/internal/game/spatial"
)

// Leaderboard ranks sessions by score. The tick goroutine writes once per
// tick; HTTP readers query concurrently, so access goes through a lock.
type Leaderboard struct {
	mu     sync.RWMutex
	ranked *spatial.RankedSet
	meta   map[string]boardMeta
}

type boardMeta struct {
	name string
	ring int
}

// BoardEntry is one row of a leaderboard query.
type BoardEntry struct {
	ID    string  `json:"id"`
	Name  string  `json:"name"`
	Score float64 `json:"score"`
	Ring  int     `json:"ring"`
	Rank  int     `json:"rank"`
}

// NewLeaderboard creates an empty leaderboard.
func NewLeaderboard(seed int64) *Leaderboard {
	return &Leaderboard{
		ranked: spatial.NewRankedSet(seed),
		meta:   make(map[string]boardMeta),
	}
}

// Update writes a session's current standing.
func (lb *Leaderboard) Update(id, name string, score float64, ring int) {
	lb.mu.Lock()
	lb.ranked.Update(id, score)
	lb.meta[id] = boardMeta{name: name, ring: ring}
	lb.mu.Unlock()
}

// Remove drops a session that left the room.
func (lb *Leaderboard) Remove(id string) {
	lb.mu.Lock()
	lb.ranked.Remove(id)
	delete(lb.meta, id)
	lb.mu.Unlock()
}

// Top returns the best n entries in rank order.
func (lb *Leaderboard) Top(n int) []BoardEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.fill(lb.ranked.Range(1, n, nil), 1)
}

// Around returns the window of entries centered on a session: up to above
// entries ranked higher, the session itself, and up to below ranked lower.
// Nil if the session is not on the board.
func (lb *Leaderboard) Around(id string, above, below int) []BoardEntry {
	lb.mu.RLock()
	defer lb.mu.RUnlock()

	rank := lb.ranked.Rank(id)
	if rank == 0 {
		return nil
	}
	start := rank - above
	if start < 1 {
		start = 1
	}
	return lb.fill(lb.ranked.Range(start, rank+below, nil), start)
}

// Rank returns a session's 1-indexed rank, 0 if absent.
func (lb *Leaderboard) Rank(id string) int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.ranked.Rank(id)
}

// Len returns the number of ranked sessions.
func (lb *Leaderboard) Len() int {
	lb.mu.RLock()
	defer lb.mu.RUnlock()
	return lb.ranked.Len()
}

// fill joins ranked entries with their display metadata. Caller holds the
// read lock.
func (lb *Leaderboard) fill(entries []spatial.RankedEntry, startRank int) []BoardEntry {
	out := make([]BoardEntry, len(entries))
	for i, e := range entries {
		m := lb.meta[e.Key]
		out[i] = BoardEntry{
			ID:    e.Key,
			Name:  m.name,
			Score: e.Score,
			Ring:  m.ring,
			Rank:  startRank + i,
		}
	}
	return out
}
