// Package dedup implements the message deduplication tracker that keeps
// the bridge from forwarding the same message twice or relaying its own
// forwards back and forth in a loop.
package dedup

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/IceNet-01/meshtastic-bridge-headless/pkg/radio"
)

// Defaults for the two eviction bounds.
const (
	DefaultMaxEntries = 1000
	DefaultMaxAge     = 10 * time.Minute
)

var (
	// ErrInvalidMaxEntries is returned when the entry bound is not positive.
	ErrInvalidMaxEntries = errors.New("max entries must be positive")
	// ErrInvalidMaxAge is returned when the age bound is not positive.
	ErrInvalidMaxAge = errors.New("max age must be positive")
)

// record is the tracker's view of one seen message.
type record struct {
	origin    radio.Origin
	summary   string
	seenAt    time.Time
	forwarded bool
}

// Entry is the read-only form of a tracked message, used by the status
// surface for recent-message listings.
type Entry struct {
	ID        uint32       `json:"id"`
	Origin    radio.Origin `json:"-"`
	Link      string       `json:"link"`
	Summary   string       `json:"summary"`
	SeenAt    time.Time    `json:"seen_at"`
	Forwarded bool         `json:"forwarded"`
}

// Stats are the tracker's aggregate counters. TotalSeen and
// TotalForwarded are monotonic for the process lifetime;
// CurrentlyTracked follows the live tracker size.
type Stats struct {
	TotalSeen        uint64 `json:"total_seen"`
	TotalForwarded   uint64 `json:"total_forwarded"`
	CurrentlyTracked int    `json:"currently_tracked"`
}

// Tracker is a bounded, aged, insertion-ordered set of message
// identifiers. It is safe for concurrent use; CheckAndRecord performs
// its membership check and insert inside a single critical section, which
// is what guarantees at-most-once forwarding when both links deliver the
// same identifier concurrently.
//
// The backing store is an LRU used in add-only fashion (lookups go
// through Contains/Peek, which do not promote), so LRU order equals
// insertion order and both eviction bounds remove oldest-first.
type Tracker struct {
	mu     sync.Mutex
	clk    clock.Clock
	maxAge time.Duration
	store  *simplelru.LRU[uint32, *record]

	totalSeen      uint64
	totalForwarded uint64
}

// New creates a tracker holding at most maxEntries records, forgetting
// each record maxAge after insertion.
func New(maxEntries int, maxAge time.Duration) (*Tracker, error) {
	return newWithClock(maxEntries, maxAge, clock.New())
}

func newWithClock(maxEntries int, maxAge time.Duration, clk clock.Clock) (*Tracker, error) {
	if maxEntries <= 0 {
		return nil, ErrInvalidMaxEntries
	}
	if maxAge <= 0 {
		return nil, ErrInvalidMaxAge
	}
	store, err := simplelru.NewLRU[uint32, *record](maxEntries, nil)
	if err != nil {
		return nil, err
	}
	return &Tracker{clk: clk, maxAge: maxAge, store: store}, nil
}

// HasSeen reports whether id is currently tracked. Expired records are
// evicted first, so an identifier older than the age bound reads as new.
func (t *Tracker) HasSeen(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictExpired()
	return t.store.Contains(id)
}

// Record inserts id if it is not already tracked. The count bound evicts
// the oldest records to make room.
func (t *Tracker) Record(id uint32, origin radio.Origin, summary string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictExpired()
	if t.store.Contains(id) {
		return
	}
	t.insert(id, origin, summary)
}

// CheckAndRecord atomically checks membership and inserts when absent.
// It returns true when id had not been seen (the caller should forward)
// and false when it was already tracked.
func (t *Tracker) CheckAndRecord(id uint32, origin radio.Origin, summary string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictExpired()
	if t.store.Contains(id) {
		return false
	}
	t.insert(id, origin, summary)
	return true
}

// MarkForwarded flags a tracked message as forwarded and bumps the
// forwarded total. It reports whether the id was still tracked.
func (t *Tracker) MarkForwarded(id uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.store.Peek(id)
	if !ok {
		return false
	}
	if !rec.forwarded {
		rec.forwarded = true
		t.totalForwarded++
	}
	return true
}

// Stats returns the aggregate counters.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		TotalSeen:        t.totalSeen,
		TotalForwarded:   t.totalForwarded,
		CurrentlyTracked: t.store.Len(),
	}
}

// Len returns the number of currently tracked records.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.store.Len()
}

// Recent returns up to n tracked messages, newest last.
func (t *Tracker) Recent(n int) []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.evictExpired()

	keys := t.store.Keys() // oldest to newest
	if n > 0 && len(keys) > n {
		keys = keys[len(keys)-n:]
	}
	entries := make([]Entry, 0, len(keys))
	for _, id := range keys {
		rec, ok := t.store.Peek(id)
		if !ok {
			continue
		}
		entries = append(entries, Entry{
			ID:        id,
			Origin:    rec.origin,
			Link:      rec.origin.String(),
			Summary:   rec.summary,
			SeenAt:    rec.seenAt,
			Forwarded: rec.forwarded,
		})
	}
	return entries
}

// insert assumes t.mu is held and id is absent.
func (t *Tracker) insert(id uint32, origin radio.Origin, summary string) {
	t.store.Add(id, &record{
		origin:  origin,
		summary: summary,
		seenAt:  t.clk.Now(),
	})
	t.totalSeen++
}

// evictExpired assumes t.mu is held. Records are insertion-ordered, so
// eviction stops at the first record inside the window.
func (t *Tracker) evictExpired() {
	cutoff := t.clk.Now().Add(-t.maxAge)
	for {
		_, rec, ok := t.store.GetOldest()
		if !ok || !rec.seenAt.Before(cutoff) {
			return
		}
		t.store.RemoveOldest()
	}
}
