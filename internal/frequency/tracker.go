// Package frequency counts content accesses over sliding time windows.
package frequency

import (
	"hash/maphash"
	"sort"
	"sync"
	"time"
)

const defaultShards = 64

// Tracker keeps a time-ordered list of access timestamps per content item and
// answers "how many accesses in the last window". Items are spread over
// lock-striped shards by id hash so concurrent reads of different items do not
// contend, and concurrent records of the same item never lose an update.
type Tracker struct {
	shards  []shard
	seed    maphash.Seed
	horizon time.Duration
	now     func() time.Time
}

type shard struct {
	mu    sync.Mutex
	items map[string][]time.Time
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithShards sets the number of lock stripes.
func WithShards(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.shards = make([]shard, n)
		}
	}
}

// New returns a Tracker that retains accesses for horizon. Queries for
// windows longer than horizon see at most horizon worth of accesses.
func New(horizon time.Duration, opts ...Option) *Tracker {
	t := &Tracker{
		shards:  make([]shard, defaultShards),
		seed:    maphash.MakeSeed(),
		horizon: horizon,
		now:     time.Now,
	}
	for _, o := range opts {
		o(t)
	}
	for i := range t.shards {
		t.shards[i].items = make(map[string][]time.Time)
	}
	return t
}

func (t *Tracker) shardFor(id string) *shard {
	h := maphash.String(t.seed, id)
	return &t.shards[h%uint64(len(t.shards))]
}

// Record appends an access at ts and evicts entries older than the horizon.
// Out-of-order timestamps are inserted in place.
func (t *Tracker) Record(id string, ts time.Time) {
	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.items[id]
	i := sort.Search(len(list), func(i int) bool { return list[i].After(ts) })
	list = append(list, time.Time{})
	copy(list[i+1:], list[i:])
	list[i] = ts

	list = evict(list, t.now().Add(-t.horizon))
	if len(list) == 0 {
		delete(s.items, id)
		return
	}
	s.items[id] = list
}

// Frequency returns the number of accesses in the half-open interval
// (now-window, now]: an access exactly window old is not counted.
func (t *Tracker) Frequency(id string, window time.Duration) int64 {
	if window <= 0 {
		return 0
	}
	now := t.now()
	cutoff := now.Add(-window)

	s := t.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.items[id]
	lo := sort.Search(len(list), func(i int) bool { return list[i].After(cutoff) })
	hi := sort.Search(len(list), func(i int) bool { return list[i].After(now) })
	if hi < lo {
		return 0
	}
	return int64(hi - lo)
}

// Forget drops all history for id.
func (t *Tracker) Forget(id string) {
	s := t.shardFor(id)
	s.mu.Lock()
	delete(s.items, id)
	s.mu.Unlock()
}

// Sweep evicts expired entries across every shard and returns the number of
// items still tracked. Record already evicts on write; Sweep reclaims items
// that stopped being written.
func (t *Tracker) Sweep() int {
	cutoff := t.now().Add(-t.horizon)
	tracked := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.Lock()
		for id, list := range s.items {
			list = evict(list, cutoff)
			if len(list) == 0 {
				delete(s.items, id)
				continue
			}
			s.items[id] = list
		}
		tracked += len(s.items)
		s.mu.Unlock()
	}
	return tracked
}

// evict drops timestamps at or before cutoff from a sorted list.
func evict(list []time.Time, cutoff time.Time) []time.Time {
	i := sort.Search(len(list), func(i int) bool { return list[i].After(cutoff) })
	if i == 0 {
		return list
	}
	return append(list[:0], list[i:]...)
}
