// Package state holds the reactive fact store the rule evaluator reads.
//
// Facts arrive in batches. A batch is applied atomically: readers see either
// none of it or all of it. Inside a batch, set records are applied in order
// and clear records last, so a batch that both sets and clears a name leaves
// it absent.
//
// A record carries a value, an additive component and an effective window.
// While the previous record for a name is still live, a new record's
// ValueToAdd stacks on top of the accumulated amount; once it has lapsed the
// accumulation restarts from the new record alone.
package state

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/events"
)

// Record is a single fact update.
type Record struct {
	Name string
	// TriggerTime is when the fact becomes effective. Zero means "now" by the
	// store's clock.
	TriggerTime time.Time
	// TriggerTimeAdd bounds the effective window. Zero or negative keeps the
	// fact live until it is replaced or cleared.
	TriggerTimeAdd time.Duration
	Value          int
	ValueToAdd     int
	Clear          bool
}

// Set builds a plain set record.
func Set(name string, at time.Time, value int) Record {
	return Record{Name: name, TriggerTime: at, Value: value}
}

// ClearRecord builds a clear record.
func ClearRecord(name string) Record {
	return Record{Name: name, Clear: true}
}

type entry struct {
	rec   Record
	added int
}

func (e entry) live(at time.Time) bool {
	if at.Before(e.rec.TriggerTime) {
		return false
	}
	if e.rec.TriggerTimeAdd <= 0 {
		return true
	}
	return at.Before(e.rec.TriggerTime.Add(e.rec.TriggerTimeAdd))
}

func (e entry) value() int { return e.rec.Value + e.added }

// Store is safe for concurrent use. Writers go through BatchUpdate only.
type Store struct {
	mu      sync.RWMutex
	entries map[string]entry
	mutex   map[string][]string
	clock   clock.Clock
	logger  *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used to stamp records without a trigger time.
func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithMutex makes setting name clear each of clears in the same batch.
func WithMutex(name string, clears ...string) Option {
	return func(s *Store) {
		s.mutex[name] = appendUnique(s.mutex[name], clears...)
	}
}

// WithMutexGroup makes every member of names exclusive with every other.
func WithMutexGroup(names ...string) Option {
	return func(s *Store) {
		for _, n := range names {
			for _, other := range names {
				if other != n {
					s.mutex[n] = appendUnique(s.mutex[n], other)
				}
			}
		}
	}
}

// NewStore returns an empty store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]entry),
		mutex:   make(map[string][]string),
		clock:   clock.Real{},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("state")
	return s
}

// BatchUpdate applies records as one atomic step and returns the names that
// were set (in batch order, mutex casualties excluded).
func (s *Store) BatchUpdate(records ...Record) []string {
	if len(records) == 0 {
		return nil
	}
	now := s.clock.Now()

	s.mu.Lock()
	var set, cleared []string
	for _, r := range records {
		if r.Clear || r.Name == "" {
			continue
		}
		if r.TriggerTime.IsZero() {
			r.TriggerTime = now
		}
		next := entry{rec: r, added: r.ValueToAdd}
		if prev, ok := s.entries[r.Name]; ok && prev.live(r.TriggerTime) {
			next.added += prev.added
		}
		s.entries[r.Name] = next
		set = append(set, r.Name)

		for _, m := range s.mutex[r.Name] {
			if _, ok := s.entries[m]; ok {
				delete(s.entries, m)
				cleared = append(cleared, m)
			}
		}
	}
	for _, r := range records {
		if !r.Clear {
			continue
		}
		delete(s.entries, r.Name)
		cleared = append(cleared, r.Name)
	}
	s.mu.Unlock()

	if len(set) > 0 {
		s.logger.Debug("states updated", zap.Strings("names", set))
		events.Emit("info", "state.updated", "", map[string]interface{}{"names": set})
	}
	if len(cleared) > 0 {
		s.logger.Debug("states cleared", zap.Strings("names", cleared))
		events.Emit("info", "state.cleared", "", map[string]interface{}{"names": cleared})
	}
	return set
}

// Get returns the effective value of name at instant at.
func (s *Store) Get(name string, at time.Time) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[name]
	if !ok || !e.live(at) {
		return 0, false
	}
	return e.value(), true
}

// Snapshot freezes the facts effective at at.
func (s *Store) Snapshot(at time.Time) Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	facts := make(map[string]fact, len(s.entries))
	for name, e := range s.entries {
		if e.live(at) {
			facts[name] = fact{value: e.value(), since: e.rec.TriggerTime}
		}
	}
	return Snapshot{at: at, facts: facts}
}

// Now reads the store's clock.
func (s *Store) Now() time.Time { return s.clock.Now() }

// Prune drops entries whose window closed before at and returns how many.
func (s *Store) Prune(at time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, e := range s.entries {
		if e.rec.TriggerTimeAdd > 0 && !at.Before(e.rec.TriggerTime.Add(e.rec.TriggerTimeAdd)) {
			delete(s.entries, name)
			n++
		}
	}
	return n
}

type fact struct {
	value int
	since time.Time
}

// Snapshot is an immutable view of the store at one instant.
type Snapshot struct {
	at    time.Time
	facts map[string]fact
}

// At is the instant the snapshot was taken for.
func (s Snapshot) At() time.Time { return s.at }

// Get returns the value of name.
func (s Snapshot) Get(name string) (int, bool) {
	f, ok := s.facts[name]
	return f.value, ok
}

// Has reports whether name is effective.
func (s Snapshot) Has(name string) bool {
	_, ok := s.facts[name]
	return ok
}

// Age is how long name has been effective.
func (s Snapshot) Age(name string) (time.Duration, bool) {
	f, ok := s.facts[name]
	if !ok {
		return 0, false
	}
	return s.at.Sub(f.since), true
}

// Names lists effective names in sorted order.
func (s Snapshot) Names() []string {
	names := make([]string, 0, len(s.facts))
	for n := range s.facts {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Values copies name -> value.
func (s Snapshot) Values() map[string]int {
	out := make(map[string]int, len(s.facts))
	for n, f := range s.facts {
		out[n] = f.value
	}
	return out
}

func appendUnique(dst []string, names ...string) []string {
	for _, n := range names {
		found := false
		for _, d := range dst {
			if d == n {
				found = true
				break
			}
		}
		if !found {
			dst = append(dst, n)
		}
	}
	return dst
}
