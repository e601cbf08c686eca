// Package executor drives the rule evaluator from facts and a periodic tick,
// and runs it alongside an operation graph.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/rules"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

// pruneEvery is how many ticks pass between sweeps of expired facts.
const pruneEvery = 100

// pendingPoll is how often Run checks for future-dated triggers that became due.
const pendingPoll = 50 * time.Millisecond

// Stats summarizes reactor activity for telemetry.
type Stats struct {
	Ticks    uint64
	Passes   uint64
	Matches  uint64
	Skipped  uint64
	Deferred uint64
	LastRule string
	LastTag  string
	LastAt   time.Time
}

// Reactor runs untagged passes on a fixed interval and tagged passes when a
// trigger state is set. Each trigger has its own cooldown.
type Reactor struct {
	eval     *rules.Evaluator
	store    *state.Store
	clock    clock.Clock
	logger   *zap.Logger
	interval time.Duration

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	triggers map[string]time.Duration
	pending  map[string]time.Time
	stats    Stats
}

// Option configures a Reactor.
type Option func(*Reactor)

// WithClock sets the clock used for cooldown accounting.
func WithClock(c clock.Clock) Option {
	return func(r *Reactor) { r.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reactor) { r.logger = l }
}

// WithInterval sets the untagged pass period. Zero disables the periodic pass.
func WithInterval(d time.Duration) Option {
	return func(r *Reactor) { r.interval = d }
}

// WithTrigger registers tag as a trigger state with the given cooldown.
func WithTrigger(tag string, cooldown time.Duration) Option {
	return func(r *Reactor) { r.triggers[tag] = cooldown }
}

// WithRuleSet applies a compiled rules file's interval and triggers.
func WithRuleSet(set *rules.Set) Option {
	return func(r *Reactor) {
		r.interval = set.Interval
		for tag, cd := range set.Triggers {
			r.triggers[tag] = cd
		}
	}
}

// NewReactor creates a reactor around eval and the store it reads.
func NewReactor(eval *rules.Evaluator, store *state.Store, opts ...Option) *Reactor {
	r := &Reactor{
		eval:     eval,
		store:    store,
		clock:    clock.Real{},
		logger:   zap.NewNop(),
		limiters: make(map[string]*rate.Limiter),
		triggers: make(map[string]time.Duration),
		pending:  make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(r)
	}
	for tag, cd := range r.triggers {
		if cd > 0 {
			r.limiters[tag] = rate.NewLimiter(rate.Every(cd), 1)
		}
	}
	r.logger = r.logger.Named("reactor")
	return r
}

// Triggers lists the trigger tags in sorted order.
func (r *Reactor) Triggers() []string {
	out := make([]string, 0, len(r.triggers))
	for t := range r.triggers {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Interval is the untagged pass period.
func (r *Reactor) Interval() time.Duration { return r.interval }

// Stats returns a copy of the counters.
func (r *Reactor) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

// Feed applies records as one batch and runs a tagged pass for every trigger
// state the batch set that is effective now, in batch order. A trigger dated
// in the future is held until it becomes effective and fired by Tick or Run.
// It returns the tags that fired.
func (r *Reactor) Feed(ctx context.Context, records ...state.Record) []string {
	now := r.store.Now()
	effectiveAt := make(map[string]time.Time, len(records))
	for _, rec := range records {
		if rec.Clear || rec.Name == "" {
			continue
		}
		at := rec.TriggerTime
		if at.IsZero() {
			at = now
		}
		effectiveAt[rec.Name] = at
	}

	set := r.store.BatchUpdate(records...)

	var fired []string
	seen := make(map[string]struct{}, len(set))
	for _, name := range set {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		if _, ok := r.triggers[name]; !ok {
			continue
		}
		if _, live := r.store.Get(name, now); !live {
			if at := effectiveAt[name]; at.After(now) {
				r.hold(name, at)
			}
			continue
		}
		r.drop(name)
		if r.fire(ctx, name) {
			fired = append(fired, name)
		}
	}
	return fired
}

// FirePending runs tagged passes for held triggers whose time has come and
// that are still effective. It returns the tags that fired.
func (r *Reactor) FirePending(ctx context.Context) []string {
	now := r.store.Now()

	r.mu.Lock()
	var due []string
	for name, at := range r.pending {
		if !at.After(now) {
			due = append(due, name)
			delete(r.pending, name)
		}
	}
	r.mu.Unlock()
	sort.Strings(due)

	var fired []string
	for _, name := range due {
		if _, live := r.store.Get(name, now); !live {
			continue
		}
		if r.fire(ctx, name) {
			fired = append(fired, name)
		}
	}
	return fired
}

func (r *Reactor) hold(name string, at time.Time) {
	r.mu.Lock()
	r.pending[name] = at
	r.stats.Deferred++
	r.mu.Unlock()
	r.logger.Debug("trigger deferred", zap.String("tag", name), zap.Time("at", at))
	events.Emit("info", "rule.deferred", "", map[string]interface{}{
		"tag": name,
		"at":  at.UTC().Format(time.RFC3339Nano),
	})
}

func (r *Reactor) drop(name string) {
	r.mu.Lock()
	delete(r.pending, name)
	r.mu.Unlock()
}

func (r *Reactor) fire(ctx context.Context, tag string) bool {
	if !r.allow(tag) {
		r.logger.Debug("trigger in cooldown", zap.String("tag", tag))
		events.Emit("info", "rule.cooldown", "", map[string]interface{}{"tag": tag})
		return false
	}
	r.pass(ctx, tag)
	return true
}

// Tick fires due held triggers, then runs one untagged pass.
func (r *Reactor) Tick(ctx context.Context) (rules.Selection, bool) {
	r.FirePending(ctx)

	r.mu.Lock()
	r.stats.Ticks++
	ticks := r.stats.Ticks
	r.mu.Unlock()

	if ticks%pruneEvery == 0 {
		if n := r.store.Prune(r.clock.Now()); n > 0 {
			r.logger.Debug("pruned expired facts", zap.Int("count", n))
		}
	}
	return r.pass(ctx, "")
}

// Run ticks until ctx is done and fires held triggers as they come due.
// Without an interval no untagged pass runs.
func (r *Reactor) Run(ctx context.Context) error {
	r.logger.Info("reactor started",
		zap.Duration("interval", r.interval),
		zap.Strings("triggers", r.Triggers()))
	defer r.logger.Info("reactor stopped")

	var tick <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	poll := time.NewTicker(pendingPoll)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-tick:
			r.Tick(ctx)
		case <-poll.C:
			r.FirePending(ctx)
		}
	}
}

func (r *Reactor) allow(tag string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	lim, ok := r.limiters[tag]
	if !ok {
		return true
	}
	if lim.AllowN(r.clock.Now(), 1) {
		return true
	}
	r.stats.Skipped++
	return false
}

func (r *Reactor) pass(ctx context.Context, tag string) (rules.Selection, bool) {
	sel, ok := r.eval.Evaluate(ctx, tag)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.stats.Passes++
	if ok {
		r.stats.Matches++
		r.stats.LastRule = sel.Rule
		r.stats.LastTag = tag
		r.stats.LastAt = sel.At
	}
	return sel, ok
}
