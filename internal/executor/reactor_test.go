package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/AaronLay10/VisorEngine/internal/action"
	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/rules"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

var t0 = time.Date(2024, 7, 1, 18, 0, 0, 0, time.UTC)

// tally counts executions per action name.
type tally struct {
	mu   sync.Mutex
	hits map[string]int
}

func newTally() *tally { return &tally{hits: make(map[string]int)} }

func (c *tally) op(name string) action.Op {
	return action.Func{Label: name, Fn: func(ctx context.Context) bool {
		c.mu.Lock()
		c.hits[name]++
		c.mu.Unlock()
		return true
	}}
}

func (c *tally) get(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits[name]
}

func always(state.Snapshot, string) bool { return true }

func setup(t *testing.T, rs []rules.Rule, opts ...Option) (*Reactor, *state.Store, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	store := state.NewStore(state.WithClock(clk))
	ev := rules.NewEvaluator(store, rs, rules.WithClock(clk), rules.WithLogger(zaptest.NewLogger(t)))
	opts = append([]Option{WithClock(clk), WithLogger(zaptest.NewLogger(t))}, opts...)
	return NewReactor(ev, store, opts...), store, clk
}

func TestFeed_FiresTriggerScene(t *testing.T) {
	c := newTally()
	r, store, _ := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
		{Name: "idle", When: always, Actions: []action.Op{c.op("idle")}},
	}, WithTrigger("attack", 0))

	fired := r.Feed(context.Background(), state.Set("attack", t0, 1), state.Set("noise", t0, 1))
	assert.Equal(t, []string{"attack"}, fired)
	assert.Equal(t, 1, c.get("dodge"))
	assert.Equal(t, 0, c.get("idle"))

	_, ok := store.Get("noise", t0)
	assert.True(t, ok, "non-trigger facts are still stored")
}

func TestFeed_ClearedTriggerDoesNotFire(t *testing.T) {
	c := newTally()
	r, _, _ := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 0))

	fired := r.Feed(context.Background(), state.ClearRecord("attack"))
	assert.Empty(t, fired)
	assert.Equal(t, 0, c.get("dodge"))
}

func TestFeed_DuplicateTriggerInBatchFiresOnce(t *testing.T) {
	c := newTally()
	r, _, _ := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 0))

	r.Feed(context.Background(), state.Set("attack", t0, 1), state.Set("attack", t0, 2))
	assert.Equal(t, 1, c.get("dodge"))
}

func TestFeed_Cooldown(t *testing.T) {
	c := newTally()
	r, _, clk := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 500*time.Millisecond))

	feed := func() []string { return r.Feed(context.Background(), state.Set("attack", clk.Now(), 1)) }

	assert.Equal(t, []string{"attack"}, feed())
	clk.Advance(200 * time.Millisecond)
	assert.Empty(t, feed())
	clk.Advance(300 * time.Millisecond)
	assert.Equal(t, []string{"attack"}, feed())

	assert.Equal(t, 2, c.get("dodge"))
	assert.Equal(t, uint64(1), r.Stats().Skipped)
}

func TestFeed_FutureTriggerWaitsUntilEffective(t *testing.T) {
	c := newTally()
	r, _, clk := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: rules.When(rules.MustParseExpr("[attack, 0, 10]")), Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 0))

	fired := r.Feed(context.Background(), state.Set("attack", t0.Add(5*time.Second), 1))
	assert.Empty(t, fired)
	assert.Equal(t, uint64(0), r.Stats().Passes)
	assert.Equal(t, uint64(1), r.Stats().Deferred)

	clk.Advance(4 * time.Second)
	assert.Empty(t, r.FirePending(context.Background()))

	clk.Advance(2 * time.Second)
	assert.Equal(t, []string{"attack"}, r.FirePending(context.Background()))
	assert.Equal(t, 1, c.get("dodge"))
	assert.Equal(t, uint64(1), r.Stats().Matches)

	assert.Empty(t, r.FirePending(context.Background()), "a held trigger fires once")
}

func TestFeed_HeldTriggerClearedBeforeDue(t *testing.T) {
	c := newTally()
	r, _, clk := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 0))

	r.Feed(context.Background(), state.Set("attack", t0.Add(time.Second), 1))
	r.Feed(context.Background(), state.ClearRecord("attack"))
	clk.Advance(2 * time.Second)

	_, _ = r.Tick(context.Background())
	assert.Equal(t, 0, c.get("dodge"))
}

func TestFeed_SetAndClearInBatchDoesNotFire(t *testing.T) {
	c := newTally()
	r, _, _ := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
	}, WithTrigger("attack", 0))

	fired := r.Feed(context.Background(), state.Set("attack", t0, 1), state.ClearRecord("attack"))
	assert.Empty(t, fired)
	assert.Equal(t, 0, c.get("dodge"))
}

func TestRun_FiresHeldTriggerWithoutInterval(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	op := action.Func{Label: "dodge", Fn: func(ctx context.Context) bool {
		hits.Add(1)
		return true
	}}
	clk := clock.NewManual(t0)
	store := state.NewStore(state.WithClock(clk))
	ev := rules.NewEvaluator(store, []rules.Rule{{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{op}}},
		rules.WithClock(clk))
	r := NewReactor(ev, store, WithClock(clk), WithTrigger("attack", 0), WithLogger(zaptest.NewLogger(t)))

	r.Feed(context.Background(), state.Set("attack", t0.Add(time.Second), 1))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	clk.Advance(time.Second)
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestTick_RunsUntaggedScene(t *testing.T) {
	c := newTally()
	r, _, _ := setup(t, []rules.Rule{
		{Name: "dodge", Tags: []string{"attack"}, When: always, Actions: []action.Op{c.op("dodge")}},
		{Name: "idle", When: always, Actions: []action.Op{c.op("idle")}},
	})

	sel, ok := r.Tick(context.Background())
	require.True(t, ok)
	assert.Equal(t, "idle", sel.Rule)

	st := r.Stats()
	assert.Equal(t, uint64(1), st.Ticks)
	assert.Equal(t, uint64(1), st.Matches)
	assert.Equal(t, "idle", st.LastRule)
}

func TestTick_PrunesExpiredFacts(t *testing.T) {
	r, store, clk := setup(t, nil)
	store.BatchUpdate(state.Record{Name: "flash", TriggerTime: t0, TriggerTimeAdd: time.Second, Value: 1})
	clk.Advance(2 * time.Second)

	for i := 0; i < pruneEvery; i++ {
		r.Tick(context.Background())
	}
	assert.Empty(t, store.Snapshot(t0).Names())
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	var hits atomic.Int32
	op := action.Func{Label: "count", Fn: func(ctx context.Context) bool {
		hits.Add(1)
		return true
	}}
	r, _, _ := setup(t, []rules.Rule{{Name: "idle", When: always, Actions: []action.Op{op}}},
		WithInterval(5*time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return hits.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestRun_WithoutIntervalOnlyWaits(t *testing.T) {
	defer goleak.VerifyNone(t)

	r, _, _ := setup(t, []rules.Rule{{Name: "idle", When: always}})
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, r.Stats().Ticks)
	cancel()
	require.NoError(t, <-done)
}

func TestWithRuleSet(t *testing.T) {
	set := &rules.Set{
		Interval: 40 * time.Millisecond,
		Triggers: map[string]time.Duration{"b": 0, "a": time.Second},
	}
	r, _, _ := setup(t, nil, WithRuleSet(set))
	assert.Equal(t, 40*time.Millisecond, r.Interval())
	assert.Equal(t, []string{"a", "b"}, r.Triggers())
}
