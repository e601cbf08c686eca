package state

import (
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AaronLay10/VisorEngine/internal/clock"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func TestBatchUpdate_SetThenClearLeavesAbsent(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Set("x", t0, 1), ClearRecord("x"))

	_, ok := s.Get("x", t0)
	assert.False(t, ok)
}

func TestBatchUpdate_ClearsApplyLastRegardlessOfOrder(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(ClearRecord("x"), Set("x", t0, 1))

	_, ok := s.Get("x", t0)
	assert.False(t, ok)
}

func TestBatchUpdate_LaterSetWins(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Set("x", t0, 1), Set("x", t0, 5))

	v, ok := s.Get("x", t0)
	require.True(t, ok)
	assert.Equal(t, 5, v)
}

func TestGet_TriggerWindow(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Record{
		Name:           "x",
		TriggerTime:    t0.Add(time.Second),
		TriggerTimeAdd: 2 * time.Second,
		Value:          7,
	})

	tests := []struct {
		at   time.Duration
		want bool
	}{
		{0, false},
		{999 * time.Millisecond, false},
		{time.Second, true},
		{2900 * time.Millisecond, true},
		{3 * time.Second, false},
		{time.Minute, false},
	}
	for _, tt := range tests {
		v, ok := s.Get("x", t0.Add(tt.at))
		assert.Equal(t, tt.want, ok, "at +%s", tt.at)
		if ok {
			assert.Equal(t, 7, v)
		}
	}
}

func TestGet_UnboundedWindow(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Set("x", t0, 3))

	v, ok := s.Get("x", t0.Add(24*time.Hour))
	require.True(t, ok)
	assert.Equal(t, 3, v)
}

func TestBatchUpdate_ZeroTriggerTimeUsesClock(t *testing.T) {
	clk := clock.NewManual(t0)
	s := NewStore(WithClock(clk))
	s.BatchUpdate(Record{Name: "x", Value: 1, TriggerTimeAdd: time.Second})

	_, ok := s.Get("x", t0)
	assert.True(t, ok)
	_, ok = s.Get("x", t0.Add(time.Second))
	assert.False(t, ok)
}

func TestBatchUpdate_ValueToAddStacksWhileLive(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	add := func(at time.Duration, n int) {
		s.BatchUpdate(Record{
			Name:           "combo",
			TriggerTime:    t0.Add(at),
			TriggerTimeAdd: 2 * time.Second,
			ValueToAdd:     n,
		})
	}

	add(0, 1)
	add(time.Second, 1)
	add(2*time.Second, 1)

	v, ok := s.Get("combo", t0.Add(2*time.Second))
	require.True(t, ok)
	assert.Equal(t, 3, v)

	// The last record lapses at +4s; a record at +5s starts over.
	add(5*time.Second, 1)
	v, ok = s.Get("combo", t0.Add(5*time.Second))
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestBatchUpdate_ValueReplacedAddStacks(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Record{Name: "hp", TriggerTime: t0, Value: 10, ValueToAdd: 2})
	s.BatchUpdate(Record{Name: "hp", TriggerTime: t0, Value: 20, ValueToAdd: 3})

	v, ok := s.Get("hp", t0)
	require.True(t, ok)
	assert.Equal(t, 25, v)
}

func TestBatchUpdate_ClearResetsAccumulation(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Record{Name: "n", TriggerTime: t0, ValueToAdd: 4})
	s.BatchUpdate(ClearRecord("n"))
	s.BatchUpdate(Record{Name: "n", TriggerTime: t0, ValueToAdd: 1})

	v, _ := s.Get("n", t0)
	assert.Equal(t, 1, v)
}

func TestBatchUpdate_MutexGroup(t *testing.T) {
	s := NewStore(
		WithClock(clock.NewManual(t0)),
		WithMutexGroup("front-a", "front-b", "front-c"),
	)
	s.BatchUpdate(Set("front-a", t0, 1))
	s.BatchUpdate(Set("front-b", t0, 1))

	snap := s.Snapshot(t0)
	assert.Equal(t, []string{"front-b"}, snap.Names())
}

func TestBatchUpdate_MutexIsDirectional(t *testing.T) {
	s := NewStore(
		WithClock(clock.NewManual(t0)),
		WithMutex("front", "back"),
	)
	s.BatchUpdate(Set("back", t0, 1))
	s.BatchUpdate(Set("front", t0, 1))
	assert.Equal(t, []string{"front"}, s.Snapshot(t0).Names())

	s.BatchUpdate(Set("back", t0, 1))
	assert.Equal(t, []string{"back", "front"}, s.Snapshot(t0).Names())
}

func TestBatchUpdate_ReturnsSetNames(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	got := s.BatchUpdate(Set("a", t0, 1), ClearRecord("b"), Set("c", t0, 1))
	assert.Equal(t, []string{"a", "c"}, got)
}

func TestSnapshot_IsImmutable(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(Set("a", t0, 1))
	snap := s.Snapshot(t0.Add(3 * time.Second))

	s.BatchUpdate(Set("a", t0, 9), Set("b", t0, 2))

	v, ok := snap.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
	assert.False(t, snap.Has("b"))

	age, ok := snap.Age("a")
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, age)

	want := map[string]int{"a": 1}
	if diff := cmp.Diff(want, snap.Values()); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
}

func TestPrune(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))
	s.BatchUpdate(
		Record{Name: "short", TriggerTime: t0, TriggerTimeAdd: time.Second, Value: 1},
		Set("forever", t0, 1),
	)
	assert.Equal(t, 0, s.Prune(t0))
	assert.Equal(t, 1, s.Prune(t0.Add(time.Second)))
	assert.Equal(t, []string{"forever"}, s.Snapshot(t0.Add(time.Hour)).Names())
}

func TestBatchUpdate_AtomicForReaders(t *testing.T) {
	s := NewStore(WithClock(clock.NewManual(t0)))

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			s.BatchUpdate(Set("a", t0, i), Set("b", t0, i))
		}
	}()

	for i := 0; i < 1000; i++ {
		snap := s.Snapshot(t0)
		a, okA := snap.Get("a")
		b, okB := snap.Get("b")
		require.Equal(t, okA, okB)
		require.Equal(t, a, b)
	}
	close(stop)
	wg.Wait()
}
