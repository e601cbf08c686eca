// Package rules selects and runs the first matching rule for a state snapshot.
package rules

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/action"
	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

// Predicate decides whether a rule applies to a snapshot during a pass for tag.
type Predicate func(snap state.Snapshot, tag string) bool

// When wraps a compiled condition as a Predicate.
func When(e Expr) Predicate {
	return func(snap state.Snapshot, _ string) bool { return e.Eval(snap) }
}

// Rule binds a predicate to an ordered list of actions. Untagged rules take
// part in untagged passes only; tagged rules only in passes for one of their
// tags. A rule with children selects the first child that holds instead of
// running actions of its own, and is skipped when no child holds.
type Rule struct {
	Name      string
	Tags      []string
	Condition string
	When      Predicate
	Actions   []action.Op
	Children  []Rule
}

func (r Rule) admits(tag string) bool {
	if len(r.Tags) == 0 {
		return tag == ""
	}
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// holds evaluates the predicate. A panicking predicate does not hold; the
// recovered value is handed to onPanic when set.
func (r Rule) holds(snap state.Snapshot, tag string, onPanic func(rule string, v interface{})) (held bool) {
	if r.When == nil {
		return true
	}
	defer func() {
		if v := recover(); v != nil {
			held = false
			if onPanic != nil {
				onPanic(r.Name, v)
			}
		}
	}()
	return r.When(snap, tag)
}

// Selection describes the outcome of a pass that matched.
type Selection struct {
	Rule    string
	Path    []string
	Tag     string
	At      time.Time
	Actions []string
	Results []bool
	Mock    bool

	ops []action.Op
}

// Evaluator runs evaluation passes. Passes are serialized.
type Evaluator struct {
	store  *state.Store
	rules  []Rule
	clock  clock.Clock
	logger *zap.Logger
	mock   atomic.Bool

	passMu sync.Mutex
}

// Option configures an Evaluator.
type Option func(*Evaluator)

// WithClock sets the clock that stamps each pass's snapshot.
func WithClock(c clock.Clock) Option {
	return func(e *Evaluator) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Evaluator) { e.logger = l }
}

// WithMock starts the evaluator in mock mode.
func WithMock(on bool) Option {
	return func(e *Evaluator) { e.mock.Store(on) }
}

// NewEvaluator creates an evaluator over rules in priority order.
func NewEvaluator(store *state.Store, rules []Rule, opts ...Option) *Evaluator {
	e := &Evaluator{
		store:  store,
		rules:  append([]Rule{}, rules...),
		clock:  clock.Real{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("rules")
	return e
}

// SetMock toggles mock mode: matches are logged, actions are not executed.
func (e *Evaluator) SetMock(on bool) { e.mock.Store(on) }

// Mock reports whether mock mode is on.
func (e *Evaluator) Mock() bool { return e.mock.Load() }

// Select returns the rule that would run for snap and tag. It has no side
// effects.
func (e *Evaluator) Select(snap state.Snapshot, tag string) (Selection, bool) {
	return e.selectWith(snap, tag, nil)
}

func (e *Evaluator) selectWith(snap state.Snapshot, tag string, onPanic func(string, interface{})) (Selection, bool) {
	for _, r := range e.rules {
		if !r.admits(tag) {
			continue
		}
		if sel, ok := selectRule(r, snap, tag, nil, onPanic); ok {
			sel.Tag = tag
			sel.At = snap.At()
			return sel, true
		}
	}
	return Selection{}, false
}

func selectRule(r Rule, snap state.Snapshot, tag string, path []string, onPanic func(string, interface{})) (Selection, bool) {
	if !r.holds(snap, tag, onPanic) {
		return Selection{}, false
	}
	path = append(path, r.Name)
	if len(r.Children) == 0 {
		names := make([]string, len(r.Actions))
		for i, op := range r.Actions {
			names[i] = op.Name()
		}
		return Selection{
			Rule:    r.Name,
			Path:    append([]string{}, path...),
			Actions: names,
			ops:     r.Actions,
		}, true
	}
	for _, c := range r.Children {
		if sel, ok := selectRule(c, snap, tag, path, onPanic); ok {
			return sel, true
		}
	}
	return Selection{}, false
}

// Evaluate runs one pass for tag ("" for the untagged scene): snapshot the
// store once, select the first matching rule, run its actions in order. A
// cancelled ctx prevents the pass from starting; a started pass runs all of
// its actions.
func (e *Evaluator) Evaluate(ctx context.Context, tag string) (Selection, bool) {
	e.passMu.Lock()
	defer e.passMu.Unlock()

	if ctx.Err() != nil {
		return Selection{}, false
	}

	snap := e.store.Snapshot(e.clock.Now())
	sel, ok := e.selectWith(snap, tag, func(rule string, v interface{}) {
		e.logger.Error("predicate panic",
			zap.String("rule", rule),
			zap.String("tag", tag),
			zap.Any("panic", v),
			zap.ByteString("stack", debug.Stack()))
		events.Emit("error", "rule.error", fmt.Sprintf("predicate panic: %v", v), map[string]interface{}{
			"rule": rule,
			"tag":  tag,
		})
	})
	if !ok {
		e.logger.Debug("no rule matched", zap.String("tag", tag))
		if tag != "" {
			events.Emit("info", "rule.none", "", map[string]interface{}{"tag": tag})
		}
		return Selection{}, false
	}

	fields := map[string]interface{}{
		"rule":    sel.Rule,
		"path":    sel.Path,
		"tag":     tag,
		"actions": sel.Actions,
	}
	if e.mock.Load() {
		sel.Mock = true
		e.logger.Info("rule matched (mock)",
			zap.String("rule", sel.Rule),
			zap.String("tag", tag),
			zap.Strings("actions", sel.Actions))
		events.Emit("info", "rule.mock", "", fields)
		return sel, true
	}

	e.logger.Debug("rule matched", zap.String("rule", sel.Rule), zap.String("tag", tag))
	events.Emit("info", "rule.matched", "", fields)

	ops := sel.ops
	sel.Results = make([]bool, len(ops))
	for i, op := range ops {
		sel.Results[i] = e.execute(ctx, sel.Rule, op)
		if sel.Results[i] {
			events.Emit("info", "action.executed", "", map[string]interface{}{
				"rule":   sel.Rule,
				"action": op.Name(),
			})
			continue
		}
		e.logger.Warn("action failed", zap.String("rule", sel.Rule), zap.String("action", op.Name()))
		events.Emit("warning", "action.failed", "", map[string]interface{}{
			"rule":   sel.Rule,
			"action": op.Name(),
		})
	}
	return sel, true
}

// execute runs op; a panic counts as a failed action.
func (e *Evaluator) execute(ctx context.Context, rule string, op action.Op) (ok bool) {
	defer func() {
		if v := recover(); v != nil {
			ok = false
			e.logger.Error("action panic",
				zap.String("rule", rule),
				zap.String("action", op.Name()),
				zap.Any("panic", v),
				zap.ByteString("stack", debug.Stack()))
		}
	}()
	return op.Execute(ctx)
}

// Rules lists top-level rule names in priority order.
func (e *Evaluator) Rules() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.Name
	}
	return names
}
