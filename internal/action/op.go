// Package action provides the atomic operations rules execute: waits, state
// writes and controller commands.
package action

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

// Op is one atomic action. Execute must be safe to call repeatedly and
// reports whether the action took effect.
type Op interface {
	Name() string
	Execute(ctx context.Context) bool
}

// Func adapts a function to Op.
type Func struct {
	Label string
	Fn    func(ctx context.Context) bool
}

func (f Func) Name() string                     { return f.Label }
func (f Func) Execute(ctx context.Context) bool { return f.Fn(ctx) }

// Wait pauses the pass. Cancellation cuts it short and counts as failure.
type Wait struct {
	Clock    clock.Clock
	Duration time.Duration
}

func (w Wait) Name() string { return fmt.Sprintf("wait(%s)", w.Duration) }

func (w Wait) Execute(ctx context.Context) bool {
	return w.Clock.Sleep(ctx, w.Duration) == nil
}

// SetState writes records into the store as a single batch. Zero trigger
// times are stamped with the store clock, so repeated executions refresh the
// facts rather than duplicate them.
type SetState struct {
	Store   *state.Store
	Records []state.Record
}

func (s SetState) Name() string {
	names := make([]string, 0, len(s.Records))
	for _, r := range s.Records {
		names = append(names, r.Name)
	}
	return fmt.Sprintf("set_state%v", names)
}

func (s SetState) Execute(ctx context.Context) bool {
	s.Store.BatchUpdate(s.Records...)
	return true
}

// ClearState removes the named facts.
type ClearState struct {
	Store *state.Store
	Names []string
}

func (c ClearState) Name() string { return fmt.Sprintf("clear_state%v", c.Names) }

func (c ClearState) Execute(ctx context.Context) bool {
	recs := make([]state.Record, 0, len(c.Names))
	for _, n := range c.Names {
		recs = append(recs, state.ClearRecord(n))
	}
	c.Store.BatchUpdate(recs...)
	return true
}

// Commander delivers a signal to an external controller.
type Commander interface {
	Command(ctx context.Context, controller, signal string, payload map[string]interface{}) error
}

// ErrNoCommander is reported when a command op has nowhere to go.
var ErrNoCommander = errors.New("no commander configured")

// Command sends a signal to a controller (keyboard, pad or mouse bridge).
type Command struct {
	Commander  Commander
	Controller string
	Signal     string
	Payload    map[string]interface{}
	Logger     *zap.Logger
}

func (c Command) Name() string { return fmt.Sprintf("command(%s.%s)", c.Controller, c.Signal) }

func (c Command) Execute(ctx context.Context) bool {
	err := ErrNoCommander
	if c.Commander != nil {
		err = c.Commander.Command(ctx, c.Controller, c.Signal, c.Payload)
	}
	if err == nil {
		events.Emit("info", "controller.command", "", map[string]interface{}{
			"controller": c.Controller,
			"signal":     c.Signal,
		})
		return true
	}

	if c.Logger != nil {
		c.Logger.Warn("controller command failed",
			zap.String("controller", c.Controller),
			zap.String("signal", c.Signal),
			zap.Error(err))
	}
	events.Emit("error", "controller.error", err.Error(), map[string]interface{}{
		"controller": c.Controller,
		"signal":     c.Signal,
	})
	return false
}
