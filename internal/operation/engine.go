package operation

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/events"
	"github.com/AaronLay10/VisorEngine/internal/perception"
)

// Terminal is what a finished run reports: the last node and its round.
type Terminal struct {
	RunID  string
	Node   string
	Result RoundResult
	Rounds int
}

// Progress is a read-only view of the engine for telemetry.
type Progress struct {
	RunID   string
	Running bool
	Node    string
	Last    RoundResult
	HasLast bool
	Rounds  int
}

// Engine drives a frozen graph. One engine runs at most one graph run at a
// time; build several engines over the same Graph for concurrent runs.
type Engine struct {
	graph  *Graph
	source          perception.Source
	captureDeadline time.Duration
	clock           clock.Clock
	logger          *zap.Logger

	running  atomic.Bool
	mu       sync.RWMutex
	progress Progress
}

// Option configures an Engine.
type Option func(*Engine)

// WithSource sets the frame source used by capturing nodes.
func WithSource(src perception.Source) Option {
	return func(e *Engine) { e.source = src }
}

// WithCaptureDeadline bounds each frame capture. An overrun becomes a
// perception_error round. d <= 0 disables the bound.
func WithCaptureDeadline(d time.Duration) Option {
	return func(e *Engine) { e.captureDeadline = d }
}

// WithClock injects the clock used for waits and timestamps.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an engine over g.
func NewEngine(g *Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:           g,
		captureDeadline: perception.DefaultDeadline,
		clock:           clock.Real{},
		logger:          zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.Named("operation")
	return e
}

// Progress returns the current or most recent run's position.
func (e *Engine) Progress() Progress {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.progress
}

// Run executes the graph from start ("" = the graph's start node) until a
// terminal edge, a graph dead end or ctx cancellation. Handler errors never
// escape; only structural failures and cancellation are returned.
func (e *Engine) Run(ctx context.Context, start string) (Terminal, error) {
	if start == "" {
		start = e.graph.Start()
	}
	if start == "" {
		return Terminal{}, ErrNoStart
	}
	if _, ok := e.graph.Node(start); !ok {
		return Terminal{}, fmt.Errorf("%w: %s", ErrUnknownNode, start)
	}
	if !e.running.CompareAndSwap(false, true) {
		return Terminal{}, ErrAlreadyRunning
	}
	defer e.running.Store(false)

	rc := newRunContext(ulid.Make().String(), e.clock.Now(), start)
	rc.retries[start] = 0
	log := e.logger.With(zap.String("run_id", rc.runID))

	e.mu.Lock()
	e.progress = Progress{RunID: rc.runID, Running: true, Node: start}
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		e.progress.Running = false
		e.mu.Unlock()
	}()

	log.Info("run started", zap.String("start", start))
	events.Emit("info", "run.started", "", map[string]interface{}{
		"run_id": rc.runID,
		"start":  start,
	})
	e.emitEntered(rc)

	var last RoundResult
	for {
		// Round boundary: the only place a stop request is honoured besides sleeps.
		if err := ctx.Err(); err != nil {
			return e.cancelled(log, rc, last, err)
		}

		node, _ := e.graph.Node(rc.node)
		res, err := e.round(ctx, log, rc, node)
		if err != nil {
			return e.cancelled(log, rc, last, err)
		}
		last = res
		e.record(rc, res)

		switch res.Outcome {
		case OutcomeWait:
			log.Debug("node waiting", zap.String("node", node.Name), zap.Duration("wait", res.Wait))
			events.Emit("info", "round.wait", "", roundFields(rc, res))
			if err := e.clock.Sleep(ctx, res.Wait); err != nil {
				return e.cancelled(log, rc, last, err)
			}
			continue

		case OutcomeRetry:
			if rc.retries[node.Name] < node.MaxRetry {
				rc.retries[node.Name]++
				log.Debug("node retrying",
					zap.String("node", node.Name),
					zap.Int("retry", rc.retries[node.Name]),
					zap.Int("max_retry", node.MaxRetry))
				events.Emit("info", "round.retry", "", roundFields(rc, res))
				if err := e.clock.Sleep(ctx, res.Wait); err != nil {
					return e.cancelled(log, rc, last, err)
				}
				continue
			}
			log.Warn("retry budget exhausted",
				zap.String("node", node.Name),
				zap.String("status", res.Status),
				zap.Int("max_retry", node.MaxRetry))
			res = Fail(StatusRetryExhausted)
			last = res
			e.record(rc, res)
			events.Emit("warning", "round.exhausted", "", roundFields(rc, res))

		case OutcomeSuccess, OutcomeFail:

		default:
			res = Fail(res.Status)
			last = res
			e.record(rc, res)
		}

		to, ok := e.graph.resolver.Resolve(rc.node, res.Status)
		if !ok {
			err := &NoMatchingEdgeError{Node: rc.node, Result: res}
			log.Error("run failed", zap.Error(err))
			events.Emit("error", "run.failed", err.Error(), map[string]interface{}{
				"run_id": rc.runID,
				"node":   rc.node,
				"status": res.Status,
			})
			return e.terminal(rc, res), err
		}
		if to == "" {
			log.Info("run completed",
				zap.String("node", rc.node),
				zap.Stringer("result", res),
				zap.Int("rounds", rc.rounds))
			events.Emit("info", "run.completed", "", map[string]interface{}{
				"run_id":  rc.runID,
				"node":    rc.node,
				"outcome": res.Outcome.String(),
				"status":  res.Status,
				"rounds":  rc.rounds,
			})
			return e.terminal(rc, res), nil
		}

		events.Emit("info", "node.left", "", map[string]interface{}{
			"run_id": rc.runID,
			"node":   rc.node,
			"to":     to,
			"status": res.Status,
		})
		rc.moveTo(to)
		e.emitEntered(rc)
	}
}

// round captures (when the node asks for it) and invokes the handler. The
// returned error is set only when capture was interrupted by cancellation.
func (e *Engine) round(ctx context.Context, log *zap.Logger, rc *RunContext, node Node) (RoundResult, error) {
	rc.rounds++
	if node.Capture {
		frame, err := perception.CaptureWithin(ctx, e.source, node.Region, e.captureDeadline)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return RoundResult{}, ctxErr
			}
			name := "perception.failed"
			var te *perception.TimeoutError
			if errors.As(err, &te) {
				name = "perception.timeout"
			}
			log.Warn("capture failed", zap.String("node", node.Name), zap.Error(err))
			events.Emit("warning", name, err.Error(), map[string]interface{}{
				"run_id": rc.runID,
				"node":   node.Name,
			})
			return Fail(StatusPerceptionError), nil
		}
		rc.frame = frame
	}
	res := e.invoke(ctx, log, rc, node)
	events.Emit("info", "round.completed", "", roundFields(rc, res))
	return res, nil
}

func (e *Engine) invoke(ctx context.Context, log *zap.Logger, rc *RunContext, node Node) (res RoundResult) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic",
				zap.String("node", node.Name),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			res = Fail(fmt.Sprintf("panic: %v", r))
		}
	}()

	out, err := node.Handler(ctx, rc)
	if err != nil {
		log.Warn("handler error", zap.String("node", node.Name), zap.Error(err))
		return Fail(err.Error())
	}
	return out
}

func (e *Engine) record(rc *RunContext, res RoundResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.progress.Node = rc.node
	e.progress.Last = res
	e.progress.HasLast = true
	e.progress.Rounds = rc.rounds
}

func (e *Engine) terminal(rc *RunContext, res RoundResult) Terminal {
	return Terminal{RunID: rc.runID, Node: rc.node, Result: res, Rounds: rc.rounds}
}

func (e *Engine) cancelled(log *zap.Logger, rc *RunContext, last RoundResult, cause error) (Terminal, error) {
	log.Info("run cancelled", zap.String("node", rc.node), zap.Error(cause))
	events.Emit("info", "run.cancelled", "", map[string]interface{}{
		"run_id": rc.runID,
		"node":   rc.node,
	})
	return e.terminal(rc, last), fmt.Errorf("run %s cancelled at %s: %w", rc.runID, rc.node, cause)
}

func (e *Engine) emitEntered(rc *RunContext) {
	e.mu.Lock()
	e.progress.Node = rc.node
	e.mu.Unlock()
	events.Emit("info", "node.entered", "", map[string]interface{}{
		"run_id": rc.runID,
		"node":   rc.node,
	})
}

func roundFields(rc *RunContext, res RoundResult) map[string]interface{} {
	return map[string]interface{}{
		"run_id":  rc.runID,
		"node":    rc.node,
		"outcome": res.Outcome.String(),
		"status":  res.Status,
		"wait_ms": res.Wait.Milliseconds(),
		"retry":   rc.retries[rc.node],
	}
}
