package action

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/AaronLay10/VisorEngine/internal/clock"
	"github.com/AaronLay10/VisorEngine/internal/state"
)

// Def is the YAML form of an operation.
//
//	- op: set_state
//	  state: dodge-ready
//	  value: 1
//	  ttl: 2s
//	- op: command
//	  controller: pad
//	  signal: press
//	  payload: {button: a}
//	- op: wait
//	  duration: 150ms
type Def struct {
	Op         string                 `yaml:"op"`
	Duration   string                 `yaml:"duration,omitempty"`
	State      string                 `yaml:"state,omitempty"`
	States     []string               `yaml:"states,omitempty"`
	Value      int                    `yaml:"value,omitempty"`
	ValueToAdd int                    `yaml:"value_to_add,omitempty"`
	TTL        string                 `yaml:"ttl,omitempty"`
	Controller string                 `yaml:"controller,omitempty"`
	Signal     string                 `yaml:"signal,omitempty"`
	Payload    map[string]interface{} `yaml:"payload,omitempty"`
}

// Builder turns a definition into an Op.
type Builder func(def Def) (Op, error)

// Factory builds operations by name. The built-in vocabulary is wait,
// set_state, clear_state and command; callers may register more.
type Factory struct {
	store     *state.Store
	clock     clock.Clock
	commander Commander
	logger    *zap.Logger

	mu     sync.RWMutex
	custom map[string]Builder
}

// NewFactory wires the built-in operations to their dependencies. commander
// may be nil when no controllers are configured.
func NewFactory(store *state.Store, clk clock.Clock, commander Commander, logger *zap.Logger) *Factory {
	if clk == nil {
		clk = clock.Real{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{
		store:     store,
		clock:     clk,
		commander: commander,
		logger:    logger.Named("action"),
		custom:    make(map[string]Builder),
	}
}

// Register adds or replaces a named builder.
func (f *Factory) Register(name string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custom[name] = b
}

// Build creates the op described by def.
func (f *Factory) Build(def Def) (Op, error) {
	f.mu.RLock()
	custom, ok := f.custom[def.Op]
	f.mu.RUnlock()
	if ok {
		return custom(def)
	}

	switch def.Op {
	case "wait":
		d, err := parseDuration(def.Duration)
		if err != nil {
			return nil, fmt.Errorf("wait: %w", err)
		}
		return Wait{Clock: f.clock, Duration: d}, nil

	case "set_state":
		if f.store == nil {
			return nil, fmt.Errorf("set_state: no state store")
		}
		names := def.names()
		if len(names) == 0 {
			return nil, fmt.Errorf("set_state: missing 'state'")
		}
		ttl, err := parseDuration(def.TTL)
		if err != nil {
			return nil, fmt.Errorf("set_state: ttl: %w", err)
		}
		recs := make([]state.Record, 0, len(names))
		for _, n := range names {
			recs = append(recs, state.Record{
				Name:           n,
				TriggerTimeAdd: ttl,
				Value:          def.Value,
				ValueToAdd:     def.ValueToAdd,
			})
		}
		return SetState{Store: f.store, Records: recs}, nil

	case "clear_state":
		if f.store == nil {
			return nil, fmt.Errorf("clear_state: no state store")
		}
		names := def.names()
		if len(names) == 0 {
			return nil, fmt.Errorf("clear_state: missing 'state'")
		}
		return ClearState{Store: f.store, Names: names}, nil

	case "command":
		if def.Controller == "" {
			return nil, fmt.Errorf("command: missing 'controller'")
		}
		if def.Signal == "" {
			return nil, fmt.Errorf("command: missing 'signal'")
		}
		return Command{
			Commander:  f.commander,
			Controller: def.Controller,
			Signal:     def.Signal,
			Payload:    def.Payload,
			Logger:     f.logger,
		}, nil

	case "":
		return nil, fmt.Errorf("missing 'op' field")
	default:
		return nil, fmt.Errorf("unknown op: %s", def.Op)
	}
}

// BuildAll builds defs in order, stopping at the first failure.
func (f *Factory) BuildAll(defs []Def) ([]Op, error) {
	ops := make([]Op, 0, len(defs))
	for i, d := range defs {
		op, err := f.Build(d)
		if err != nil {
			return nil, fmt.Errorf("op %d: %w", i, err)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func (d Def) names() []string {
	var out []string
	if d.State != "" {
		out = append(out, d.State)
	}
	return append(out, d.States...)
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %s", s)
	}
	return d, nil
}
