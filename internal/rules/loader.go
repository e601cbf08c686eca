package rules

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/AaronLay10/VisorEngine/internal/action"
)

// File is the YAML layout of a rules file.
//
//	version: 1
//	scenes:
//	  - interval: 50ms              # untagged scene, run on every tick
//	    rules: [...]
//	  - trigger: enemy-attack       # run when the state is set
//	    cooldown: 300ms
//	    rules: [...]
type File struct {
	Version int           `yaml:"version"`
	Scenes  []SceneConfig `yaml:"scenes"`
}

// SceneConfig groups rules under one trigger (or none).
type SceneConfig struct {
	Trigger  string       `yaml:"trigger,omitempty"`
	Interval string       `yaml:"interval,omitempty"`
	Cooldown string       `yaml:"cooldown,omitempty"`
	Rules    []RuleConfig `yaml:"rules"`
}

// RuleConfig is one rule; Children replace Ops when present.
type RuleConfig struct {
	Name     string       `yaml:"name"`
	When     string       `yaml:"when"`
	Ops      []action.Def `yaml:"ops,omitempty"`
	Children []RuleConfig `yaml:"children,omitempty"`
}

// Set is a compiled rules file.
type Set struct {
	Rules []Rule
	// Interval is the untagged scene's period; zero when the file has none.
	Interval time.Duration
	// Triggers maps a trigger state to its cooldown.
	Triggers map[string]time.Duration
}

// Load reads and compiles a rules file.
func Load(path string, f *action.Factory) (*Set, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	return Parse(data, f)
}

// Parse compiles rules YAML.
func Parse(data []byte, f *action.Factory) (*Set, error) {
	var file File
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse rules YAML: %w", err)
	}
	if file.Version != 1 {
		return nil, fmt.Errorf("unsupported rules version: %d", file.Version)
	}
	return Compile(file, f)
}

// Compile turns a decoded file into rules.
func Compile(file File, f *action.Factory) (*Set, error) {
	set := &Set{Triggers: make(map[string]time.Duration)}
	periodic := false

	for i, sc := range file.Scenes {
		where := fmt.Sprintf("scene %d", i)
		if sc.Trigger != "" {
			where = fmt.Sprintf("scene %q", sc.Trigger)
		}

		if sc.Trigger == "" {
			if periodic {
				return nil, fmt.Errorf("%s: only one untagged scene is allowed", where)
			}
			periodic = true
			d, err := parseDuration(sc.Interval)
			if err != nil {
				return nil, fmt.Errorf("%s: interval: %w", where, err)
			}
			set.Interval = d
		} else {
			if _, dup := set.Triggers[sc.Trigger]; dup {
				return nil, fmt.Errorf("%s: duplicate trigger", where)
			}
			d, err := parseDuration(sc.Cooldown)
			if err != nil {
				return nil, fmt.Errorf("%s: cooldown: %w", where, err)
			}
			set.Triggers[sc.Trigger] = d
		}

		for j, rs := range sc.Rules {
			var tags []string
			if sc.Trigger != "" {
				tags = []string{sc.Trigger}
			}
			r, err := compileRule(rs, tags, fmt.Sprintf("%s.rule[%d]", where, j), f)
			if err != nil {
				return nil, err
			}
			set.Rules = append(set.Rules, r)
		}
	}
	return set, nil
}

func compileRule(rs RuleConfig, tags []string, where string, f *action.Factory) (Rule, error) {
	name := rs.Name
	if name == "" {
		name = where
	}
	e, err := ParseExpr(rs.When)
	if err != nil {
		return Rule{}, fmt.Errorf("%s: %w", where, err)
	}
	r := Rule{
		Name:      name,
		Tags:      tags,
		Condition: rs.When,
		When:      When(e),
	}

	if len(rs.Children) > 0 {
		if len(rs.Ops) > 0 {
			return Rule{}, fmt.Errorf("%s: ops and children are mutually exclusive", where)
		}
		for k, cs := range rs.Children {
			c, err := compileRule(cs, nil, fmt.Sprintf("%s.children[%d]", where, k), f)
			if err != nil {
				return Rule{}, err
			}
			r.Children = append(r.Children, c)
		}
		return r, nil
	}

	ops, err := f.BuildAll(rs.Ops)
	if err != nil {
		return Rule{}, fmt.Errorf("%s: %w", where, err)
	}
	r.Actions = ops
	return r, nil
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
