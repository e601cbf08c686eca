package rules

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/AaronLay10/VisorEngine/internal/state"
)

// Expr is a compiled condition over a state snapshot.
//
// Grammar:
//
//	expr  := and ('|' and)*
//	and   := unary ('&' unary)*
//	unary := '!' unary | '(' expr ')' | atom
//	atom  := '[' name ',' tmin ',' tmax ']' ( '{' vmin ',' vmax '}' )?
//
// An atom holds when name is effective, has been so for between tmin and
// tmax seconds (inclusive) and, if a value range is given, its value lies in
// [vmin, vmax]. The empty expression always holds.
type Expr interface {
	Eval(snap state.Snapshot) bool
	// States lists the state names the expression reads, sorted.
	States() []string
	String() string
}

// SyntaxError reports where a condition failed to parse.
type SyntaxError struct {
	Expr string
	Pos  int
	Msg  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("condition %q: offset %d: %s", e.Expr, e.Pos, e.Msg)
}

// ParseExpr compiles a condition.
func ParseExpr(src string) (Expr, error) {
	p := &parser{src: src}
	p.skipSpace()
	if p.eof() {
		return trueExpr{}, nil
	}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if !p.eof() {
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
	return e, nil
}

// MustParseExpr is ParseExpr for literals known to be valid.
func MustParseExpr(src string) Expr {
	e, err := ParseExpr(src)
	if err != nil {
		panic(err)
	}
	return e
}

type trueExpr struct{}

func (trueExpr) Eval(state.Snapshot) bool { return true }
func (trueExpr) States() []string         { return nil }
func (trueExpr) String() string           { return "" }

type atom struct {
	name       string
	tmin, tmax time.Duration
	hasValue   bool
	vmin, vmax int
}

func (a atom) Eval(snap state.Snapshot) bool {
	age, ok := snap.Age(a.name)
	if !ok || age < a.tmin || age > a.tmax {
		return false
	}
	if !a.hasValue {
		return true
	}
	v, _ := snap.Get(a.name)
	return v >= a.vmin && v <= a.vmax
}

func (a atom) States() []string { return []string{a.name} }

func (a atom) String() string {
	s := fmt.Sprintf("[%s, %g, %g]", a.name, a.tmin.Seconds(), a.tmax.Seconds())
	if a.hasValue {
		s += fmt.Sprintf("{%d, %d}", a.vmin, a.vmax)
	}
	return s
}

type notExpr struct{ x Expr }

func (n notExpr) Eval(snap state.Snapshot) bool { return !n.x.Eval(snap) }
func (n notExpr) States() []string              { return n.x.States() }
func (n notExpr) String() string                { return "!" + n.x.String() }

type binExpr struct {
	op   byte
	l, r Expr
}

func (b binExpr) Eval(snap state.Snapshot) bool {
	if b.op == '&' {
		return b.l.Eval(snap) && b.r.Eval(snap)
	}
	return b.l.Eval(snap) || b.r.Eval(snap)
}

func (b binExpr) States() []string {
	seen := make(map[string]struct{})
	for _, s := range b.l.States() {
		seen[s] = struct{}{}
	}
	for _, s := range b.r.States() {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

func (b binExpr) String() string {
	return "(" + b.l.String() + " " + string(b.op) + " " + b.r.String() + ")"
}

type parser struct {
	src string
	pos int
}

func (p *parser) eof() bool { return p.pos >= len(p.src) }

func (p *parser) skipSpace() {
	for !p.eof() && (p.src[p.pos] == ' ' || p.src[p.pos] == '\t' || p.src[p.pos] == '\n') {
		p.pos++
	}
}

func (p *parser) peek() byte {
	p.skipSpace()
	if p.eof() {
		return 0
	}
	return p.src[p.pos]
}

func (p *parser) errorf(format string, args ...interface{}) error {
	return &SyntaxError{Expr: p.src, Pos: p.pos, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek() == '|' {
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: '|', l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.peek() == '&' {
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = binExpr{op: '&', l: left, r: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	switch p.peek() {
	case '!':
		p.pos++
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notExpr{x: x}, nil
	case '(':
		p.pos++
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek() != ')' {
			return nil, p.errorf("missing ')'")
		}
		p.pos++
		return x, nil
	case '[':
		return p.parseAtom()
	case 0:
		return nil, p.errorf("unexpected end of condition")
	default:
		return nil, p.errorf("unexpected %q", p.src[p.pos])
	}
}

func (p *parser) parseAtom() (Expr, error) {
	start := p.pos
	end := strings.IndexByte(p.src[start:], ']')
	if end < 0 {
		return nil, p.errorf("missing ']'")
	}
	body := p.src[start+1 : start+end]
	p.pos = start + end + 1

	parts := strings.Split(body, ",")
	if len(parts) != 3 {
		return nil, &SyntaxError{Expr: p.src, Pos: start, Msg: "state atom needs [name, tmin, tmax]"}
	}
	a := atom{name: strings.TrimSpace(parts[0])}
	if a.name == "" {
		return nil, &SyntaxError{Expr: p.src, Pos: start, Msg: "empty state name"}
	}
	var err error
	if a.tmin, err = seconds(parts[1]); err != nil {
		return nil, &SyntaxError{Expr: p.src, Pos: start, Msg: err.Error()}
	}
	if a.tmax, err = seconds(parts[2]); err != nil {
		return nil, &SyntaxError{Expr: p.src, Pos: start, Msg: err.Error()}
	}
	if a.tmin > a.tmax {
		return nil, &SyntaxError{Expr: p.src, Pos: start, Msg: "tmin greater than tmax"}
	}

	if p.pos < len(p.src) && p.src[p.pos] == '{' {
		vstart := p.pos
		vend := strings.IndexByte(p.src[vstart:], '}')
		if vend < 0 {
			return nil, p.errorf("missing '}'")
		}
		vparts := strings.Split(p.src[vstart+1:vstart+vend], ",")
		p.pos = vstart + vend + 1
		if len(vparts) != 2 {
			return nil, &SyntaxError{Expr: p.src, Pos: vstart, Msg: "value range needs {vmin, vmax}"}
		}
		if a.vmin, err = strconv.Atoi(strings.TrimSpace(vparts[0])); err != nil {
			return nil, &SyntaxError{Expr: p.src, Pos: vstart, Msg: "bad vmin"}
		}
		if a.vmax, err = strconv.Atoi(strings.TrimSpace(vparts[1])); err != nil {
			return nil, &SyntaxError{Expr: p.src, Pos: vstart, Msg: "bad vmax"}
		}
		a.hasValue = true
	}
	return a, nil
}

func seconds(s string) (time.Duration, error) {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0, fmt.Errorf("bad time bound %q", strings.TrimSpace(s))
	}
	if f < 0 {
		return 0, fmt.Errorf("negative time bound %q", strings.TrimSpace(s))
	}
	return time.Duration(f * float64(time.Second)), nil
}
