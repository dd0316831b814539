// Package filter compiles subscriber filter specs into event predicates.
package filter

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/tinytelemetry/lotus/internal/model"
	"github.com/tinytelemetry/lotus/internal/timestamp"
)

// Filter types.
const (
	TypeLevel     = "level"
	TypeSource    = "source"
	TypeMessage   = "message"
	TypeHostname  = "hostname"
	TypeTimeRange = "time_range"
	TypeCustom    = "custom"
)

// String operators.
const (
	OpEquals     = "equals"
	OpContains   = "contains"
	OpStartsWith = "starts_with"
	OpEndsWith   = "ends_with"
	OpRegex      = "regex"
)

var (
	ErrUnknownType     = errors.New("unknown filter type")
	ErrUnknownOperator = errors.New("unknown filter operator")
	ErrInvalidFilter   = errors.New("invalid filter")
)

// Spec is the wire form of a single filter as sent by clients.
type Spec struct {
	Type       string `json:"type"`
	Level      string `json:"level,omitempty"`
	Operator   string `json:"operator,omitempty"`
	Value      string `json:"value,omitempty"`
	From       any    `json:"from,omitempty"`
	To         any    `json:"to,omitempty"`
	Expression string `json:"expression,omitempty"`
}

// Matcher decides whether an event passes one filter.
type Matcher interface {
	Match(e *model.LogEvent) bool
}

// ErrorFunc is notified when a custom expression fails and the event is let
// through.
type ErrorFunc func(expression string, err error)

// Compile turns specs into matchers. onError may be nil.
func Compile(specs []Spec, onError ErrorFunc) ([]Matcher, error) {
	out := make([]Matcher, 0, len(specs))
	for i, s := range specs {
		m, err := compileOne(s, onError)
		if err != nil {
			return nil, fmt.Errorf("filter %d: %w", i, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// Match reports whether e passes every matcher. No matchers means pass.
func Match(e *model.LogEvent, matchers ...Matcher) bool {
	for _, m := range matchers {
		if !m.Match(e) {
			return false
		}
	}
	return true
}

func compileOne(s Spec, onError ErrorFunc) (Matcher, error) {
	switch strings.ToLower(strings.TrimSpace(s.Type)) {
	case TypeLevel:
		lvl, ok := model.ParseLevel(s.Level)
		if !ok {
			// Older clients put the level in value.
			lvl, ok = model.ParseLevel(s.Value)
		}
		if !ok {
			return nil, fmt.Errorf("%w: level %q", ErrInvalidFilter, s.Level)
		}
		return levelMatcher{min: lvl}, nil
	case TypeSource:
		return newStringMatcher(s, func(e *model.LogEvent) string { return e.Source })
	case TypeMessage:
		return newStringMatcher(s, func(e *model.LogEvent) string { return e.Message })
	case TypeHostname:
		return newStringMatcher(s, func(e *model.LogEvent) string { return e.Hostname })
	case TypeTimeRange:
		return newTimeRange(s)
	case TypeCustom:
		return newCustom(s.Expression, onError), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, s.Type)
	}
}

type levelMatcher struct {
	min model.Level
}

func (m levelMatcher) Match(e *model.LogEvent) bool {
	return e.Level() >= m.min
}

type stringMatcher struct {
	get func(*model.LogEvent) string
	op  string
	val string
	re  *regexp.Regexp
}

func newStringMatcher(s Spec, get func(*model.LogEvent) string) (Matcher, error) {
	op := strings.ToLower(strings.TrimSpace(s.Operator))
	if op == "" {
		op = OpContains
	}
	m := stringMatcher{get: get, op: op, val: strings.ToLower(s.Value)}
	switch op {
	case OpEquals, OpContains, OpStartsWith, OpEndsWith:
	case OpRegex:
		re, err := regexp.Compile("(?i)" + s.Value)
		if err != nil {
			return nil, fmt.Errorf("%w: regex %q: %v", ErrInvalidFilter, s.Value, err)
		}
		m.re = re
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownOperator, s.Operator)
	}
	return m, nil
}

func (m stringMatcher) Match(e *model.LogEvent) bool {
	v := m.get(e)
	if m.re != nil {
		return m.re.MatchString(v)
	}
	v = strings.ToLower(v)
	switch m.op {
	case OpEquals:
		return v == m.val
	case OpStartsWith:
		return strings.HasPrefix(v, m.val)
	case OpEndsWith:
		return strings.HasSuffix(v, m.val)
	default:
		return strings.Contains(v, m.val)
	}
}

type timeRange struct {
	from, to time.Time
}

func newTimeRange(s Spec) (Matcher, error) {
	var tr timeRange
	if s.From != nil {
		t, ok := timestamp.Parse(s.From)
		if !ok {
			return nil, fmt.Errorf("%w: from %v", ErrInvalidFilter, s.From)
		}
		tr.from = t
	}
	if s.To != nil {
		t, ok := timestamp.Parse(s.To)
		if !ok {
			return nil, fmt.Errorf("%w: to %v", ErrInvalidFilter, s.To)
		}
		tr.to = t
	}
	if tr.from.IsZero() && tr.to.IsZero() {
		return nil, fmt.Errorf("%w: time_range needs from or to", ErrInvalidFilter)
	}
	return tr, nil
}

func (m timeRange) Match(e *model.LogEvent) bool {
	if !m.from.IsZero() && e.Timestamp.Before(m.from) {
		return false
	}
	if !m.to.IsZero() && e.Timestamp.After(m.to) {
		return false
	}
	return true
}
