package filter

import (
	"errors"
	"fmt"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tinytelemetry/lotus/internal/model"
)

var errNotBool = errors.New("expression did not return a bool")

// exprEnv is the set of names a custom expression may reference.
func exprEnv(e *model.LogEvent) map[string]any {
	fields := e.Fields
	if fields == nil {
		fields = map[string]any{}
	}
	return map[string]any{
		"timestamp": e.Timestamp,
		"severity":  int(e.Severity),
		"level":     e.Level().String(),
		"hostname":  e.Hostname,
		"source":    e.Source,
		"message":   e.Message,
		"protocol":  string(e.Protocol),
		"transport": string(e.Transport),
		"source_ip": e.SourceIP,
		"fields":    fields,
	}
}

var sampleEnv = exprEnv(&model.LogEvent{Timestamp: time.Unix(0, 0)})

// customMatcher evaluates an expr-lang boolean expression. Any compile or
// runtime failure lets the event through.
type customMatcher struct {
	expression string
	program    *vm.Program
	compileErr error
	onError    ErrorFunc
}

func newCustom(expression string, onError ErrorFunc) *customMatcher {
	m := &customMatcher{expression: expression, onError: onError}
	if expression == "" {
		m.compileErr = errors.New("empty expression")
		return m
	}
	program, err := expr.Compile(expression, expr.Env(sampleEnv), expr.AsBool())
	if err != nil {
		m.compileErr = fmt.Errorf("compile: %w", err)
		return m
	}
	m.program = program
	return m
}

func (m *customMatcher) Match(e *model.LogEvent) bool {
	if m.program == nil {
		m.fail(m.compileErr)
		return true
	}
	out, err := expr.Run(m.program, exprEnv(e))
	if err != nil {
		m.fail(fmt.Errorf("eval: %w", err))
		return true
	}
	pass, ok := out.(bool)
	if !ok {
		m.fail(errNotBool)
		return true
	}
	return pass
}

func (m *customMatcher) fail(err error) {
	if m.onError != nil {
		m.onError(m.expression, err)
	}
}
