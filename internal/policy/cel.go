package policy

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// PatternCEL marks a pattern whose match predicate is a CEL boolean
// expression over a single `resource` string variable, rather than a
// glob or regex. Patterns are still required to be expressed as regex
// or glob for the scope-containment order (§4.1); CEL patterns opt out
// of containment reasoning entirely and are only usable as the
// concrete match check at validation time (§4.2 step 5).
const PatternCEL PatternKind = "cel"

var celEnv *cel.Env

func init() {
	env, err := cel.NewEnv(cel.Variable("resource", cel.StringType))
	if err != nil {
		panic(fmt.Sprintf("policy: building CEL environment: %v", err))
	}
	celEnv = env
}

var (
	celProgramsMu sync.RWMutex
	celPrograms   = make(map[string]cel.Program)
)

func compileCEL(expr string) (cel.Program, error) {
	celProgramsMu.RLock()
	prg, ok := celPrograms[expr]
	celProgramsMu.RUnlock()
	if ok {
		return prg, nil
	}

	celProgramsMu.Lock()
	defer celProgramsMu.Unlock()
	if prg, ok := celPrograms[expr]; ok {
		return prg, nil
	}

	ast, issues := celEnv.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("policy: compiling CEL pattern %q: %w", expr, issues.Err())
	}
	prg, err := celEnv.Program(ast, cel.InterruptCheckFrequency(100), cel.CostLimit(10000))
	if err != nil {
		return nil, fmt.Errorf("policy: building CEL program for %q: %w", expr, err)
	}
	celPrograms[expr] = prg
	return prg, nil
}

// matchesCEL evaluates a compiled CEL pattern's expression against a
// candidate resource/action string. The expression must evaluate to a
// bool; any other result type is a fail-closed error.
func matchesCEL(expr, resource string) (bool, error) {
	prg, err := compileCEL(expr)
	if err != nil {
		return false, err
	}
	out, _, err := prg.Eval(map[string]any{"resource": resource})
	if err != nil {
		return false, fmt.Errorf("policy: evaluating CEL pattern %q: %w", expr, err)
	}
	val, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("policy: CEL pattern %q did not evaluate to bool", expr)
	}
	return val, nil
}
