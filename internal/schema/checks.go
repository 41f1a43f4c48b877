package schema

import (
	"fmt"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
)

// Check is a row-level constraint written in CEL. The expression sees the
// validated input as `row` and must return a bool. Field names the input
// field the failure is reported against; update contracts skip a check
// when that field is absent from the partial input.
//
// Expressions that read nullable or optional columns should guard with
// has(), e.g. `!has(row.par_level) || row.par_level >= 0.0`.
type Check struct {
	Field   string
	Expr    string
	Message string
}

type compiledCheck struct {
	field   string
	message string
	program cel.Program
}

func compileChecks(entity string, table Table, checks []Check) ([]*compiledCheck, error) {
	if len(checks) == 0 {
		return nil, nil
	}

	env, err := cel.NewEnv(
		cel.Variable("row", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("schema: %s: failed to create CEL environment: %w", entity, err)
	}

	out := make([]*compiledCheck, 0, len(checks))
	for _, chk := range checks {
		if _, ok := table.Column(chk.Field); !ok {
			return nil, fmt.Errorf("schema: %s: check field %q not found on table %s", entity, chk.Field, table.Name)
		}

		ast, issues := env.Compile(chk.Expr)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("schema: %s: failed to compile check on %s: %w", entity, chk.Field, issues.Err())
		}
		if ast.OutputType() != cel.BoolType && ast.OutputType() != cel.DynType {
			return nil, fmt.Errorf("schema: %s: check on %s must return bool, got %s", entity, chk.Field, ast.OutputType())
		}

		program, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("schema: %s: failed to create program for check on %s: %w", entity, chk.Field, err)
		}

		msg := chk.Message
		if msg == "" {
			msg = "failed check: " + chk.Expr
		}
		out = append(out, &compiledCheck{field: chk.Field, message: msg, program: program})
	}
	return out, nil
}

// eval returns "" when the check holds and the failure message otherwise.
func (c *compiledCheck) eval(row map[string]any) string {
	out, _, err := c.program.Eval(map[string]any{"row": row})
	if err != nil {
		return c.message
	}
	if b, ok := out.(types.Bool); ok && bool(b) {
		return ""
	}
	return c.message
}
