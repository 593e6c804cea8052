package validation

import (
	"context"

	"github.com/open-policy-agent/opa/rego"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

// thresholdModule is the declarative half of the validator stack:
// threshold rules are Rego modules evaluated through
// open-policy-agent/opa/rego, parameterized by the active profile.
// Keeping the rule itself in Rego, rather than a Go
// if-statement, means a profile can shift a ceiling or a minimum
// without a code change reaching this package; the module never
// branches on *which* profile is active, only on the numbers it is
// handed as input.
const thresholdModule = `
package compliance.threshold

default ceiling_violation = false
ceiling_violation {
	input.value > input.ceiling
}

default floor_violation = false
floor_violation {
	input.value < input.floor
}
`

// thresholdEvaluator holds one prepared Rego query per rule, evaluated
// repeatedly (one grounding measurement or one Megger phase reading at
// a time) without recompiling the module on every call.
type thresholdEvaluator struct {
	ceilingQuery rego.PreparedEvalQuery
	floorQuery   rego.PreparedEvalQuery
}

func newThresholdEvaluator(ctx context.Context) (*thresholdEvaluator, error) {
	ceilingQuery, err := rego.New(
		rego.Query("data.compliance.threshold.ceiling_violation"),
		rego.Module("threshold.rego", thresholdModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "prepare ceiling_violation rego query")
	}

	floorQuery, err := rego.New(
		rego.Query("data.compliance.threshold.floor_violation"),
		rego.Module("threshold.rego", thresholdModule),
	).PrepareForEval(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "prepare floor_violation rego query")
	}

	return &thresholdEvaluator{ceilingQuery: ceilingQuery, floorQuery: floorQuery}, nil
}

// CeilingViolation reports whether value exceeds ceiling (the
// grounding per-equipment-type check).
func (e *thresholdEvaluator) CeilingViolation(ctx context.Context, value, ceiling float64) (bool, error) {
	return e.evalBool(ctx, e.ceilingQuery, map[string]any{"value": value, "ceiling": ceiling})
}

// FloorViolation reports whether value falls below floor (the
// Megger minimum-insulation-resistance check).
func (e *thresholdEvaluator) FloorViolation(ctx context.Context, value, floor float64) (bool, error) {
	return e.evalBool(ctx, e.floorQuery, map[string]any{"value": value, "floor": floor})
}

func (e *thresholdEvaluator) evalBool(ctx context.Context, q rego.PreparedEvalQuery, input map[string]any) (bool, error) {
	rs, err := q.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "evaluate threshold rego query")
	}
	if len(rs) == 0 || len(rs[0].Expressions) == 0 {
		return false, nil
	}
	violation, _ := rs[0].Expressions[0].Value.(bool)
	return violation, nil
}
