// Package validation is the Validation Engine: a stack of
// strictly deterministic validators that turn an extraction result into
// a ValidationResult. Validators never call external services, never
// observe wall-clock time, and never mutate shared state; the
// "current date" for expiration checks is always the extraction's own
// inspection date.
package validation

import (
	"context"

	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/profiles"
)

// Finding is one validator's output before it becomes a persisted
// domain.Finding.
type Finding struct {
	Severity    domain.Severity
	RuleID      string
	Message     string
	Evidence    domain.Evidence
	Remediation *string
}

// Result is the engine's output for one analysis: the equipment
// tag, every finding in the order its validator ran, severity counts,
// and IsValid = critical_count == 0. RulesApplied lists every rule id
// the engine actually evaluated, in order, so the orchestrator can emit
// one validation_rule_applied audit event per entry even
// for rules that produced no finding.
type Result struct {
	EquipmentTag string
	Findings     []Finding
	Counts       domain.SeverityCounts
	RulesApplied []string
	IsValid      bool
}

func newResultBuilder(equipmentTag string) *resultBuilder {
	return &resultBuilder{equipmentTag: equipmentTag}
}

// resultBuilder accumulates findings and applied-rule ids across a
// validator run without exposing mutable state to validator functions
// themselves (they return values; only the engine accumulates).
type resultBuilder struct {
	equipmentTag string
	findings     []Finding
	rulesApplied []string
}

func (b *resultBuilder) applyRule(ruleID string) {
	b.rulesApplied = append(b.rulesApplied, ruleID)
}

func (b *resultBuilder) add(f Finding) {
	b.findings = append(b.findings, f)
}

func (b *resultBuilder) build() Result {
	counts := domain.SeverityCounts{}
	for _, f := range b.findings {
		switch f.Severity {
		case domain.SeverityCritical:
			counts.Critical++
		case domain.SeverityMajor:
			counts.Major++
		case domain.SeverityMinor:
			counts.Minor++
		case domain.SeverityInfo:
			counts.Info++
		}
	}
	return Result{
		EquipmentTag: b.equipmentTag,
		Findings:     b.findings,
		Counts:       counts,
		RulesApplied: b.rulesApplied,
		IsValid:      counts.Critical == 0,
	}
}

// Engine runs validators against a resolved profiles.Profile. One
// Engine is constructed per process and reused across analyses; the
// Rego queries it prepares are stateless and safe for concurrent use
// across the worker pool's threads.
type Engine struct {
	registry  *profiles.Registry
	threshold *thresholdEvaluator
}

// New prepares the Rego threshold queries once; resolved profiles
// are cached by the registry.
func New(ctx context.Context, registry *profiles.Registry) (*Engine, error) {
	ev, err := newThresholdEvaluator(ctx)
	if err != nil {
		return nil, err
	}
	return &Engine{registry: registry, threshold: ev}, nil
}

// resolveProfile is the one place every validator method reaches for
// its active profile, keeping profile resolution itself free of
// validator-specific logic.
func (e *Engine) resolveProfile(profileName string) (*profiles.Profile, error) {
	return e.registry.Get(profileName)
}

// Profile exposes profile resolution to the orchestrator, which derives
// per-equipment validator inputs (the expected phase set for the
// COMP-004 coverage check) from the same profile the validators run
// against.
func (e *Engine) Profile(profileName string) (*profiles.Profile, error) {
	return e.resolveProfile(profileName)
}
