// Package findings is the Finding & Verdict Service: pure
// transformations from validation output to persisted findings, score,
// and verdict. No I/O; every function here is exhaustively
// table-tested against the quantified invariants.
package findings

import (
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/validation"
)

// ToPersisted flattens a validation.Finding's evidence record into a
// domain.Finding ready for FindingRepository.InsertMany. A blank
// standard reference is filled with domain.DefaultStandardReference
// ("N/A").
func ToPersisted(vf validation.Finding, analysisID idgen.ID) *domain.Finding {
	evidence := vf.Evidence
	if evidence.StandardReference == "" {
		evidence.StandardReference = domain.DefaultStandardReference
	}
	return &domain.Finding{
		ID:          idgen.New(),
		AnalysisID:  analysisID,
		Severity:    vf.Severity,
		RuleID:      vf.RuleID,
		Message:     vf.Message,
		Evidence:    evidence,
		Remediation: vf.Remediation,
	}
}

// ToPersistedAll maps ToPersisted over every finding a validation.Result
// produced, in order.
func ToPersistedAll(vfs []validation.Finding, analysisID idgen.ID) []*domain.Finding {
	out := make([]*domain.Finding, 0, len(vfs))
	for _, vf := range vfs {
		out = append(out, ToPersisted(vf, analysisID))
	}
	return out
}

// ComputeScore implements the score formula
// max(0, 100 - 25*critical - 10*major -
// 2*minor). INFO has zero effect. Delegates to domain.ComputeScore,
// the single source of truth the store layer also reads when it tallies
// counts directly in SQL.
func ComputeScore(counts domain.SeverityCounts) float64 {
	return domain.ComputeScore(counts.Critical, counts.Major, counts.Minor)
}

// ComputeVerdict implements the verdict rule:
// REJECTED if any CRITICAL; else REVIEW if score < 95 or confidence <
// 0.7; else APPROVED.
func ComputeVerdict(counts domain.SeverityCounts, score, confidence float64) domain.Verdict {
	return domain.ComputeVerdict(counts.Critical, score, confidence)
}
