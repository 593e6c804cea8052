// Package domain holds the entities: User, Task, Analysis,
// Finding, and AuditEvent, plus the enumerations and invariants that
// bind them together. Nothing in this package performs I/O; it is the
// vocabulary the store, the orchestrator, and the HTTP layer all share.
package domain

import (
	"time"

	"github.com/auditeng/compliance/internal/idgen"
)

// TaskStatus is the Task lifecycle: QUEUED -> PROCESSING ->
// {COMPLETED | FAILED}, monotonic.
type TaskStatus string

const (
	TaskQueued     TaskStatus = "QUEUED"
	TaskProcessing TaskStatus = "PROCESSING"
	TaskCompleted  TaskStatus = "COMPLETED"
	TaskFailed     TaskStatus = "FAILED"
)

// CanTransitionTo enforces the one-way lifecycle: QUEUED may
// move to PROCESSING or directly to FAILED (enqueue failure);
// PROCESSING may move to COMPLETED or FAILED; terminal states do not
// move again.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskQueued:
		return next == TaskProcessing || next == TaskFailed
	case TaskProcessing:
		return next == TaskCompleted || next == TaskFailed
	default:
		return false
	}
}

// TestType is the detected test type, one of the classifier's
// outputs (excluding "unknown", which never reaches a persisted
// Analysis).
type TestType string

const (
	TestGrounding    TestType = "grounding"
	TestMegger       TestType = "megger"
	TestThermography TestType = "thermography"
	TestUnknown      TestType = "unknown"
)

// EquipmentType is the detected equipment type.
type EquipmentType string

const (
	EquipmentPanel EquipmentType = "PANEL"
	EquipmentUPS   EquipmentType = "UPS"
	EquipmentATS   EquipmentType = "ATS"
	EquipmentGen   EquipmentType = "GEN"
	EquipmentXfmr  EquipmentType = "XFMR"
	EquipmentOther EquipmentType = "other"
)

// Verdict is the Analysis verdict. The zero value renders as
// an empty string, which the store persists as SQL NULL.
type Verdict string

const (
	VerdictApproved Verdict = "APPROVED"
	VerdictReview   Verdict = "REVIEW"
	VerdictRejected Verdict = "REJECTED"
)

// Severity is a Finding's severity; only CRITICAL/MAJOR/MINOR affect
// the compliance score.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityMajor    Severity = "MAJOR"
	SeverityMinor    Severity = "MINOR"
	SeverityInfo     Severity = "INFO"
)

// User owns Tasks.
type User struct {
	ID           idgen.ID
	Email        string
	PasswordHash string
	Active       bool
	CreatedAt    time.Time
}

// Task is the unit of ingestion.
type Task struct {
	ID               idgen.ID
	OwnerID          idgen.ID
	OriginalFilename string
	ObjectStoreKey   string
	ByteSize         int64
	// CalibrationImageKey/HygrometerImageKey are optional auxiliary
	// uploads consumed only by the thermography
	// complementary checks when present.
	CalibrationImageKey *string
	HygrometerImageKey  *string
	Status              TaskStatus
	ErrorMessage        *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// Analysis is the unit of result, one-to-one with a Task.
type Analysis struct {
	ID                idgen.ID
	TaskID            idgen.ID
	TestType          TestType
	EquipmentType     EquipmentType
	EquipmentTag      string
	ComplianceScore   float64
	OverallConfidence float64
	// NeedsReview is true when any extracted leaf's confidence fell
	// below its per-field review threshold (0.7, or 0.8 for
	// calibration expiration dates); computed by the extractor's
	// any-leaf walk and persisted with the row.
	NeedsReview       bool
	Verdict           *Verdict
	RejectionReason   *string
	ExtractionPayload []byte // JSON, test-type-specific
	ValidationPayload []byte // JSON
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Finding is a single validation outcome.
type Finding struct {
	ID           idgen.ID
	AnalysisID   idgen.ID
	Severity     Severity
	RuleID       string
	Message      string
	Evidence     Evidence
	Remediation  *string
}

// Evidence is the evidence record attached to every Finding.
type Evidence struct {
	ExtractedValue    any    `json:"extracted_value"`
	Threshold         any    `json:"threshold,omitempty"`
	StandardReference string `json:"standard_reference"`
}

// DefaultStandardReference is the literal used when a rule's standard
// reference is unknown.
const DefaultStandardReference = "N/A"

// AuditEventType enumerates the audit event types.
type AuditEventType string

const (
	EventExtractionStarted     AuditEventType = "extraction_started"
	EventExtractionCompleted   AuditEventType = "extraction_completed"
	EventExtractionFailed      AuditEventType = "extraction_failed"
	EventValidationRuleApplied AuditEventType = "validation_rule_applied"
	EventFindingGenerated      AuditEventType = "finding_generated"
	EventValidationCompleted   AuditEventType = "validation_completed"
	EventHumanReviewApproved   AuditEventType = "human_review_approved"
	EventHumanReviewRejected   AuditEventType = "human_review_rejected"
)

// AuditEvent is an append-only record at rule granularity.
type AuditEvent struct {
	ID               idgen.ID
	AnalysisID       idgen.ID
	EventType        AuditEventType
	EventTimestamp   time.Time
	ModelVersion     *string
	PromptVersion    *string
	RuleID           *string
	ConfidenceScore  *float64
	Details          []byte // opaque JSON
}

// ComputeVerdict implements the compute_verdict:
// REJECTED iff >=1 CRITICAL finding; else REVIEW iff score < 95 or
// confidence < 0.7; else APPROVED.
func ComputeVerdict(criticalCount int, score float64, confidence float64) Verdict {
	if criticalCount > 0 {
		return VerdictRejected
	}
	if score < 95 || confidence < 0.7 {
		return VerdictReview
	}
	return VerdictApproved
}

// ComputeScore implements "score determinism":
// max(0, 100 - 25*critical - 10*major - 2*minor). INFO has no effect.
func ComputeScore(critical, major, minor int) float64 {
	score := 100 - 25*critical - 10*major - 2*minor
	if score < 0 {
		return 0
	}
	return float64(score)
}

// SeverityCounts tallies findings by severity, the shape both the
// validation engine and the finding/verdict service pass around.
type SeverityCounts struct {
	Critical int
	Major    int
	Minor    int
	Info     int
}

func (c SeverityCounts) Score() float64 {
	return ComputeScore(c.Critical, c.Major, c.Minor)
}

func (c SeverityCounts) IsValid() bool {
	return c.Critical == 0
}
