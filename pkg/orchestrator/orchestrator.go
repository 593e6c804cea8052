// Package orchestrator drives one uploaded document end-to-end: the
// single entry Process(taskID) invoked by the job broker runs the
// ten-step pipeline from download through extraction, validation, and
// persistence. One OpenTelemetry span covers the whole run, with a
// child span per step carrying the step's own attributes, tracing at
// pipeline-stage granularity rather than per internal function call.
package orchestrator

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/audit"
	"github.com/auditeng/compliance/pkg/classifier"
	"github.com/auditeng/compliance/pkg/docparser"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/extraction"
	"github.com/auditeng/compliance/pkg/extractors"
	"github.com/auditeng/compliance/pkg/findings"
	"github.com/auditeng/compliance/pkg/notify"
	"github.com/auditeng/compliance/pkg/objectstore"
	"github.com/auditeng/compliance/pkg/taskstore"
	"github.com/auditeng/compliance/pkg/validation"
)

var tracer = otel.Tracer("github.com/auditeng/compliance/pkg/orchestrator")

// Orchestrator holds every repository and service the pipeline needs.
// One instance is constructed per process and shared across the job
// broker's worker pool; every method here is safe for concurrent
// use because each call operates on a distinct task id.
type Orchestrator struct {
	tasks        *taskstore.TaskRepository
	analyses     *taskstore.AnalysisRepository
	findingsRepo *taskstore.FindingRepository
	auditLog     *audit.Logger
	store        *objectstore.Store
	llm          *extraction.Client
	engine       *validation.Engine
	notifier     *notify.Notifier
	defaultProfile string
	logger       *zap.Logger
}

func New(
	tasks *taskstore.TaskRepository,
	analyses *taskstore.AnalysisRepository,
	findingsRepo *taskstore.FindingRepository,
	auditLog *audit.Logger,
	store *objectstore.Store,
	llm *extraction.Client,
	engine *validation.Engine,
	notifier *notify.Notifier,
	defaultProfile string,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		tasks:          tasks,
		analyses:       analyses,
		findingsRepo:   findingsRepo,
		auditLog:       auditLog,
		store:          store,
		llm:            llm,
		engine:         engine,
		notifier:       notifier,
		defaultProfile: defaultProfile,
		logger:         logger,
	}
}

// extractionOutcome carries whichever single extractor flavor ran,
// behind the common operations steps 7-9 need, so those steps don't
// need a type switch of their own.
type extractionOutcome struct {
	testType     domain.TestType
	grounding    *extractors.GroundingResult
	megger       *extractors.MeggerResult
	thermography *extractors.ThermographyResult
}

func (o extractionOutcome) equipment() extractors.EquipmentInfo {
	switch o.testType {
	case domain.TestGrounding:
		return o.grounding.Equipment
	case domain.TestMegger:
		return o.megger.Equipment
	case domain.TestThermography:
		return o.thermography.Equipment
	default:
		return extractors.EquipmentInfo{}
	}
}

func (o extractionOutcome) calibration() *extractors.CalibrationInfo {
	switch o.testType {
	case domain.TestGrounding:
		return o.grounding.Calibration
	case domain.TestMegger:
		return o.megger.Calibration
	case domain.TestThermography:
		return o.thermography.Calibration
	default:
		return nil
	}
}

func (o extractionOutcome) calibrationSerial() string {
	cal := o.calibration()
	if cal == nil {
		return ""
	}
	return cal.Serial.Value
}

func (o extractionOutcome) inspectionDate() string {
	switch o.testType {
	case domain.TestGrounding:
		return o.grounding.TestConditions.Date.Value
	case domain.TestMegger:
		return o.megger.TestConditions.Date.Value
	case domain.TestThermography:
		return o.thermography.TestConditions.InspectionDate.Value
	default:
		return ""
	}
}

func (o extractionOutcome) needsReview() bool {
	switch o.testType {
	case domain.TestGrounding:
		return o.grounding.NeedsReview()
	case domain.TestMegger:
		return o.megger.NeedsReview()
	case domain.TestThermography:
		return o.thermography.NeedsReview()
	default:
		return false
	}
}

func (o extractionOutcome) overallConfidence() float64 {
	switch o.testType {
	case domain.TestGrounding:
		return o.grounding.OverallConfidence()
	case domain.TestMegger:
		return o.megger.OverallConfidence()
	case domain.TestThermography:
		return o.thermography.OverallConfidence()
	default:
		return 0
	}
}

func (o extractionOutcome) payload() ([]byte, error) {
	var v any
	switch o.testType {
	case domain.TestGrounding:
		v = o.grounding
	case domain.TestMegger:
		v = o.megger
	case domain.TestThermography:
		v = o.thermography
	default:
		return nil, apperrors.New(apperrors.ErrorTypeInternal, "unknown test type for extraction payload")
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode extraction payload")
	}
	return data, nil
}

// Process implements jobbroker.Handler: the ten pipeline steps in
// order, with the task's persisted status as the sole re-entry gate.
func (o *Orchestrator) Process(ctx context.Context, taskIDStr string) error {
	ctx, span := tracer.Start(ctx, "orchestrator.process",
		trace.WithAttributes(attribute.String("task_id", taskIDStr)))
	defer span.End()

	taskID, err := idgen.Parse(taskIDStr)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "parse task id")
	}

	// Step 1: load, exit if not QUEUED (idempotent re-entry).
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return err
	}
	if task.Status != domain.TaskQueued {
		return nil
	}

	// Step 2: QUEUED -> PROCESSING.
	processingStartedAt := time.Now().UTC()
	ok, err := o.tasks.CompareAndSetStatus(ctx, taskID, domain.TaskQueued, domain.TaskProcessing, nil)
	if err != nil {
		return err
	}
	if !ok {
		return nil // a racing worker already claimed this task
	}

	text, images, err := o.step3Download(ctx, task)
	if err != nil {
		o.fail(ctx, taskID, err)
		return nil
	}

	testType, ok := o.step4Classify(ctx, taskID, text, len(images))
	if !ok {
		return nil
	}

	outcome, meta, err := o.step5Extract(ctx, testType, text, images)
	if err != nil {
		o.fail(ctx, taskID, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "extraction failed"))
		return nil
	}

	certOCR, hygroOCR := o.step6OCR(ctx, task, testType)

	analysisID, err := o.step7Persist(ctx, task, outcome, meta, processingStartedAt)
	if err != nil {
		o.fail(ctx, taskID, err)
		return nil
	}

	vfs, counts, err := o.step8Validate(ctx, analysisID, outcome, certOCR, hygroOCR)
	if err != nil {
		o.fail(ctx, taskID, err)
		return nil
	}

	score, verdict, err := o.step9Finalize(ctx, analysisID, vfs, counts, outcome.overallConfidence())
	if err != nil {
		o.fail(ctx, taskID, err)
		return nil
	}

	// Step 10: PROCESSING -> COMPLETED.
	if _, err := o.tasks.CompareAndSetStatus(ctx, taskID, domain.TaskProcessing, domain.TaskCompleted, nil); err != nil {
		o.logger.Error("failed to mark task COMPLETED", zap.String("task_id", taskIDStr), zap.Error(err))
	}

	if verdict == domain.VerdictRejected {
		o.notifier.NotifyRejected(ctx, taskIDStr, outcome.equipment().Tag.Value, score)
	}
	return nil
}

// step3Download acquires a scoped temporary file, guaranteed released
// on every exit path, and decodes it into ordered text/image blocks.
func (o *Orchestrator) step3Download(ctx context.Context, task *domain.Task) (string, []extraction.ImageBlock, error) {
	ctx, span := tracer.Start(ctx, "step3.download_decode", trace.WithAttributes(attribute.Int("step", 3)))
	defer span.End()

	rc, err := o.store.Get(ctx, task.ObjectStoreKey)
	if err != nil {
		return "", nil, err
	}

	ext := filepath.Ext(task.OriginalFilename)
	tmp, err := os.CreateTemp("", "task-*"+ext)
	if err != nil {
		rc.Close()
		return "", nil, apperrors.Wrap(err, apperrors.ErrorTypeInternal, "create scoped temp file")
	}
	defer os.Remove(tmp.Name())

	_, copyErr := io.Copy(tmp, rc)
	rc.Close()
	closeErr := tmp.Close()
	if copyErr != nil {
		return "", nil, apperrors.Wrap(copyErr, apperrors.ErrorTypeInternal, "download original document")
	}
	if closeErr != nil {
		return "", nil, apperrors.Wrap(closeErr, apperrors.ErrorTypeInternal, "close scoped temp file")
	}

	var pages []docparser.Page
	if docparser.IsPDF(task.OriginalFilename) {
		pages, err = docparser.ParsePDF(ctx, tmp.Name())
	} else {
		pages, err = docparser.ParseImage(tmp.Name())
	}
	if err != nil {
		return "", nil, err
	}

	var text strings.Builder
	var images []extraction.ImageBlock
	for _, p := range pages {
		text.WriteString(p.Text)
		images = append(images, p.Images...)
	}
	return text.String(), images, nil
}

// step4Classify runs the test-type classifier. On Unknown it transitions the task to FAILED
// itself and reports ok=false so Process exits without further work.
func (o *Orchestrator) step4Classify(ctx context.Context, taskID idgen.ID, text string, imageCount int) (domain.TestType, bool) {
	ctx, span := tracer.Start(ctx, "step4.classify", trace.WithAttributes(attribute.Int("step", 4)))
	defer span.End()

	tt := classifier.Classify(text, imageCount)
	if tt == classifier.Unknown {
		msg := "unable to classify the document into a known test type"
		if _, err := o.tasks.CompareAndSetStatus(ctx, taskID, domain.TaskProcessing, domain.TaskFailed, &msg); err != nil {
			o.logger.Error("failed to mark task FAILED after classification miss", zap.Error(err))
		}
		return "", false
	}
	return domain.TestType(tt), true
}

// step5Extract routes to the matching extractor through the LLM client.
func (o *Orchestrator) step5Extract(ctx context.Context, testType domain.TestType, text string, images []extraction.ImageBlock) (extractionOutcome, extraction.Metadata, error) {
	ctx, span := tracer.Start(ctx, "step5.extract", trace.WithAttributes(
		attribute.Int("step", 5), attribute.String("test_type", string(testType))))
	defer span.End()

	switch testType {
	case domain.TestGrounding:
		r, meta, err := extractors.Extract(ctx, o.llm, text)
		return extractionOutcome{testType: testType, grounding: r}, meta, err
	case domain.TestMegger:
		r, meta, err := extractors.ExtractMegger(ctx, o.llm, text)
		return extractionOutcome{testType: testType, megger: r}, meta, err
	case domain.TestThermography:
		r, meta, err := extractors.ExtractThermographyBatched(ctx, o.llm, images)
		return extractionOutcome{testType: testType, thermography: r}, meta, err
	default:
		return extractionOutcome{}, extraction.Metadata{}, apperrors.New(apperrors.ErrorTypeInvalidState, "unsupported test type")
	}
}

// step6OCR runs the two optional thermography sub-extractors.
// A download or extraction failure here is logged and treated
// as "not present" rather than failing the whole analysis, since both
// inputs are optional by definition.
func (o *Orchestrator) step6OCR(ctx context.Context, task *domain.Task, testType domain.TestType) (*extractors.CertificateOCRResult, *extractors.HygrometerOCRResult) {
	if testType != domain.TestThermography {
		return nil, nil
	}
	ctx, span := tracer.Start(ctx, "step6.optional_ocr", trace.WithAttributes(attribute.Int("step", 6)))
	defer span.End()

	var cert *extractors.CertificateOCRResult
	var hygro *extractors.HygrometerOCRResult

	if task.CalibrationImageKey != nil {
		if img, err := o.downloadImage(ctx, *task.CalibrationImageKey); err != nil {
			o.logger.Warn("calibration certificate image unavailable", zap.Error(err))
		} else if r, _, err := extractors.ExtractCertificateOCR(ctx, o.llm, img); err != nil {
			o.logger.Warn("calibration certificate OCR failed", zap.Error(err))
		} else {
			cert = r
		}
	}
	if task.HygrometerImageKey != nil {
		if img, err := o.downloadImage(ctx, *task.HygrometerImageKey); err != nil {
			o.logger.Warn("hygrometer image unavailable", zap.Error(err))
		} else if r, _, err := extractors.ExtractHygrometerOCR(ctx, o.llm, img); err != nil {
			o.logger.Warn("hygrometer OCR failed", zap.Error(err))
		} else {
			hygro = r
		}
	}
	return cert, hygro
}

func (o *Orchestrator) downloadImage(ctx context.Context, key string) (extraction.ImageBlock, error) {
	rc, err := o.store.Get(ctx, key)
	if err != nil {
		return extraction.ImageBlock{}, err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return extraction.ImageBlock{}, apperrors.Wrap(err, apperrors.ErrorTypeExternal, "read auxiliary image")
	}
	return extraction.ImageBlock{MediaType: docparser.MediaTypeForExt(filepath.Ext(key)), Data: data}, nil
}

// step7Persist persists the Analysis and emits the retroactive
// extraction_started event (timestamped at step 2) alongside
// extraction_completed, now that an analysis id exists to key them to.
func (o *Orchestrator) step7Persist(ctx context.Context, task *domain.Task, outcome extractionOutcome, meta extraction.Metadata, processingStartedAt time.Time) (idgen.ID, error) {
	ctx, span := tracer.Start(ctx, "step7.persist_analysis", trace.WithAttributes(attribute.Int("step", 7)))
	defer span.End()

	equipment := outcome.equipment()
	payload, err := outcome.payload()
	if err != nil {
		return idgen.Nil, err
	}

	analysis := &domain.Analysis{
		ID:                idgen.New(),
		TaskID:            task.ID,
		TestType:          outcome.testType,
		EquipmentType:     domain.EquipmentType(equipment.Type.Value),
		EquipmentTag:      equipment.Tag.Value,
		OverallConfidence: outcome.overallConfidence(),
		NeedsReview:       outcome.needsReview(),
		ExtractionPayload: payload,
		CreatedAt:         time.Now().UTC(),
	}
	if err := o.analyses.Create(ctx, analysis); err != nil {
		return idgen.Nil, err
	}

	o.auditLog.Log(ctx, domain.EventExtractionStarted, analysis.ID, map[string]any{
		"test_type": string(outcome.testType),
	}, audit.WithTimestamp(processingStartedAt))

	o.auditLog.Log(ctx, domain.EventExtractionCompleted, analysis.ID, map[string]any{
		"model_version":  meta.ModelVersion,
		"prompt_version": meta.PromptVersion,
		"input_tokens":   meta.InputTokens,
		"output_tokens":  meta.OutputTokens,
		"needs_review":   analysis.NeedsReview,
	}, audit.WithModelVersion(meta.ModelVersion), audit.WithPromptVersion(meta.PromptVersion), audit.WithConfidenceScore(outcome.overallConfidence()))

	return analysis.ID, nil
}

// step8Validate runs every applicable validator against the
// resolved standard profile and emits validation_rule_applied /
// finding_generated for every rule and finding.
func (o *Orchestrator) step8Validate(ctx context.Context, analysisID idgen.ID, outcome extractionOutcome, cert *extractors.CertificateOCRResult, hygro *extractors.HygrometerOCRResult) ([]validation.Finding, domain.SeverityCounts, error) {
	ctx, span := tracer.Start(ctx, "step8.validate", trace.WithAttributes(attribute.Int("step", 8)))
	defer span.End()

	profileName := o.defaultProfile
	equipment := outcome.equipment()
	var results []validation.Result

	switch outcome.testType {
	case domain.TestGrounding:
		r, err := o.engine.ValidateGrounding(ctx, outcome.grounding, profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		results = append(results, r)
	case domain.TestMegger:
		r, err := o.engine.ValidateMegger(ctx, outcome.megger, profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		results = append(results, r)
	case domain.TestThermography:
		r, err := o.engine.ValidateThermography(outcome.thermography, profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		results = append(results, r)

		profile, err := o.engine.Profile(profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		cr, err := o.engine.ValidateComplementary(validation.ComplementaryInput{
			Thermography:   outcome.thermography,
			CertificateOCR: cert,
			HygrometerOCR:  hygro,
			ReportedSerial: outcome.calibrationSerial(),
			ExpectedPhases: profile.ExpectedPhasesFor(equipment.Type.Value),
			Comments:       outcome.thermography.TestConditions.Comments.Value,
		}, outcome.inspectionDate(), profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		results = append(results, cr)
	}

	xr, err := o.engine.ValidateCrossField(validation.CrossFieldInput{
		EquipmentTag:  equipment.Tag.Value,
		EquipmentType: equipment.Type.Value,
	}, profileName)
	if err != nil {
		return nil, domain.SeverityCounts{}, err
	}
	results = append(results, xr)

	if cal := outcome.calibration(); cal != nil {
		cr, err := o.engine.ValidateCalibration(cal, outcome.inspectionDate(), profileName)
		if err != nil {
			return nil, domain.SeverityCounts{}, err
		}
		results = append(results, cr)
	}

	allFindings, rulesApplied, counts := combineResults(results...)

	for _, ruleID := range rulesApplied {
		o.auditLog.Log(ctx, domain.EventValidationRuleApplied, analysisID, map[string]any{
			"rule_id": ruleID,
		}, audit.WithRuleID(ruleID))
	}
	for _, f := range allFindings {
		o.auditLog.Log(ctx, domain.EventFindingGenerated, analysisID, map[string]any{
			"rule_id":  f.RuleID,
			"severity": string(f.Severity),
			"message":  f.Message,
		}, audit.WithRuleID(f.RuleID))
	}

	return allFindings, counts, nil
}

func combineResults(results ...validation.Result) (allFindings []validation.Finding, rulesApplied []string, counts domain.SeverityCounts) {
	for _, r := range results {
		allFindings = append(allFindings, r.Findings...)
		rulesApplied = append(rulesApplied, r.RulesApplied...)
		counts.Critical += r.Counts.Critical
		counts.Major += r.Counts.Major
		counts.Minor += r.Counts.Minor
		counts.Info += r.Counts.Info
	}
	return
}

// step9Finalize persists every finding, computes the score and
// verdict, and updates the Analysis row.
func (o *Orchestrator) step9Finalize(ctx context.Context, analysisID idgen.ID, vfs []validation.Finding, counts domain.SeverityCounts, overallConfidence float64) (float64, domain.Verdict, error) {
	ctx, span := tracer.Start(ctx, "step9.finalize", trace.WithAttributes(attribute.Int("step", 9)))
	defer span.End()

	persisted := findings.ToPersistedAll(vfs, analysisID)
	if err := o.findingsRepo.InsertMany(ctx, persisted); err != nil {
		return 0, "", err
	}

	score := findings.ComputeScore(counts)
	verdict := findings.ComputeVerdict(counts, score, overallConfidence)

	validationPayload, err := json.Marshal(struct {
		Findings []validation.Finding  `json:"findings"`
		Counts   domain.SeverityCounts `json:"counts"`
	}{vfs, counts})
	if err != nil {
		return 0, "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "encode validation payload")
	}

	if err := o.analyses.UpdateValidation(ctx, analysisID, score, verdict, validationPayload); err != nil {
		return 0, "", err
	}

	o.auditLog.Log(ctx, domain.EventValidationCompleted, analysisID, map[string]any{
		"score":   score,
		"verdict": string(verdict),
	})

	return score, verdict, nil
}

// fail transitions a task to FAILED with cause's safe message. It is
// the catch-all for any error the steps don't handle themselves.
func (o *Orchestrator) fail(ctx context.Context, taskID idgen.ID, cause error) {
	msg := apperrors.SafeErrorMessage(cause)
	if _, err := o.tasks.CompareAndSetStatus(ctx, taskID, domain.TaskProcessing, domain.TaskFailed, &msg); err != nil {
		o.logger.Error("failed to mark task FAILED after pipeline error", zap.Error(err), zap.String("cause", cause.Error()))
	}
}

// Terminal implements jobbroker.TerminalFunc: once the broker gives up
// retrying, force-fail the task unless it is already COMPLETED or
// FAILED, and notify.
func (o *Orchestrator) Terminal(ctx context.Context, taskIDStr string, reason string) {
	taskID, err := idgen.Parse(taskIDStr)
	if err != nil {
		o.logger.Error("terminal callback received invalid task id", zap.String("task_id", taskIDStr), zap.Error(err))
		return
	}
	if err := o.tasks.MarkFailedUnconditional(ctx, taskID, reason); err != nil {
		o.logger.Error("failed to force-fail task", zap.Error(err))
	}
	o.notifier.NotifyPermanentFailure(ctx, taskIDStr, reason)
}
