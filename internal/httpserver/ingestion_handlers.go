package httpserver

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/objectstore"
)

// maxUploadMemory bounds what multipart.Reader buffers in memory
// before spilling to a temp file; the actual byte-stream ceiling is
// enforced downstream by objectstore.Store.Put.
const maxUploadMemory = 10 * 1024 * 1024

// sniffLen is enough to cover every magic number below, including the
// longest (PNG's 8-byte signature).
const sniffLen = 512

// requireAllowedContentType rejects anything outside the mandatory
// set {PDF, PNG, JPEG, TIFF} by sniffing the leading bytes rather
// than trusting the client-supplied filename or form field, then
// rewinds file so the full stream is still available to ObjectStore.Put.
func requireAllowedContentType(file multipart.File) error {
	sample := make([]byte, sniffLen)
	n, err := io.ReadFull(file, sample)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "failed to read uploaded document")
	}
	sample = sample[:n]

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "failed to read uploaded document")
	}

	if !isAllowedContentType(sample) {
		return apperrors.NewInvalidInput("document type not recognized; must be PDF, PNG, JPEG, or TIFF")
	}
	return nil
}

// isAllowedContentType matches the magic bytes of the accepted
// document types. http.DetectContentType is not used here since its
// built-in table has no TIFF signature.
func isAllowedContentType(sample []byte) bool {
	switch {
	case bytes.HasPrefix(sample, []byte("%PDF-")):
		return true
	case bytes.HasPrefix(sample, []byte("\x89PNG\r\n\x1a\n")):
		return true
	case bytes.HasPrefix(sample, []byte("\xFF\xD8\xFF")):
		return true
	case bytes.HasPrefix(sample, []byte("II*\x00")), bytes.HasPrefix(sample, []byte("MM\x00*")):
		return true
	default:
		return false
	}
}

// upload handles POST /api/upload: a multipart document in,
// {task_id, status} out; 400 on an invalid file, 413 when too large.
func (h *handlers) upload(w http.ResponseWriter, r *http.Request) {
	owner, _ := userIDFromContext(r.Context())

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "malformed multipart upload"))
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		writeError(w, r, apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "missing document field"))
		return
	}
	defer file.Close()

	if err := requireAllowedContentType(file); err != nil {
		writeError(w, r, err)
		return
	}

	task := &domain.Task{
		ID:               idgen.New(),
		OwnerID:          owner,
		OriginalFilename: header.Filename,
		ByteSize:         header.Size,
		Status:           domain.TaskQueued,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
	task.ObjectStoreKey = objectstore.Key(task.ID.String(), task.OriginalFilename)

	if err := h.deps.ObjectStore.Put(r.Context(), task.ObjectStoreKey, file, header.Size); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.deps.Store.Tasks.Create(r.Context(), task); err != nil {
		writeError(w, r, err)
		return
	}

	if err := h.deps.Broker.Enqueue(r.Context(), task.ID.String()); err != nil {
		reason := "failed to enqueue task for processing"
		_ = h.deps.Store.Tasks.MarkFailedUnconditional(r.Context(), task.ID, reason)
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": task.ID.String(),
		"status":  task.Status,
	})
}

// getTaskStatus handles GET /api/tasks/{id}, returning the task's
// current status.
func (h *handlers) getTaskStatus(w http.ResponseWriter, r *http.Request) {
	task, err := h.loadOwnedTask(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": task.Status,
	})
}

// getTaskResult handles GET /api/tasks/{id}/result: 202 while the
// task is QUEUED or PROCESSING, 200 with the full analysis payload
// once COMPLETED.
func (h *handlers) getTaskResult(w http.ResponseWriter, r *http.Request) {
	task, err := h.loadOwnedTask(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if task.Status == domain.TaskQueued || task.Status == domain.TaskProcessing {
		writeJSON(w, http.StatusAccepted, map[string]any{"status": task.Status})
		return
	}
	if task.Status == domain.TaskFailed {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":        task.Status,
			"error_message": task.ErrorMessage,
		})
		return
	}

	analysis, err := h.deps.Store.Analyses.GetByTaskID(r.Context(), task.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	findings, err := h.deps.Store.Findings.ListByAnalysis(r.Context(), analysis.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisPayload(analysis, findings))
}

// loadOwnedTask fetches the task named by the {id} route param and
// enforces ownership (a non-owner gets 403, not
// a 404 that would leak the id's existence to the wrong caller... here
// the id itself was already supplied by the caller, so NotFound stays
// NotFound and only ownership mismatch yields Forbidden).
func (h *handlers) loadOwnedTask(r *http.Request) (*domain.Task, error) {
	id, err := idgen.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return nil, apperrors.NewInvalidInput("malformed task id")
	}
	task, err := h.deps.Store.Tasks.Get(r.Context(), id)
	if err != nil {
		return nil, err
	}
	owner, _ := userIDFromContext(r.Context())
	if task.OwnerID != owner {
		return nil, apperrors.NewAuthorization("you do not own this task")
	}
	return task, nil
}
