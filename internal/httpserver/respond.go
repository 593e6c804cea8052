package httpserver

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

// errorResponse is the {error, message, error_code?, timestamp} shape
// every 4xx/5xx response shares.
type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code,omitempty"`
	Timestamp string `json:"timestamp"`
}

// errorCodePrefix maps a request's route group to the error code
// prefix (AUTH_###, UPLD_###, TASK_###, VALD_###, the last for analysis
// approve/reject); any other route (analysis listing and reads, audit,
// report) renders no error_code.
func errorCodePrefix(path string) string {
	switch {
	case strings.HasPrefix(path, "/api/auth"):
		return "AUTH"
	case strings.HasPrefix(path, "/api/upload"):
		return "UPLD"
	case strings.HasPrefix(path, "/api/tasks"):
		return "TASK"
	case strings.HasPrefix(path, "/api/analyses") && strings.HasSuffix(path, "/approve"),
		strings.HasPrefix(path, "/api/analyses") && strings.HasSuffix(path, "/reject"):
		return "VALD"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError renders err using the error taxonomy: a safe message derived
// from apperrors.SafeErrorMessage, never the raw internal cause.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.GetStatusCode(err)
	code := errorCodePrefix(r.URL.Path)
	if code != "" {
		code = code + "_" + strings.ToUpper(string(apperrors.GetType(err)))
	}
	writeJSON(w, status, errorResponse{
		Error:     string(apperrors.GetType(err)),
		Message:   apperrors.SafeErrorMessage(err),
		ErrorCode: code,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
