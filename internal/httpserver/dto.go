package httpserver

import (
	"encoding/json"
	"net/http"

	"github.com/go-playground/validator/v10"

	apperrors "github.com/auditeng/compliance/internal/errors"
)

// validate is a single, stateless validator instance shared across
// every handler (the library's own recommendation: construct once,
// reuse for the process lifetime).
var validate = validator.New()

// registerRequest is the /api/auth/register body.
type registerRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

// loginRequest is the /api/auth/login body.
type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// rejectRequest is the /api/analyses/{id}/reject body; reason length
// must fall in [10, 1000].
type rejectRequest struct {
	Reason string `json:"reason" validate:"required,min=10,max=1000"`
}

// decodeAndValidate decodes r's JSON body into dst and runs struct-tag
// validation over it, translating either failure into the InvalidInput
// shape the DTO layer renders as 400 ("DTO validation via
// go-playground/validator/v10 struct tags before any domain call").
func decodeAndValidate(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "malformed request body")
	}
	if err := validate.Struct(dst); err != nil {
		return apperrors.Wrap(err, apperrors.ErrorTypeInvalidInput, "request failed validation").WithDetailsf("%s", err.Error())
	}
	return nil
}
