package httpserver

import "net/http"

// register handles POST /api/auth/register: 201 with a token on
// success, 400 on a duplicate email or weak password.
func (h *handlers) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.deps.Auth.Register(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"user_id": user.ID.String(),
		"email":   user.Email,
		"token":   token,
	})
}

// login handles POST /api/auth/login: 200 with a token, or 401.
func (h *handlers) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeAndValidate(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	user, token, err := h.deps.Auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user_id": user.ID.String(),
		"token":   token,
	})
}
