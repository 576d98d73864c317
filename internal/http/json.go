package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"

	apperrors "github.com/target/reclaim/internal/errors"
	"github.com/target/reclaim/internal/service"
)

// maxBodyBytes bounds request bodies; entity attributes are small documents.
const maxBodyBytes = 1 << 20

// DecodeJSON decodes the request body into dst. On failure it writes a 400 and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		WriteError(w, ErrorParams{Code: http.StatusBadRequest, ErrCode: "invalid_json", Err: err})
		return false
	}
	return true
}

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(v); err != nil {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = buf.WriteTo(w)
}

// ErrorParams groups the parts of a JSON error response.
type ErrorParams struct {
	Code    int
	ErrCode string
	Err     error
}

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, p ErrorParams) {
	WriteJSON(w, p.Code, ErrorBody{Error: p.ErrCode, Message: p.Err.Error(), Field: apperrors.GetField(p.Err)})
}

// WriteServiceError maps a service or store error to its status and code. Internal errors
// are logged by the caller; their message is not echoed.
func WriteServiceError(w http.ResponseWriter, err error) {
	err = normalize(err)
	code := apperrors.Classify(err)
	status := apperrors.HTTPStatus(err)
	if code == apperrors.ErrCodeInternal {
		err = errors.New(http.StatusText(http.StatusInternalServerError))
	}
	WriteError(w, ErrorParams{Code: status, ErrCode: string(code), Err: err})
}

// normalize folds service sentinels the errors package cannot see into AppErrors.
func normalize(err error) error {
	switch {
	case errors.Is(err, service.ErrParentDeleted), errors.Is(err, service.ErrNotDeleted):
		return apperrors.Wrap(err, apperrors.ErrCodeConflict, "conflict")
	default:
		return err
	}
}
