package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"InvoiceLedger/internal/domain"
	"InvoiceLedger/internal/extract"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	CorrID  string `json:"corrId,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is
// logged and reported as 500 without its message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	corrID := corrIDFrom(r.Context())
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrInvalidSubmission):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "INVALID_SUBMISSION", Message: err.Error(), CorrID: corrID})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "NOT_FOUND", Message: err.Error(), CorrID: corrID})
	case errors.Is(err, extract.ErrUnsupportedMediaType):
		writeJSON(w, http.StatusUnsupportedMediaType, errorBody{Code: "UNSUPPORTED_MEDIA_TYPE", Message: err.Error(), CorrID: corrID})
	case errors.As(err, &tooLarge):
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Code: "DOCUMENT_TOO_LARGE", Message: err.Error(), CorrID: corrID})
	default:
		h.loggerFrom(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "INTERNAL_ERROR", Message: "internal error", CorrID: corrID})
	}
}
