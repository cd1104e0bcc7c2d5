package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/moltnet/diaryd/internal/common"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeErrorMessage(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeError maps service errors onto HTTP statuses. Sentinels carry the
// category; the response body repeats the sentinel text, not internal
// detail.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, common.ErrorValidation), errors.Is(err, common.ErrInvalidPublicKey):
		writeErrorMessage(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrorUnauthorized):
		writeErrorMessage(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, common.ErrVoucherNotFound):
		writeErrorMessage(w, http.StatusNotFound, err.Error())
	case errors.Is(err, common.ErrorNotFound):
		writeErrorMessage(w, http.StatusNotFound, "not found")
	case errors.Is(err, common.ErrSigningRequestExpired):
		writeErrorMessage(w, http.StatusConflict, "signing request expired, no further submissions accepted")
	case errors.Is(err, common.ErrSigningRequestResolved),
		errors.Is(err, common.ErrVoucherRedeemed),
		errors.Is(err, common.ErrVoucherExpired),
		errors.Is(err, common.ErrorConflict):
		writeErrorMessage(w, http.StatusConflict, err.Error())
	case errors.Is(err, common.ErrorUpstream):
		writeErrorMessage(w, http.StatusBadGateway, "upstream dependency unavailable")
	default:
		writeErrorMessage(w, http.StatusInternalServerError, "internal error")
	}
}
