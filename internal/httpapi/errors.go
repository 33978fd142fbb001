// Package httpapi exposes the ledger operations as POST JSON endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/septivank/water-metering-ledger/internal/ledger"
)

// errorResponse is the body of every failed operation.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteJSONError writes {ok:false, error:message} with the given status code.
func WriteJSONError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{OK: false, Error: message})
}

// statusFor maps a ledger error kind to an HTTP status.
func statusFor(err error) int {
	switch ledger.KindOf(err) {
	case ledger.KindInput:
		return http.StatusBadRequest
	case ledger.KindGet:
		return http.StatusNotFound
	case ledger.KindCreation, ledger.KindPayment:
		return http.StatusConflict
	case ledger.KindTask:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	WriteJSONError(w, statusFor(err), err.Error())
}
