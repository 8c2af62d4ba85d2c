package api

import (
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/org/certrenew/internal/history"
	"github.com/org/certrenew/internal/impact"
	"github.com/org/certrenew/internal/remote"
	"github.com/org/certrenew/pkg/models"
)

func newUUID() string {
	b := make([]byte, 16)
	rand.Read(b) //nolint:errcheck
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%x-%x-%x-%x-%x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func decodeJSON(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"errors":[%q]}`, msg)
}

// writeTypedError maps the error taxonomy onto HTTP status codes.
func writeTypedError(w http.ResponseWriter, err error) {
	var ve *models.ValidationError
	var ise *models.InvalidStateError
	var lle *impact.LiveLookupError
	var se *remote.StatusError

	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Error())
	case errors.As(err, &ise):
		writeError(w, http.StatusConflict, ise.Error())
	case errors.Is(err, impact.ErrMissingParameters):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &lle):
		writeError(w, http.StatusBadGateway, lle.Error())
	case errors.Is(err, history.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &se):
		writeError(w, se.Code, se.Message)
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
