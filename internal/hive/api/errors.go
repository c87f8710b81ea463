package api

import (
	"errors"
	"net/http"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
)

// envelope is the error body shape from §4.4: `{"error":true,"info":{"key":
// "<stable-key>","context":{...}}}`. Every route this server exposes lives
// under /api/* or is a health probe, so the HTML-rendering fallback §7
// describes for non-API paths has no caller here.
type envelope struct {
	Error bool         `json:"error"`
	Info  envelopeInfo `json:"info"`
}

type envelopeInfo struct {
	Key     string         `json:"key"`
	Context map[string]any `json:"context,omitempty"`
}

// renderError writes he's stable key, status and context as the JSON
// envelope. Plain errors from lower layers go through asHiveErr first, which
// turns anything that isn't already a *hiveerr.Error into an opaque "db"
// failure rather than leaking its message.
func renderError(w http.ResponseWriter, _ *http.Request, he *hiveerr.Error) {
	writeJSON(w, he.Status, envelope{Error: true, Info: envelopeInfo{Key: he.Key, Context: he.Context}})
}

// asHiveErr recovers a *hiveerr.Error from a generic error returned by the
// services/store layers, falling back to an opaque db error.
func asHiveErr(err error) *hiveerr.Error {
	if err == nil {
		return nil
	}
	var he *hiveerr.Error
	if errors.As(err, &he) {
		return he
	}
	return hiveerr.Wrap(hiveerr.KeyDB, http.StatusInternalServerError, err)
}
