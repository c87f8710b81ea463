package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/datasektionen/hive-sub000/internal/hive/hiveerr"
)

func TestRenderError_EnvelopeShape(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/user/alice/permission/read", nil)

	renderError(rec, req, hiveerr.ForKey(hiveerr.KeyAPIUnauthorized))

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	var body envelope
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Error || body.Info.Key != "api.unauthorized" {
		t.Fatalf("unexpected envelope: %+v", body)
	}
}

func TestAsHiveErr_WrapsPlainError(t *testing.T) {
	he := asHiveErr(errPlain("boom"))
	if he.Key != hiveerr.KeyDB || he.Status != http.StatusInternalServerError {
		t.Fatalf("expected a wrapped db error, got %+v", he)
	}
}

type errPlain string

func (e errPlain) Error() string { return string(e) }
