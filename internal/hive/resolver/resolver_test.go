package resolver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNew_EmptyEndpointIsNil(t *testing.T) {
	if r := New(""); r != nil {
		t.Fatal("expected New(\"\") to return nil")
	}
}

func TestResolveUsernames_DecodesDisplayNames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Query().Get("format") != "map" {
			t.Errorf("expected format=map, got %q", req.URL.Query().Get("format"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"alice":{"firstName":"Alice","familyName":"Andersson"}}`))
	}))
	defer srv.Close()

	r := New(srv.URL)
	names, err := r.ResolveUsernames(context.Background(), []string{"alice", "alice"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := names["alice"]; got != "Alice Andersson" {
		t.Fatalf("expected 'Alice Andersson', got %q", got)
	}
}

func TestResolveOne_NotFoundIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	r := New(srv.URL)
	_, ok, err := r.ResolveOne(context.Background(), "ghost")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected ok=false for an unknown username")
	}
}

type fakeIdentifiable struct {
	username, displayName string
}

func (f *fakeIdentifiable) Username() string         { return f.username }
func (f *fakeIdentifiable) SetDisplayName(s string)  { f.displayName = s }

func TestPopulateIdentities_LeavesUnmatchedUntouched(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"alice":{"firstName":"Alice","familyName":"Andersson"}}`))
	}))
	defer srv.Close()

	r := New(srv.URL)
	items := []Identifiable{
		&fakeIdentifiable{username: "alice"},
		&fakeIdentifiable{username: "bob"},
	}
	if err := r.PopulateIdentities(context.Background(), items); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := items[0].(*fakeIdentifiable).displayName; got != "Alice Andersson" {
		t.Fatalf("expected alice's display name to be populated, got %q", got)
	}
	if got := items[1].(*fakeIdentifiable).displayName; got != "" {
		t.Fatalf("expected bob's display name to stay empty, got %q", got)
	}
}
