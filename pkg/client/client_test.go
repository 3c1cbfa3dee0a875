package client

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHealthyTrueOn200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "", 0)
	if !c.Healthy() {
		t.Fatalf("expected healthy")
	}
}

func TestListDecodesProcessViews(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]ProcessView{{ID: 1, Name: "web", State: "Running"}})
	}))
	defer srv.Close()

	c := New(srv.URL, "", 0)
	views, err := c.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(views) != 1 || views[0].Name != "web" {
		t.Fatalf("unexpected views: %+v", views)
	}
}

func TestRequiresBearerTokenAddsHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New(srv.URL, "s3cret", 0)
	c.Healthy()
	if gotAuth != "Bearer s3cret" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
}

func TestAPIErrorCarriesKindAndStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error": map[string]string{"kind": "NotFound", "message": "no such process"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "", 0)
	_, err := c.Details("ghost")
	apiErr, ok := err.(*APIError)
	if !ok {
		t.Fatalf("expected *APIError, got %T: %v", err, err)
	}
	if apiErr.Kind != "NotFound" || apiErr.StatusCode != http.StatusNotFound {
		t.Fatalf("unexpected error: %+v", apiErr)
	}
}
