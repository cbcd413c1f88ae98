package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"scrapetok/internal/config"
)

func testConfig(content string) config.Config {
	cfg := config.Config{UpstreamTimeoutSec: 5}
	cfg.Services = config.ServiceBaseURLs{
		Accounts:     "http://accounts.invalid",
		Content:      content,
		Dashboard:    "http://dashboard.invalid",
		Orchestrator: "http://orchestrator.invalid",
		Analytics:    "http://analytics.invalid",
		Legacy:       "http://legacy.invalid",
	}
	return cfg
}

func TestRegistryCachesClients(t *testing.T) {
	reg := NewRegistry(testConfig("http://content.invalid"))
	a := reg.Get(Content)
	b := reg.Get(Content)
	if a != b {
		t.Fatalf("expected the same client instance for repeated Get")
	}
}

func TestRegistryUnknownKeyFallsBackToLegacy(t *testing.T) {
	reg := NewRegistry(testConfig("http://content.invalid"))
	c := reg.Get(ServiceKey("unheard-of"))
	if c.Service() != Legacy {
		t.Fatalf("expected legacy fallback, got %s", c.Service())
	}
}

func TestClientAttachesIdentityHeaders(t *testing.T) {
	var gotAuth, gotUser, gotRole, gotCT string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotUser = r.Header.Get("x-user-id")
		gotRole = r.Header.Get("x-user-role")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewEncoder(w).Encode(map[string]string{"ok": "yes"})
	}))
	defer srv.Close()

	reg := NewRegistry(testConfig(srv.URL))
	var out map[string]string
	err := reg.Get(Content).Post(context.Background(), "/posts/query", Identity{Bearer: "t1", UserID: "7", Role: "USER"}, map[string]string{"q": "x"}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer t1" {
		t.Fatalf("expected bearer header, got %q", gotAuth)
	}
	if gotUser != "7" || gotRole != "USER" {
		t.Fatalf("expected identity headers, got user=%q role=%q", gotUser, gotRole)
	}
	if gotCT != "application/json" {
		t.Fatalf("expected json content type, got %q", gotCT)
	}
	if out["ok"] != "yes" {
		t.Fatalf("expected decoded response, got %v", out)
	}
}

func TestClientExtractsUpstreamMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]string{"message": "filters are malformed"})
	}))
	defer srv.Close()

	reg := NewRegistry(testConfig(srv.URL))
	err := reg.Get(Content).Get(context.Background(), "/posts", Identity{}, nil)
	var upErr *Error
	if !errors.As(err, &upErr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	if upErr.Status != http.StatusBadRequest || upErr.Message != "filters are malformed" {
		t.Fatalf("unexpected error contents: %+v", upErr)
	}
}
