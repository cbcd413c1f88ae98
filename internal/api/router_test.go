package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"scrapetok/internal/config"
	"scrapetok/internal/db"
	"scrapetok/internal/models"
	"scrapetok/internal/service"
	"scrapetok/internal/store"
	"scrapetok/internal/upstream"
	"scrapetok/internal/warehouse"
)

// testBackends holds the stub upstream services a router test runs against.
// Unset handlers answer 200 with an empty JSON object.
type testBackends struct {
	accounts  http.HandlerFunc
	content   http.HandlerFunc
	dashboard http.HandlerFunc
}

func emptyJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte("{}"))
}

func newTestRouter(t *testing.T, b testBackends) http.Handler {
	t.Helper()
	if b.accounts == nil {
		b.accounts = emptyJSON
	}
	if b.content == nil {
		b.content = emptyJSON
	}
	if b.dashboard == nil {
		b.dashboard = emptyJSON
	}
	accounts := httptest.NewServer(b.accounts)
	content := httptest.NewServer(b.content)
	dashboard := httptest.NewServer(b.dashboard)
	other := httptest.NewServer(http.HandlerFunc(emptyJSON))
	t.Cleanup(accounts.Close)
	t.Cleanup(content.Close)
	t.Cleanup(dashboard.Close)
	t.Cleanup(other.Close)

	cfg := config.Config{
		ListenAddr: "127.0.0.1:0",
		Services: config.ServiceBaseURLs{
			Accounts:     accounts.URL,
			Content:      content.URL,
			Dashboard:    dashboard.URL,
			Orchestrator: other.URL,
			Analytics:    other.URL,
			Legacy:       other.URL,
		},
		SessionCookieName:   "scrapetok_session",
		SessionIdleMinutes:  30,
		SessionAbsoluteHour: 12,
		SessionEncryptKey:   "test-session-encrypt-key-0123456789",
		UpstreamTimeoutSec:  5,
	}

	sqdb, err := db.OpenSQLite(filepath.Join(t.TempDir(), "app.db"), 1, 1, time.Minute)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = sqdb.Close() })
	if err := db.ApplyMigrationFile(sqdb, filepath.Join("..", "..", "migrations", "001_init.sql")); err != nil {
		t.Fatalf("migration: %v", err)
	}

	st := store.New(sqdb)
	reg := upstream.NewRegistry(cfg)
	var wh *warehouse.Warehouse
	svc := service.New(cfg, st, reg, wh, nil, nil)
	return NewRouter(cfg, svc, reg)
}

// login signs in through the stubbed accounts service and returns the
// session cookie. The accounts stub must answer /auth/login.
func login(t *testing.T, router http.Handler, email, password string) *http.Cookie {
	t.Helper()
	body, _ := json.Marshal(map[string]string{"email": email, "password": password})
	req := httptest.NewRequest("POST", "/api/v1/auth/login", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("login status = %d body = %s", rec.Code, rec.Body.String())
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == "scrapetok_session" && c.Value != "" {
			return c
		}
	}
	t.Fatal("no session cookie set by login")
	return nil
}

func loginStub(token, id, email, username, role string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/login" {
			emptyJSON(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"token": token, "id": id, "email": email, "username": username, "role": role,
		})
	}
}

func TestLoginPersistsIdentityAndForwardsBearer(t *testing.T) {
	var gotAuth, gotUserID, gotRole string
	router := newTestRouter(t, testBackends{
		accounts: loginStub("bearer-t1", "42", "alice@example.com", "alice", "USER"),
		dashboard: func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotUserID = r.Header.Get("x-user-id")
			gotRole = r.Header.Get("x-user-role")
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"topPosts":[],"totals":{}}`))
		},
	})
	cookie := login(t, router, "alice@example.com", "pw")

	// Identity comes back from the session store, no upstream call needed.
	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("me status = %d body = %s", rec.Code, rec.Body.String())
	}
	var me models.User
	if err := json.Unmarshal(rec.Body.Bytes(), &me); err != nil {
		t.Fatalf("decode me: %v", err)
	}
	if me.ID != "42" || me.Email != "alice@example.com" || me.Username != "alice" || me.Role != "USER" {
		t.Fatalf("identity not persisted: %+v", me)
	}

	// A proxied call carries the decrypted bearer and identity headers.
	req = httptest.NewRequest("GET", "/api/v1/dashboard", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("dashboard status = %d body = %s", rec.Code, rec.Body.String())
	}
	if gotAuth != "Bearer bearer-t1" {
		t.Fatalf("Authorization = %q, want stored bearer", gotAuth)
	}
	if gotUserID != "42" || gotRole != "USER" {
		t.Fatalf("identity headers = %q/%q", gotUserID, gotRole)
	}
}

func TestScrapeValidationRejectsWithoutUpstreamCall(t *testing.T) {
	contentCalls := 0
	router := newTestRouter(t, testBackends{
		accounts: loginStub("t", "1", "u@example.com", "u", "USER"),
		content: func(w http.ResponseWriter, r *http.Request) {
			contentCalls++
			emptyJSON(w, r)
		},
	})
	cookie := login(t, router, "u@example.com", "pw")

	// Two subject fields at once: rejected before any network traffic.
	body, _ := json.Marshal(models.ApifyFilterSet{
		Hashtags: []string{"golang"},
		Username: "someone",
		DateFrom: "2026-01-01",
		DateTo:   "2026-01-31",
		MaxPosts: 10,
	})
	req := httptest.NewRequest("POST", "/api/v1/apify/scrape", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	var resp struct {
		Error struct {
			Code  string   `json:"code"`
			Rules []string `json:"rules"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if resp.Error.Code != "validation_failed" || len(resp.Error.Rules) != 2 {
		t.Fatalf("error = %+v, want both filter rules", resp.Error)
	}
	if contentCalls != 0 {
		t.Fatalf("content service called %d times for invalid filters", contentCalls)
	}
}

func TestStateMirrorRoundTripAndIdempotentClear(t *testing.T) {
	router := newTestRouter(t, testBackends{
		accounts: loginStub("t", "1", "u@example.com", "u", "USER"),
	})
	cookie := login(t, router, "u@example.com", "pw")

	value := `{"hashtags":["golang"],"dateFrom":"2026-01-01"}`
	req := httptest.NewRequest("PUT", "/api/v1/state/apifyScrapeFilters", bytes.NewReader([]byte(value)))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("put status = %d body = %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest("GET", "/api/v1/state/apifyScrapeFilters", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	var got struct {
		Value json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if string(got.Value) != value {
		t.Fatalf("state = %s, want %s", got.Value, value)
	}

	// Clearing twice succeeds both times.
	for i := 0; i < 2; i++ {
		req = httptest.NewRequest("DELETE", "/api/v1/state/apifyScrapeFilters", nil)
		req.AddCookie(cookie)
		rec = httptest.NewRecorder()
		router.ServeHTTP(rec, req)
		if rec.Code != 200 {
			t.Fatalf("clear #%d status = %d", i+1, rec.Code)
		}
	}

	req = httptest.NewRequest("GET", "/api/v1/state/apifyScrapeFilters", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode cleared state: %v", err)
	}
	if string(got.Value) != "null" && len(got.Value) != 0 {
		t.Fatalf("cleared state = %s, want null", got.Value)
	}

	// Unknown slots are not mirrorable.
	req = httptest.NewRequest("PUT", "/api/v1/state/randomSlot", bytes.NewReader([]byte(`{}`)))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 404 {
		t.Fatalf("unknown slot status = %d, want 404", rec.Code)
	}
}

func TestAdminGateDeniesUserRole(t *testing.T) {
	adminUsersCalls := 0
	accounts := func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/login":
			var req struct{ Email string }
			_ = json.NewDecoder(r.Body).Decode(&req)
			role, id := "USER", "5"
			if req.Email == "root@example.com" {
				role, id = "ADMIN", "7"
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "t", "id": id, "email": req.Email, "username": "x", "role": role,
			})
		case "/admin/users":
			adminUsersCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode([]models.User{
				{ID: "1", Username: "bob", Email: "bob@example.com", Role: "USER"},
				{ID: "2", Username: "amy", Email: "amy@example.com", Role: "USER"},
			})
		default:
			emptyJSON(w, r)
		}
	}
	router := newTestRouter(t, testBackends{accounts: accounts})

	userCookie := login(t, router, "plain@example.com", "pw")
	req := httptest.NewRequest("GET", "/api/v1/admin/users", nil)
	req.AddCookie(userCookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 403 {
		t.Fatalf("user role status = %d, want 403", rec.Code)
	}
	if adminUsersCalls != 0 {
		t.Fatal("user list fetched despite denied role")
	}

	adminCookie := login(t, router, "root@example.com", "pw")
	req = httptest.NewRequest("GET", "/api/v1/admin/users?sort=username&order=asc", nil)
	req.AddCookie(adminCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("admin status = %d body = %s", rec.Code, rec.Body.String())
	}
	if adminUsersCalls != 1 {
		t.Fatalf("admin users fetched %d times, want 1", adminUsersCalls)
	}
	var page struct {
		Users []struct {
			Rank int         `json:"rank"`
			User models.User `json:"user"`
		} `json:"users"`
		Pages      []int `json:"pages"`
		TotalPages int   `json:"total_pages"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode page: %v", err)
	}
	if len(page.Users) != 2 || page.Users[0].User.Username != "amy" || page.Users[0].Rank != 1 {
		t.Fatalf("page = %+v, want amy ranked first", page.Users)
	}
	if page.TotalPages != 1 || len(page.Pages) != 1 {
		t.Fatalf("pager = %v / %d", page.Pages, page.TotalPages)
	}

	// Clicking the already-sorted column flips the direction.
	req = httptest.NewRequest("GET", "/api/v1/admin/users?sort=username&prev_sort=username&prev_order=asc", nil)
	req.AddCookie(adminCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("toggled status = %d", rec.Code)
	}
	var toggled struct {
		Users []struct {
			User models.User `json:"user"`
		} `json:"users"`
		Order string `json:"order"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &toggled); err != nil {
		t.Fatalf("decode toggled page: %v", err)
	}
	if toggled.Order != "desc" || toggled.Users[0].User.Username != "bob" {
		t.Fatalf("toggled order = %s first = %s, want desc/bob", toggled.Order, toggled.Users[0].User.Username)
	}
}

func TestUpgradeRevokesTargetSessions(t *testing.T) {
	accounts := func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/auth/login" {
			var req struct{ Email string }
			_ = json.NewDecoder(r.Body).Decode(&req)
			role, id := "USER", "5"
			if req.Email == "root@example.com" {
				role, id = "ADMIN", "7"
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"token": "t", "id": id, "email": req.Email, "username": "x", "role": role,
			})
			return
		}
		emptyJSON(w, r)
	}
	router := newTestRouter(t, testBackends{accounts: accounts})

	targetCookie := login(t, router, "plain@example.com", "pw")
	adminCookie := login(t, router, "root@example.com", "pw")

	req := httptest.NewRequest("POST", "/api/v1/admin/users/5/upgrade", nil)
	req.AddCookie(adminCookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("upgrade status = %d body = %s", rec.Code, rec.Body.String())
	}

	// The target's open session carried the old role; it must be gone now.
	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(targetCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 401 {
		t.Fatalf("target session still valid after role change: %d", rec.Code)
	}

	// The admin's own session is untouched.
	req = httptest.NewRequest("GET", "/api/v1/me", nil)
	req.AddCookie(adminCookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("admin session lost: %d", rec.Code)
	}
}

func TestThemeDefaultsToLight(t *testing.T) {
	router := newTestRouter(t, testBackends{
		accounts: loginStub("t", "1", "u@example.com", "u", "USER"),
	})
	cookie := login(t, router, "u@example.com", "pw")

	req := httptest.NewRequest("GET", "/api/v1/theme", nil)
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("theme status = %d", rec.Code)
	}
	var got struct {
		Theme string `json:"theme"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode theme: %v", err)
	}
	if got.Theme != "light" {
		t.Fatalf("fresh user theme = %q, want light", got.Theme)
	}

	body, _ := json.Marshal(map[string]string{"theme": "dark"})
	req = httptest.NewRequest("PUT", "/api/v1/theme", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("set theme status = %d", rec.Code)
	}
	req = httptest.NewRequest("GET", "/api/v1/theme", nil)
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode theme: %v", err)
	}
	if got.Theme != "dark" {
		t.Fatalf("theme = %q after set, want dark", got.Theme)
	}

	body, _ = json.Marshal(map[string]string{"theme": "blue"})
	req = httptest.NewRequest("PUT", "/api/v1/theme", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 400 {
		t.Fatalf("invalid theme status = %d, want 400", rec.Code)
	}
}

func TestReadyProbesRunConcurrently(t *testing.T) {
	slow := func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(time.Second)
		emptyJSON(w, r)
	}
	router := newTestRouter(t, testBackends{accounts: slow, content: slow, dashboard: slow})

	start := time.Now()
	req := httptest.NewRequest("GET", "/health/ready", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	elapsed := time.Since(start)

	if rec.Code != 200 {
		t.Fatalf("ready status = %d body = %s", rec.Code, rec.Body.String())
	}
	// Three upstreams each take a second; run serially the check would need
	// at least three.
	if elapsed > 2500*time.Millisecond {
		t.Fatalf("readiness took %s, probes not concurrent", elapsed)
	}
	var body struct {
		Status     string `json:"status"`
		Components map[string]struct {
			OK bool `json:"ok"`
		} `json:"components"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode ready: %v", err)
	}
	if body.Status != "ready" {
		t.Fatalf("status = %q", body.Status)
	}
	for _, name := range []string{"sqlite", "accounts", "content", "dashboard", "orchestrator", "analytics", "legacy"} {
		comp, present := body.Components[name]
		if !present || !comp.OK {
			t.Fatalf("component %s = %+v", name, comp)
		}
	}
}

func TestAiModerationSentinel(t *testing.T) {
	router := newTestRouter(t, testBackends{
		accounts: loginStub("t", "1", "u@example.com", "u", "USER"),
		content: func(w http.ResponseWriter, r *http.Request) {
			// All content fields empty: the moderation sentinel.
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"title":"","description":"","hashtags":[],"suggestedSounds":[]}`))
		},
	})
	cookie := login(t, router, "u@example.com", "pw")

	body, _ := json.Marshal(map[string]string{"topic": "anything"})
	req := httptest.NewRequest("POST", "/api/v1/ai/suggestions", bytes.NewReader(body))
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != 200 {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Moderated bool   `json:"moderated"`
		Message   string `json:"message"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Moderated || resp.Message != models.ModerationMessage {
		t.Fatalf("resp = %+v, want moderation notice", resp)
	}
}
