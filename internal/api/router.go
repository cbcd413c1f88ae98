package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"scrapetok/internal/config"
	"scrapetok/internal/middleware"
	"scrapetok/internal/rate"
	"scrapetok/internal/service"
	"scrapetok/internal/tiktok"
	"scrapetok/internal/upstream"
	"scrapetok/internal/util"
	"scrapetok/internal/version"
	"scrapetok/internal/youtube"
)

type Handlers struct {
	cfg     config.Config
	svc     *service.Service
	reg     *upstream.Registry
	limiter *rate.Limiter
	prober  *youtube.Prober
	tiktok  *tiktok.Client
}

func NewRouter(cfg config.Config, svc *service.Service, reg *upstream.Registry) http.Handler {
	h := &Handlers{
		cfg:     cfg,
		svc:     svc,
		reg:     reg,
		limiter: rate.NewLimiter(),
		prober:  youtube.NewProber(cfg),
		tiktok:  tiktok.New(cfg),
	}
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestIDMiddleware)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.SecurityHeaders)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSAllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders:   []string{"Content-Type"},
			AllowCredentials: true,
		}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		util.WriteError(w, 404, "not_found", "no such route", middleware.RequestID(r.Context()))
	})

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		util.WriteJSON(w, 200, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
			util.WriteJSON(w, 200, version.Current())
		})
		r.With(middleware.RateLimit(h.limiter, "login", 20, time.Minute, h.cfg.TrustProxy)).Post("/auth/login", h.Login)
		r.With(middleware.RateLimit(h.limiter, "register", 10, time.Minute, h.cfg.TrustProxy)).Post("/auth/register", h.Register)
		r.Post("/auth/logout", h.Logout)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Authn(h.svc, h.cfg.SessionCookieName))
			r.Get("/me", h.Me)

			r.Get("/theme", h.GetTheme)
			r.Put("/theme", h.SetTheme)
			r.Get("/avatar", h.GetAvatar)
			r.Put("/avatar", h.SetAvatar)
			r.Get("/state/{slot}", h.GetState)
			r.Put("/state/{slot}", h.PutState)
			r.Delete("/state/{slot}", h.DeleteState)

			r.With(middleware.RateLimit(h.limiter, "scrape", 30, time.Minute, h.cfg.TrustProxy)).Post("/apify/scrape", h.SubmitScrape)
			r.Get("/apify/last", h.LastScrape)
			r.Delete("/apify/last", h.ClearScrape)
			r.Post("/posts/query", h.QueryPosts)

			r.Get("/dashboard", h.Dashboard)
			r.Get("/dashboard/published", h.PublishedDashboard)
			r.Put("/dashboard/published", h.PublishDashboard)

			r.Get("/qa", h.ListQuestions)
			r.Post("/qa", h.AskQuestion)

			r.Get("/profile", h.GetProfile)
			r.Put("/profile", h.UpdateProfile)

			r.Get("/analytics/summary", h.Analytics)

			r.Get("/orchestrator/runs", h.ListRuns)
			r.Post("/orchestrator/runs", h.TriggerRun)
			r.Get("/orchestrator/presets", h.ListPresets)
			r.Post("/orchestrator/presets/{name}/run", h.RunPreset)

			r.With(middleware.RateLimit(h.limiter, "ai", 15, time.Minute, h.cfg.TrustProxy)).Post("/ai/suggestions", h.AiSuggestions)
			r.Get("/tiktok/profile", h.TikTokProfile)
			r.Get("/youtube/{videoID}/availability", h.YouTubeAvailability)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminOnly)
				r.Get("/users", h.AdminListUsers)
				r.Post("/users/{id}/upgrade", h.AdminUpgradeUser)
				r.Post("/questions/{id}/answer", h.AdminAnswerQuestion)
				r.Get("/audit-log", h.AdminAuditLog)
			})
		})
	})

	return r
}

// Ready probes the local store, each upstream service, and the warehouse
// when one is configured. Probes run concurrently under one shared deadline
// so a dead upstream degrades the breakdown instead of stalling the check.
func (h *Handlers) Ready(w http.ResponseWriter, r *http.Request) {
	probeCtx, cancel := upstream.ProbeTimeout(r.Context())
	defer cancel()

	keys := []upstream.ServiceKey{
		upstream.Accounts, upstream.Content, upstream.Dashboard,
		upstream.Orchestrator, upstream.Analytics, upstream.Legacy,
	}
	type probeResult struct {
		name string
		err  error
	}
	results := make([]probeResult, len(keys)+2)

	var wg sync.WaitGroup
	wg.Add(len(keys) + 1)
	go func() {
		defer wg.Done()
		results[0] = probeResult{"sqlite", h.svc.Store().Ping(probeCtx)}
	}()
	for i, key := range keys {
		i, key := i, key
		go func() {
			defer wg.Done()
			results[i+1] = probeResult{string(key), h.reg.Probe(probeCtx, key)}
		}()
	}
	if wh := h.svc.Warehouse(); wh != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[len(keys)+1] = probeResult{"warehouse", wh.Ping(probeCtx)}
		}()
	}
	wg.Wait()

	ready := map[string]any{
		"checked_at": time.Now().UTC().Format(time.RFC3339),
		"components": map[string]any{},
	}
	comps := ready["components"].(map[string]any)
	allOK := true
	for _, res := range results {
		if res.name == "" {
			continue
		}
		if res.err != nil {
			allOK = false
			comps[res.name] = map[string]any{"ok": false, "error": res.err.Error()}
		} else {
			comps[res.name] = map[string]any{"ok": true}
		}
	}

	if allOK {
		ready["status"] = "ready"
		util.WriteJSON(w, 200, ready)
		return
	}
	ready["status"] = "degraded"
	util.WriteJSON(w, 503, ready)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	token, user, err := h.svc.Login(r.Context(), req.Email, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		if errors.Is(err, service.ErrInvalidCredentials) {
			util.WriteError(w, 401, "invalid_credentials", "invalid email or password", middleware.RequestID(r.Context()))
			return
		}
		h.writeServiceError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	util.WriteJSON(w, 200, user)
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	token, user, err := h.svc.Register(r.Context(), req.Email, req.Username, req.Password, r.RemoteAddr, r.UserAgent())
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)
	util.WriteJSON(w, 201, user)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	if c, err := r.Cookie(h.cfg.SessionCookieName); err == nil && c.Value != "" {
		_ = h.svc.Logout(r.Context(), c.Value)
	}
	h.clearSessionCookie(w)
	util.WriteJSON(w, 200, map[string]string{"status": "ok"})
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	util.WriteJSON(w, 200, u)
}

// identity resolves the upstream identity for the authenticated request.
// Writes the error response itself on failure.
func (h *Handlers) identity(w http.ResponseWriter, r *http.Request) (upstream.Identity, bool) {
	u, _ := middleware.User(r.Context())
	sess, _ := middleware.Session(r.Context())
	id, err := h.svc.Identity(u, sess)
	if err != nil {
		h.clearSessionCookie(w)
		util.WriteError(w, 401, "session_expired", "session can no longer be used, sign in again", middleware.RequestID(r.Context()))
		return upstream.Identity{}, false
	}
	return id, true
}

// writeServiceError maps service-layer failures onto HTTP responses. Upstream
// 4xx statuses pass through with the extracted message; upstream transport
// and 5xx failures read as a bad gateway.
func (h *Handlers) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	reqID := middleware.RequestID(r.Context())
	var vErr *service.ValidationError
	if errors.As(err, &vErr) {
		util.WriteJSON(w, 400, map[string]any{
			"error": map[string]any{
				"code":       "validation_failed",
				"message":    vErr.Error(),
				"rules":      vErr.Rules,
				"request_id": reqID,
			},
		})
		return
	}
	if errors.Is(err, service.ErrInvalidCredentials) {
		util.WriteError(w, 401, "unauthorized", "authentication required", reqID)
		return
	}
	if errors.Is(err, service.ErrForbidden) {
		util.WriteError(w, 403, "forbidden", "admin role required", reqID)
		return
	}
	if errors.Is(err, service.ErrPresetNotFound) {
		util.WriteError(w, 404, "preset_not_found", "no such preset", reqID)
		return
	}
	var upErr *upstream.Error
	if errors.As(err, &upErr) {
		if upErr.Status >= 400 && upErr.Status < 500 {
			util.WriteError(w, upErr.Status, "upstream_rejected", upErr.Message, reqID)
			return
		}
		util.WriteError(w, 502, "upstream_error", upErr.Error(), reqID)
		return
	}
	if strings.Contains(err.Error(), "unreachable") {
		util.WriteError(w, 502, "upstream_error", err.Error(), reqID)
		return
	}
	util.WriteError(w, 500, "internal_error", err.Error(), reqID)
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(h.cfg.SessionAbsoluteDuration().Seconds()),
	})
}

func (h *Handlers) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     h.cfg.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(1, 0).UTC(),
	})
}
