package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scrapetok/internal/middleware"
	"scrapetok/internal/models"
	"scrapetok/internal/tiktok"
	"scrapetok/internal/util"
)

func (h *Handlers) SubmitScrape(w http.ResponseWriter, r *http.Request) {
	var f models.ApifyFilterSet
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	posts, err := h.svc.SubmitApifyFilters(r.Context(), id, u.ID, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"filters": f, "posts": posts})
}

func (h *Handlers) LastScrape(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	filters, posts, err := h.svc.LastApifyState(r.Context(), u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	out := map[string]any{"posts": posts}
	if filters != nil {
		out["filters"] = filters
	}
	util.WriteJSON(w, 200, out)
}

func (h *Handlers) ClearScrape(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	if err := h.svc.ClearApifyState(r.Context(), u.ID); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "cleared"})
}

func (h *Handlers) QueryPosts(w http.ResponseWriter, r *http.Request) {
	var f models.DBQueryFilterSet
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	posts, err := h.svc.QueryPosts(r.Context(), id, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, posts)
}

func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	summary, err := h.svc.DashboardSummary(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, summary)
}

func (h *Handlers) ListQuestions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	qs, err := h.svc.ListQuestions(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, qs)
}

func (h *Handlers) AskQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	q, err := h.svc.AskQuestion(r.Context(), id, u, req.Question)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 201, q)
}

func (h *Handlers) GetProfile(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	p, err := h.svc.Profile(r.Context(), id, u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, p)
}

func (h *Handlers) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd models.ProfileUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	updated, err := h.svc.UpdateProfile(r.Context(), id, u.ID, upd)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, updated)
}

func (h *Handlers) Analytics(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	out, err := h.svc.AnalyticsSummary(r.Context(), id, r.URL.RawQuery)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, out)
}

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	runs, err := h.svc.ListRuns(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, runs)
}

func (h *Handlers) TriggerRun(w http.ResponseWriter, r *http.Request) {
	var f models.ApifyFilterSet
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	run, err := h.svc.TriggerRun(r.Context(), id, f)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 202, run)
}

func (h *Handlers) ListPresets(w http.ResponseWriter, r *http.Request) {
	util.WriteJSON(w, 200, h.svc.Presets())
}

func (h *Handlers) RunPreset(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	run, err := h.svc.TriggerPreset(r.Context(), id, chi.URLParam(r, "name"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 202, run)
}

// AiSuggestions returns the content bundle, or the moderation notice when
// the backend blocked the topic. Moderation is a 200, not an error.
func (h *Handlers) AiSuggestions(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Topic string `json:"topic"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	resp, err := h.svc.AiSuggestions(r.Context(), id, req.Topic)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if resp.Moderated() {
		util.WriteJSON(w, 200, map[string]any{
			"moderated": true,
			"message":   models.ModerationMessage,
		})
		return
	}
	util.WriteJSON(w, 200, resp)
}

func (h *Handlers) TikTokProfile(w http.ResponseWriter, r *http.Request) {
	username := r.URL.Query().Get("username")
	if username == "" {
		util.WriteError(w, 400, "bad_request", "username query parameter is required", middleware.RequestID(r.Context()))
		return
	}
	p, err := h.tiktok.Lookup(r.Context(), username)
	if err != nil {
		if errors.Is(err, tiktok.ErrNotConfigured) {
			util.WriteError(w, 503, "not_configured", "tiktok profile lookup is not configured", middleware.RequestID(r.Context()))
			return
		}
		util.WriteError(w, 502, "upstream_error", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, p)
}

func (h *Handlers) YouTubeAvailability(w http.ResponseWriter, r *http.Request) {
	videoID := chi.URLParam(r, "videoID")
	res, err := h.prober.Check(r.Context(), videoID)
	if err != nil {
		util.WriteError(w, 502, "upstream_error", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, res)
}
