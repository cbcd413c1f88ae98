package api

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"scrapetok/internal/middleware"
	"scrapetok/internal/service"
	"scrapetok/internal/store"
	"scrapetok/internal/util"
)

const maxStateValueBytes = 1 << 20

// Only named slots are mirrorable; anything else is rejected so the state
// table cannot be used as arbitrary per-user storage.
var stateSlots = map[string]bool{
	service.SlotApifyFilters: true,
	service.SlotApifyData:    true,
	service.SlotPublished:    true,
}

func stateSlot(w http.ResponseWriter, r *http.Request) (string, bool) {
	slot := chi.URLParam(r, "slot")
	if !stateSlots[slot] {
		util.WriteError(w, 404, "unknown_slot", "no such state slot", middleware.RequestID(r.Context()))
		return "", false
	}
	return slot, true
}

func (h *Handlers) GetState(w http.ResponseWriter, r *http.Request) {
	slot, ok := stateSlot(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	v, err := h.svc.Store().GetState(r.Context(), u.ID, slot)
	if err == store.ErrNotFound {
		util.WriteJSON(w, 200, map[string]any{"slot": slot, "value": nil})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"slot": slot, "value": json.RawMessage(v)})
}

// PutState overwrites the slot with the request body. Last write wins; there
// is no merging across concurrent writers.
func (h *Handlers) PutState(w http.ResponseWriter, r *http.Request) {
	slot, ok := stateSlot(w, r)
	if !ok {
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateValueBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxStateValueBytes {
		util.WriteError(w, 400, "bad_request", "state value missing or too large", middleware.RequestID(r.Context()))
		return
	}
	if !json.Valid(body) {
		util.WriteError(w, 400, "bad_request", "state value must be json", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	if err := h.svc.Store().PutState(r.Context(), u.ID, slot, string(body)); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "ok", "slot": slot})
}

// DeleteState clears the slot. Clearing an absent slot still succeeds.
func (h *Handlers) DeleteState(w http.ResponseWriter, r *http.Request) {
	slot, ok := stateSlot(w, r)
	if !ok {
		return
	}
	u, _ := middleware.User(r.Context())
	if err := h.svc.Store().DeleteState(r.Context(), u.ID, slot); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "cleared", "slot": slot})
}

func (h *Handlers) GetTheme(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	theme, err := h.svc.Theme(r.Context(), u.ID)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"theme": theme})
}

func (h *Handlers) SetTheme(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Theme string `json:"theme"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	if err := h.svc.SetTheme(r.Context(), u.ID, req.Theme); err != nil {
		util.WriteError(w, 400, "bad_request", err.Error(), middleware.RequestID(r.Context()))
		return
	}
	util.WriteJSON(w, 200, map[string]string{"theme": req.Theme})
}

func (h *Handlers) GetAvatar(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	avatar, err := h.svc.Avatar(r.Context(), u)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"avatarUrl": avatar})
}

func (h *Handlers) SetAvatar(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AvatarURL string `json:"avatarUrl"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.AvatarURL == "" {
		util.WriteError(w, 400, "bad_request", "avatarUrl is required", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	if err := h.svc.SetAvatar(r.Context(), u, req.AvatarURL); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"avatarUrl": req.AvatarURL})
}

func (h *Handlers) PublishedDashboard(w http.ResponseWriter, r *http.Request) {
	u, _ := middleware.User(r.Context())
	snapshot, err := h.svc.PublishedDashboard(r.Context(), u.ID)
	if err == store.ErrNotFound {
		util.WriteJSON(w, 200, map[string]any{"published": nil})
		return
	}
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]any{"published": snapshot})
}

func (h *Handlers) PublishDashboard(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxStateValueBytes+1))
	if err != nil || len(body) == 0 || len(body) > maxStateValueBytes || !json.Valid(body) {
		util.WriteError(w, 400, "bad_request", "snapshot must be json", middleware.RequestID(r.Context()))
		return
	}
	u, _ := middleware.User(r.Context())
	if err := h.svc.PublishDashboard(r.Context(), u.ID, body); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, map[string]string{"status": "published"})
}
