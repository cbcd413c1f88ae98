package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"scrapetok/internal/middleware"
	"scrapetok/internal/models"
	"scrapetok/internal/paging"
	"scrapetok/internal/util"
)

const (
	defaultUserPageSize = 5
	pageWindowWidth     = 5
)

// userQueryFromRequest reads the sort/page state the pager sends. When no
// explicit order is given but the previous sort state is, the order is the
// toggle of that state: clicking the same column header flips the direction,
// a new column starts ascending.
func userQueryFromRequest(r *http.Request) models.UserQuery {
	q := r.URL.Query()
	uq := models.UserQuery{
		Sort:     q.Get("sort"),
		Order:    q.Get("order"),
		Page:     intParam(q.Get("page"), 1),
		PageSize: intParam(q.Get("page_size"), defaultUserPageSize),
	}
	if uq.Sort == "" {
		uq.Sort = "username"
	}
	if uq.Order == "" && q.Get("prev_sort") != "" {
		uq.Order = paging.Toggle(q.Get("prev_order"), q.Get("prev_sort") == uq.Sort)
	}
	if uq.Order != paging.OrderDesc {
		uq.Order = paging.OrderAsc
	}
	return uq
}

// AdminListUsers returns one page of the full user set, sorted here rather
// than upstream. The response carries the sliding window of page numbers the
// pager renders, plus per-row ranks so numbering continues across pages.
func (h *Handlers) AdminListUsers(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	users, err := h.svc.ListAdminUsers(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	uq := userQueryFromRequest(r)
	paging.SortUsers(users, uq.Sort, uq.Order)
	total := paging.TotalPages(len(users), uq.PageSize)
	rows := paging.Page(users, uq.Page, uq.PageSize)

	ranked := make([]map[string]any, 0, len(rows))
	for i, u := range rows {
		ranked = append(ranked, map[string]any{
			"rank": (uq.Page-1)*uq.PageSize + i + 1,
			"user": u,
		})
	}

	util.WriteJSON(w, 200, map[string]any{
		"users":       ranked,
		"page":        uq.Page,
		"page_size":   uq.PageSize,
		"total":       len(users),
		"total_pages": total,
		"pages":       paging.Window(uq.Page, total, pageWindowWidth),
		"sort":        uq.Sort,
		"order":       uq.Order,
	})
}

func (h *Handlers) AdminUpgradeUser(w http.ResponseWriter, r *http.Request) {
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	admin, _ := middleware.User(r.Context())
	updated, err := h.svc.UpgradeToAdmin(r.Context(), id, admin, chi.URLParam(r, "id"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, updated)
}

func (h *Handlers) AdminAnswerQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Answer string `json:"answer"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		util.WriteError(w, 400, "bad_request", "invalid json", middleware.RequestID(r.Context()))
		return
	}
	id, ok := h.identity(w, r)
	if !ok {
		return
	}
	admin, _ := middleware.User(r.Context())
	q, err := h.svc.AnswerQuestion(r.Context(), id, admin, chi.URLParam(r, "id"), req.Answer)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, q)
}

func (h *Handlers) AdminAuditLog(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := intParam(q.Get("limit"), 100)
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n > 0 {
		offset = n
	}
	entries, err := h.svc.ListAudit(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	util.WriteJSON(w, 200, entries)
}

func intParam(v string, fallback int) int {
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
