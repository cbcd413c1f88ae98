// Package paging reproduces the list-view behavior of the admin and Q&A
// screens: sort an in-memory slice by a chosen column, slice it into
// fixed-size pages, and compute the sliding window of visible page buttons.
package paging

import (
	"sort"
	"strings"

	"scrapetok/internal/models"
)

const (
	OrderAsc  = "asc"
	OrderDesc = "desc"
)

// Toggle returns the order for a click on a column header: clicking the
// already-active column flips the direction, clicking a new column starts
// ascending.
func Toggle(current string, sameColumn bool) string {
	if sameColumn && current == OrderAsc {
		return OrderDesc
	}
	return OrderAsc
}

// SortUsers stable-sorts users by column. Unknown columns sort by username.
func SortUsers(users []models.User, column, order string) {
	less := func(a, b models.User) bool {
		switch column {
		case "email":
			return strings.ToLower(a.Email) < strings.ToLower(b.Email)
		case "role":
			return a.Role < b.Role
		case "id":
			return a.ID < b.ID
		default:
			return strings.ToLower(a.Username) < strings.ToLower(b.Username)
		}
	}
	sort.SliceStable(users, func(i, j int) bool {
		if order == OrderDesc {
			return less(users[j], users[i])
		}
		return less(users[i], users[j])
	})
}

// SortQuestions orders questions newest-first, with pending ones ahead of
// answered ones.
func SortQuestions(qs []models.Question) {
	sort.SliceStable(qs, func(i, j int) bool {
		if qs[i].Status != qs[j].Status {
			return qs[i].Status == models.QuestionPending
		}
		return qs[i].CreatedAt.After(qs[j].CreatedAt)
	})
}

// TotalPages reports how many pages of the given size a list needs. An empty
// list still has one (empty) page.
func TotalPages(n, size int) int {
	if size <= 0 {
		return 1
	}
	pages := (n + size - 1) / size
	if pages < 1 {
		pages = 1
	}
	return pages
}

// Page slices out one fixed-size page, 1-based. Out-of-range pages return an
// empty slice.
func Page[T any](items []T, page, size int) []T {
	if size <= 0 || page <= 0 {
		return []T{}
	}
	start := (page - 1) * size
	if start >= len(items) {
		return []T{}
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Window computes the visible page-number buttons: a block of up to width
// numbers that slides so the current page stays inside it.
func Window(current, total, width int) []int {
	if total < 1 {
		total = 1
	}
	if width < 1 {
		width = 1
	}
	if current < 1 {
		current = 1
	}
	if current > total {
		current = total
	}
	start := current - width/2
	if start < 1 {
		start = 1
	}
	if start+width-1 > total {
		start = total - width + 1
		if start < 1 {
			start = 1
		}
	}
	out := make([]int, 0, width)
	for p := start; p <= total && len(out) < width; p++ {
		out = append(out, p)
	}
	return out
}
