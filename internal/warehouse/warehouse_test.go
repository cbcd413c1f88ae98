package warehouse

import (
	"strings"
	"testing"

	"scrapetok/internal/models"
)

func TestBuildQueryPostgresPlaceholders(t *testing.T) {
	w := &Warehouse{driver: "pgx", table: "scraped_posts"}
	query, args := w.buildQuery(models.DBQueryFilterSet{
		DateFrom: "2025-01-01",
		DateTo:   "2025-02-01",
		Username: "creator1",
		MinLikes: 100,
	})
	if !strings.Contains(query, "posted_at >= $1") || !strings.Contains(query, "username = $3") {
		t.Fatalf("expected numbered placeholders, got %q", query)
	}
	if len(args) != 4 {
		t.Fatalf("expected 4 args, got %d: %v", len(args), args)
	}
	if !strings.Contains(query, "LIMIT 200") {
		t.Fatalf("expected default limit, got %q", query)
	}
}

func TestBuildQueryMySQLPlaceholders(t *testing.T) {
	w := &Warehouse{driver: "mysql", table: "scraped_posts"}
	query, args := w.buildQuery(models.DBQueryFilterSet{
		Hashtags: []string{"#fyp", "dance"},
		Limit:    50,
	})
	if strings.Contains(query, "$1") {
		t.Fatalf("expected ? placeholders for mysql, got %q", query)
	}
	if got := strings.Count(query, "?"); got != 2 {
		t.Fatalf("expected 2 placeholders, got %d in %q", got, query)
	}
	if args[0] != "%fyp%" || args[1] != "%dance%" {
		t.Fatalf("expected trimmed hashtag patterns, got %v", args)
	}
	if !strings.Contains(query, "LIMIT 50") {
		t.Fatalf("expected explicit limit, got %q", query)
	}
}

func TestSplitTags(t *testing.T) {
	got := splitTags(" fyp, dance ,,viral ")
	if len(got) != 3 || got[0] != "fyp" || got[2] != "viral" {
		t.Fatalf("unexpected tags: %v", got)
	}
}
