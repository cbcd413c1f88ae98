// Package warehouse is the optional direct read path for the db-queries
// screen. When a warehouse DSN is configured the gateway queries the
// scraped-posts table itself instead of going through the content service.
package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"scrapetok/internal/config"
	"scrapetok/internal/models"
)

var identRx = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

const defaultLimit = 200

type Warehouse struct {
	db     *sql.DB
	driver string
	table  string
}

// Open connects to the configured warehouse, or returns (nil, nil) when no
// driver is configured so callers fall back to the content service.
func Open(cfg config.Config) (*Warehouse, error) {
	driver := strings.TrimSpace(cfg.WarehouseDriver)
	if driver == "" {
		return nil, nil
	}
	if driver == "postgres" {
		driver = "pgx"
	}
	if !identRx.MatchString(cfg.WarehouseTable) {
		return nil, fmt.Errorf("invalid warehouse table name %q", cfg.WarehouseTable)
	}
	db, err := sql.Open(driver, cfg.WarehouseDSN)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Warehouse{db: db, driver: driver, table: cfg.WarehouseTable}, nil
}

func (w *Warehouse) Close() error { return w.db.Close() }

func (w *Warehouse) Ping(ctx context.Context) error { return w.db.PingContext(ctx) }

// Query translates a DB-query filter set into one parameterized SELECT.
func (w *Warehouse) Query(ctx context.Context, f models.DBQueryFilterSet) ([]models.ScrapedPost, error) {
	query, args := w.buildQuery(f)
	rows, err := w.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("warehouse query: %w", err)
	}
	defer rows.Close()

	out := []models.ScrapedPost{}
	for rows.Next() {
		var p models.ScrapedPost
		var hashtags string
		if err := rows.Scan(&p.ID, &p.Username, &p.Text, &hashtags, &p.SoundID, &p.SoundURL, &p.PostURL,
			&p.Likes, &p.Comments, &p.Shares, &p.Views, &p.Saves, &p.PostedAt, &p.CollectedAt); err != nil {
			return nil, err
		}
		p.Hashtags = splitTags(hashtags)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (w *Warehouse) buildQuery(f models.DBQueryFilterSet) (string, []any) {
	conds := []string{}
	args := []any{}
	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, strings.Replace(cond, "%ph%", w.ph(len(args)), 1))
	}

	if f.DateFrom != "" {
		add("posted_at >= %ph%", f.DateFrom)
	}
	if f.DateTo != "" {
		add("posted_at <= %ph%", f.DateTo)
	}
	if u := strings.TrimSpace(f.Username); u != "" {
		add("username = %ph%", u)
	}
	if k := strings.TrimSpace(f.Keyword); k != "" {
		add("text LIKE %ph%", "%"+k+"%")
	}
	for _, tag := range f.Hashtags {
		if tag = strings.TrimSpace(strings.TrimPrefix(tag, "#")); tag != "" {
			add("hashtags LIKE %ph%", "%"+tag+"%")
		}
	}
	if f.MinLikes > 0 {
		add("likes >= %ph%", f.MinLikes)
	}
	if f.MinViews > 0 {
		add("views >= %ph%", f.MinViews)
	}
	if f.MinComments > 0 {
		add("comments >= %ph%", f.MinComments)
	}

	query := fmt.Sprintf(
		"SELECT id,username,text,hashtags,sound_id,sound_url,post_url,likes,comments,shares,views,saves,posted_at,collected_at FROM %s",
		w.table,
	)
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = defaultLimit
	}
	query += fmt.Sprintf(" ORDER BY posted_at DESC LIMIT %d", limit)
	return query, args
}

func (w *Warehouse) ph(i int) string {
	if strings.Contains(w.driver, "pgx") || strings.Contains(w.driver, "postgres") {
		return fmt.Sprintf("$%d", i)
	}
	return "?"
}

func splitTags(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
