package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServiceBaseURLs holds one base URL per logical backend service key.
type ServiceBaseURLs struct {
	Accounts     string
	Content      string
	Dashboard    string
	Orchestrator string
	Analytics    string
	Legacy       string
}

type Config struct {
	ListenAddr string

	Services ServiceBaseURLs

	DBPath            string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	SessionCookieName   string
	SessionIdleMinutes  int
	SessionAbsoluteHour int
	SessionEncryptKey   string
	CookieSecure        bool
	TrustProxy          bool
	CORSAllowedOrigins  []string

	WarehouseDriver string
	WarehouseDSN    string
	WarehouseTable  string

	TikTokAPIURL string
	TikTokAPIKey string

	YouTubeOEmbedURL string
	YouTubeThumbBase string

	AlertSender   string
	SMTPHost      string
	SMTPPort      int
	AlertFrom     string

	PresetsPath string

	HTTPReadTimeoutSec       int
	HTTPReadHeaderTimeoutSec int
	HTTPWriteTimeoutSec      int
	HTTPIdleTimeoutSec       int

	UpstreamTimeoutSec int

	BootstrapAdminEmail    string
	BootstrapAdminPassword string
}

func Load() (Config, error) {
	cfg := Config{
		ListenAddr: env("LISTEN_ADDR", ":8080"),
		Services: ServiceBaseURLs{
			Accounts:     env("ACCOUNTS_BASE_URL", "http://localhost:8081"),
			Content:      env("CONTENT_BASE_URL", "http://localhost:8082"),
			Dashboard:    env("DASHBOARD_BASE_URL", "http://localhost:8083"),
			Orchestrator: env("ORCHESTRATOR_BASE_URL", "http://localhost:8084"),
			Analytics:    env("ANALYTICS_BASE_URL", "http://localhost:8085"),
			Legacy:       env("LEGACY_BASE_URL", "http://localhost:8086"),
		},
		DBPath:                   env("APP_DB_PATH", "./data/app.db"),
		DBMaxOpenConns:           envInt("APP_DB_MAX_OPEN_CONNS", 4),
		DBMaxIdleConns:           envInt("APP_DB_MAX_IDLE_CONNS", 2),
		DBConnMaxLifetime:        time.Duration(envInt("APP_DB_CONN_MAX_LIFETIME_MIN", 30)) * time.Minute,
		SessionCookieName:        env("SESSION_COOKIE_NAME", "scrapetok_session"),
		SessionIdleMinutes:       envInt("SESSION_IDLE_MINUTES", 30),
		SessionAbsoluteHour:      envInt("SESSION_ABSOLUTE_HOURS", 24),
		SessionEncryptKey:        env("SESSION_ENCRYPT_KEY", "CHANGE_ME_PRODUCTION_SESSION_KEY"),
		CookieSecure:             envBool("COOKIE_SECURE", false),
		TrustProxy:               envBool("TRUST_PROXY", false),
		CORSAllowedOrigins:       envCSV("CORS_ALLOWED_ORIGINS"),
		WarehouseDriver:          strings.ToLower(env("WAREHOUSE_DB_DRIVER", "")),
		WarehouseDSN:             env("WAREHOUSE_DB_DSN", ""),
		WarehouseTable:           env("WAREHOUSE_DB_TABLE", "scraped_posts"),
		TikTokAPIURL:             env("TIKTOK_API_URL", "https://tiktok-scraper7.p.rapidapi.com"),
		TikTokAPIKey:             env("TIKTOK_API_KEY", ""),
		YouTubeOEmbedURL:         env("YOUTUBE_OEMBED_URL", "https://www.youtube.com/oembed"),
		YouTubeThumbBase:         env("YOUTUBE_THUMB_BASE", "https://img.youtube.com/vi"),
		AlertSender:              strings.ToLower(env("ALERT_SENDER", "log")),
		SMTPHost:                 env("SMTP_HOST", "127.0.0.1"),
		SMTPPort:                 envInt("SMTP_PORT", 587),
		AlertFrom:                env("ALERT_FROM", "alerts@scrapetok.local"),
		PresetsPath:              env("ORCHESTRATOR_PRESETS_PATH", ""),
		HTTPReadTimeoutSec:       envInt("HTTP_READ_TIMEOUT_SEC", 10),
		HTTPReadHeaderTimeoutSec: envInt("HTTP_READ_HEADER_TIMEOUT_SEC", 5),
		HTTPWriteTimeoutSec:      envInt("HTTP_WRITE_TIMEOUT_SEC", 30),
		HTTPIdleTimeoutSec:       envInt("HTTP_IDLE_TIMEOUT_SEC", 60),
		UpstreamTimeoutSec:       envInt("UPSTREAM_TIMEOUT_SEC", 30),
		BootstrapAdminEmail:      strings.ToLower(env("BOOTSTRAP_ADMIN_EMAIL", "")),
		BootstrapAdminPassword:   env("BOOTSTRAP_ADMIN_PASSWORD", ""),
	}

	if cfg.SessionIdleMinutes <= 0 || cfg.SessionAbsoluteHour <= 0 {
		return Config{}, fmt.Errorf("session timeouts must be positive")
	}
	if cfg.DBMaxOpenConns <= 0 || cfg.DBMaxIdleConns < 0 {
		return Config{}, fmt.Errorf("invalid DB pool config")
	}
	if cfg.UpstreamTimeoutSec <= 0 {
		return Config{}, fmt.Errorf("upstream timeout must be positive")
	}
	if strings.TrimSpace(cfg.SessionEncryptKey) == "" ||
		cfg.SessionEncryptKey == "CHANGE_ME_PRODUCTION_SESSION_KEY" ||
		len(cfg.SessionEncryptKey) < 24 {
		return Config{}, fmt.Errorf("SESSION_ENCRYPT_KEY must be set to a strong non-default value (>=24 chars)")
	}
	switch cfg.WarehouseDriver {
	case "", "pgx", "postgres", "mysql":
	default:
		return Config{}, fmt.Errorf("WAREHOUSE_DB_DRIVER must be one of: pgx, postgres, mysql")
	}
	if cfg.WarehouseDriver != "" && strings.TrimSpace(cfg.WarehouseDSN) == "" {
		return Config{}, fmt.Errorf("WAREHOUSE_DB_DSN is required when WAREHOUSE_DB_DRIVER is set")
	}
	switch cfg.AlertSender {
	case "log", "smtp":
	default:
		return Config{}, fmt.Errorf("ALERT_SENDER must be one of: log, smtp")
	}
	if cfg.AlertSender == "smtp" && cfg.SMTPPort <= 0 {
		return Config{}, fmt.Errorf("invalid SMTP port")
	}
	if !cfg.CookieSecure && !isLocalListen(cfg.ListenAddr) {
		return Config{}, fmt.Errorf("COOKIE_SECURE=false is allowed only for local listen addresses")
	}
	return cfg, nil
}

func (c Config) SessionIdleDuration() time.Duration {
	return time.Duration(c.SessionIdleMinutes) * time.Minute
}

func (c Config) SessionAbsoluteDuration() time.Duration {
	return time.Duration(c.SessionAbsoluteHour) * time.Hour
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSec) * time.Second
}

func env(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return d
	}
	return n
}

func envBool(k string, d bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return d
	}
	return b
}

func envCSV(k string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func isLocalListen(addr string) bool {
	a := strings.ToLower(strings.TrimSpace(addr))
	return strings.Contains(a, "127.0.0.1") || strings.Contains(a, "localhost") || strings.Contains(a, "[::1]") || strings.HasPrefix(a, ":")
}
