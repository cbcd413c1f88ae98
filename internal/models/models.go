package models

import (
	"strings"
	"time"
)

const (
	RoleUser  = "USER"
	RoleAdmin = "ADMIN"
)

type QuestionStatus string

const (
	QuestionPending  QuestionStatus = "PENDING"
	QuestionAnswered QuestionStatus = "ANSWERED"
)

// User is the authenticated identity as reported by the accounts service.
type User struct {
	ID        string     `json:"id"`
	Email     string     `json:"email"`
	Username  string     `json:"username"`
	Role      string     `json:"role"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

func (u User) IsAdmin() bool { return u.Role == RoleAdmin }

// Session is the gateway-issued session. The upstream bearer token is held
// encrypted in UpstreamSecret; every identity field returned by the accounts
// service is persisted here so a reload reconstructs the session without a
// network round-trip.
type Session struct {
	ID             string
	UserID         string
	Email          string
	Username       string
	Role           string
	TokenHash      string
	UpstreamSecret string
	IPHint         string
	UserAgentHash  string
	ExpiresAt      time.Time
	IdleExpiresAt  time.Time
	CreatedAt      time.Time
	LastSeenAt     time.Time
	RevokedAt      *time.Time
}

// ApifyFilterSet is the criteria a user submits to start a TikTok collection
// run. Exactly one of Hashtags, Username, Keyword may be set; the date range
// and post limit are always required.
type ApifyFilterSet struct {
	Hashtags []string `json:"hashtags,omitempty" yaml:"hashtags"`
	Username string   `json:"username,omitempty" yaml:"username"`
	Keyword  string   `json:"keyword,omitempty" yaml:"keyword"`
	DateFrom string   `json:"dateFrom" yaml:"dateFrom"`
	DateTo   string   `json:"dateTo" yaml:"dateTo"`
	MaxPosts int      `json:"maxPosts" yaml:"maxPosts"`
}

// SubjectCount reports how many of the three mutually exclusive subject
// fields are populated. Blank entries in the hashtags list do not count.
func (f ApifyFilterSet) SubjectCount() int {
	n := 0
	for _, tag := range f.Hashtags {
		if strings.TrimSpace(tag) != "" {
			n++
			break
		}
	}
	if strings.TrimSpace(f.Username) != "" {
		n++
	}
	if strings.TrimSpace(f.Keyword) != "" {
		n++
	}
	return n
}

// DBQueryFilterSet is the criteria for querying already-collected posts.
type DBQueryFilterSet struct {
	Hashtags    []string `json:"hashtags,omitempty"`
	Username    string   `json:"username,omitempty"`
	Keyword     string   `json:"keyword,omitempty"`
	DateFrom    string   `json:"dateFrom"`
	DateTo      string   `json:"dateTo"`
	MinLikes    int64    `json:"minLikes,omitempty"`
	MinViews    int64    `json:"minViews,omitempty"`
	MinComments int64    `json:"minComments,omitempty"`
	Limit       int      `json:"limit,omitempty"`
}

// ScrapedPost is one social-media post returned by a scrape or query. It is
// read-only once received.
type ScrapedPost struct {
	ID          string    `json:"id"`
	Username    string    `json:"username"`
	Text        string    `json:"text"`
	Hashtags    []string  `json:"hashtags"`
	SoundID     string    `json:"soundId,omitempty"`
	SoundURL    string    `json:"soundUrl,omitempty"`
	PostURL     string    `json:"postUrl"`
	Likes       int64     `json:"likes"`
	Comments    int64     `json:"comments"`
	Shares      int64     `json:"shares"`
	Views       int64     `json:"views"`
	Saves       int64     `json:"saves"`
	PostedAt    time.Time `json:"postedAt"`
	CollectedAt time.Time `json:"collectedAt"`
}

// Question is a support question with an optional admin answer.
type Question struct {
	ID         string         `json:"id"`
	UserID     string         `json:"userId"`
	UserEmail  string         `json:"userEmail,omitempty"`
	Username   string         `json:"username"`
	Question   string         `json:"question"`
	Answer     string         `json:"answer,omitempty"`
	Status     QuestionStatus `json:"status"`
	CreatedAt  time.Time      `json:"createdAt"`
	AnsweredAt *time.Time     `json:"answeredAt,omitempty"`
	AnsweredBy string         `json:"answeredBy,omitempty"`
}

// ModerationMessage is shown in place of AI content when the backend blocked
// the request on content-safety grounds.
const ModerationMessage = "The AI could not generate suggestions for this topic because it was flagged by content moderation. Try rephrasing your request."

// AiContentResponse is the AI-generated suggestion bundle. An all-empty
// response is the moderation sentinel: the request was blocked by content
// policy, not "no results".
type AiContentResponse struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Hashtags        []string `json:"hashtags"`
	SuggestedSounds []string `json:"suggestedSounds"`
	Recommendation  string   `json:"recommendation,omitempty"`
}

// Moderated reports whether every expected content field is empty or absent.
func (r AiContentResponse) Moderated() bool {
	return strings.TrimSpace(r.Title) == "" &&
		strings.TrimSpace(r.Description) == "" &&
		len(r.Hashtags) == 0 &&
		len(r.SuggestedSounds) == 0
}

// Alert is a notification attached to a user profile.
type Alert struct {
	ID        string    `json:"id"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"createdAt"`
}

// Profile bundles account attributes with the nested collections fetched
// wholesale per page visit. History entries are whatever shape the content
// backend returns; they are passed through untyped.
type Profile struct {
	User              User             `json:"user"`
	ScrapeHistory     []map[string]any `json:"scrapeHistory"`
	ScrapedAccounts   []string         `json:"scrapedAccounts"`
	AnsweredQuestions []Question       `json:"answeredQuestions"`
	Alerts            []Alert          `json:"alerts"`
}

// ProfileUpdate carries editable account attributes.
type ProfileUpdate struct {
	Username string `json:"username,omitempty"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
}

// DashboardSummary is the dashboard service's aggregate view.
type DashboardSummary struct {
	TopPosts    []ScrapedPost      `json:"topPosts"`
	Totals      map[string]float64 `json:"totals"`
	GeneratedAt time.Time          `json:"generatedAt"`
}

// OrchestratorRun is one scheduled or triggered scrape run.
type OrchestratorRun struct {
	ID         string         `json:"id"`
	Preset     string         `json:"preset,omitempty"`
	Filters    ApifyFilterSet `json:"filters"`
	Status     string         `json:"status"`
	StartedAt  *time.Time     `json:"startedAt,omitempty"`
	FinishedAt *time.Time     `json:"finishedAt,omitempty"`
	PostCount  int            `json:"postCount"`
}

// UserQuery controls sorting and paging of the admin user list.
type UserQuery struct {
	Sort     string
	Order    string
	Page     int
	PageSize int
}

// AuditEntry records an admin mutation performed through the gateway.
type AuditEntry struct {
	ID           string    `json:"id"`
	ActorUserID  string    `json:"actor_user_id"`
	Action       string    `json:"action"`
	Target       string    `json:"target"`
	MetadataJSON string    `json:"metadata_json"`
	CreatedAt    time.Time `json:"created_at"`
}
