package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"scrapetok/internal/auth"
	"scrapetok/internal/config"
	"scrapetok/internal/models"
	"scrapetok/internal/notify"
	"scrapetok/internal/orchestrator"
	"scrapetok/internal/paging"
	"scrapetok/internal/store"
	"scrapetok/internal/upstream"
	"scrapetok/internal/util"
	"scrapetok/internal/warehouse"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrForbidden          = errors.New("forbidden")
	ErrPresetNotFound     = errors.New("preset not found")
)

// State-mirror slot names, matching the keys the client historically kept in
// browser storage.
const (
	SlotApifyFilters = "apifyScrapeFilters"
	SlotApifyData    = "apifyScrapeData"
	SlotPublished    = "publishedData"
	SlotTheme        = "theme"
)

// AvatarSlot names the cached placeholder-avatar slot for a user.
func AvatarSlot(role, username string) string {
	return fmt.Sprintf("avatar_%s_%s", role, username)
}

// The two filter rules shown together whenever a scrape submission is
// rejected. No partial submission is allowed.
const (
	ruleSubject = "exactly one of hashtags, username or keyword must be provided"
	ruleRange   = "a date range (from and to) and a post limit are always required"
)

// ValidationError rejects a filter submission before any upstream call.
type ValidationError struct {
	Rules []string
}

func (e *ValidationError) Error() string {
	return "invalid filters: " + strings.Join(e.Rules, "; ")
}

func newFilterValidationError() *ValidationError {
	return &ValidationError{Rules: []string{ruleSubject, ruleRange}}
}

// ValidateApifyFilters enforces the submission contract: exactly one subject
// field, both date-range fields, and a positive post limit. Either violation
// surfaces both rules.
func ValidateApifyFilters(f models.ApifyFilterSet) error {
	if f.SubjectCount() != 1 {
		return newFilterValidationError()
	}
	if !validDate(f.DateFrom) || !validDate(f.DateTo) || f.MaxPosts <= 0 {
		return newFilterValidationError()
	}
	return nil
}

// ValidateDBQueryFilters requires just the date range; subject fields are
// optional and combinable for stored-post queries.
func ValidateDBQueryFilters(f models.DBQueryFilterSet) error {
	if !validDate(f.DateFrom) || !validDate(f.DateTo) {
		return &ValidationError{Rules: []string{ruleRange}}
	}
	return nil
}

func validDate(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	_, err := time.Parse("2006-01-02", v)
	return err == nil
}

type Service struct {
	cfg        config.Config
	st         *store.Store
	reg        *upstream.Registry
	wh         *warehouse.Warehouse
	presets    *orchestrator.Presets
	sender     notify.Sender
	encryptKey []byte
}

func New(cfg config.Config, st *store.Store, reg *upstream.Registry, wh *warehouse.Warehouse, presets *orchestrator.Presets, sender notify.Sender) *Service {
	if sender == nil {
		sender = notify.LogSender{}
	}
	if presets == nil {
		presets, _ = orchestrator.Load("")
	}
	return &Service{
		cfg:        cfg,
		st:         st,
		reg:        reg,
		wh:         wh,
		presets:    presets,
		sender:     sender,
		encryptKey: util.Derive32ByteKey(cfg.SessionEncryptKey),
	}
}

func (s *Service) Store() *store.Store { return s.st }

// Warehouse returns the direct-query warehouse, or nil when none is
// configured.
func (s *Service) Warehouse() *warehouse.Warehouse { return s.wh }

// authResponse is the accounts service's reply to login/register. The id is
// numeric in some deployments and a string in others.
type authResponse struct {
	Token    string      `json:"token"`
	ID       json.Number `json:"id"`
	Email    string      `json:"email"`
	Username string      `json:"username"`
	Role     string      `json:"role"`
}

func (r authResponse) user() models.User {
	role := strings.ToUpper(strings.TrimSpace(r.Role))
	if role == "" {
		role = models.RoleUser
	}
	return models.User{
		ID:       r.ID.String(),
		Email:    strings.ToLower(strings.TrimSpace(r.Email)),
		Username: strings.TrimSpace(r.Username),
		Role:     role,
	}
}

// Login authenticates against the accounts service and persists every
// returned identity field in the session record. When the accounts service
// is unreachable the bootstrap admin may still sign in locally.
func (s *Service) Login(ctx context.Context, email, password, ip, userAgent string) (string, models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return "", models.User{}, ErrInvalidCredentials
	}

	var resp authResponse
	err := s.reg.Get(upstream.Accounts).Post(ctx, "/auth/login", upstream.Identity{}, map[string]string{
		"email":    email,
		"password": password,
	}, &resp)
	if err != nil {
		var upErr *upstream.Error
		if errors.As(err, &upErr) {
			if upErr.Status == 401 || upErr.Status == 403 || upErr.Status == 400 {
				return "", models.User{}, ErrInvalidCredentials
			}
			return "", models.User{}, err
		}
		// Transport-level failure: the accounts service is down. Allow the
		// bootstrap admin through so the deployment stays operable.
		if u, token, ok := s.localAdminLogin(ctx, email, password, ip, userAgent); ok {
			return token, u, nil
		}
		return "", models.User{}, fmt.Errorf("accounts service unreachable: %w", err)
	}

	u := resp.user()
	raw, err := s.createSession(ctx, u, resp.Token, ip, userAgent)
	if err != nil {
		return "", models.User{}, err
	}
	return raw, u, nil
}

func (s *Service) localAdminLogin(ctx context.Context, email, password, ip, userAgent string) (models.User, string, bool) {
	admin, err := s.st.GetLocalAdminByEmail(ctx, email)
	if err != nil || !auth.VerifyPassword(admin.PasswordHash, password) {
		return models.User{}, "", false
	}
	u := models.User{ID: admin.ID, Email: admin.Email, Username: admin.Username, Role: models.RoleAdmin}
	raw, err := s.createSession(ctx, u, "", ip, userAgent)
	if err != nil {
		return models.User{}, "", false
	}
	log.Printf("bootstrap admin login email=%s (accounts service unreachable)", admin.Email)
	return u, raw, true
}

// Register creates the account upstream and, like login, opens a session
// from the returned identity.
func (s *Service) Register(ctx context.Context, email, username, password, ip, userAgent string) (string, models.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	username = strings.TrimSpace(username)
	if email == "" || username == "" || password == "" {
		return "", models.User{}, errors.New("email, username and password are required")
	}

	var resp authResponse
	err := s.reg.Get(upstream.Accounts).Post(ctx, "/auth/register", upstream.Identity{}, map[string]string{
		"email":    email,
		"username": username,
		"password": password,
	}, &resp)
	if err != nil {
		return "", models.User{}, err
	}
	u := resp.user()
	raw, err := s.createSession(ctx, u, resp.Token, ip, userAgent)
	if err != nil {
		return "", models.User{}, err
	}
	return raw, u, nil
}

func (s *Service) createSession(ctx context.Context, u models.User, bearer, ip, userAgent string) (string, error) {
	raw, tokenHash, err := auth.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	secret := ""
	if bearer != "" {
		secret, err = util.EncryptString(s.encryptKey, bearer)
		if err != nil {
			return "", err
		}
	}

	now := time.Now().UTC()
	expires := now.Add(s.cfg.SessionAbsoluteDuration())
	if exp, ok := auth.BearerExpiry(bearer); ok && exp.Before(expires) {
		expires = exp
	}
	sess := models.Session{
		ID:             uuid.NewString(),
		UserID:         u.ID,
		Email:          u.Email,
		Username:       u.Username,
		Role:           u.Role,
		TokenHash:      tokenHash,
		UpstreamSecret: secret,
		IPHint:         ip,
		UserAgentHash:  util.HashShort(userAgent),
		ExpiresAt:      expires,
		IdleExpiresAt:  now.Add(s.cfg.SessionIdleDuration()),
		CreatedAt:      now,
		LastSeenAt:     now,
	}
	if err := s.st.CreateSession(ctx, sess); err != nil {
		return "", err
	}
	return raw, nil
}

// ValidateSession reconstructs the identity from the stored session record,
// with no upstream round-trip.
func (s *Service) ValidateSession(ctx context.Context, rawToken string) (models.User, models.Session, error) {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	now := time.Now().UTC()
	if sess.RevokedAt != nil || now.After(sess.ExpiresAt) || now.After(sess.IdleExpiresAt) {
		return models.User{}, models.Session{}, ErrInvalidCredentials
	}
	_ = s.st.TouchSession(ctx, sess.ID, now.Add(s.cfg.SessionIdleDuration()))
	u := models.User{ID: sess.UserID, Email: sess.Email, Username: sess.Username, Role: sess.Role}
	return u, sess, nil
}

// Identity builds the per-call upstream identity, decrypting the stored
// bearer token.
func (s *Service) Identity(u models.User, sess models.Session) (upstream.Identity, error) {
	id := upstream.Identity{UserID: u.ID, Role: u.Role}
	if sess.UpstreamSecret == "" {
		return id, nil
	}
	bearer, err := util.DecryptString(s.encryptKey, sess.UpstreamSecret)
	if err != nil {
		// Key rotation or corruption; the session can no longer reach the
		// backends on the user's behalf.
		return upstream.Identity{}, ErrInvalidCredentials
	}
	id.Bearer = bearer
	return id, nil
}

func (s *Service) Logout(ctx context.Context, rawToken string) error {
	sess, err := s.st.GetSessionByTokenHash(ctx, auth.HashToken(rawToken))
	if err != nil {
		return nil
	}
	return s.st.RevokeSession(ctx, sess.ID)
}

// SubmitApifyFilters validates and submits a scrape run, then mirrors both
// the filters and the returned posts so a reload restores them.
func (s *Service) SubmitApifyFilters(ctx context.Context, id upstream.Identity, userID string, f models.ApifyFilterSet) ([]models.ScrapedPost, error) {
	if err := ValidateApifyFilters(f); err != nil {
		return nil, err
	}
	posts := []models.ScrapedPost{}
	if err := s.reg.Get(upstream.Content).Post(ctx, "/apify/scrape", id, f, &posts); err != nil {
		return nil, err
	}
	if raw, err := json.Marshal(f); err == nil {
		_ = s.st.PutState(ctx, userID, SlotApifyFilters, string(raw))
	}
	if raw, err := json.Marshal(posts); err == nil {
		_ = s.st.PutState(ctx, userID, SlotApifyData, string(raw))
	}
	return posts, nil
}

// LastApifyState returns the mirrored filters and posts, if any.
func (s *Service) LastApifyState(ctx context.Context, userID string) (json.RawMessage, []models.ScrapedPost, error) {
	var filters json.RawMessage
	if v, err := s.st.GetState(ctx, userID, SlotApifyFilters); err == nil {
		filters = json.RawMessage(v)
	} else if err != store.ErrNotFound {
		return nil, nil, err
	}
	posts := []models.ScrapedPost{}
	if v, err := s.st.GetState(ctx, userID, SlotApifyData); err == nil {
		if err := json.Unmarshal([]byte(v), &posts); err != nil {
			posts = []models.ScrapedPost{}
		}
	} else if err != store.ErrNotFound {
		return nil, nil, err
	}
	return filters, posts, nil
}

// ClearApifyState resets the mirrored form. Clearing an already-clear state
// is a no-op.
func (s *Service) ClearApifyState(ctx context.Context, userID string) error {
	if err := s.st.DeleteState(ctx, userID, SlotApifyFilters); err != nil {
		return err
	}
	return s.st.DeleteState(ctx, userID, SlotApifyData)
}

// QueryPosts runs a stored-post query, directly against the warehouse when
// one is configured, otherwise through the content service.
func (s *Service) QueryPosts(ctx context.Context, id upstream.Identity, f models.DBQueryFilterSet) ([]models.ScrapedPost, error) {
	if err := ValidateDBQueryFilters(f); err != nil {
		return nil, err
	}
	if s.wh != nil {
		return s.wh.Query(ctx, f)
	}
	posts := []models.ScrapedPost{}
	if err := s.reg.Get(upstream.Content).Post(ctx, "/posts/query", id, f, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

func (s *Service) DashboardSummary(ctx context.Context, id upstream.Identity) (models.DashboardSummary, error) {
	var out models.DashboardSummary
	if err := s.reg.Get(upstream.Dashboard).Get(ctx, "/dashboard/summary", id, &out); err != nil {
		return models.DashboardSummary{}, err
	}
	return out, nil
}

// PublishDashboard snapshots the user's dashboard locally so it survives
// reloads without refetching.
func (s *Service) PublishDashboard(ctx context.Context, userID string, snapshot json.RawMessage) error {
	return s.st.PutState(ctx, userID, SlotPublished, string(snapshot))
}

func (s *Service) PublishedDashboard(ctx context.Context, userID string) (json.RawMessage, error) {
	v, err := s.st.GetState(ctx, userID, SlotPublished)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(v), nil
}

// Theme returns the persisted preference, defaulting to light.
func (s *Service) Theme(ctx context.Context, userID string) (string, error) {
	v, err := s.st.GetState(ctx, userID, SlotTheme)
	if err == store.ErrNotFound {
		return "light", nil
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Service) SetTheme(ctx context.Context, userID, theme string) error {
	if theme != "light" && theme != "dark" {
		return fmt.Errorf("theme must be light or dark")
	}
	return s.st.PutState(ctx, userID, SlotTheme, theme)
}

func (s *Service) Avatar(ctx context.Context, u models.User) (string, error) {
	v, err := s.st.GetState(ctx, u.ID, AvatarSlot(u.Role, u.Username))
	if err == store.ErrNotFound {
		return "", nil
	}
	return v, err
}

func (s *Service) SetAvatar(ctx context.Context, u models.User, avatarURL string) error {
	return s.st.PutState(ctx, u.ID, AvatarSlot(u.Role, u.Username), avatarURL)
}

func (s *Service) ListQuestions(ctx context.Context, id upstream.Identity) ([]models.Question, error) {
	out := []models.Question{}
	if err := s.reg.Get(upstream.Dashboard).Get(ctx, "/questions", id, &out); err != nil {
		return nil, err
	}
	paging.SortQuestions(out)
	return out, nil
}

func (s *Service) AskQuestion(ctx context.Context, id upstream.Identity, u models.User, text string) (models.Question, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return models.Question{}, &ValidationError{Rules: []string{"question text is required"}}
	}
	var out models.Question
	err := s.reg.Get(upstream.Dashboard).Post(ctx, "/questions", id, map[string]string{
		"userId":   u.ID,
		"username": u.Username,
		"question": text,
	}, &out)
	if err != nil {
		return models.Question{}, err
	}
	return out, nil
}

// AnswerQuestion records the admin answer upstream, audits it locally, and
// alerts the asker best-effort.
func (s *Service) AnswerQuestion(ctx context.Context, id upstream.Identity, admin models.User, questionID, answer string) (models.Question, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return models.Question{}, &ValidationError{Rules: []string{"answer text is required"}}
	}
	var out models.Question
	err := s.reg.Get(upstream.Dashboard).Patch(ctx, "/questions/"+questionID+"/answer", id, map[string]string{
		"answer":     answer,
		"answeredBy": admin.Username,
	}, &out)
	if err != nil {
		return models.Question{}, err
	}
	meta, _ := json.Marshal(map[string]string{"question_id": questionID})
	_ = s.st.InsertAudit(ctx, admin.ID, "question.answer", questionID, string(meta))
	if out.UserEmail != "" {
		if err := s.sender.SendAnswerAlert(ctx, out.UserEmail, out.Question, answer); err != nil {
			log.Printf("answer alert failed question_id=%s err=%v", questionID, err)
		}
	}
	return out, nil
}

func (s *Service) ListAdminUsers(ctx context.Context, id upstream.Identity) ([]models.User, error) {
	out := []models.User{}
	if err := s.reg.Get(upstream.Accounts).Get(ctx, "/admin/users", id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) UpgradeToAdmin(ctx context.Context, id upstream.Identity, admin models.User, targetID string) (models.User, error) {
	var out models.User
	err := s.reg.Get(upstream.Accounts).Patch(ctx, "/admin/users/"+targetID+"/role", id, map[string]string{
		"role": models.RoleAdmin,
	}, &out)
	if err != nil {
		return models.User{}, err
	}
	// The old role is baked into any open session of the target, so those
	// sessions are revoked; the new role applies on next sign-in.
	if err := s.st.RevokeUserSessions(ctx, targetID); err != nil {
		log.Printf("revoke sessions after role change user_id=%s err=%v", targetID, err)
	}
	meta, _ := json.Marshal(map[string]string{"user_id": targetID})
	_ = s.st.InsertAudit(ctx, admin.ID, "user.upgrade_to_admin", targetID, string(meta))
	return out, nil
}

// Profile fetches the account record and its nested collections. The four
// collection calls are independent, so they run concurrently and the result
// is assembled once after all of them resolve.
func (s *Service) Profile(ctx context.Context, id upstream.Identity, userID string) (models.Profile, error) {
	var out models.Profile
	if err := s.reg.Get(upstream.Accounts).Get(ctx, "/users/"+userID, id, &out.User); err != nil {
		return models.Profile{}, err
	}

	out.ScrapeHistory = []map[string]any{}
	out.ScrapedAccounts = []string{}
	out.AnsweredQuestions = []models.Question{}
	out.Alerts = []models.Alert{}

	var wg sync.WaitGroup
	errs := make([]error, 4)
	wg.Add(4)
	go func() {
		defer wg.Done()
		errs[0] = s.reg.Get(upstream.Content).Get(ctx, "/users/"+userID+"/history", id, &out.ScrapeHistory)
	}()
	go func() {
		defer wg.Done()
		errs[1] = s.reg.Get(upstream.Content).Get(ctx, "/users/"+userID+"/accounts", id, &out.ScrapedAccounts)
	}()
	go func() {
		defer wg.Done()
		errs[2] = s.reg.Get(upstream.Dashboard).Get(ctx, "/users/"+userID+"/questions", id, &out.AnsweredQuestions)
	}()
	go func() {
		defer wg.Done()
		errs[3] = s.reg.Get(upstream.Dashboard).Get(ctx, "/users/"+userID+"/alerts", id, &out.Alerts)
	}()
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return models.Profile{}, err
		}
	}
	return out, nil
}

func (s *Service) UpdateProfile(ctx context.Context, id upstream.Identity, userID string, upd models.ProfileUpdate) (models.User, error) {
	var out models.User
	if err := s.reg.Get(upstream.Accounts).Put(ctx, "/users/"+userID, id, upd, &out); err != nil {
		return models.User{}, err
	}
	return out, nil
}

// AnalyticsSummary passes the caller's query through to the analytics
// service unchanged.
func (s *Service) AnalyticsSummary(ctx context.Context, id upstream.Identity, rawQuery string) (map[string]any, error) {
	path := "/analytics/summary"
	if rawQuery != "" {
		path += "?" + rawQuery
	}
	out := map[string]any{}
	if err := s.reg.Get(upstream.Analytics).Get(ctx, path, id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) ListRuns(ctx context.Context, id upstream.Identity) ([]models.OrchestratorRun, error) {
	out := []models.OrchestratorRun{}
	if err := s.reg.Get(upstream.Orchestrator).Get(ctx, "/runs", id, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) TriggerRun(ctx context.Context, id upstream.Identity, f models.ApifyFilterSet) (models.OrchestratorRun, error) {
	if err := ValidateApifyFilters(f); err != nil {
		return models.OrchestratorRun{}, err
	}
	var out models.OrchestratorRun
	if err := s.reg.Get(upstream.Orchestrator).Post(ctx, "/runs", id, f, &out); err != nil {
		return models.OrchestratorRun{}, err
	}
	return out, nil
}

func (s *Service) Presets() []orchestrator.Preset {
	return s.presets.List()
}

func (s *Service) TriggerPreset(ctx context.Context, id upstream.Identity, name string) (models.OrchestratorRun, error) {
	preset, ok := s.presets.Get(name)
	if !ok {
		return models.OrchestratorRun{}, ErrPresetNotFound
	}
	run, err := s.TriggerRun(ctx, id, preset.Filters)
	if err != nil {
		return models.OrchestratorRun{}, err
	}
	run.Preset = preset.Name
	return run, nil
}

// AiSuggestions fetches the AI content bundle. Moderation is not an error:
// the caller inspects Moderated() and renders the fixed notice.
func (s *Service) AiSuggestions(ctx context.Context, id upstream.Identity, topic string) (models.AiContentResponse, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.AiContentResponse{}, &ValidationError{Rules: []string{"topic is required"}}
	}
	var out models.AiContentResponse
	err := s.reg.Get(upstream.Content).Post(ctx, "/ai/suggestions", id, map[string]string{"topic": topic}, &out)
	if err != nil {
		return models.AiContentResponse{}, err
	}
	return out, nil
}

func (s *Service) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	return s.st.ListAudit(ctx, limit, offset)
}
