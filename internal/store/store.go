package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"scrapetok/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is the gateway's local state: sessions, the bootstrap admin, the
// per-user state mirror, and the audit log. All user and scrape data lives
// in the upstream services.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) CreateSession(ctx context.Context, sess models.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(id,user_id,email,username,role,token_hash,upstream_secret,ip_hint,ua_hash,expires_at,idle_expires_at,created_at,last_seen_at)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		sess.ID, sess.UserID, sess.Email, sess.Username, sess.Role, sess.TokenHash, sess.UpstreamSecret,
		sess.IPHint, sess.UserAgentHash, sess.ExpiresAt, sess.IdleExpiresAt, sess.CreatedAt, sess.LastSeenAt,
	)
	return err
}

func (s *Store) GetSessionByTokenHash(ctx context.Context, hash string) (models.Session, error) {
	var sess models.Session
	var revoked sql.NullTime
	err := s.db.QueryRowContext(ctx,
		`SELECT id,user_id,email,username,role,token_hash,upstream_secret,ip_hint,ua_hash,expires_at,idle_expires_at,created_at,last_seen_at,revoked_at
		 FROM sessions WHERE token_hash=?`, hash,
	).Scan(&sess.ID, &sess.UserID, &sess.Email, &sess.Username, &sess.Role, &sess.TokenHash, &sess.UpstreamSecret,
		&sess.IPHint, &sess.UserAgentHash, &sess.ExpiresAt, &sess.IdleExpiresAt, &sess.CreatedAt, &sess.LastSeenAt, &revoked)
	if err == sql.ErrNoRows {
		return models.Session{}, ErrNotFound
	}
	if err != nil {
		return models.Session{}, err
	}
	if revoked.Valid {
		t := revoked.Time
		sess.RevokedAt = &t
	}
	return sess, nil
}

func (s *Store) TouchSession(ctx context.Context, id string, idleExpiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET last_seen_at=?, idle_expires_at=? WHERE id=?`,
		time.Now().UTC(), idleExpiresAt, id,
	)
	return err
}

func (s *Store) RevokeSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE id=? AND revoked_at IS NULL`, time.Now().UTC(), id)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET revoked_at=? WHERE user_id=? AND revoked_at IS NULL`, time.Now().UTC(), userID)
	return err
}

func (s *Store) DeleteExpiredSessions(ctx context.Context, before time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at < ?`, before)
	return err
}

// EnsureBootstrapAdmin creates or refreshes the local admin account that can
// sign in when the accounts service is unreachable.
func (s *Store) EnsureBootstrapAdmin(ctx context.Context, email, username, passwordHash string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || passwordHash == "" {
		return nil
	}
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE local_admins SET username=?, password_hash=? WHERE email=?`,
		username, passwordHash, email,
	)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows > 0 {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO local_admins(id,email,username,password_hash,created_at) VALUES(?,?,?,?,?)`,
		uuid.NewString(), email, username, passwordHash, time.Now().UTC(),
	)
	return err
}

type LocalAdmin struct {
	ID           string
	Email        string
	Username     string
	PasswordHash string
}

func (s *Store) GetLocalAdminByEmail(ctx context.Context, email string) (LocalAdmin, error) {
	var a LocalAdmin
	err := s.db.QueryRowContext(ctx,
		`SELECT id,email,username,password_hash FROM local_admins WHERE email=?`,
		strings.ToLower(strings.TrimSpace(email)),
	).Scan(&a.ID, &a.Email, &a.Username, &a.PasswordHash)
	if err == sql.ErrNoRows {
		return LocalAdmin{}, ErrNotFound
	}
	if err != nil {
		return LocalAdmin{}, err
	}
	return a, nil
}

// GetState reads one state-mirror slot. Readers re-read on their own cycle;
// there is no cross-writer coordination beyond last write wins.
func (s *Store) GetState(ctx context.Context, userID, slot string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM state WHERE user_id=? AND slot=?`, userID, slot).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", err
	}
	return v, nil
}

func (s *Store) PutState(ctx context.Context, userID, slot, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO state(user_id,slot,value,updated_at) VALUES(?,?,?,?)
		 ON CONFLICT(user_id,slot) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		userID, slot, value, time.Now().UTC(),
	)
	return err
}

// DeleteState removes a slot. Deleting an absent slot is not an error, so
// clearing twice leaves the same state as clearing once.
func (s *Store) DeleteState(ctx context.Context, userID, slot string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM state WHERE user_id=? AND slot=?`, userID, slot)
	return err
}

func (s *Store) InsertAudit(ctx context.Context, actorUserID, action, target, metadataJSON string) error {
	if strings.TrimSpace(metadataJSON) == "" {
		metadataJSON = "{}"
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO audit_log(id,actor_user_id,action,target,metadata_json,created_at) VALUES(?,?,?,?,?,?)`,
		uuid.NewString(), actorUserID, action, target, metadataJSON, time.Now().UTC(),
	)
	return err
}

func (s *Store) ListAudit(ctx context.Context, limit, offset int) ([]models.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id,actor_user_id,action,target,metadata_json,created_at FROM audit_log ORDER BY created_at DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []models.AuditEntry{}
	for rows.Next() {
		var e models.AuditEntry
		if err := rows.Scan(&e.ID, &e.ActorUserID, &e.Action, &e.Target, &e.MetadataJSON, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
