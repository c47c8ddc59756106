package shared

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// SessionManager reads cookie sessions backed by Redis. Sessions are issued by the
// identity provider; this service only resolves them to a user id.
type SessionManager struct {
	client     *redis.Client
	cookieName string
	ttl        time.Duration
	secure     bool
}

// Session holds per-request session data.
type Session struct {
	ID     string
	userID int64
}

type sessionPayload struct {
	UserID int64 `json:"user_id"`
}

// NewSessionManager constructs a SessionManager.
func NewSessionManager(client *redis.Client, cookieName string, ttl time.Duration, secure bool) *SessionManager {
	return &SessionManager{
		client:     client,
		cookieName: cookieName,
		ttl:        ttl,
		secure:     secure,
	}
}

// Load returns the session referenced by the request cookie. A missing or expired
// session yields an anonymous session, never an error.
func (sm *SessionManager) Load(ctx context.Context, r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(sm.cookieName)
	if err != nil {
		if errors.Is(err, http.ErrNoCookie) {
			return &Session{}, nil
		}
		return nil, err
	}
	payload, err := sm.client.Get(ctx, sm.redisKey(cookie.Value)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return &Session{}, nil
		}
		return nil, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return nil, err
	}
	if err := sm.client.Expire(ctx, sm.redisKey(cookie.Value), sm.ttl).Err(); err != nil {
		return nil, err
	}
	return &Session{ID: cookie.Value, userID: stored.UserID}, nil
}

// Issue stores a new session for userID and sets the cookie.
func (sm *SessionManager) Issue(ctx context.Context, w http.ResponseWriter, userID int64) (*Session, error) {
	if userID == 0 {
		return nil, errors.New("session: user id required")
	}
	sess := &Session{ID: uuid.NewString(), userID: userID}
	data, err := json.Marshal(sessionPayload{UserID: userID})
	if err != nil {
		return nil, err
	}
	if err := sm.client.Set(ctx, sm.redisKey(sess.ID), data, sm.ttl).Err(); err != nil {
		return nil, err
	}
	http.SetCookie(w, sm.Cookie(sess))
	return sess, nil
}

// Cookie builds the cookie carrying sess.
func (sm *SessionManager) Cookie(sess *Session) *http.Cookie {
	return &http.Cookie{
		Name:     sm.cookieName,
		Value:    sess.ID,
		Path:     "/",
		HttpOnly: true,
		Secure:   sm.secure,
		SameSite: http.SameSiteStrictMode,
		Expires:  time.Now().Add(sm.ttl),
	}
}

// Revoke deletes the stored session.
func (sm *SessionManager) Revoke(ctx context.Context, sess *Session) error {
	if sess == nil || sess.ID == "" {
		return nil
	}
	if err := sm.client.Del(ctx, sm.redisKey(sess.ID)).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return err
	}
	return nil
}

// User returns the current user ID, or empty when anonymous.
func (s *Session) User() string {
	if s == nil || s.userID == 0 {
		return ""
	}
	return strconv.FormatInt(s.userID, 10)
}

// UserID returns the numeric user id, zero when anonymous.
func (s *Session) UserID() int64 {
	if s == nil {
		return 0
	}
	return s.userID
}

func (sm *SessionManager) redisKey(id string) string {
	return "reembolso:session:" + id
}
