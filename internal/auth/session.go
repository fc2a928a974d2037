package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/orbit-hq/orbit/internal/shared"
)

// ErrNoSession indicates the request carries no valid session.
var ErrNoSession = errors.New("auth: no session")

const sessionKeyPrefix = "auth:session:"

// SessionStore keeps authenticated identities in Redis, keyed by an opaque
// token carried in a cookie. The cookie value is signed with the session
// secret so a tampered token is discarded before it ever reaches Redis.
type SessionStore struct {
	client     *redis.Client
	cookieName string
	secret     []byte
	ttl        time.Duration
	secure     bool
}

type sessionPayload struct {
	UserID    int64 `json:"user_id"`
	CompanyID int64 `json:"company_id"`
}

// NewSessionStore constructs a SessionStore.
func NewSessionStore(client *redis.Client, cookieName, secret string, ttl time.Duration, secure bool) *SessionStore {
	return &SessionStore{client: client, cookieName: cookieName, secret: []byte(secret), ttl: ttl, secure: secure}
}

func (s *SessionStore) sign(token string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(token))
	return hex.EncodeToString(mac.Sum(nil))
}

// Create persists a new session and returns its token.
func (s *SessionStore) Create(ctx context.Context, id shared.Identity) (string, error) {
	token := uuid.NewString()
	payload, err := json.Marshal(sessionPayload{UserID: id.UserID, CompanyID: id.CompanyID})
	if err != nil {
		return "", err
	}
	if err := s.client.Set(ctx, sessionKeyPrefix+token, payload, s.ttl).Err(); err != nil {
		return "", err
	}
	return token, nil
}

// Get resolves a token into the identity it was created with.
func (s *SessionStore) Get(ctx context.Context, token string) (shared.Identity, error) {
	if token == "" {
		return shared.Identity{}, ErrNoSession
	}
	payload, err := s.client.Get(ctx, sessionKeyPrefix+token).Bytes()
	if errors.Is(err, redis.Nil) {
		return shared.Identity{}, ErrNoSession
	}
	if err != nil {
		return shared.Identity{}, err
	}
	var stored sessionPayload
	if err := json.Unmarshal(payload, &stored); err != nil {
		return shared.Identity{}, err
	}
	return shared.Identity{UserID: stored.UserID, CompanyID: stored.CompanyID}, nil
}

// Delete removes a session.
func (s *SessionStore) Delete(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	return s.client.Del(ctx, sessionKeyPrefix+token).Err()
}

// TokenFromRequest reads the session token from the request cookie and
// verifies its signature. A missing or tampered cookie yields "".
func (s *SessionStore) TokenFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(s.cookieName)
	if err != nil {
		return ""
	}
	token, sig, ok := strings.Cut(cookie.Value, ".")
	if !ok || !hmac.Equal([]byte(sig), []byte(s.sign(token))) {
		return ""
	}
	return token
}

// WriteCookie sets the signed session cookie on the response.
func (s *SessionStore) WriteCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    token + "." + s.sign(token),
		Path:     "/",
		MaxAge:   int(s.ttl.Seconds()),
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
}

// ClearCookie removes the session cookie from the client.
func (s *SessionStore) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     s.cookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secure,
		SameSite: http.SameSiteStrictMode,
	})
}
