// Package auth holds the signed-in identity for the remote backend.
//
// A session is a bearer access token (HS256 JWT) whose subject is the user
// id. The token is issued by an external sign-in flow (or the token CLI
// command) and handed to the service through SetToken.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/timedline/internal/apperr"
	"github.com/starford/timedline/internal/kv"
	"github.com/starford/timedline/internal/models"
	"github.com/starford/timedline/internal/storage/remote"
)

// KeySession is the kv key under which the access token is persisted.
const KeySession = "timedline.auth.v1"

// DefaultIssuer is used when the config leaves the issuer empty.
const DefaultIssuer = "timedline"

// Config configures token signing.
type Config struct {
	Secret      string
	Issuer      string
	RedirectURL string
}

// Claims are the access token claims.
type Claims struct {
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// ChangeFunc receives the new user, or nil after sign-out.
type ChangeFunc func(u *models.User)

// Session tracks the current access token.
type Session struct {
	cfg    Config
	store  kv.Store
	logger *slog.Logger
	now    func() time.Time

	mu        sync.RWMutex
	token     string
	user      *models.User
	expiresAt time.Time
	listeners []ChangeFunc
}

var _ remote.Identity = (*Session)(nil)

// New creates a session. When store is non-nil a previously persisted
// token is restored if it still verifies.
func New(cfg Config, store kv.Store, logger *slog.Logger) *Session {
	if cfg.Issuer == "" {
		cfg.Issuer = DefaultIssuer
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{cfg: cfg, store: store, logger: logger, now: time.Now}
	s.restore()
	return s
}

func (s *Session) restore() {
	if s.store == nil {
		return
	}
	data, err := s.store.Get(KeySession)
	if err != nil || len(data) == 0 {
		return
	}
	user, exp, err := s.parse(string(data))
	if err != nil {
		s.logger.Info("auth: dropping stored session", slog.String("reason", err.Error()))
		_ = s.store.Delete(KeySession)
		return
	}
	s.token, s.user, s.expiresAt = string(data), user, exp
}

// RedirectURL is where an external sign-in flow should return to.
func (s *Session) RedirectURL() string { return s.cfg.RedirectURL }

// CurrentUser returns the signed-in user, or nil when there is no
// session or it has expired.
func (s *Session) CurrentUser(_ context.Context) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil || !s.now().Before(s.expiresAt) {
		return nil, nil
	}
	u := *s.user
	return &u, nil
}

// ExpiresAt reports when the current token stops being valid.
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// SetToken verifies token and makes it the current session.
func (s *Session) SetToken(_ context.Context, token string) (*models.User, error) {
	user, exp, err := s.parse(token)
	if err != nil {
		return nil, &apperr.Error{Kind: apperr.ErrNotAuthenticated, Message: "invalid access token", Err: err}
	}
	if s.store != nil {
		if err := s.store.Set(KeySession, []byte(token)); err != nil {
			s.logger.Warn("auth: persist session failed", slog.String("error", err.Error()))
		}
	}

	s.mu.Lock()
	s.token, s.user, s.expiresAt = token, user, exp
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	u := *user
	for _, fn := range listeners {
		fn(&u)
	}
	return &u, nil
}

// SignOut clears the session. Signing out twice is harmless.
func (s *Session) SignOut(_ context.Context) error {
	if s.store != nil {
		if err := s.store.Delete(KeySession); err != nil {
			return fmt.Errorf("auth: clear session: %w", err)
		}
	}
	s.mu.Lock()
	had := s.user != nil
	s.token, s.user, s.expiresAt = "", nil, time.Time{}
	listeners := append([]ChangeFunc(nil), s.listeners...)
	s.mu.Unlock()

	if had {
		for _, fn := range listeners {
			fn(nil)
		}
	}
	return nil
}

// OnChange registers fn to run after every sign-in or sign-out.
func (s *Session) OnChange(fn ChangeFunc) {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
}

// Issue signs a token for userID valid for ttl.
func (s *Session) Issue(userID, email string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", errors.New("auth: user id required")
	}
	now := s.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    s.cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(s.cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("auth: sign token: %w", err)
	}
	return token, nil
}

func (s *Session) parse(token string) (*models.User, time.Time, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(s.cfg.Secret), nil
	},
		jwt.WithIssuer(s.cfg.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		return nil, time.Time{}, err
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, time.Time{}, errors.New("token has no subject")
	}
	return &models.User{ID: claims.Subject, Email: claims.Email}, claims.ExpiresAt.Time, nil
}
