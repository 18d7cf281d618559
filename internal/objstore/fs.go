// Package objstore holds the object stores behind the remote driver.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/starford/timedline/internal/storage/remote"
)

// URL prefixes served by the HTTP layer for FS objects.
const (
	SignedPrefix = "/objects/signed/"
	PublicPrefix = "/objects/public/"
)

// ErrInvalidSignature is returned when a signed URL token does not verify.
var ErrInvalidSignature = errors.New("objstore: invalid or expired signature")

// FS stores objects as files under a root directory and signs
// download URLs with an HS256 token bound to the object key.
type FS struct {
	root    string
	baseURL string
	secret  []byte
	now     func() time.Time
}

var _ remote.Objects = (*FS)(nil)

// NewFS creates the root directory if needed. baseURL is prepended to
// generated URLs and may be empty for host-relative links.
func NewFS(root, baseURL, secret string) (*FS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("objstore: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("objstore: mkdir root: %w", err)
	}
	return &FS{
		root:    abs,
		baseURL: strings.TrimSuffix(baseURL, "/"),
		secret:  []byte(secret),
		now:     time.Now,
	}, nil
}

// safePath resolves key against root and rejects anything that escapes it.
func (f *FS) safePath(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("objstore: empty key")
	}
	cleaned := filepath.Clean(filepath.FromSlash(key))
	if filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("objstore: absolute keys not allowed: %s", key)
	}
	abs := filepath.Join(f.root, cleaned)
	if !strings.HasPrefix(abs, f.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("objstore: key escapes root: %s", key)
	}
	return abs, nil
}

// Put atomically writes body: tmp file, fsync, rename.
func (f *FS) Put(_ context.Context, key string, body io.Reader, _ int64, _ string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	dir := filepath.Dir(abs)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("objstore: mkdir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".timedline-obj-*")
	if err != nil {
		return fmt.Errorf("objstore: create temp: %w", err)
	}
	tmpName := tmp.Name()
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := io.Copy(tmp, body); err != nil {
		return fmt.Errorf("objstore: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("objstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("objstore: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("objstore: rename: %w", err)
	}
	success = true
	return nil
}

// Open returns the stored file for key.
func (f *FS) Open(key string) (*os.File, error) {
	abs, err := f.safePath(key)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(abs)
	if err != nil {
		return nil, fmt.Errorf("objstore: open %s: %w", key, err)
	}
	return file, nil
}

// Remove deletes the object. A missing object is not an error.
func (f *FS) Remove(_ context.Context, key string) error {
	abs, err := f.safePath(key)
	if err != nil {
		return err
	}
	if err := os.Remove(abs); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("objstore: remove %s: %w", key, err)
	}
	return nil
}

// PublicURL returns the unsigned URL of key.
func (f *FS) PublicURL(key string) string {
	return f.baseURL + PublicPrefix + escapeKey(key)
}

// SignedURL returns a URL for key that stops verifying after ttl.
func (f *FS) SignedURL(_ context.Context, key string, ttl time.Duration) (string, error) {
	if _, err := f.safePath(key); err != nil {
		return "", err
	}
	now := f.now()
	claims := jwt.RegisteredClaims{
		Subject:   key,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(f.secret)
	if err != nil {
		return "", fmt.Errorf("objstore: sign url: %w", err)
	}
	return f.baseURL + SignedPrefix + escapeKey(key) + "?token=" + url.QueryEscape(token), nil
}

// Verify checks that token was issued for key and has not expired.
func (f *FS) Verify(key, token string) error {
	claims := &jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return f.secret, nil
	}, jwt.WithTimeFunc(f.now))
	if err != nil || !parsed.Valid || claims.Subject != key {
		return ErrInvalidSignature
	}
	return nil
}

func escapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}
