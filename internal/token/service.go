// Package token issues, verifies, rotates and revokes the access/refresh
// token pairs shared by every application on the platform.
package token

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"artel.org/internal/identity"
	"artel.org/internal/ids"
	"artel.org/internal/policy"
)

const (
	defaultIssuer     = "artel"
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 24 * time.Hour * 14

	minRefreshTTL = 24 * time.Hour * 7
	maxRefreshTTL = 24 * time.Hour * 30
)

// Service mints and verifies token pairs. Mutable bookkeeping lives in the
// SessionStore so the service itself can be shared across request handlers
// and constructed once at process start.
type Service struct {
	directory identity.Directory
	registry  *policy.Registry
	sessions  SessionStore

	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

// Option configures Service behavior.
type Option func(*Service) error

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) Option {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime, clamped to the 7-30 day
// deployment window.
func WithRefreshTTL(ttl time.Duration) Option {
	return func(s *Service) error {
		if ttl <= 0 {
			return nil
		}
		if ttl < minRefreshTTL {
			ttl = minRefreshTTL
		}
		if ttl > maxRefreshTTL {
			ttl = maxRefreshTTL
		}
		s.refreshTTL = ttl
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the token service. The signing secret is mandatory:
// an unsigned token is forgeable, so there is no fallback encoding.
func NewService(directory identity.Directory, registry *policy.Registry, sessions SessionStore, secret string, opts ...Option) (*Service, error) {
	if directory == nil {
		return nil, errors.New("token: directory is required")
	}
	if registry == nil {
		return nil, errors.New("token: registry is required")
	}
	if sessions == nil {
		return nil, errors.New("token: session store is required")
	}
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("token: signing secret is required")
	}
	s := &Service{
		directory:  directory,
		registry:   registry,
		sessions:   sessions,
		secret:     []byte(secret),
		issuer:     defaultIssuer,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		now:        time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AccessTTL returns the configured access token lifetime.
func (s *Service) AccessTTL() time.Duration { return s.accessTTL }

// RefreshTTL returns the configured refresh token lifetime.
func (s *Service) RefreshTTL() time.Duration { return s.refreshTTL }

// Issue authenticates nothing by itself: callers verify credentials first.
// It checks that the identity is active and allowed into the application,
// then mints a pair and records the session, replacing any prior session for
// the same subject+application.
func (s *Service) Issue(ctx context.Context, id *identity.Identity, app string) (Pair, error) {
	if id == nil {
		return Pair{}, ErrAccessDenied
	}
	if !id.Active() {
		return Pair{}, ErrAccessDenied
	}
	if !s.registry.AppAccess(id.Role, app) {
		return Pair{}, ErrAccessDenied
	}
	app = strings.ToLower(strings.TrimSpace(app))

	now := s.now().UTC()
	sessionID := ids.New()
	refreshToken, refreshHash, err := newRefreshSecret(sessionID)
	if err != nil {
		return Pair{}, err
	}
	sess := Session{
		ID:                 sessionID,
		SubjectID:          id.ID,
		App:                app,
		RefreshHash:        refreshHash,
		PermissionsVersion: id.PermissionsVersion,
		AuthTime:           now,
		RefreshExpiresAt:   now.Add(s.refreshTTL),
		CreatedAt:          now,
	}
	if err := s.sessions.Save(ctx, sess); err != nil {
		return Pair{}, err
	}
	access, accessExp, err := s.signAccess(id, app, sessionID, now, now)
	if err != nil {
		return Pair{}, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: sess.RefreshExpiresAt,
	}, nil
}

// Verify validates an access token end to end: signature, lifetime, type,
// live session and current permissions version. Directory or store outages
// fail the verification rather than letting a possibly revoked token pass.
func (s *Service) Verify(ctx context.Context, accessToken string) (*identity.Identity, *Claims, error) {
	claims, err := s.parse(accessToken)
	if err != nil {
		return nil, nil, err
	}
	if claims.TokenType != TypeAccess {
		return nil, nil, ErrInvalidToken
	}
	if _, err := s.sessions.Find(ctx, claims.SessionID); err != nil {
		if errors.Is(err, ErrUnavailable) {
			return nil, nil, fmt.Errorf("%w: session lookup", ErrUnavailable)
		}
		return nil, nil, ErrRevoked
	}
	id, err := s.directory.FindByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return nil, nil, ErrRevoked
		}
		return nil, nil, fmt.Errorf("%w: directory lookup", ErrUnavailable)
	}
	if !id.Active() {
		return nil, nil, ErrAccessDenied
	}
	if id.PermissionsVersion != claims.PermissionsVersion {
		return nil, nil, ErrStalePermissions
	}
	return id, claims, nil
}

// Refresh rotates a refresh token: the presented token is invalidated and a
// brand-new pair is issued. A token presented after rotation fails with
// ErrAlreadyUsed, which is the replay-detection property rotation exists for.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (Pair, *identity.Identity, error) {
	sessionID, secret, err := splitRefreshToken(refreshToken)
	if err != nil {
		return Pair{}, nil, ErrInvalidToken
	}
	sess, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		return Pair{}, nil, err
	}
	now := s.now().UTC()
	if now.After(sess.RefreshExpiresAt) {
		return Pair{}, nil, ErrExpired
	}
	if !secureCompareHash(sess.RefreshHash, secret) {
		// Wrong secret for a live session is indistinguishable from a
		// replayed pre-rotation token.
		return Pair{}, nil, ErrAlreadyUsed
	}

	id, err := s.directory.FindByID(ctx, sess.SubjectID)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			return Pair{}, nil, ErrRevoked
		}
		return Pair{}, nil, fmt.Errorf("%w: directory lookup", ErrUnavailable)
	}
	if !id.Active() || !s.registry.AppAccess(id.Role, sess.App) {
		return Pair{}, nil, ErrAccessDenied
	}
	if id.PermissionsVersion != sess.PermissionsVersion {
		return Pair{}, nil, ErrStalePermissions
	}

	newToken, newHash, err := newRefreshSecret(sessionID)
	if err != nil {
		return Pair{}, nil, err
	}
	newExpiry := now.Add(s.refreshTTL)
	if err := s.sessions.Rotate(ctx, sessionID, sess.RefreshHash, newHash, newExpiry); err != nil {
		return Pair{}, nil, err
	}

	authTime := sess.AuthTime
	if authTime.IsZero() {
		authTime = now
	}
	access, accessExp, err := s.signAccess(id, sess.App, sessionID, now, authTime)
	if err != nil {
		return Pair{}, nil, err
	}
	return Pair{
		AccessToken:      access,
		RefreshToken:     newToken,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: newExpiry,
	}, id, nil
}

// Revoke removes the subject's session for one application.
func (s *Service) Revoke(ctx context.Context, subjectID, app string) error {
	return s.sessions.Revoke(ctx, subjectID, strings.ToLower(strings.TrimSpace(app)))
}

// RevokeByRefreshToken revokes the session a refresh token belongs to. Used
// at logout when the caller's access token has already expired.
func (s *Service) RevokeByRefreshToken(ctx context.Context, refreshToken string) error {
	sessionID, _, err := splitRefreshToken(refreshToken)
	if err != nil {
		return ErrInvalidToken
	}
	sess, err := s.sessions.Find(ctx, sessionID)
	if err != nil {
		return err
	}
	return s.sessions.Revoke(ctx, sess.SubjectID, sess.App)
}

// RevokeAll removes every session the subject holds, across applications.
// Used for global logout after a security incident or a role change.
func (s *Service) RevokeAll(ctx context.Context, subjectID string) error {
	return s.sessions.RevokeAll(ctx, subjectID)
}

func (s *Service) signAccess(id *identity.Identity, app, sessionID string, now, authTime time.Time) (string, time.Time, error) {
	exp := now.Add(s.accessTTL)
	claims := Claims{
		Role:               string(id.Role),
		App:                app,
		TokenType:          TypeAccess,
		PermissionsVersion: id.PermissionsVersion,
		SessionID:          sessionID,
		AuthTime:           authTime.Unix(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

func (s *Service) parse(raw string) (*Claims, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(raw, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(func() time.Time { return s.now() }), jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" || claims.SessionID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// newRefreshSecret mints an opaque refresh token in sessionID.secret form.
// Only the SHA-256 of the secret is stored, so a leaked session store cannot
// be replayed as tokens.
func newRefreshSecret(sessionID string) (token, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	secret := base64.RawURLEncoding.EncodeToString(buf)
	sum := sha256.Sum256([]byte(secret))
	return sessionID + "." + secret, hex.EncodeToString(sum[:]), nil
}

func splitRefreshToken(raw string) (id, secret string, err error) {
	parts := strings.Split(strings.TrimSpace(raw), ".")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", errors.New("invalid refresh token format")
	}
	return parts[0], parts[1], nil
}

func secureCompareHash(expectedHash, secret string) bool {
	sum := sha256.Sum256([]byte(secret))
	actual := hex.EncodeToString(sum[:])
	if len(expectedHash) != len(actual) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(expectedHash), []byte(actual)) == 1
}
