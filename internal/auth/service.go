package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"poise.dev/internal/ids"
)

const (
	defaultIssuer   = "poise.api"
	defaultAudience = "poise.ui"

	defaultAccessTTL  = time.Hour
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultLoginFloor = 250 * time.Millisecond
	resetTokenTTL     = time.Hour

	minSecretLength = 16

	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// maxTokenExpiry is a hard ceiling: no token outlives this instant even if
// the configured lifetime or the wall clock is wrong.
var maxTokenExpiry = time.Date(2038, time.January, 19, 0, 0, 0, 0, time.UTC)

// Claims is the claim set carried by self-issued bearer tokens. TokenType
// separates refresh tokens from access tokens at parse time.
type Claims struct {
	TokenType string `json:"token_type"`
	jwt.RegisteredClaims
}

// Service mints and verifies the application's own bearer tokens and owns
// the credential checks and authorization decision around them.
type Service struct {
	store    Store
	secret   []byte
	issuer   string
	audience string

	accessTTL  time.Duration
	refreshTTL time.Duration
	loginFloor time.Duration

	now   func() time.Time
	sleep func(time.Duration)
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithSecret sets the shared symmetric signing secret. Secrets shorter than
// 16 bytes abort construction; an unusable secret is a startup failure, not
// a per-request condition.
func WithSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if len(secret) < minSecretLength {
			return fmt.Errorf("auth: signing secret must be at least %d bytes", minSecretLength)
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAudience overrides the token audience claim.
func WithAudience(audience string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(audience); v != "" {
			s.audience = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithLoginFloor overrides the minimum end-to-end duration of failed
// credential checks.
func WithLoginFloor(floor time.Duration) ServiceOption {
	return func(s *Service) error {
		if floor > 0 {
			s.loginFloor = floor
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs a Service. A signing secret is mandatory.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	svc := &Service{
		store:      store,
		issuer:     defaultIssuer,
		audience:   defaultAudience,
		accessTTL:  defaultAccessTTL,
		refreshTTL: defaultRefreshTTL,
		loginFloor: defaultLoginFloor,
		now:        time.Now,
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: signing secret is not configured")
	}
	return svc, nil
}

// Secret exposes the configured signing secret for collaborators that derive
// their own keys from it (the SSO state sealer).
func (s *Service) Secret() []byte { return s.secret }

// IssueAccessToken mints a short-lived access token for the subject.
func (s *Service) IssueAccessToken(userID int64) (string, time.Time, error) {
	return s.issueToken(userID, tokenTypeAccess, s.accessTTL)
}

// IssueRefreshToken mints a long-lived refresh token for the subject.
func (s *Service) IssueRefreshToken(userID int64) (string, time.Time, error) {
	return s.issueToken(userID, tokenTypeRefresh, s.refreshTTL)
}

// IssueTokenPair mints an access token and, when requested, a refresh token.
func (s *Service) IssueTokenPair(userID int64, includeRefresh bool) (TokenPair, error) {
	access, accessExp, err := s.IssueAccessToken(userID)
	if err != nil {
		return TokenPair{}, err
	}
	pair := TokenPair{AccessToken: access, AccessExpiresAt: accessExp}
	if includeRefresh {
		refresh, refreshExp, err := s.IssueRefreshToken(userID)
		if err != nil {
			return TokenPair{}, err
		}
		pair.RefreshToken = refresh
		pair.RefreshExpiresAt = refreshExp
	}
	return pair, nil
}

func (s *Service) issueToken(userID int64, tokenType string, ttl time.Duration) (string, time.Time, error) {
	if userID <= 0 {
		return "", time.Time{}, fmt.Errorf("%w: user id is required", ErrInvalidInput)
	}
	now := s.now().UTC()
	exp := now.Add(ttl)
	if exp.After(maxTokenExpiry) {
		exp = maxTokenExpiry
	}
	claims := Claims{
		TokenType: tokenType,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.New(),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// ParseAccessToken verifies an access token and returns the subject id. A
// refresh token presented here fails with ErrInvalidToken.
func (s *Service) ParseAccessToken(token string) (int64, error) {
	return s.parseToken(token, tokenTypeAccess)
}

func (s *Service) parseToken(token, wantType string) (int64, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return 0, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return s.secret, nil
	},
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(func() time.Time { return s.now().UTC() }),
	)
	if err != nil {
		return 0, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return 0, ErrInvalidToken
	}
	if claims.TokenType != wantType {
		return 0, ErrInvalidToken
	}
	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return 0, ErrInvalidToken
	}
	return userID, nil
}

// Login authenticates local credentials and issues a fresh token pair. All
// failure branches share a minimum duration so the reason cannot be inferred
// from response latency.
func (s *Service) Login(ctx context.Context, email, password string) (TokenPair, error) {
	start := s.now()
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" || password == "" {
		s.delayFailedLogin(start)
		return TokenPair{}, ErrInvalidCredentials
	}
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil {
		s.delayFailedLogin(start)
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidCredentials
		}
		return TokenPair{}, err
	}
	if user.IsFederated() {
		s.delayFailedLogin(start)
		return TokenPair{}, ErrFederatedAccount
	}
	if err := VerifyPassword(user.PasswordHash, password); err != nil {
		s.delayFailedLogin(start)
		return TokenPair{}, ErrInvalidCredentials
	}
	if user.MustResetPassword {
		// Password was correct, but the account is locked behind a reset.
		s.delayFailedLogin(start)
		return TokenPair{}, ErrMustResetPassword
	}
	return s.IssueTokenPair(user.ID, true)
}

// delayFailedLogin pads a failed credential check to at least the configured
// floor plus random jitter.
func (s *Service) delayFailedLogin(start time.Time) {
	elapsed := s.now().Sub(start)
	if elapsed >= s.loginFloor {
		return
	}
	jitter := time.Duration(0)
	if max := int64(s.loginFloor / 2); max > 0 {
		if n, err := rand.Int(rand.Reader, big.NewInt(max)); err == nil {
			jitter = time.Duration(n.Int64())
		}
	}
	s.sleep(s.loginFloor - elapsed + jitter)
}

// Refresh exchanges a valid refresh token for a new access token. The
// refresh token itself is never re-minted here. A malformed token or a
// vanished subject fails the whole operation.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	userID, err := s.parseToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		return TokenPair{}, ErrInvalidToken
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return TokenPair{}, ErrInvalidToken
		}
		return TokenPair{}, err
	}
	return s.IssueTokenPair(user.ID, false)
}

// Authorize decides whether the subject may perform an action requiring the
// declared permissions. The check is one storage round trip regardless of
// how many permissions the action declares. Denial is a normal outcome, not
// an error.
func (s *Service) Authorize(ctx context.Context, userID int64, perms ...Permission) (bool, error) {
	if userID <= 0 || len(perms) == 0 {
		return false, nil
	}
	for _, p := range perms {
		if !p.Valid() {
			return false, fmt.Errorf("%w: permission code %d", ErrInvalidInput, p)
		}
	}
	return s.store.Roles(ctx).Authorized(ctx, userID, RequiredSet(perms...))
}

// Profile returns the authenticated user's own view.
func (s *Service) Profile(ctx context.Context, userID int64) (*Profile, error) {
	return s.store.Users(ctx).Profile(ctx, userID)
}

// BeginPasswordReset mints a single-purpose reset token and stores its hash
// on the user row. Delivery of the token is the caller's concern.
func (s *Service) BeginPasswordReset(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(strings.ToLower(email))
	if email == "" {
		return "", fmt.Errorf("%w: email is required", ErrInvalidInput)
	}
	users := s.store.Users(ctx)
	user, err := users.FindByEmail(ctx, email)
	if err != nil {
		return "", err
	}
	if user.IsFederated() {
		return "", ErrFederatedAccount
	}
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(token))
	expires := s.now().UTC().Add(resetTokenTTL)
	if err := users.SetResetToken(ctx, user.ID, hex.EncodeToString(sum[:]), expires); err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword verifies the reset token, replaces the password, clears the
// forced-reset flag and issues a fresh token pair.
func (s *Service) ResetPassword(ctx context.Context, userID int64, token, password string) (TokenPair, error) {
	users := s.store.Users(ctx)
	user, err := users.Find(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}
	if user.IsFederated() {
		return TokenPair{}, ErrFederatedAccount
	}
	if user.ResetTokenHash == "" || s.now().After(user.ResetTokenExpires) {
		return TokenPair{}, ErrInvalidResetToken
	}
	sum := sha256.Sum256([]byte(token))
	if subtle.ConstantTimeCompare([]byte(hex.EncodeToString(sum[:])), []byte(user.ResetTokenHash)) != 1 {
		return TokenPair{}, ErrInvalidResetToken
	}
	if err := checkPasswordPolicy(password); err != nil {
		return TokenPair{}, err
	}
	hash, err := HashPassword(password)
	if err != nil {
		return TokenPair{}, err
	}
	if err := users.UpdatePassword(ctx, user.ID, hash); err != nil {
		return TokenPair{}, err
	}
	return s.IssueTokenPair(user.ID, true)
}
