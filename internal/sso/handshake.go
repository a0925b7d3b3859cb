// Package sso implements the federated login handshake: sealed round-trip
// state on the way out, strict ordered validation of the id_token callback on
// the way back, and just-in-time provisioning of first-time users.
package sso

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"poise.dev/internal/auth"
	"poise.dev/internal/obs"
)

const (
	defaultStateTTL = 15 * time.Minute

	// defaultRoleID is assigned to provisioned accounts until an
	// administrator promotes them.
	defaultRoleID = 1
)

// Callback failures. Handlers map all of them to one client-facing rejection;
// the concrete cause is only for operators.
var (
	ErrMissingCallbackParams = errors.New("sso: callback missing id_token or state")
	ErrInvalidState          = errors.New("sso: state cannot be unsealed")
	ErrStateExpired          = errors.New("sso: state expired")
	ErrNonceMismatch         = errors.New("sso: nonce mismatch")
	ErrNonceReplayed         = errors.New("sso: nonce already consumed")
	ErrInvalidIDToken        = errors.New("sso: invalid id token")
	ErrMissingClaims         = errors.New("sso: id token missing required claims")
	ErrProvisionFailed       = errors.New("sso: user provisioning failed")
)

// TokenValidator verifies a provider-issued id_token and returns its claims.
type TokenValidator interface {
	ValidateToken(ctx context.Context, rawToken string) (jwt.MapClaims, error)
}

// Config identifies the application at the identity provider.
type Config struct {
	ClientID    string
	TenantID    string
	RedirectURL string
	// StateTTL bounds how long a started handshake stays valid. Zero means
	// the 15 minute default.
	StateTTL time.Duration
}

// AuthorizeEndpoint returns the provider's authorization URL for a tenant.
func AuthorizeEndpoint(tenantID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/oauth2/v2.0/authorize"
}

// KeysEndpoint returns the provider's signing-key discovery URL, filtered to
// the keys that sign tokens for this application.
func KeysEndpoint(tenantID, clientID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/discovery/keys?appid=" + clientID
}

// Issuer returns the iss value the provider stamps into id tokens.
func Issuer(tenantID string) string {
	return "https://login.microsoftonline.com/" + tenantID + "/v2.0"
}

// Handshake drives both halves of the federated login exchange.
type Handshake struct {
	cfg       Config
	sealer    *StateSealer
	validator TokenValidator
	store     auth.Store
	nonces    NonceStore
	tokens    *auth.Service
	now       func() time.Time
}

// HandshakeOption configures optional Handshake behavior.
type HandshakeOption func(*Handshake)

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) HandshakeOption {
	return func(h *Handshake) {
		if fn != nil {
			h.now = fn
		}
	}
}

// NewHandshake wires the handshake. The state sealer is derived from the
// token service's signing secret so both ends share one configured secret.
func NewHandshake(cfg Config, tokens *auth.Service, store auth.Store, validator TokenValidator, nonces NonceStore, opts ...HandshakeOption) (*Handshake, error) {
	if cfg.ClientID == "" || cfg.TenantID == "" || cfg.RedirectURL == "" {
		return nil, errors.New("sso: client id, tenant id and redirect url are required")
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = defaultStateTTL
	}
	sealer, err := NewStateSealer(tokens.Secret())
	if err != nil {
		return nil, err
	}
	h := &Handshake{
		cfg:       cfg,
		sealer:    sealer,
		validator: validator,
		store:     store,
		nonces:    nonces,
		tokens:    tokens,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// BeginLogin mints a fresh nonce, seals it with a validity deadline into the
// round-trip state and returns the provider authorization URL to redirect to.
func (h *Handshake) BeginLogin(ctx context.Context) (string, error) {
	nonce := uuid.NewString()
	sealed, err := h.sealer.Seal(State{
		ValidUntil: h.now().UTC().Add(h.cfg.StateTTL),
		Nonce:      nonce,
	})
	if err != nil {
		return "", err
	}

	q := url.Values{}
	q.Set("client_id", h.cfg.ClientID)
	q.Set("response_type", "id_token")
	q.Set("redirect_uri", h.cfg.RedirectURL)
	q.Set("response_mode", "form_post")
	q.Set("scope", "openid profile email")
	q.Set("nonce", nonce)
	q.Set("state", sealed)
	return AuthorizeEndpoint(h.cfg.TenantID) + "?" + q.Encode(), nil
}

// HandleCallback validates the provider's form_post response and exchanges it
// for a local token pair. Checks run in a fixed order so that each rejection
// names the first broken link in the chain: parameter presence, state
// unsealing, id_token verification, state expiry, nonce match, nonce
// single-use, then subject resolution.
func (h *Handshake) HandleCallback(ctx context.Context, form url.Values) (auth.TokenPair, error) {
	idToken := form.Get("id_token")
	sealedState := form.Get("state")
	if idToken == "" || sealedState == "" {
		return h.reject(ErrMissingCallbackParams, "missing id_token or state form field")
	}

	state, err := h.sealer.Open(sealedState)
	if err != nil {
		return h.reject(ErrInvalidState, err.Error())
	}

	claims, err := h.validator.ValidateToken(ctx, idToken)
	if err != nil {
		return h.reject(ErrInvalidIDToken, err.Error())
	}

	now := h.now().UTC()
	if now.After(state.ValidUntil) {
		return h.reject(ErrStateExpired, fmt.Sprintf("state expired at %s", state.ValidUntil.Format(time.RFC3339)))
	}

	tokenNonce, _ := claims["nonce"].(string)
	if tokenNonce == "" || tokenNonce != state.Nonce {
		return h.reject(ErrNonceMismatch, "id_token nonce does not match sealed state")
	}

	first, err := h.nonces.Consume(ctx, state.Nonce, state.ValidUntil.Sub(now))
	if err != nil {
		return auth.TokenPair{}, fmt.Errorf("sso: consume nonce: %w", err)
	}
	if !first {
		return h.reject(ErrNonceReplayed, "nonce was already consumed")
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return h.reject(ErrMissingClaims, "id_token has no sub claim")
	}

	user, err := h.store.Users(ctx).FindByExternalID(ctx, sub)
	switch {
	case errors.Is(err, auth.ErrNotFound):
		user, err = h.provision(ctx, sub, claims)
		if err != nil {
			return auth.TokenPair{}, err
		}
	case err != nil:
		return auth.TokenPair{}, fmt.Errorf("sso: lookup user: %w", err)
	}

	obs.LoginAttempt("sso_ok")
	return h.tokens.IssueTokenPair(user.ID, true)
}

// provision creates a local account for a first-time federated subject. The
// display name follows the in-house convention of lowercased first initial,
// a dot, and the family name.
func (h *Handshake) provision(ctx context.Context, sub string, claims jwt.MapClaims) (*auth.User, error) {
	email, _ := claims["email"].(string)
	given, _ := claims["given_name"].(string)
	family, _ := claims["family_name"].(string)
	if email == "" || given == "" || family == "" {
		_, err := h.reject(ErrMissingClaims, "provisioning requires email, given_name and family_name")
		return nil, err
	}

	initial := string([]rune(given)[0])
	user := &auth.User{
		Email:       strings.ToLower(email),
		DisplayName: strings.ToLower(initial + "." + family),
		ExternalID:  sub,
		RoleID:      defaultRoleID,
	}
	if err := h.store.Users(ctx).Create(ctx, user); err != nil {
		if errors.Is(err, auth.ErrConflict) {
			_, rejectErr := h.reject(ErrProvisionFailed, "account with same email or subject already exists")
			return nil, rejectErr
		}
		return nil, fmt.Errorf("sso: provision user: %w", err)
	}
	obs.LogEvent("sso.user.provisioned", map[string]any{
		"user_id": user.ID,
		"email":   user.Email,
	})
	return user, nil
}

func (h *Handshake) reject(kind error, reason string) (auth.TokenPair, error) {
	obs.LoginAttempt("sso_rejected")
	obs.LogEvent("sso.callback.rejected", map[string]any{
		"kind":   kind.Error(),
		"reason": reason,
	})
	return auth.TokenPair{}, kind
}
