// Package jwks maintains a background-refreshed cache of an identity
// provider's published signing keys and validates externally issued tokens
// against it.
package jwks

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"poise.dev/internal/obs"
)

const (
	// defaultRefreshSpacing is the minimum interval between network fetches.
	defaultRefreshSpacing = 5 * time.Minute
	// defaultMaxAge is the staleness ceiling after which a refresh is forced.
	defaultMaxAge = time.Hour
	// defaultLockWait bounds how long a caller waits for an in-flight
	// refresh before falling back to the existing snapshot.
	defaultLockWait = 30 * time.Second
	defaultTimeout  = 10 * time.Second
)

// ErrInvalidToken is the single failure mode of ValidateToken: parsing,
// key lookup and cryptographic verification all fail closed into it.
var ErrInvalidToken = errors.New("jwks: invalid token")

// KeySet is one immutable snapshot of the provider's keys. It is replaced
// wholesale on refresh, never mutated in place.
type KeySet struct {
	keys        map[string]*rsa.PublicKey
	retrievedAt time.Time
}

// RetrievedAt reports when the snapshot was fetched.
func (k *KeySet) RetrievedAt() time.Time {
	if k == nil {
		return time.Time{}
	}
	return k.retrievedAt
}

// Len reports the number of usable keys in the snapshot.
func (k *KeySet) Len() int {
	if k == nil {
		return 0
	}
	return len(k.keys)
}

func (k *KeySet) key(kid string) *rsa.PublicKey {
	if k == nil {
		return nil
	}
	return k.keys[kid]
}

// Cache serves the current signing key set with bounded staleness and
// single-flight refresh.
type Cache struct {
	url      string
	issuer   string
	audience string
	client   *http.Client

	refreshSpacing time.Duration
	maxAge         time.Duration
	lockWait       time.Duration
	now            func() time.Time

	mu       sync.RWMutex
	snapshot *KeySet

	// refreshSem admits at most one fetch at a time; waiters time out after
	// lockWait and read whatever snapshot exists.
	refreshSem chan struct{}
}

// Option configures Cache behavior.
type Option func(*Cache)

// WithHTTPClient overrides the HTTP client used for key fetches.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) {
		if client != nil {
			c.client = client
		}
	}
}

// WithRefreshSpacing overrides the minimum interval between fetches.
func WithRefreshSpacing(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.refreshSpacing = d
		}
	}
}

// WithMaxAge overrides the staleness ceiling.
func WithMaxAge(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.maxAge = d
		}
	}
}

// WithLockWait overrides the bounded refresh-lock wait.
func WithLockWait(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.lockWait = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(c *Cache) {
		if fn != nil {
			c.now = fn
		}
	}
}

// NewCache constructs a Cache for the given discovery URL. Tokens are
// accepted only when issued by issuer for audience.
func NewCache(url, issuer, audience string, opts ...Option) *Cache {
	c := &Cache{
		url:            url,
		issuer:         issuer,
		audience:       audience,
		client:         &http.Client{Timeout: defaultTimeout},
		refreshSpacing: defaultRefreshSpacing,
		maxAge:         defaultMaxAge,
		lockWait:       defaultLockWait,
		now:            time.Now,
		refreshSem:     make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetVerificationKeys returns the current snapshot, refreshing synchronously
// first when the cache is empty or older than the staleness ceiling. The
// returned set may still be stale when the refresh could not complete; it is
// never nil once at least one fetch has succeeded.
func (c *Cache) GetVerificationKeys(ctx context.Context) *KeySet {
	snap := c.current()
	if snap.Len() > 0 && c.now().Sub(snap.RetrievedAt()) <= c.maxAge {
		return snap
	}
	c.refresh(ctx)
	return c.current()
}

// ValidateToken parses the token header for a key id, selects the matching
// verification key (no match fails closed) and verifies signature, issuer,
// audience and expiry. Every failure maps to ErrInvalidToken; the concrete
// cause is logged for operators.
func (c *Cache) ValidateToken(ctx context.Context, rawToken string) (jwt.MapClaims, error) {
	keys := c.GetVerificationKeys(ctx)

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(rawToken, claims, func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token header has no kid")
		}
		key := keys.key(kid)
		if key == nil {
			return nil, fmt.Errorf("no cached key matches kid %s", kid)
		}
		return key, nil
	},
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer(c.issuer),
		jwt.WithAudience(c.audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return c.now().UTC() }),
	)
	if err != nil {
		obs.LogEvent("jwks.token.rejected", map[string]any{"reason": err.Error()})
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (c *Cache) current() *KeySet {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.snapshot
}

// refresh performs a single-flight fetch. Concurrent callers wait up to
// lockWait for the in-flight fetch; on timeout they return and read the
// stale snapshot instead of blocking indefinitely. Fetch failures keep the
// previous snapshot and its staleness clock untouched.
func (c *Cache) refresh(ctx context.Context) {
	timer := time.NewTimer(c.lockWait)
	defer timer.Stop()
	select {
	case c.refreshSem <- struct{}{}:
	case <-timer.C:
		return
	case <-ctx.Done():
		return
	}
	defer func() { <-c.refreshSem }()

	// Another caller may have refreshed while we waited for the semaphore;
	// the spacing check also throttles fetches when the provider keeps
	// returning an unusable payload.
	snap := c.current()
	if snap.Len() > 0 && c.now().Sub(snap.RetrievedAt()) < c.refreshSpacing {
		return
	}

	keys, err := c.fetch(ctx)
	if err != nil {
		obs.JWKSRefresh("error")
		obs.LogEvent("jwks.refresh.failed", map[string]any{"error": err.Error()})
		return
	}
	c.mu.Lock()
	c.snapshot = &KeySet{keys: keys, retrievedAt: c.now().UTC()}
	c.mu.Unlock()
	obs.JWKSRefresh("ok")
}

type jwksDocument struct {
	Keys []jwkEntry `json:"keys"`
}

// jwkEntry mirrors the provider's key document. Unknown fields are ignored;
// only kty/kid/n/e participate in key construction.
type jwkEntry struct {
	Kty string   `json:"kty"`
	Use string   `json:"use"`
	Kid string   `json:"kid"`
	X5T string   `json:"x5t"`
	N   string   `json:"n"`
	E   string   `json:"e"`
	X5C []string `json:"x5c"`
}

func (c *Cache) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("jwks fetch returned status %d", resp.StatusCode)
	}
	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode jwks document: %w", err)
	}
	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, entry := range doc.Keys {
		if !strings.EqualFold(entry.Kty, "RSA") || entry.Kid == "" {
			continue
		}
		pub, err := entry.publicKey()
		if err != nil {
			continue
		}
		keys[entry.Kid] = pub
	}
	if len(keys) == 0 {
		return nil, errors.New("jwks document contains no usable keys")
	}
	return keys, nil
}

func (e jwkEntry) publicKey() (*rsa.PublicKey, error) {
	if e.N == "" || e.E == "" {
		return nil, errors.New("missing rsa parameters")
	}
	nBytes, err := base64.RawURLEncoding.DecodeString(e.N)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(e.E)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	exp := new(big.Int).SetBytes(eBytes).Int64()
	if exp <= 0 || exp > int64(^uint32(0)) {
		return nil, errors.New("invalid rsa exponent")
	}
	return &rsa.PublicKey{N: n, E: int(exp)}, nil
}
