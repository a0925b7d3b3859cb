package auth

import (
	"context"
	"strings"
	"testing"
	"time"
)

const testSecret = "unit-test-signing-secret"

// stubStore satisfies Store with injectable behavior per test.
type stubStore struct {
	users stubUserStore
	roles stubRoleStore
}

func (s *stubStore) Users(context.Context) UserStore { return &s.users }
func (s *stubStore) Roles(context.Context) RoleStore { return &s.roles }

type stubUserStore struct {
	findFn           func(context.Context, int64) (*User, error)
	findByEmailFn    func(context.Context, string) (*User, error)
	findByExternalFn func(context.Context, string) (*User, error)
	createFn         func(context.Context, *User) error
	updatePasswordFn func(context.Context, int64, string) error
	setResetTokenFn  func(context.Context, int64, string, time.Time) error
	profileFn        func(context.Context, int64) (*Profile, error)
}

func (s *stubUserStore) Find(ctx context.Context, id int64) (*User, error) {
	if s.findFn != nil {
		return s.findFn(ctx, id)
	}
	return nil, ErrNotFound
}

func (s *stubUserStore) FindByEmail(ctx context.Context, email string) (*User, error) {
	if s.findByEmailFn != nil {
		return s.findByEmailFn(ctx, email)
	}
	return nil, ErrNotFound
}

func (s *stubUserStore) FindByExternalID(ctx context.Context, id string) (*User, error) {
	if s.findByExternalFn != nil {
		return s.findByExternalFn(ctx, id)
	}
	return nil, ErrNotFound
}

func (s *stubUserStore) Create(ctx context.Context, u *User) error {
	if s.createFn != nil {
		return s.createFn(ctx, u)
	}
	return nil
}

func (s *stubUserStore) UpdatePassword(ctx context.Context, id int64, hash string) error {
	if s.updatePasswordFn != nil {
		return s.updatePasswordFn(ctx, id, hash)
	}
	return nil
}

func (s *stubUserStore) SetResetToken(ctx context.Context, id int64, hash string, expires time.Time) error {
	if s.setResetTokenFn != nil {
		return s.setResetTokenFn(ctx, id, hash, expires)
	}
	return nil
}

func (s *stubUserStore) Profile(ctx context.Context, id int64) (*Profile, error) {
	if s.profileFn != nil {
		return s.profileFn(ctx, id)
	}
	return nil, ErrNotFound
}

type stubRoleStore struct {
	authorizedFn func(context.Context, int64, Bitmap) (bool, error)
}

func (s *stubRoleStore) List(context.Context) ([]RoleSummary, error)       { return nil, nil }
func (s *stubRoleStore) Find(context.Context, int64) (*RoleDetail, error)  { return nil, ErrNotFound }
func (s *stubRoleStore) Create(context.Context, *Role) error               { return nil }
func (s *stubRoleStore) Rename(context.Context, int64, string) error       { return nil }
func (s *stubRoleStore) Delete(context.Context, int64) error               { return nil }
func (s *stubRoleStore) SetPermission(context.Context, int64, Permission, bool) error {
	return nil
}

func (s *stubRoleStore) Authorized(ctx context.Context, userID int64, required Bitmap) (bool, error) {
	if s.authorizedFn != nil {
		return s.authorizedFn(ctx, userID, required)
	}
	return false, nil
}

func newTestService(t *testing.T, store Store, opts ...ServiceOption) *Service {
	t.Helper()
	opts = append([]ServiceOption{WithSecret(testSecret), WithLoginFloor(5 * time.Millisecond)}, opts...)
	svc, err := NewService(store, opts...)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc
}

func TestNewServiceRejectsShortSecret(t *testing.T) {
	if _, err := NewService(&stubStore{}, WithSecret("short")); err == nil {
		t.Fatalf("expected error for short secret")
	}
	if _, err := NewService(&stubStore{}); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}

func TestAccessTokenRoundTrip(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	token, expiresAt, err := svc.IssueAccessToken(42)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if time.Until(expiresAt) <= 0 {
		t.Fatalf("expected future expiration, got %v", expiresAt)
	}

	userID, err := svc.ParseAccessToken(token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if userID != 42 {
		t.Fatalf("unexpected subject: %d", userID)
	}
}

func TestExpiredAccessTokenRejected(t *testing.T) {
	current := time.Now().UTC()
	svc := newTestService(t, &stubStore{}, WithClock(func() time.Time { return current }))

	token, _, err := svc.IssueAccessToken(42)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}

	current = current.Add(2 * time.Hour)
	if _, err := svc.ParseAccessToken(token); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}

func TestRefreshTokenRejectedAsAccessToken(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	refresh, _, err := svc.IssueRefreshToken(42)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := svc.ParseAccessToken(refresh); err == nil {
		t.Fatalf("refresh token must not pass as an access token")
	}
}

func TestTokenExpiryCappedAtCeiling(t *testing.T) {
	svc := newTestService(t, &stubStore{}, WithAccessTTL(100*365*24*time.Hour))

	_, expiresAt, err := svc.IssueAccessToken(42)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if expiresAt.After(maxTokenExpiry) {
		t.Fatalf("expiry %v exceeds the hardcoded ceiling", expiresAt)
	}
}

func TestRefreshIssuesAccessOnly(t *testing.T) {
	store := &stubStore{}
	store.users.findFn = func(_ context.Context, id int64) (*User, error) {
		if id != 42 {
			return nil, ErrNotFound
		}
		return &User{ID: 42, Email: "a@b.example"}, nil
	}
	svc := newTestService(t, store)

	refresh, _, err := svc.IssueRefreshToken(42)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	pair, err := svc.Refresh(context.Background(), refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if pair.AccessToken == "" {
		t.Fatalf("expected a fresh access token")
	}
	if pair.RefreshToken != "" {
		t.Fatalf("refresh must not re-mint a refresh token")
	}
}

func TestRefreshRejectsAccessTokenAndGarbage(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	access, _, err := svc.IssueAccessToken(42)
	if err != nil {
		t.Fatalf("IssueAccessToken: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), access); err == nil {
		t.Fatalf("access token must not be accepted for refresh")
	}
	if _, err := svc.Refresh(context.Background(), "not.a.token"); err == nil {
		t.Fatalf("garbage must not be accepted for refresh")
	}
}

func TestRefreshFailsWhenSubjectGone(t *testing.T) {
	svc := newTestService(t, &stubStore{})

	refresh, _, err := svc.IssueRefreshToken(42)
	if err != nil {
		t.Fatalf("IssueRefreshToken: %v", err)
	}
	if _, err := svc.Refresh(context.Background(), refresh); err == nil {
		t.Fatalf("expected refresh to fail for a vanished subject")
	}
}

func TestLoginSuccess(t *testing.T) {
	hash, err := HashPassword("correct horse battery")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := &stubStore{}
	store.users.findByEmailFn = func(_ context.Context, email string) (*User, error) {
		if email != "jane@corp.example" {
			return nil, ErrNotFound
		}
		return &User{ID: 7, Email: email, PasswordHash: hash}, nil
	}
	svc := newTestService(t, store)

	pair, err := svc.Login(context.Background(), "Jane@Corp.Example", "correct horse battery")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected a full token pair")
	}
	userID, err := svc.ParseAccessToken(pair.AccessToken)
	if err != nil || userID != 7 {
		t.Fatalf("unexpected subject: %d, err=%v", userID, err)
	}
}

func TestLoginFailureKinds(t *testing.T) {
	hash, err := HashPassword("the-real-password")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	store := &stubStore{}
	store.users.findByEmailFn = func(_ context.Context, email string) (*User, error) {
		switch email {
		case "local@corp.example":
			return &User{ID: 1, Email: email, PasswordHash: hash}, nil
		case "sso@corp.example":
			return &User{ID: 2, Email: email, ExternalID: "ext-123"}, nil
		case "reset@corp.example":
			return &User{ID: 3, Email: email, PasswordHash: hash, MustResetPassword: true}, nil
		}
		return nil, ErrNotFound
	}
	current := time.Now().UTC()
	svc := newTestService(t, store, WithClock(func() time.Time { return current }))
	var slept time.Duration
	svc.sleep = func(d time.Duration) { slept = d }
	ctx := context.Background()

	cases := []struct {
		name     string
		email    string
		password string
		want     error
	}{
		{"unknown user", "nobody@corp.example", "whatever", ErrInvalidCredentials},
		{"wrong password", "local@corp.example", "wrong", ErrInvalidCredentials},
		{"federated account", "sso@corp.example", "the-real-password", ErrFederatedAccount},
		{"forced reset", "reset@corp.example", "the-real-password", ErrMustResetPassword},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			slept = 0
			_, err := svc.Login(ctx, tc.email, tc.password)
			if err != tc.want {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
			// Frozen clock: every failure branch must pad out the full floor.
			if slept < 5*time.Millisecond {
				t.Fatalf("failed login padded only %v, below the timing floor", slept)
			}
		})
	}

	// A successful login is not padded.
	slept = 0
	if _, err := svc.Login(ctx, "local@corp.example", "the-real-password"); err != nil {
		t.Fatalf("Login: %v", err)
	}
	if slept != 0 {
		t.Fatalf("successful login must not be delayed, slept %v", slept)
	}
}

func TestAuthorizeBuildsRequiredSet(t *testing.T) {
	store := &stubStore{}
	var captured Bitmap
	store.roles.authorizedFn = func(_ context.Context, userID int64, required Bitmap) (bool, error) {
		captured = required
		return true, nil
	}
	svc := newTestService(t, store)

	allowed, err := svc.Authorize(context.Background(), 42, PermReadProject, PermUpdateProject)
	if err != nil {
		t.Fatalf("Authorize: %v", err)
	}
	if !allowed {
		t.Fatalf("expected allow")
	}
	want := RequiredSet(PermReadProject, PermUpdateProject)
	if captured != want {
		t.Fatalf("unexpected required set: %s", captured.String())
	}

	if allowed, err := svc.Authorize(context.Background(), 0, PermReadProject); err != nil || allowed {
		t.Fatalf("anonymous subject must be denied")
	}
}

func TestResetPasswordFlow(t *testing.T) {
	store := &stubStore{}
	var (
		storedHash    string
		storedExpires time.Time
		user          = &User{ID: 9, Email: "r@corp.example", PasswordHash: "old", MustResetPassword: true}
	)
	store.users.findByEmailFn = func(_ context.Context, email string) (*User, error) {
		return user, nil
	}
	store.users.findFn = func(_ context.Context, id int64) (*User, error) {
		u := *user
		u.ResetTokenHash = storedHash
		u.ResetTokenExpires = storedExpires
		return &u, nil
	}
	store.users.setResetTokenFn = func(_ context.Context, _ int64, hash string, expires time.Time) error {
		storedHash, storedExpires = hash, expires
		return nil
	}
	var newHash string
	store.users.updatePasswordFn = func(_ context.Context, _ int64, hash string) error {
		newHash = hash
		return nil
	}
	svc := newTestService(t, store)
	ctx := context.Background()

	token, err := svc.BeginPasswordReset(ctx, "r@corp.example")
	if err != nil {
		t.Fatalf("BeginPasswordReset: %v", err)
	}
	if token == "" || storedHash == "" || strings.Contains(storedHash, token) {
		t.Fatalf("expected a hashed reset token to be stored")
	}

	if _, err := svc.ResetPassword(ctx, 9, "wrong-token", "long enough password"); err != ErrInvalidResetToken {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}
	if _, err := svc.ResetPassword(ctx, 9, token, "short"); err != ErrWeakPassword {
		t.Fatalf("expected ErrWeakPassword, got %v", err)
	}

	pair, err := svc.ResetPassword(ctx, 9, token, "long enough password")
	if err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatalf("expected a fresh token pair")
	}
	if err := VerifyPassword(newHash, "long enough password"); err != nil {
		t.Fatalf("stored hash does not match the new password: %v", err)
	}
}

func TestResetPasswordRejectedForFederatedAccount(t *testing.T) {
	store := &stubStore{}
	store.users.findFn = func(_ context.Context, id int64) (*User, error) {
		return &User{ID: id, ExternalID: "ext-1"}, nil
	}
	store.users.findByEmailFn = func(_ context.Context, email string) (*User, error) {
		return &User{ID: 4, Email: email, ExternalID: "ext-1"}, nil
	}
	svc := newTestService(t, store)

	if _, err := svc.BeginPasswordReset(context.Background(), "x@corp.example"); err != ErrFederatedAccount {
		t.Fatalf("expected ErrFederatedAccount, got %v", err)
	}
	if _, err := svc.ResetPassword(context.Background(), 4, "tok", "long enough password"); err != ErrFederatedAccount {
		t.Fatalf("expected ErrFederatedAccount, got %v", err)
	}
}
