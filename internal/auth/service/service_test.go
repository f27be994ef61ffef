package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"civicreport_backend/internal/auth/repository"
	"civicreport_backend/internal/email"
	"civicreport_backend/platform/apperr"
)

type memStore struct {
	users         map[uuid.UUID]repository.User
	refreshTokens map[string]refreshRecord
	userTokens    map[string]userTokenRecord
}

type refreshRecord struct {
	userID    uuid.UUID
	expiresAt time.Time
	revoked   bool
}

type userTokenRecord struct {
	userID    uuid.UUID
	tokenType string
	expiresAt time.Time
	used      bool
}

func newMemStore() *memStore {
	return &memStore{
		users:         make(map[uuid.UUID]repository.User),
		refreshTokens: make(map[string]refreshRecord),
		userTokens:    make(map[string]userTokenRecord),
	}
}

func (s *memStore) CreateUser(_ context.Context, emailAddr, passwordHash, displayName, role string) (repository.User, error) {
	for _, u := range s.users {
		if u.Email == emailAddr {
			return repository.User{}, apperr.Conflict("email already registered")
		}
	}
	u := repository.User{
		ID:           uuid.New(),
		Email:        emailAddr,
		PasswordHash: passwordHash,
		DisplayName:  displayName,
		Role:         role,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	s.users[u.ID] = u
	return u, nil
}

func (s *memStore) GetUserByEmail(_ context.Context, emailAddr string) (repository.User, error) {
	for _, u := range s.users {
		if u.Email == emailAddr {
			return u, nil
		}
	}
	return repository.User{}, repository.ErrNotFound
}

func (s *memStore) GetUserByID(_ context.Context, userID uuid.UUID) (repository.User, error) {
	u, ok := s.users[userID]
	if !ok {
		return repository.User{}, repository.ErrNotFound
	}
	return u, nil
}

func (s *memStore) ListUsers(_ context.Context) ([]repository.User, error) {
	out := make([]repository.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	return out, nil
}

func (s *memStore) SetUserRole(_ context.Context, userID uuid.UUID, role string) error {
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.Role = role
	s.users[userID] = u
	return nil
}

func (s *memStore) UpdateDisplayName(_ context.Context, userID uuid.UUID, displayName string) error {
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.DisplayName = displayName
	s.users[userID] = u
	return nil
}

func (s *memStore) UpdatePassword(_ context.Context, userID uuid.UUID, passwordHash string) error {
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = passwordHash
	s.users[userID] = u
	return nil
}

func (s *memStore) MarkEmailVerified(_ context.Context, userID uuid.UUID) error {
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.EmailVerified = true
	s.users[userID] = u
	return nil
}

func (s *memStore) CreateRefreshToken(_ context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error {
	s.refreshTokens[tokenHash] = refreshRecord{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *memStore) GetRefreshToken(_ context.Context, tokenHash string) (uuid.UUID, time.Time, error) {
	rec, ok := s.refreshTokens[tokenHash]
	if !ok || rec.revoked {
		return uuid.Nil, time.Time{}, repository.ErrNotFound
	}
	return rec.userID, rec.expiresAt, nil
}

func (s *memStore) RevokeRefreshToken(_ context.Context, tokenHash string) error {
	if rec, ok := s.refreshTokens[tokenHash]; ok {
		rec.revoked = true
		s.refreshTokens[tokenHash] = rec
	}
	return nil
}

func (s *memStore) RevokeAllRefreshTokens(_ context.Context, userID uuid.UUID) error {
	for hash, rec := range s.refreshTokens {
		if rec.userID == userID {
			rec.revoked = true
			s.refreshTokens[hash] = rec
		}
	}
	return nil
}

func (s *memStore) CreateUserToken(_ context.Context, userID uuid.UUID, tokenHash, tokenType string, expiresAt time.Time) error {
	s.userTokens[tokenHash] = userTokenRecord{userID: userID, tokenType: tokenType, expiresAt: expiresAt}
	return nil
}

func (s *memStore) GetUserToken(_ context.Context, tokenHash, tokenType string) (uuid.UUID, time.Time, error) {
	rec, ok := s.userTokens[tokenHash]
	if !ok || rec.used || rec.tokenType != tokenType {
		return uuid.Nil, time.Time{}, repository.ErrNotFound
	}
	return rec.userID, rec.expiresAt, nil
}

func (s *memStore) UseUserToken(_ context.Context, tokenHash, tokenType string) error {
	rec, ok := s.userTokens[tokenHash]
	if !ok || rec.tokenType != tokenType {
		return repository.ErrNotFound
	}
	rec.used = true
	s.userTokens[tokenHash] = rec
	return nil
}

// recordingMailer captures the links mailed out so tests can complete the
// verify and reset flows with the raw tokens.
type recordingMailer struct {
	email.NoopSender
	verifyURLs []string
	resetURLs  []string
}

func (m *recordingMailer) SendVerificationEmail(_ context.Context, _, verifyURL string) error {
	m.verifyURLs = append(m.verifyURLs, verifyURL)
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(_ context.Context, _, resetURL string) error {
	m.resetURLs = append(m.resetURLs, resetURL)
	return nil
}

type testConfig struct{}

func (testConfig) GetJWTAccessSecret() string        { return "test-secret" }
func (testConfig) GetAccessTokenTTL() time.Duration  { return 15 * time.Minute }
func (testConfig) GetRefreshTokenTTL() time.Duration { return 24 * time.Hour }
func (testConfig) GetVerifyTokenTTL() time.Duration  { return 48 * time.Hour }
func (testConfig) GetResetTokenTTL() time.Duration   { return time.Hour }
func (testConfig) GetAppBaseURL() string             { return "http://localhost:4200" }

func newTestService(t *testing.T) (*Service, *memStore, *recordingMailer) {
	t.Helper()
	store := newMemStore()
	mailer := &recordingMailer{}
	return New(store, testConfig{}, mailer), store, mailer
}

func tokenFromLink(t *testing.T, link string) string {
	t.Helper()
	parsed, err := url.Parse(link)
	if err != nil {
		t.Fatalf("parse mailed link: %v", err)
	}
	tok := parsed.Query().Get("token")
	if tok == "" {
		t.Fatalf("mailed link %q carries no token", link)
	}
	return tok
}

func TestSignUpAndVerifyThenSignIn(t *testing.T) {
	svc, store, mailer := newTestService(t)
	ctx := context.Background()

	if err := svc.SignUp(ctx, "  Mario.Rossi@Example.COM ", "correct-horse", "Mario Rossi"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	user, err := store.GetUserByEmail(ctx, "mario.rossi@example.com")
	if err != nil {
		t.Fatalf("email was not lowercased on signup: %v", err)
	}
	if user.Role != "citizen" {
		t.Fatalf("signup role = %q, want citizen", user.Role)
	}
	if len(mailer.verifyURLs) != 1 {
		t.Fatalf("verification emails sent = %d, want 1", len(mailer.verifyURLs))
	}

	// Unverified accounts cannot sign in.
	if _, _, err := svc.SignIn(ctx, "mario.rossi@example.com", "correct-horse"); !errors.Is(err, ErrEmailNotVerified) {
		t.Fatalf("SignIn before verify = %v, want ErrEmailNotVerified", err)
	}

	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	access, refresh, err := svc.SignIn(ctx, "mario.rossi@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn after verify: %v", err)
	}
	if access == "" || refresh == "" {
		t.Fatal("SignIn returned empty token pair")
	}

	// Verify tokens are single use.
	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("second VerifyEmail = %v, want ErrTokenInvalid", err)
	}
}

func TestSignUpRequiresDisplayName(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.SignUp(context.Background(), "a@example.com", "correct-horse", "   ")
	if apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("SignUp without display name = %v, want validation error", err)
	}
}

func TestSignInWrongPassword(t *testing.T) {
	svc, _, mailer := newTestService(t)
	ctx := context.Background()

	if err := svc.SignUp(ctx, "b@example.com", "correct-horse", "B"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}

	if _, _, err := svc.SignIn(ctx, "b@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn wrong password = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.SignIn(ctx, "nobody@example.com", "correct-horse"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn unknown email = %v, want ErrInvalidCredentials", err)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	svc, _, mailer := newTestService(t)
	ctx := context.Background()

	if err := svc.SignUp(ctx, "c@example.com", "correct-horse", "C"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	_, refresh, err := svc.SignIn(ctx, "c@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	_, rotated, err := svc.Refresh(ctx, refresh)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated == refresh {
		t.Fatal("Refresh did not rotate the refresh token")
	}

	// The consumed token is dead; the rotated one works.
	if _, _, err := svc.Refresh(ctx, refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh with consumed token = %v, want ErrTokenInvalid", err)
	}
	if _, _, err := svc.Refresh(ctx, rotated); err != nil {
		t.Fatalf("Refresh with rotated token: %v", err)
	}
}

func TestForgotPasswordIsSilentForUnknownAddress(t *testing.T) {
	svc, _, mailer := newTestService(t)

	if err := svc.ForgotPassword(context.Background(), "ghost@example.com"); err != nil {
		t.Fatalf("ForgotPassword for unknown address = %v, want nil", err)
	}
	if len(mailer.resetURLs) != 0 {
		t.Fatalf("reset emails sent = %d, want 0", len(mailer.resetURLs))
	}
}

func TestResetPasswordRevokesSessions(t *testing.T) {
	svc, _, mailer := newTestService(t)
	ctx := context.Background()

	if err := svc.SignUp(ctx, "d@example.com", "old-password", "D"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	_, refresh, err := svc.SignIn(ctx, "d@example.com", "old-password")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if err := svc.ForgotPassword(ctx, "d@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if len(mailer.resetURLs) != 1 {
		t.Fatalf("reset emails sent = %d, want 1", len(mailer.resetURLs))
	}
	if err := svc.ResetPassword(ctx, tokenFromLink(t, mailer.resetURLs[0]), "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}

	if _, _, err := svc.Refresh(ctx, refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh after reset = %v, want ErrTokenInvalid", err)
	}
	if _, _, err := svc.SignIn(ctx, "d@example.com", "old-password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("SignIn with old password after reset = %v, want ErrInvalidCredentials", err)
	}
	if _, _, err := svc.SignIn(ctx, "d@example.com", "new-password"); err != nil {
		t.Fatalf("SignIn with new password: %v", err)
	}
}

func TestSetUserRole(t *testing.T) {
	svc, store, mailer := newTestService(t)
	ctx := context.Background()

	if err := svc.SignUp(ctx, "e@example.com", "correct-horse", "E"); err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	if err := svc.VerifyEmail(ctx, tokenFromLink(t, mailer.verifyURLs[0])); err != nil {
		t.Fatalf("VerifyEmail: %v", err)
	}
	user, err := store.GetUserByEmail(ctx, "e@example.com")
	if err != nil {
		t.Fatalf("GetUserByEmail: %v", err)
	}
	_, refresh, err := svc.SignIn(ctx, "e@example.com", "correct-horse")
	if err != nil {
		t.Fatalf("SignIn: %v", err)
	}

	if err := svc.SetUserRole(ctx, user.ID, "mayor"); apperr.GetKind(err) != apperr.KindValidation {
		t.Fatalf("SetUserRole with unknown role = %v, want validation error", err)
	}

	if err := svc.SetUserRole(ctx, user.ID, "officer"); err != nil {
		t.Fatalf("SetUserRole: %v", err)
	}
	updated, _ := store.GetUserByID(ctx, user.ID)
	if updated.Role != "officer" {
		t.Fatalf("role after grant = %q, want officer", updated.Role)
	}

	// Open sessions die with the old role.
	if _, _, err := svc.Refresh(ctx, refresh); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("Refresh after role change = %v, want ErrTokenInvalid", err)
	}

	if !strings.HasPrefix(mailer.verifyURLs[0], "http://localhost:4200/verify-email?token=") {
		t.Fatalf("verify link = %q, want app base URL prefix", mailer.verifyURLs[0])
	}
}
