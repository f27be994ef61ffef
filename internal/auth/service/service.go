package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	authdomain "civicreport_backend/internal/auth/domain"
	"civicreport_backend/internal/auth/password"
	"civicreport_backend/internal/auth/repository"
	"civicreport_backend/internal/auth/token"
	"civicreport_backend/internal/email"
	"civicreport_backend/internal/reports/domain"
	"civicreport_backend/platform/apperr"
	"civicreport_backend/platform/config"
	"civicreport_backend/platform/sanitize"
)

var ErrInvalidCredentials = errors.New("invalid credentials")
var ErrTokenExpired = errors.New("token expired")
var ErrTokenInvalid = errors.New("token invalid")
var ErrEmailNotVerified = errors.New("email not verified")

const accessTokenType = "access"

// Store is the persistence surface the service needs. Satisfied by
// *repository.Repository; tests swap in an in-memory fake.
type Store interface {
	CreateUser(ctx context.Context, email, passwordHash, displayName, role string) (repository.User, error)
	GetUserByEmail(ctx context.Context, email string) (repository.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (repository.User, error)
	ListUsers(ctx context.Context) ([]repository.User, error)
	SetUserRole(ctx context.Context, userID uuid.UUID, role string) error
	UpdateDisplayName(ctx context.Context, userID uuid.UUID, displayName string) error
	UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error
	MarkEmailVerified(ctx context.Context, userID uuid.UUID) error
	CreateRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, expiresAt time.Time) error
	GetRefreshToken(ctx context.Context, tokenHash string) (uuid.UUID, time.Time, error)
	RevokeRefreshToken(ctx context.Context, tokenHash string) error
	RevokeAllRefreshTokens(ctx context.Context, userID uuid.UUID) error
	CreateUserToken(ctx context.Context, userID uuid.UUID, tokenHash, tokenType string, expiresAt time.Time) error
	GetUserToken(ctx context.Context, tokenHash, tokenType string) (uuid.UUID, time.Time, error)
	UseUserToken(ctx context.Context, tokenHash, tokenType string) error
}

type Service struct {
	repo Store
	cfg  config.AuthServiceConfig
	mail email.Sender
}

func New(repo Store, cfg config.AuthServiceConfig, mailer email.Sender) *Service {
	return &Service{repo: repo, cfg: cfg, mail: mailer}
}

// SignUp registers a citizen account and mails the verification link.
// Staff roles are never self-assigned; admins grant them afterwards.
func (s *Service) SignUp(ctx context.Context, emailAddr, plainPassword, displayName string) error {
	emailAddr = strings.ToLower(strings.TrimSpace(emailAddr))
	displayName = sanitize.Text(displayName)
	if displayName == "" {
		return apperr.Validation("display name is required")
	}

	hash, err := password.Hash(plainPassword)
	if err != nil {
		return err
	}

	user, err := s.repo.CreateUser(ctx, emailAddr, hash, displayName, string(domain.RoleCitizen))
	if err != nil {
		return err
	}

	verifyToken, err := token.GenerateRandomToken(32)
	if err != nil {
		return err
	}

	verifyHash := token.HashSHA256(verifyToken)
	expiresAt := time.Now().Add(s.cfg.GetVerifyTokenTTL())
	if err := s.repo.CreateUserToken(ctx, user.ID, verifyHash, repository.TokenTypeEmailVerify, expiresAt); err != nil {
		return err
	}

	verifyURL := s.buildURL("/verify-email", verifyToken)
	return s.mail.SendVerificationEmail(ctx, user.Email, verifyURL)
}

func (s *Service) SignIn(ctx context.Context, emailAddr, plainPassword string) (string, string, error) {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		return "", "", ErrInvalidCredentials
	}

	if err := password.Compare(user.PasswordHash, plainPassword); err != nil {
		return "", "", ErrInvalidCredentials
	}

	if !user.EmailVerified {
		return "", "", ErrEmailNotVerified
	}

	return s.issueTokens(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (string, string, error) {
	hash := token.HashSHA256(refreshToken)
	userID, expiresAt, err := s.repo.GetRefreshToken(ctx, hash)
	if err != nil {
		return "", "", ErrTokenInvalid
	}

	if time.Now().After(expiresAt) {
		_ = s.repo.RevokeRefreshToken(ctx, hash)
		return "", "", ErrTokenExpired
	}

	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", "", ErrTokenInvalid
	}

	_ = s.repo.RevokeRefreshToken(ctx, hash)
	return s.issueTokens(ctx, user)
}

func (s *Service) SignOut(ctx context.Context, refreshToken string) error {
	return s.repo.RevokeRefreshToken(ctx, token.HashSHA256(refreshToken))
}

// ForgotPassword always reports success so the endpoint cannot be used to
// probe which addresses hold accounts.
func (s *Service) ForgotPassword(ctx context.Context, emailAddr string) error {
	user, err := s.repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(emailAddr)))
	if err != nil {
		return nil
	}

	resetToken, err := token.GenerateRandomToken(32)
	if err != nil {
		return err
	}

	resetHash := token.HashSHA256(resetToken)
	expiresAt := time.Now().Add(s.cfg.GetResetTokenTTL())
	if err := s.repo.CreateUserToken(ctx, user.ID, resetHash, repository.TokenTypePasswordReset, expiresAt); err != nil {
		return err
	}

	resetURL := s.buildURL("/reset-password", resetToken)
	return s.mail.SendPasswordResetEmail(ctx, user.Email, resetURL)
}

func (s *Service) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	hash := token.HashSHA256(rawToken)
	userID, expiresAt, err := s.repo.GetUserToken(ctx, hash, repository.TokenTypePasswordReset)
	if err != nil {
		return ErrTokenInvalid
	}

	if time.Now().After(expiresAt) {
		return ErrTokenExpired
	}

	passwordHash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return err
	}

	_ = s.repo.UseUserToken(ctx, hash, repository.TokenTypePasswordReset)
	_ = s.repo.RevokeAllRefreshTokens(ctx, userID)

	return nil
}

func (s *Service) VerifyEmail(ctx context.Context, rawToken string) error {
	hash := token.HashSHA256(rawToken)
	userID, expiresAt, err := s.repo.GetUserToken(ctx, hash, repository.TokenTypeEmailVerify)
	if err != nil {
		return ErrTokenInvalid
	}

	if time.Now().After(expiresAt) {
		return ErrTokenExpired
	}

	if err := s.repo.MarkEmailVerified(ctx, userID); err != nil {
		return err
	}

	_ = s.repo.UseUserToken(ctx, hash, repository.TokenTypeEmailVerify)
	return nil
}

func (s *Service) ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	if err := password.Compare(user.PasswordHash, currentPassword); err != nil {
		return ErrInvalidCredentials
	}

	passwordHash, err := password.Hash(newPassword)
	if err != nil {
		return err
	}

	if err := s.repo.UpdatePassword(ctx, userID, passwordHash); err != nil {
		return err
	}

	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}

func (s *Service) GetMe(ctx context.Context, userID uuid.UUID) (authdomain.Profile, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return authdomain.Profile{}, err
	}
	return toProfile(user), nil
}

func (s *Service) UpdateDisplayName(ctx context.Context, userID uuid.UUID, displayName string) error {
	displayName = sanitize.Text(displayName)
	if displayName == "" {
		return apperr.Validation("display name is required")
	}
	return s.repo.UpdateDisplayName(ctx, userID, displayName)
}

func (s *Service) ListUsers(ctx context.Context) ([]authdomain.UserSummary, error) {
	users, err := s.repo.ListUsers(ctx)
	if err != nil {
		return nil, err
	}

	out := make([]authdomain.UserSummary, 0, len(users))
	for _, u := range users {
		out = append(out, authdomain.UserSummary{ID: u.ID, Email: u.Email, DisplayName: u.DisplayName, Role: u.Role})
	}
	return out, nil
}

// SetUserRole changes an account's role. Role changes revoke open refresh
// tokens so stale access rights expire with the access token.
func (s *Service) SetUserRole(ctx context.Context, userID uuid.UUID, role string) error {
	if !domain.Role(role).Valid() {
		return apperr.Validation("unknown role: " + role)
	}
	if err := s.repo.SetUserRole(ctx, userID, role); err != nil {
		return err
	}
	return s.repo.RevokeAllRefreshTokens(ctx, userID)
}

func (s *Service) issueTokens(ctx context.Context, user repository.User) (string, string, error) {
	accessToken, err := s.signJWT(user.ID, user.Role, s.cfg.GetAccessTokenTTL(), s.cfg.GetJWTAccessSecret())
	if err != nil {
		return "", "", err
	}

	refreshToken, err := token.GenerateRandomToken(48)
	if err != nil {
		return "", "", err
	}

	hash := token.HashSHA256(refreshToken)
	expiresAt := time.Now().Add(s.cfg.GetRefreshTokenTTL())
	if err := s.repo.CreateRefreshToken(ctx, user.ID, hash, expiresAt); err != nil {
		return "", "", err
	}

	return accessToken, refreshToken, nil
}

func (s *Service) signJWT(userID uuid.UUID, role string, ttl time.Duration, secret string) (string, error) {
	claims := jwt.MapClaims{
		"sub":   userID.String(),
		"type":  accessTokenType,
		"roles": []string{role},
		"exp":   time.Now().Add(ttl).Unix(),
		"iat":   time.Now().Unix(),
	}

	tokenObj := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return tokenObj.SignedString([]byte(secret))
}

func (s *Service) buildURL(path, tokenValue string) string {
	base := strings.TrimRight(s.cfg.GetAppBaseURL(), "/")
	return base + path + "?token=" + tokenValue
}

func toProfile(u repository.User) authdomain.Profile {
	return authdomain.Profile{
		ID:            u.ID,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		DisplayName:   u.DisplayName,
		Role:          u.Role,
		CreatedAt:     u.CreatedAt,
		UpdatedAt:     u.UpdatedAt,
	}
}
