// Package auth supplies bcrypt password hashing plus JWT issuance and
// verification for the register/login endpoints. It is the minimal
// concrete thing that satisfies the API surface without claiming to be
// a hardened identity provider.
package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
	"golang.org/x/crypto/bcrypt"

	"github.com/auditeng/compliance/internal/config"
	apperrors "github.com/auditeng/compliance/internal/errors"
	"github.com/auditeng/compliance/internal/idgen"
	"github.com/auditeng/compliance/pkg/domain"
	"github.com/auditeng/compliance/pkg/taskstore"
)

// MinPasswordLength is the minimum password length Register accepts.
const MinPasswordLength = 8

// Service issues and verifies tokens and mediates the two user-facing
// auth operations against the user store.
type Service struct {
	users     *taskstore.UserRepository
	signingKey []byte
	expiry    time.Duration
}

func New(users *taskstore.UserRepository, cfg config.AuthConfig) *Service {
	return &Service{
		users:      users,
		signingKey: []byte(cfg.JWTSigningKey),
		expiry:     cfg.JWTExpiry,
	}
}

// HashPassword hashes a plaintext password with bcrypt's default cost.
func HashPassword(plaintext string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "hash password")
	}
	return string(hash), nil
}

func verifyPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Register creates a new active User and returns a signed token for
// it. A password shorter than MinPasswordLength or a duplicate email
// is InvalidInput.
func (s *Service) Register(ctx context.Context, email, password string) (*domain.User, string, error) {
	if len(password) < MinPasswordLength {
		return nil, "", apperrors.NewInvalidInput(fmt.Sprintf("password must be at least %d characters", MinPasswordLength))
	}
	if email == "" {
		return nil, "", apperrors.NewInvalidInput("email must not be empty")
	}

	hash, err := HashPassword(password)
	if err != nil {
		return nil, "", err
	}

	user := &domain.User{
		ID:           idgen.New(),
		Email:        email,
		PasswordHash: hash,
		Active:       true,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, "", err
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

// Login verifies credentials and returns a signed token, or an
// Authentication error on a bad email or password.
func (s *Service) Login(ctx context.Context, email, password string) (*domain.User, string, error) {
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
			return nil, "", apperrors.NewAuthentication("invalid email or password")
		}
		return nil, "", err
	}
	if !user.Active || !verifyPassword(user.PasswordHash, password) {
		return nil, "", apperrors.NewAuthentication("invalid email or password")
	}

	token, err := s.issueToken(user)
	if err != nil {
		return nil, "", err
	}
	return user, token, nil
}

func (s *Service) issueToken(user *domain.User) (string, error) {
	now := time.Now()
	tok, err := jwt.NewBuilder().
		Subject(user.ID.String()).
		Claim("email", user.Email).
		IssuedAt(now).
		Expiration(now.Add(s.expiry)).
		Build()
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "build JWT")
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwa.HS256(), s.signingKey))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrorTypeInternal, "sign JWT")
	}
	return string(signed), nil
}

// VerifyToken parses and validates a bearer token, returning the
// caller's user id. Every /api handler other than register/login and
// the health and OpenAPI endpoints goes through this.
func (s *Service) VerifyToken(raw string) (idgen.ID, error) {
	tok, err := jwt.Parse([]byte(raw), jwt.WithKey(jwa.HS256(), s.signingKey))
	if err != nil {
		return idgen.Nil, apperrors.NewAuthentication("invalid or expired token")
	}
	sub, ok := tok.Subject()
	if !ok || sub == "" {
		return idgen.Nil, apperrors.NewAuthentication("token carries no subject")
	}
	id, err := idgen.Parse(sub)
	if err != nil {
		return idgen.Nil, apperrors.NewAuthentication("token subject is not a valid identifier")
	}
	return id, nil
}
