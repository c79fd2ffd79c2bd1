// Package auth handles account registration, password checks and bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/vidquiz/internal/apperr"
	"github.com/pavelanni/vidquiz/internal/model"
)

// MinPasswordLength is the minimum number of characters in a password.
const MinPasswordLength = 8

// DefaultTokenTTL is the token lifetime used when none is configured.
const DefaultTokenTTL = 60 * time.Minute

var (
	ErrInvalidCredentials = apperr.New(apperr.KindUnauthorized, "InvalidCredentials", "Invalid credentials")
	ErrInvalidToken       = apperr.New(apperr.KindUnauthorized, "InvalidToken", "Could not validate credentials")
	ErrWeakPassword       = apperr.New(apperr.KindValidation, "WeakPassword",
		"Password must be at least 8 characters and contain a lowercase letter, an uppercase letter, a digit and a special character")
	ErrInvalidEmail     = apperr.New(apperr.KindValidation, "InvalidEmail", "Invalid email address")
	ErrUsernameRequired = apperr.New(apperr.KindValidation, "UsernameRequired", "Username is required")
)

// UserStore is the persistence the service needs.
type UserStore interface {
	CreateUser(ctx context.Context, u model.User) error
	GetUserByEmail(ctx context.Context, email string) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Config controls token signing.
type Config struct {
	Secret    string
	Algorithm string // HS256, HS384 or HS512
	TTL       time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

// SignupRequest is the payload accepted by Register.
type SignupRequest struct {
	Username string `json:"username" validate:"required,max=64"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,password"`
}

// Token is an issued bearer token.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// Service registers users and issues and resolves tokens.
type Service struct {
	store    UserStore
	validate *validator.Validate
	method   *jwt.SigningMethodHMAC
	secret   []byte
	ttl      time.Duration
	cost     int
	now      func() time.Time
}

// New creates a Service. It fails on an empty secret or a non-HMAC algorithm.
func New(store UserStore, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	alg := strings.ToUpper(cfg.Algorithm)
	if alg == "" {
		alg = "HS256"
	}
	method, ok := jwt.GetSigningMethod(alg).(*jwt.SigningMethodHMAC)
	if !ok {
		return nil, fmt.Errorf("unsupported jwt algorithm %q", cfg.Algorithm)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Service{
		store:    store,
		validate: NewValidator(),
		method:   method,
		secret:   []byte(cfg.Secret),
		ttl:      ttl,
		cost:     cost,
		now:      time.Now,
	}, nil
}

// NewValidator returns a validator with the "password" tag registered.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("password", func(fl validator.FieldLevel) bool {
		return ValidPassword(fl.Field().String())
	})
	return v
}

// ValidPassword reports whether pw satisfies the password policy: at least
// MinPasswordLength characters with an ASCII lowercase letter, an ASCII
// uppercase letter, a digit and a character outside [A-Za-z0-9]. Each
// character may satisfy more than one class.
func ValidPassword(pw string) bool {
	if utf8.RuneCountInString(pw) < MinPasswordLength {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range pw {
		isLower := r >= 'a' && r <= 'z'
		isUpper := r >= 'A' && r <= 'Z'
		isASCIIDigit := r >= '0' && r <= '9'
		lower = lower || isLower
		upper = upper || isUpper
		digit = digit || unicode.IsDigit(r)
		special = special || !(isLower || isUpper || isASCIIDigit)
	}
	return lower && upper && digit && special
}

func (s *Service) check(req SignupRequest) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return apperr.Wrap(apperr.KindValidation, "InvalidRequest", "Invalid request", err)
	}
	switch verrs[0].Field() {
	case "Password":
		return ErrWeakPassword
	case "Email":
		return ErrInvalidEmail
	default:
		return ErrUsernameRequired
	}
}

// Register validates req and stores a new account with a hashed password.
func (s *Service) Register(ctx context.Context, req SignupRequest) (model.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	if err := s.check(req); err != nil {
		return model.User{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cost)
	if err != nil {
		return model.User{}, fmt.Errorf("hash password: %w", err)
	}
	u := model.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return model.User{}, err
	}
	return u, nil
}

// IssueToken checks the password of the account identified by email and
// returns a signed token whose subject is the email.
func (s *Service) IssueToken(ctx context.Context, email, password string) (Token, error) {
	u, err := s.store.GetUserByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return Token{}, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return Token{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return Token{}, ErrInvalidCredentials
	}

	now := s.now()
	claims := jwt.RegisteredClaims{
		Subject:   u.Email,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
	}
	signed, err := jwt.NewWithClaims(s.method, claims).SignedString(s.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	slog.Info("token issued", "email", u.Email)
	return Token{AccessToken: signed, TokenType: "bearer"}, nil
}

// ResolveToken verifies token and returns the account it was issued for.
func (s *Service) ResolveToken(ctx context.Context, token string) (*model.User, error) {
	if token == "" {
		return nil, ErrInvalidToken
	}
	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims,
		func(*jwt.Token) (any, error) { return s.secret, nil },
		jwt.WithValidMethods([]string{s.method.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return nil, ErrInvalidToken
	}
	if claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	u, err := s.store.GetUserByEmail(ctx, claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, ErrInvalidToken
	}
	return u, nil
}

// ListUsers returns every registered account.
func (s *Service) ListUsers(ctx context.Context) ([]model.User, error) {
	return s.store.ListUsers(ctx)
}
