package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"SmargeChat/internal/backend"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
)

// ErrAuthentication is returned when the server rejects the credentials
var ErrAuthentication = errors.New("invalid credentials")

// ErrNotLoggedIn is returned by operations that need a token
var ErrNotLoggedIn = errors.New("not logged in")

// API is the slice of the backend client the auth service uses
type API interface {
	Login(ctx context.Context, req backend.LoginRequest) (backend.TokenResponse, error)
	Register(ctx context.Context, req backend.RegisterRequest) (backend.TokenResponse, error)
	Me(ctx context.Context) (backend.User, error)
}

// Service acquires and releases bearer tokens
type Service struct {
	api    API
	store  *Store
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates an auth service writing tokens into store
func NewService(api API, store *Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{api: api, store: store, logger: logger, now: time.Now}
}

type loginInput struct {
	Email    string
	Password string
}

func (in loginInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required),
	)
}

type registerInput struct {
	Username string
	Email    string
	Password string
}

func (in registerInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Username, validation.Required, validation.Length(1, 64)),
		validation.Field(&in.Email, validation.Required, is.EmailFormat),
		validation.Field(&in.Password, validation.Required),
	)
}

// Login exchanges email and password for a token and stores it
func (s *Service) Login(ctx context.Context, email, password string) error {
	in := loginInput{Email: strings.TrimSpace(email), Password: password}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	resp, err := s.api.Login(ctx, backend.LoginRequest{Email: in.Email, Password: in.Password})
	if err != nil {
		return s.authError("login", err)
	}
	return s.save("login", resp, Credentials{Email: in.Email})
}

// Register creates an account and stores its token
func (s *Service) Register(ctx context.Context, username, email, password string) error {
	in := registerInput{
		Username: strings.TrimSpace(username),
		Email:    strings.TrimSpace(email),
		Password: password,
	}
	if err := in.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	resp, err := s.api.Register(ctx, backend.RegisterRequest{
		Username: in.Username,
		Email:    in.Email,
		Password: in.Password,
	})
	if err != nil {
		return s.authError("register", err)
	}
	return s.save("register", resp, Credentials{Email: in.Email, Username: in.Username})
}

// Logout forgets the token
func (s *Service) Logout() error {
	if err := s.store.Clear(); err != nil {
		return err
	}
	s.logger.Info("logged out")
	return nil
}

// Authenticated reports whether a token is held and, if it carries an
// expiry, that the expiry has not passed
func (s *Service) Authenticated() bool {
	token := s.store.Token()
	if token == "" {
		return false
	}
	if exp, ok := TokenExpiry(token); ok && !s.now().Before(exp) {
		return false
	}
	return true
}

// Whoami asks the server who the current token belongs to
func (s *Service) Whoami(ctx context.Context) (backend.User, error) {
	if s.store.Token() == "" {
		return backend.User{}, ErrNotLoggedIn
	}
	user, err := s.api.Me(ctx)
	if err != nil {
		return backend.User{}, fmt.Errorf("whoami: %w", err)
	}
	return user, nil
}

func (s *Service) save(op string, resp backend.TokenResponse, creds Credentials) error {
	if resp.AccessToken == "" {
		return fmt.Errorf("%s: server returned no token", op)
	}
	creds.Token = resp.AccessToken
	creds.SavedAt = s.now()
	if err := s.store.Save(creds); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.logger.Info("authenticated", "op", op, "email", creds.Email)
	return nil
}

// authError maps a rejected request onto ErrAuthentication; transport
// failures pass through untouched
func (s *Service) authError(op string, err error) error {
	s.logger.Warn("authentication failed", "op", op, "error", err)
	var he *backend.HTTPStatusError
	if errors.As(err, &he) && he.StatusCode >= 400 && he.StatusCode < 500 {
		return fmt.Errorf("%s: %w: %w", op, ErrAuthentication, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
