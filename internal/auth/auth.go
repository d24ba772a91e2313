package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
)

// Environment variables read by OptionsFromEnv
const (
	EnvEnabled   = "GUARDIAN_AUTH_ENABLED"
	EnvUsername  = "GUARDIAN_AUTH_USERNAME"
	EnvPassword  = "GUARDIAN_AUTH_PASSWORD"
	EnvJWTSecret = "GUARDIAN_JWT_SECRET"
	EnvJWTExpiry = "GUARDIAN_JWT_EXPIRY"
)

// Options configures the operator authenticator
type Options struct {
	Enabled  bool
	Username string
	// Password is either plaintext or a bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// OptionsFromEnv reads authenticator options from the environment
func OptionsFromEnv() Options {
	opts := Options{
		Enabled:   os.Getenv(EnvEnabled) == "true",
		Username:  os.Getenv(EnvUsername),
		Password:  os.Getenv(EnvPassword),
		JWTSecret: os.Getenv(EnvJWTSecret),
	}
	if exp := os.Getenv(EnvJWTExpiry); exp != "" {
		if d, err := time.ParseDuration(exp); err == nil {
			opts.JWTExpiry = d
		}
	}
	return opts
}

// Authenticator guards configuration changes with a single operator account
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	jwtManager   *JWTManager
}

// NewAuthenticator creates a new authenticator. An enabled authenticator
// without a password is refused.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	username := opts.Username
	if username == "" {
		username = "admin"
	}

	a := &Authenticator{
		enabled:    opts.Enabled,
		username:   username,
		jwtManager: NewJWTManager(opts.JWTSecret, opts.JWTExpiry),
	}
	if !opts.Enabled {
		return a, nil
	}

	if opts.Password == "" {
		return nil, fmt.Errorf("authentication enabled but %s is empty", EnvPassword)
	}
	if isBcryptHash(opts.Password) {
		if _, err := bcrypt.Cost([]byte(opts.Password)); err != nil {
			return nil, fmt.Errorf("invalid password hash: %w", err)
		}
		a.passwordHash = []byte(opts.Password)
		return a, nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}
	a.passwordHash = hash
	return a, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && strings.HasPrefix(s, "$2")
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a.enabled
}

// Authenticate validates credentials and returns a JWT token with its
// expiry as unix seconds
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.enabled {
		return "", 0, ErrAuthDisabled
	}

	if username != a.username {
		return "", 0, ErrInvalidCredentials
	}

	if err := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password)); err != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.jwtManager.GenerateToken(username)
	if err != nil {
		return "", 0, fmt.Errorf("failed to issue token: %w", err)
	}

	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	return a.jwtManager.ValidateToken(token)
}

// HashPassword creates a bcrypt hash of a password
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
