package auth

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrBadCredentials  = errors.New("invalid credentials")
	ErrNoLocalPassword = errors.New("no local api password configured")
	ErrInvalidToken    = errors.New("invalid token")
)

type Config struct {
	Secret []byte
	Issuer string
	TTL    time.Duration
}

// ConfigFromEnv reads local-API auth config from env vars. An empty
// API_JWT_SECRET disables auth (trusted-LAN mode).
func ConfigFromEnv() Config {
	ttl := 60 * time.Minute
	if raw := os.Getenv("API_TOKEN_TTL_MINUTES"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			ttl = time.Duration(n) * time.Minute
		}
	}
	return Config{
		Secret: []byte(os.Getenv("API_JWT_SECRET")),
		Issuer: "feelfit-bridge",
		TTL:    ttl,
	}
}

// Service guards the bridge's own HTTP surface: it verifies the local
// API password against its bcrypt hash and issues/verifies the HS256
// tokens the middleware checks.
type Service struct {
	cfg Config
}

func NewService(cfg Config) *Service { return &Service{cfg: cfg} }

// Enabled reports whether token auth is active.
func (s *Service) Enabled() bool { return len(s.cfg.Secret) > 0 }

// HashPassword bcrypt-hashes a local API password for storage.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// Authenticate verifies a password against the stored bcrypt hash.
func (s *Service) Authenticate(hash, password string) error {
	if hash == "" {
		return ErrNoLocalPassword
	}
	if bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) != nil {
		return ErrBadCredentials
	}
	return nil
}

// IssueToken creates an HS256 token for the given subject.
func (s *Service) IssueToken(subject string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, errors.New("token auth disabled")
	}
	now := time.Now()
	expires := now.Add(s.cfg.TTL)
	claims := jwt.MapClaims{
		"iss": s.cfg.Issuer,
		"sub": subject,
		"iat": now.Unix(),
		"exp": expires.Unix(),
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(s.cfg.Secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expires, nil
}

// VerifyToken validates a token and returns its subject.
func (s *Service) VerifyToken(raw string) (string, error) {
	tok, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.cfg.Secret, nil
	}, jwt.WithIssuer(s.cfg.Issuer), jwt.WithExpirationRequired())
	if err != nil || !tok.Valid {
		return "", ErrInvalidToken
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}
	sub, _ := claims["sub"].(string)
	return sub, nil
}
