package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// Config protects the restart API with bearer tokens.
//
//	[server.auth]
//	enabled = true
//	  [[server.auth.tokens]]
//	  name = "ci"
//	  hash = "$2a$10$..."   # redeployr hash-token
type Config struct {
	Enabled bool          `mapstructure:"enabled"`
	Tokens  []TokenConfig `mapstructure:"tokens"`
}

// TokenConfig is one accepted token, stored as a bcrypt hash.
type TokenConfig struct {
	Name string `mapstructure:"name"`
	Hash string `mapstructure:"hash"`
}

// Service checks presented tokens against the configured hashes.
type Service struct {
	tokens []TokenConfig
}

// NewService validates cfg. It returns nil, nil when auth is disabled.
func NewService(cfg Config) (*Service, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if len(cfg.Tokens) == 0 {
		return nil, errors.New("auth enabled but no tokens configured")
	}
	seen := make(map[string]struct{}, len(cfg.Tokens))
	for i, t := range cfg.Tokens {
		name := strings.TrimSpace(t.Name)
		if name == "" {
			return nil, fmt.Errorf("auth token %d: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("auth token %q defined twice", name)
		}
		seen[name] = struct{}{}
		if _, err := bcrypt.Cost([]byte(t.Hash)); err != nil {
			return nil, fmt.Errorf("auth token %q: hash is not bcrypt: %w", name, err)
		}
	}
	return &Service{tokens: cfg.Tokens}, nil
}

// Authenticate returns the name of the token matching secret. With a
// non-empty name only that token is tried.
func (s *Service) Authenticate(name, secret string) (string, error) {
	if secret == "" {
		return "", ErrInvalidCredentials
	}
	for _, t := range s.tokens {
		if name != "" && t.Name != name {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(t.Hash), []byte(secret)) == nil {
			return t.Name, nil
		}
	}
	return "", ErrInvalidCredentials
}

// HashToken returns the bcrypt hash to put in the config file for token.
func HashToken(token string) (string, error) {
	if len(token) < 16 {
		return "", errors.New("token must be at least 16 characters")
	}
	h, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}
