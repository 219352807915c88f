// Copyright (c) 2025 psqlm
// Licensed under the MIT License. See LICENSE file in the project root for details.

// Package auth resolves the Anthropic API key psqlm uses to generate SQL.
// The key comes from the environment, then the OS keychain, then an
// interactive prompt that offers to save it.
package auth

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"psqlm/cli/internal/keychain"
)

// EnvAPIKey is the environment variable checked first.
const EnvAPIKey = "ANTHROPIC_API_KEY"

// ErrNoCredentials is returned when no API key is configured anywhere.
var ErrNoCredentials = errors.New("no Anthropic API key configured")

// Source tells where a key was found.
type Source string

const (
	SourceEnv      Source = "environment"
	SourceKeychain Source = "keychain"
	SourcePrompt   Source = "prompt"
)

// Credential is a resolved API key.
type Credential struct {
	Key    string
	Source Source
}

// Hint is a masked form of the key that is safe to print.
func (c Credential) Hint() string { return Fingerprint(c.Key) }

// Store persists the API key. *keychain.Manager implements it.
type Store interface {
	SaveAPIKey(key string) error
	LoadAPIKey() (string, error)
	ClearAPIKey() error
}

// Service resolves, saves and removes the API key.
type Service struct {
	store  Store
	getenv func(string) string
}

// NewService creates a Service over store. A nil store disables the keychain.
func NewService(store Store) *Service {
	return &Service{store: store, getenv: os.Getenv}
}

// NewKeychainService uses the OS keychain when it is available.
func NewKeychainService() *Service {
	km, err := keychain.GetManager()
	if err != nil {
		return NewService(nil)
	}
	return NewService(km)
}

// HasStore reports whether keys can be saved.
func (s *Service) HasStore() bool { return s.store != nil }

// Resolve returns the key from the environment or the keychain.
func (s *Service) Resolve() (Credential, error) {
	if k := strings.TrimSpace(s.getenv(EnvAPIKey)); k != "" {
		return Credential{Key: k, Source: SourceEnv}, nil
	}
	if s.store != nil {
		k, err := s.store.LoadAPIKey()
		switch {
		case err == nil:
			return Credential{Key: k, Source: SourceKeychain}, nil
		case !errors.Is(err, keychain.ErrNotFound):
			return Credential{}, fmt.Errorf("read API key from keychain: %w", err)
		}
	}
	return Credential{}, ErrNoCredentials
}

// Save validates key and stores it in the keychain.
func (s *Service) Save(key string) error {
	key, err := Validate(key)
	if err != nil {
		return err
	}
	if s.store == nil {
		return errors.New("secure storage is not available on this system")
	}
	return s.store.SaveAPIKey(key)
}

// Logout removes the stored key. A missing key is not an error.
func (s *Service) Logout() error {
	if s.store == nil {
		return nil
	}
	return s.store.ClearAPIKey()
}

// Validate trims key and rejects values that cannot be an API key.
func Validate(key string) (string, error) {
	key = strings.TrimSpace(key)
	switch {
	case key == "":
		return "", errors.New("API key is empty")
	case strings.ContainsAny(key, " \t\r\n"):
		return "", errors.New("API key must not contain whitespace")
	}
	return key, nil
}

// Fingerprint masks all but the start and the last four characters of key.
func Fingerprint(key string) string {
	if len(key) <= 12 {
		return strings.Repeat("*", len(key))
	}
	prefix := key[:7]
	return prefix + "..." + key[len(key)-4:]
}
