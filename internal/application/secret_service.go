package application

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bnema/rexd/internal/ports"
)

const secretBytes = 32

var (
	ErrSecretExists = errors.New("secret already exists")
	ErrEmptySecret  = errors.New("secret is empty")
)

// SecretService manages the shared connection secret behind a ref.
type SecretService struct {
	store  ports.SecretStore
	random io.Reader
}

func NewSecretService(store ports.SecretStore) *SecretService {
	return &SecretService{store: store, random: rand.Reader}
}

// Resolve reads the secret for ref. Surrounding whitespace is not part of
// the secret.
func (s *SecretService) Resolve(ctx context.Context, ref string) (string, error) {
	value, err := s.store.Get(ctx, ref)
	if err != nil {
		return "", fmt.Errorf("resolve secret %q: %w", ref, err)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("resolve secret %q: %w", ref, ErrEmptySecret)
	}
	return value, nil
}

// Generate stores a fresh random secret under ref and returns it. An
// existing secret is only replaced when force is set.
func (s *SecretService) Generate(ctx context.Context, ref string, force bool) (string, error) {
	if !force {
		_, err := s.store.Get(ctx, ref)
		switch {
		case err == nil:
			return "", fmt.Errorf("%w: %s", ErrSecretExists, ref)
		case !errors.Is(err, ports.ErrSecretNotFound):
			return "", fmt.Errorf("check secret %q: %w", ref, err)
		}
	}

	buf := make([]byte, secretBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	value := base64.RawURLEncoding.EncodeToString(buf)

	if err := s.store.Put(ctx, ref, value); err != nil {
		return "", fmt.Errorf("store secret %q: %w", ref, err)
	}
	return value, nil
}

func (s *SecretService) Delete(ctx context.Context, ref string) error {
	if err := s.store.Delete(ctx, ref); err != nil {
		return fmt.Errorf("delete secret %q: %w", ref, err)
	}
	return nil
}
