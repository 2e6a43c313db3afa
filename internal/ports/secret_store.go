package ports

import (
	"context"
	"errors"
)

// SecretStore resolves secret references such as the shared connection
// secret.
type SecretStore interface {
	Get(ctx context.Context, ref string) (string, error)
	Put(ctx context.Context, ref string, value string) error
	Delete(ctx context.Context, ref string) error
}

// ErrSecretNotFound is returned by stores that know the ref is absent.
var ErrSecretNotFound = errors.New("secret not found")
