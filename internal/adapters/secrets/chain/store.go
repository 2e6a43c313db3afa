// Package chain tries several secret stores in order.
package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/rexd/internal/adapters/secrets/file"
	passstore "github.com/bnema/rexd/internal/adapters/secrets/pass"
	"github.com/bnema/rexd/internal/ports"
)

var errNoStores = errors.New("secret chain needs at least one store")

type Store struct {
	stores []ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

func NewStore(stores ...ports.SecretStore) (*Store, error) {
	if len(stores) == 0 {
		return nil, errNoStores
	}
	for i, store := range stores {
		if store == nil {
			return nil, fmt.Errorf("secret store %d is nil", i)
		}
	}
	return &Store{stores: stores}, nil
}

// NewPassFirstWithFileFallback prefers the user's password store and falls
// back to plain files under fileRoot.
func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(fileRoot))
}

// Get returns the first value any store yields.
func (s *Store) Get(ctx context.Context, ref string) (string, error) {
	var errs []error
	for i, store := range s.stores {
		value, err := store.Get(ctx, ref)
		if err == nil {
			return value, nil
		}
		if isContextError(err) {
			return "", err
		}
		errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
	}
	return "", fmt.Errorf("get secret %q: %w", ref, errors.Join(errs...))
}

// Put writes to the first store that accepts the value.
func (s *Store) Put(ctx context.Context, ref string, value string) error {
	var errs []error
	for i, store := range s.stores {
		err := store.Put(ctx, ref, value)
		if err == nil {
			return nil
		}
		if isContextError(err) {
			return err
		}
		errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
	}
	return fmt.Errorf("put secret %q: %w", ref, errors.Join(errs...))
}

// Delete removes the ref from every store so no stale copy survives in a
// fallback. When no store deleted it, the error wraps ErrSecretNotFound if
// any store reported the ref missing.
func (s *Store) Delete(ctx context.Context, ref string) error {
	var errs []error
	deleted := false
	missing := 0
	for i, store := range s.stores {
		err := store.Delete(ctx, ref)
		switch {
		case err == nil:
			deleted = true
		case isContextError(err):
			return err
		case errors.Is(err, ports.ErrSecretNotFound):
			missing++
		default:
			errs = append(errs, fmt.Errorf("backend %d: %w", i, err))
		}
	}

	if deleted {
		return nil
	}
	if missing > 0 {
		errs = append(errs, ports.ErrSecretNotFound)
	}
	return fmt.Errorf("delete secret %q: %w", ref, errors.Join(errs...))
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
