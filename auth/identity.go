package auth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// EnsureIdentity returns the installation identifier held by store,
// creating and persisting a new one on first use. It is idempotent; call it
// once at startup and keep the result.
func EnsureIdentity(ctx context.Context, store Store) (string, error) {
	identity, err := store.LoadIdentity(ctx)
	if err != nil {
		return "", fmt.Errorf("loading identity: %w", err)
	}
	if identity != "" {
		return identity, nil
	}

	identity = uuid.NewString()
	if err := store.SaveIdentity(ctx, identity); err != nil {
		return "", fmt.Errorf("saving identity: %w", err)
	}

	return identity, nil
}
