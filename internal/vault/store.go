package vault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"credvault/internal/credential"
	"credvault/pkg/logging"
)

// Store reads and writes serialized credential bundles in per-tenant
// vaults. Writes overwrite the whole secret value: concurrent writers race
// and the last one wins, which is acceptable because a discarded,
// never-persisted refresh token is simply unused (the next access detects
// staleness and refreshes again). There is no optimistic-concurrency
// protection here; do not assume one.
type Store struct {
	secrets     SecretsClient
	provisioner *Provisioner
}

// NewStore creates a credential store backed by the given secret surface.
func NewStore(secrets SecretsClient, provisioner *Provisioner) *Store {
	return &Store{secrets: secrets, provisioner: provisioner}
}

// Get returns the bundle for the ref, or nil if none is stored. It ensures
// the tenant vault exists first, which heals a vault deleted out of band.
func (s *Store) Get(ctx context.Context, ref credential.Ref) (*credential.Bundle, error) {
	if err := s.provisioner.EnsureExists(ctx, ref.TenantRef); err != nil {
		return nil, fmt.Errorf("ensuring vault for tenant: %w", err)
	}

	vaultName := s.provisioner.Name(ref.TenantRef)
	value, err := s.secrets.GetSecret(ctx, vaultName, SecretName(ref.ClientRef))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading bundle secret: %w", err)
	}

	var bundle credential.Bundle
	if err := json.Unmarshal([]byte(value), &bundle); err != nil {
		return nil, fmt.Errorf("deserializing bundle for client %s: %w", ref.ClientRef, err)
	}

	return &bundle, nil
}

// Put serializes and overwrites the bundle secret wholesale. Like Get, it
// ensures the tenant vault exists first so a write into a vault deleted out
// of band heals it instead of failing.
func (s *Store) Put(ctx context.Context, ref credential.Ref, bundle *credential.Bundle) error {
	if err := s.provisioner.EnsureExists(ctx, ref.TenantRef); err != nil {
		return fmt.Errorf("ensuring vault for tenant: %w", err)
	}

	data, err := json.Marshal(bundle)
	if err != nil {
		return fmt.Errorf("serializing bundle: %w", err)
	}

	vaultName := s.provisioner.Name(ref.TenantRef)
	if err := s.secrets.SetSecret(ctx, vaultName, SecretName(ref.ClientRef), string(data)); err != nil {
		return fmt.Errorf("writing bundle secret: %w", err)
	}

	logging.Debug("Store", "Stored bundle for client=%s (scopes=%s)", ref.ClientRef, bundle.AvailableScopes)
	return nil
}

// Revoke soft-deletes the bundle secret. An already-absent secret is
// success, not an error.
func (s *Store) Revoke(ctx context.Context, ref credential.Ref) error {
	vaultName := s.provisioner.Name(ref.TenantRef)
	err := s.secrets.DeleteSecret(ctx, vaultName, SecretName(ref.ClientRef))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("revoking bundle secret: %w", err)
	}

	logging.Info("Store", "Revoked bundle for client=%s", ref.ClientRef)
	return nil
}
