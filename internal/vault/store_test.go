package vault

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"credvault/internal/credential"
)

func newTestStore(t *testing.T) (*Store, *fakeSecrets, *Provisioner) {
	t.Helper()
	prov, secrets, _ := newTestProvisioner(t)
	return NewStore(secrets, prov), secrets, prov
}

func sampleBundle() *credential.Bundle {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	b := &credential.Bundle{
		ClientName: "Contoso Billing",
		StoredAt:   now,
	}
	b.SetTokens(credential.TierResourceManager, &credential.TokenSet{
		AccessToken:  "rm-access",
		RefreshToken: "rm-refresh",
		ExpiresAt:    now.Add(time.Hour),
		Scope:        "https://management.azure.com/user_impersonation offline_access",
	})
	b.SetTokens(credential.TierDirectoryGraph, &credential.TokenSet{
		AccessToken:  "dir-access",
		RefreshToken: "dir-refresh",
		ExpiresAt:    now.Add(45 * time.Minute),
		Scope:        "https://graph.microsoft.com/Directory.Read.All offline_access",
	})
	return b
}

func TestStoreRoundTrip(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	ref := credential.Ref{TenantRef: "tenant-a", ClientRef: "client-1"}

	in := sampleBundle()
	require.NoError(t, store.Put(ctx, ref, in))

	out, err := store.Get(ctx, ref)
	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, in, out)
}

func TestStoreGetMissingBundle(t *testing.T) {
	store, _, _ := newTestStore(t)
	ref := credential.Ref{TenantRef: "tenant-a", ClientRef: "absent"}

	out, err := store.Get(context.Background(), ref)
	require.NoError(t, err)
	assert.Nil(t, out, "missing bundle is nil, not an error")
}

func TestStoreGetProvisionsVaultOnDemand(t *testing.T) {
	store, secrets, prov := newTestStore(t)
	ref := credential.Ref{TenantRef: "tenant-new", ClientRef: "client-1"}

	_, err := store.Get(context.Background(), ref)
	require.NoError(t, err)

	_, ok := secrets.vaults[prov.Name("tenant-new")]
	assert.True(t, ok, "reading through a missing vault should provision it")
}

func TestStorePutProvisionsVaultOnDemand(t *testing.T) {
	store, secrets, prov := newTestStore(t)
	ref := credential.Ref{TenantRef: "tenant-new", ClientRef: "client-1"}

	require.NoError(t, store.Put(context.Background(), ref, sampleBundle()))

	vault, ok := secrets.vaults[prov.Name("tenant-new")]
	require.True(t, ok, "writing through a missing vault should provision it")
	assert.Contains(t, vault, SecretName("client-1"))
}

func TestStorePutOverwritesWholesale(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	ref := credential.Ref{TenantRef: "tenant-a", ClientRef: "client-1"}

	first := sampleBundle()
	require.NoError(t, store.Put(ctx, ref, first))

	second := sampleBundle()
	second.SetTokens(credential.TierDirectoryGraph, nil)
	second.ResourceManager.AccessToken = "rm-access-v2"
	require.NoError(t, store.Put(ctx, ref, second))

	out, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "rm-access-v2", out.ResourceManager.AccessToken)
	assert.Nil(t, out.Directory, "overwrite replaces the whole record, no merge")
}

func TestStoreRevoke(t *testing.T) {
	store, _, _ := newTestStore(t)
	ctx := context.Background()
	ref := credential.Ref{TenantRef: "tenant-a", ClientRef: "client-1"}

	require.NoError(t, store.Put(ctx, ref, sampleBundle()))
	require.NoError(t, store.Revoke(ctx, ref))

	out, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Nil(t, out)

	// Revoking again is still success.
	assert.NoError(t, store.Revoke(ctx, ref))
}
