package credential

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeExchanger scripts token-endpoint responses per refresh token.
type fakeExchanger struct {
	refreshFunc  func(refreshToken string, scopes []string) (*TokenSet, error)
	refreshCalls int
}

func (f *fakeExchanger) ExchangeCode(ctx context.Context, code string, scopes []string) (*TokenSet, error) {
	panic("not used by refresh engine")
}

func (f *fakeExchanger) Refresh(ctx context.Context, refreshToken string, scopes []string) (*TokenSet, error) {
	f.refreshCalls++
	return f.refreshFunc(refreshToken, scopes)
}

// fakeScopeSource avoids importing the scopes package from here.
type fakeScopeSource struct{}

func (fakeScopeSource) ScopesFor(tier ScopeTier) []string {
	switch tier {
	case TierResourceManager:
		return []string{"https://management.azure.com/user_impersonation", "offline_access"}
	case TierDirectoryGraph:
		return []string{"https://graph.microsoft.com/Directory.Read.All", "offline_access"}
	default:
		return nil
	}
}

func (fakeScopeSource) MarkerFor(tier ScopeTier) string {
	switch tier {
	case TierResourceManager:
		return "management.azure.com"
	case TierDirectoryGraph:
		return "graph.microsoft.com"
	default:
		return ""
	}
}

// fakeWriter records persisted bundles.
type fakeWriter struct {
	putCalls int
	last     *Bundle
	err      error
}

func (f *fakeWriter) Put(ctx context.Context, ref Ref, bundle *Bundle) error {
	f.putCalls++
	f.last = bundle
	return f.err
}

func newRefreshFixture(t *testing.T, exchanger *fakeExchanger, clock *fakeClock) (*RefreshEngine, *fakeWriter, *Cache) {
	t.Helper()
	writer := &fakeWriter{}
	cache := NewCache(5*time.Minute, clock.Now)
	t.Cleanup(cache.Stop)
	engine := NewRefreshEngine(exchanger, fakeScopeSource{}, writer, cache, 5*time.Minute, clock.Now)
	return engine, writer, cache
}

func TestEnsureFresh_AlreadyFreshPerformsNoExchanges(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(string, []string) (*TokenSet, error) {
		t.Fatal("no exchange expected for a fresh bundle")
		return nil, nil
	}}
	engine, writer, _ := newRefreshFixture(t, exchanger, clock)

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	bundle := newTestBundle(clock.Now().Add(time.Hour), clock.Now().Add(time.Hour))

	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierBoth)
	assert.False(t, refreshed)
	assert.Same(t, bundle, got)

	// Second call is equally a no-op.
	_, refreshed = engine.EnsureFresh(context.Background(), ref, bundle, TierBoth)
	assert.False(t, refreshed)
	assert.Zero(t, exchanger.refreshCalls)
	assert.Zero(t, writer.putCalls)
}

func TestEnsureFresh_RefreshesStaleTierAndPersists(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(refreshToken string, scopes []string) (*TokenSet, error) {
		require.Equal(t, "rm-refresh", refreshToken)
		return &TokenSet{
			AccessToken:  "rm-access-2",
			RefreshToken: "rm-refresh-2",
			ExpiresAt:    clock.Now().Add(time.Hour),
			Scope:        "https://management.azure.com/user_impersonation offline_access",
		}, nil
	}}
	engine, writer, cache := newRefreshFixture(t, exchanger, clock)

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	// Resource-manager tokens inside the buffer, directory tokens fresh.
	bundle := newTestBundle(clock.Now().Add(time.Minute), clock.Now().Add(time.Hour))
	cache.Put(ref, bundle, 5*time.Minute)

	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierBoth)
	require.True(t, refreshed)
	require.NotNil(t, got.ResourceManager)

	assert.Equal(t, "rm-access-2", got.ResourceManager.AccessToken)
	assert.Equal(t, "rm-refresh-2", got.ResourceManager.RefreshToken)
	assert.Equal(t, 1, exchanger.refreshCalls)

	// Sibling tier untouched, byte for byte.
	assert.Equal(t, bundle.Directory, got.Directory)

	// Persisted and cache invalidated.
	assert.Equal(t, 1, writer.putCalls)
	assert.Same(t, got, writer.last)
	assert.Nil(t, cache.Get(ref))

	// Input bundle must not have been mutated.
	assert.Equal(t, "rm-access", bundle.ResourceManager.AccessToken)
}

func TestEnsureFresh_ScopeDowngradeKeepsOldSubRecord(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(refreshToken string, scopes []string) (*TokenSet, error) {
		// Provider answers, but the granted scope lacks the directory marker.
		return &TokenSet{
			AccessToken: "downgraded-access",
			ExpiresAt:   clock.Now().Add(time.Hour),
			Scope:       "openid offline_access",
		}, nil
	}}
	engine, writer, _ := newRefreshFixture(t, exchanger, clock)

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	// Directory tokens expired 10 minutes ago.
	bundle := newTestBundle(time.Time{}, clock.Now().Add(-10*time.Minute))

	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierDirectoryGraph)
	assert.False(t, refreshed)
	assert.Equal(t, 1, exchanger.refreshCalls)
	assert.Equal(t, "dir-access", got.Directory.AccessToken)
	assert.Zero(t, writer.putCalls)
}

func TestEnsureFresh_MissingRefreshTokenRequiresReconsent(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(string, []string) (*TokenSet, error) {
		t.Fatal("no exchange possible without a refresh token")
		return nil, nil
	}}
	engine, writer, _ := newRefreshFixture(t, exchanger, clock)

	bundle := &Bundle{}
	bundle.SetTokens(TierResourceManager, &TokenSet{
		AccessToken: "rm-access",
		ExpiresAt:   clock.Now().Add(-time.Minute),
		Scope:       "https://management.azure.com/user_impersonation",
	})

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierResourceManager)
	assert.False(t, refreshed)
	assert.Zero(t, writer.putCalls)
	assert.True(t, got.NeedsReconsent(TierResourceManager, clock.Now()))
}

func TestEnsureFresh_PartialFailureStillPersistsSuccess(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(refreshToken string, scopes []string) (*TokenSet, error) {
		if refreshToken == "rm-refresh" {
			return &TokenSet{
				AccessToken:  "rm-access-2",
				RefreshToken: "rm-refresh-2",
				ExpiresAt:    clock.Now().Add(time.Hour),
				Scope:        "https://management.azure.com/user_impersonation",
			}, nil
		}
		return nil, assert.AnError
	}}
	engine, writer, _ := newRefreshFixture(t, exchanger, clock)

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	// Both tiers stale.
	bundle := newTestBundle(clock.Now().Add(-time.Minute), clock.Now().Add(-time.Minute))

	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierBoth)
	require.True(t, refreshed)
	assert.Equal(t, "rm-access-2", got.ResourceManager.AccessToken)
	assert.Equal(t, "dir-access", got.Directory.AccessToken)
	assert.Equal(t, 2, exchanger.refreshCalls)
	assert.Equal(t, 1, writer.putCalls)
}

func TestEnsureFresh_PreservesRefreshTokenWhenOmitted(t *testing.T) {
	clock := &fakeClock{current: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	exchanger := &fakeExchanger{refreshFunc: func(refreshToken string, scopes []string) (*TokenSet, error) {
		return &TokenSet{
			AccessToken: "rm-access-2",
			ExpiresAt:   clock.Now().Add(time.Hour),
			Scope:       "https://management.azure.com/user_impersonation",
		}, nil
	}}
	engine, _, _ := newRefreshFixture(t, exchanger, clock)

	ref := Ref{TenantRef: "t", ClientRef: "c"}
	bundle := newTestBundle(clock.Now().Add(-time.Minute), time.Time{})

	got, refreshed := engine.EnsureFresh(context.Background(), ref, bundle, TierResourceManager)
	require.True(t, refreshed)
	assert.Equal(t, "rm-refresh", got.ResourceManager.RefreshToken)
}
