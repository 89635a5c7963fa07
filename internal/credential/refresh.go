package credential

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"credvault/pkg/logging"
)

// Exchanger performs token-endpoint exchanges against the identity provider.
// Implemented by the idp client; faked in tests.
type Exchanger interface {
	// ExchangeCode exchanges an authorization code for a token set.
	ExchangeCode(ctx context.Context, code string, scopes []string) (*TokenSet, error)

	// Refresh exchanges a refresh token for a new token set, requesting the
	// given scopes so the provider issues tokens for the right API surface.
	Refresh(ctx context.Context, refreshToken string, scopes []string) (*TokenSet, error)
}

// ScopeSource resolves tiers to provider scope strings and tier markers.
// Implemented by scopes.Resolver.
type ScopeSource interface {
	ScopesFor(tier ScopeTier) []string
	MarkerFor(tier ScopeTier) string
}

// Writer persists bundles. Implemented by vault.Store; faked in tests.
type Writer interface {
	Put(ctx context.Context, ref Ref, bundle *Bundle) error
}

// refreshResult carries a singleflight outcome.
type refreshResult struct {
	bundle    *Bundle
	refreshed bool
}

// RefreshEngine exchanges refresh tokens per tier, validates the returned
// scope, and persists updates. A failed sub-record refresh is never an
// error: the old sub-record is kept and the caller decides whether partial
// freshness is acceptable.
type RefreshEngine struct {
	exchanger Exchanger
	scopes    ScopeSource
	store     Writer
	cache     *Cache

	buffer time.Duration
	now    func() time.Time

	// Deduplicates concurrent refreshes of the same bundle; the losing
	// callers share the winner's result instead of racing the provider.
	group singleflight.Group
}

// NewRefreshEngine creates a refresh engine. A zero buffer uses
// DefaultExpiryBuffer; a nil clock uses time.Now.
func NewRefreshEngine(exchanger Exchanger, scopes ScopeSource, store Writer, cache *Cache, buffer time.Duration, now func() time.Time) *RefreshEngine {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	if now == nil {
		now = time.Now
	}
	return &RefreshEngine{
		exchanger: exchanger,
		scopes:    scopes,
		store:     store,
		cache:     cache,
		buffer:    buffer,
		now:       now,
	}
}

// EnsureFresh refreshes every sub-record implied by tier whose expiry falls
// within the buffer, provided a refresh token is present. It returns the
// (possibly updated) bundle and whether any sub-record was refreshed. The
// input bundle is never mutated. Sub-records that are expired without a
// refresh token are left as-is; detect them with Bundle.NeedsReconsent.
func (e *RefreshEngine) EnsureFresh(ctx context.Context, ref Ref, bundle *Bundle, tier ScopeTier) (*Bundle, bool) {
	if bundle == nil {
		return nil, false
	}

	key := ref.TenantRef + "\x00" + ref.ClientRef + "\x00" + tier.String()
	v, _, _ := e.group.Do(key, func() (interface{}, error) {
		b, refreshed := e.ensureFresh(ctx, ref, bundle, tier)
		return refreshResult{bundle: b, refreshed: refreshed}, nil
	})

	res := v.(refreshResult)
	return res.bundle, res.refreshed
}

func (e *RefreshEngine) ensureFresh(ctx context.Context, ref Ref, bundle *Bundle, tier ScopeTier) (*Bundle, bool) {
	now := e.now()
	updated := bundle
	refreshedAny := false

	for _, sub := range []ScopeTier{TierResourceManager, TierDirectoryGraph} {
		if !tier.Has(sub) {
			continue
		}
		ts := updated.TokensFor(sub)
		if ts == nil || !ts.ExpiresWithin(now, e.buffer) {
			continue
		}
		if ts.RefreshToken == "" {
			logging.Info("Refresh", "Tier %s for client=%s has no refresh token, re-consent required", sub, ref.ClientRef)
			continue
		}

		newTS, err := e.exchanger.Refresh(ctx, ts.RefreshToken, e.scopes.ScopesFor(sub))
		if err != nil {
			logging.Warn("Refresh", "Refresh of tier %s for client=%s failed: %v", sub, ref.ClientRef, err)
			continue
		}

		// The provider must have granted the tier we asked for; a scope
		// string missing the marker means a silent downgrade, and the old
		// sub-record stays untouched.
		marker := e.scopes.MarkerFor(sub)
		if marker != "" && !strings.Contains(newTS.Scope, marker) {
			logging.Warn("Refresh", "Refresh of tier %s for client=%s returned scope without tier marker, keeping old tokens", sub, ref.ClientRef)
			continue
		}

		// Providers may omit the refresh token on rotation; keep the old one.
		if newTS.RefreshToken == "" {
			newTS.RefreshToken = ts.RefreshToken
		}

		if !refreshedAny {
			updated = bundle.Clone()
		}
		updated.SetTokens(sub, newTS)
		refreshedAny = true
		logging.Debug("Refresh", "Refreshed tier %s for client=%s (expires %s)", sub, ref.ClientRef, newTS.ExpiresAt.Format(time.RFC3339))
	}

	if !refreshedAny {
		return bundle, false
	}

	updated.StoredAt = now
	if err := e.store.Put(ctx, ref, updated); err != nil {
		// The refreshed tokens are still valid in memory; the next access
		// will detect staleness in the store and refresh again.
		logging.Error("Refresh", err, "Failed to persist refreshed bundle for client=%s", ref.ClientRef)
	}
	if e.cache != nil {
		e.cache.Invalidate(ref)
	}

	return updated, true
}
