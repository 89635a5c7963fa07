package credential

import (
	"context"
	"errors"
	"fmt"
	"time"

	"credvault/pkg/logging"
)

// Storage is the full durable-bundle surface the source needs.
// Implemented by vault.Store.
type Storage interface {
	Get(ctx context.Context, ref Ref) (*Bundle, error)
	Writer
	Revoke(ctx context.Context, ref Ref) error
}

var (
	// ErrNoCredential means no bundle (or no sub-record for the requested
	// tier) has ever been stored; the authorization flow must run first.
	ErrNoCredential = errors.New("no credential stored")

	// ErrReconsentRequired means the tier's tokens are expired and cannot
	// be refreshed; the authorization flow must be re-run for that tier.
	ErrReconsentRequired = errors.New("re-consent required")
)

// defaultSourceTTL is the cache lifetime requested when a read-through
// fill stores a bundle. The cache clamps it further against the earliest
// sub-record expiry.
const defaultSourceTTL = 15 * time.Minute

// Source is the read side consumed by downstream collaborators: cache
// first, then store, with a refresh pass before anything stale is handed
// out.
type Source struct {
	store  Storage
	cache  *Cache
	engine *RefreshEngine
	now    func() time.Time
}

// NewSource creates a read-through credential source.
func NewSource(store Storage, cache *Cache, engine *RefreshEngine, now func() time.Time) *Source {
	if now == nil {
		now = time.Now
	}
	return &Source{store: store, cache: cache, engine: engine, now: now}
}

// AccessToken returns a usable token set for exactly one tier. Cache hits
// are served directly; misses read the store, run the refresh engine, and
// re-populate the cache.
func (s *Source) AccessToken(ctx context.Context, ref Ref, tier ScopeTier) (*TokenSet, error) {
	if tier != TierResourceManager && tier != TierDirectoryGraph {
		return nil, fmt.Errorf("access tokens are issued per tier, got %s", tier)
	}

	if bundle := s.cache.Get(ref); bundle != nil {
		if ts := bundle.TokensFor(tier); ts != nil {
			return ts, nil
		}
		// Cached bundle lacks this tier; fall through to the store in case
		// a flow upgraded the bundle since it was cached.
	}

	bundle, err := s.store.Get(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("reading stored bundle: %w", err)
	}
	if bundle == nil {
		return nil, ErrNoCredential
	}

	bundle, refreshed := s.engine.EnsureFresh(ctx, ref, bundle, tier)
	if refreshed {
		logging.Debug("Source", "Refreshed credentials for client=%s on read", ref.ClientRef)
	}

	ts := bundle.TokensFor(tier)
	if ts == nil {
		return nil, fmt.Errorf("%w: tier %s was never granted", ErrNoCredential, tier)
	}
	if ts.ExpiresWithin(s.now(), 0) {
		return nil, fmt.Errorf("%w: tier %s tokens are expired and not refreshable", ErrReconsentRequired, tier)
	}

	s.cache.Put(ref, bundle, defaultSourceTTL)
	return ts, nil
}

// Revoke soft-deletes the stored bundle and drops any cached copy.
func (s *Source) Revoke(ctx context.Context, ref Ref) error {
	if err := s.store.Revoke(ctx, ref); err != nil {
		return err
	}
	s.cache.Invalidate(ref)
	return nil
}
