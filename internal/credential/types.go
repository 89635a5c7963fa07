package credential

import (
	"time"
)

// ScopeTier identifies which downstream API surface(s) a credential
// sub-record authorizes. It is a bitmask so a bundle can report which
// sub-records are populated via AvailableScopes.
type ScopeTier int

const (
	// TierResourceManager authorizes the resource-management API.
	TierResourceManager ScopeTier = 1 << iota
	// TierDirectoryGraph authorizes the directory/identity API.
	TierDirectoryGraph
)

// TierBoth requests both API surfaces in a single flow.
const TierBoth = TierResourceManager | TierDirectoryGraph

// Has reports whether the tier includes the given sub-tier.
func (t ScopeTier) Has(sub ScopeTier) bool {
	return t&sub != 0
}

// String makes ScopeTier satisfy the fmt.Stringer interface.
func (t ScopeTier) String() string {
	switch t {
	case TierResourceManager:
		return "resource-manager"
	case TierDirectoryGraph:
		return "directory-graph"
	case TierBoth:
		return "both"
	default:
		return "none"
	}
}

// ParseTier converts a tier name from configuration or an API request into a
// ScopeTier. Unknown names return false.
func ParseTier(name string) (ScopeTier, bool) {
	switch name {
	case "resource-manager":
		return TierResourceManager, true
	case "directory-graph":
		return TierDirectoryGraph, true
	case "both":
		return TierBoth, true
	default:
		return 0, false
	}
}

// TokenSet holds the four fields of one credential sub-record. A sub-record
// is either fully populated or absent from its bundle; there are no partial
// token sets.
type TokenSet struct {
	// AccessToken is the bearer token used for authorization.
	AccessToken string `json:"access_token"`

	// RefreshToken is used to obtain new access tokens (may be empty when
	// the provider did not grant offline access).
	RefreshToken string `json:"refresh_token,omitempty"`

	// ExpiresAt is the access token expiration timestamp.
	ExpiresAt time.Time `json:"expires_at"`

	// Scope is the granted scope string as returned by the provider.
	Scope string `json:"scope,omitempty"`
}

// ExpiresWithin reports whether the access token expires within the given
// duration from now (per the supplied clock).
func (ts *TokenSet) ExpiresWithin(now time.Time, buffer time.Duration) bool {
	return now.Add(buffer).After(ts.ExpiresAt)
}

// Bundle is the durable credential record for a (tenant, client) pair. It
// holds up to two independently-expiring sub-records; refreshing one tier
// never mutates the other tier's fields.
type Bundle struct {
	// ClientName is display metadata recorded when the flow completed.
	ClientName string `json:"client_name,omitempty"`

	// AvailableScopes reflects which sub-records are populated.
	AvailableScopes ScopeTier `json:"available_scopes"`

	// StoredAt is when the bundle was last written.
	StoredAt time.Time `json:"stored_at"`

	// ResourceManager holds the resource-management API tokens.
	ResourceManager *TokenSet `json:"resource_manager,omitempty"`

	// Directory holds the directory/identity API tokens (may be absent).
	Directory *TokenSet `json:"directory,omitempty"`
}

// TokensFor returns the sub-record for a single tier, or nil if absent.
// The tier must be exactly one of TierResourceManager or TierDirectoryGraph.
func (b *Bundle) TokensFor(tier ScopeTier) *TokenSet {
	switch tier {
	case TierResourceManager:
		return b.ResourceManager
	case TierDirectoryGraph:
		return b.Directory
	default:
		return nil
	}
}

// SetTokens replaces the sub-record for a single tier and updates
// AvailableScopes accordingly.
func (b *Bundle) SetTokens(tier ScopeTier, ts *TokenSet) {
	switch tier {
	case TierResourceManager:
		b.ResourceManager = ts
	case TierDirectoryGraph:
		b.Directory = ts
	default:
		return
	}
	if ts != nil {
		b.AvailableScopes |= tier
	} else {
		b.AvailableScopes &^= tier
	}
}

// NeedsReconsent reports whether any sub-record implied by tier is expired
// with no refresh token to recover it. Such a sub-record can only be restored
// by re-running the authorization flow for that tier.
func (b *Bundle) NeedsReconsent(tier ScopeTier, now time.Time) bool {
	for _, sub := range []ScopeTier{TierResourceManager, TierDirectoryGraph} {
		if !tier.Has(sub) {
			continue
		}
		ts := b.TokensFor(sub)
		if ts == nil {
			continue
		}
		if ts.ExpiresWithin(now, 0) && ts.RefreshToken == "" {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the bundle. The refresh engine mutates a
// clone so callers holding the original never observe a half-updated bundle.
func (b *Bundle) Clone() *Bundle {
	out := *b
	if b.ResourceManager != nil {
		ts := *b.ResourceManager
		out.ResourceManager = &ts
	}
	if b.Directory != nil {
		ts := *b.Directory
		out.Directory = &ts
	}
	return &out
}

// Ref identifies a bundle by its owning tenant and client record.
type Ref struct {
	TenantRef string
	ClientRef string
}
