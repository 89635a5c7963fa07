package scopes

import (
	"strings"

	"credvault/internal/credential"
)

// Tier marker substrings. The refresh engine checks that a granted scope
// string contains the marker for the tier it asked for, which guards against
// a provider silently downgrading scope.
const (
	ResourceManagerMarker = "management.azure.com"
	DirectoryMarker       = "graph.microsoft.com"
)

// defaultResourceManagerScopes is the built-in scope set requested for the
// resource-management API when configuration supplies none.
var defaultResourceManagerScopes = []string{
	"https://management.azure.com/user_impersonation",
	"offline_access",
	"openid",
}

// defaultDirectoryScopes is the built-in scope set requested for the
// directory/identity API when configuration supplies none.
var defaultDirectoryScopes = []string{
	"https://graph.microsoft.com/Directory.Read.All",
	"offline_access",
	"openid",
}

// permissionDescriptions maps known scope identifiers to the human-readable
// capability text shown on consent-summary UIs. Unknown scopes have no entry
// and are dropped by ParseGranted.
var permissionDescriptions = map[string]string{
	"https://management.azure.com/user_impersonation": "Read and manage cloud resources on your behalf",
	"https://graph.microsoft.com/Directory.Read.All":  "Read directory data such as users and groups",
	"https://graph.microsoft.com/User.Read":           "Read your basic profile",
	"offline_access": "Keep access after you close this session",
	"openid":         "Verify your identity",
}

// Resolver maps abstract scope tiers to provider-specific scope strings and
// human-readable permission descriptions. It is built once at startup from
// configuration and is immutable afterwards, so resolution is a pure
// function of the tier.
type Resolver struct {
	resourceManager []string
	directory       []string
}

// NewResolver creates a resolver from configured scope lists. Empty lists
// fall back to the built-in defaults.
func NewResolver(resourceManager, directory []string) *Resolver {
	r := &Resolver{
		resourceManager: defaultResourceManagerScopes,
		directory:       defaultDirectoryScopes,
	}
	if len(resourceManager) > 0 {
		r.resourceManager = append([]string(nil), resourceManager...)
	}
	if len(directory) > 0 {
		r.directory = append([]string(nil), directory...)
	}
	return r
}

// ScopesFor returns the ordered provider scope identifiers for a tier.
// For TierBoth the resource-management scopes come first, followed by any
// directory scopes not already present.
func (r *Resolver) ScopesFor(tier credential.ScopeTier) []string {
	var out []string
	seen := make(map[string]bool)
	appendScopes := func(scopes []string) {
		for _, s := range scopes {
			if !seen[s] {
				seen[s] = true
				out = append(out, s)
			}
		}
	}
	if tier.Has(credential.TierResourceManager) {
		appendScopes(r.resourceManager)
	}
	if tier.Has(credential.TierDirectoryGraph) {
		appendScopes(r.directory)
	}
	return out
}

// MarkerFor returns the substring that must appear in a granted scope string
// for the given single tier. The tier must be exactly one sub-tier.
func (r *Resolver) MarkerFor(tier credential.ScopeTier) string {
	switch tier {
	case credential.TierResourceManager:
		return ResourceManagerMarker
	case credential.TierDirectoryGraph:
		return DirectoryMarker
	default:
		return ""
	}
}

// PermissionsFor returns human-readable capability descriptions for the
// scopes a tier would request. This is consent-summary metadata only and has
// no effect on authorization.
func (r *Resolver) PermissionsFor(tier credential.ScopeTier) []string {
	var out []string
	for _, s := range r.ScopesFor(tier) {
		if desc, ok := permissionDescriptions[s]; ok {
			out = append(out, desc)
		}
	}
	return out
}

// ParseGranted maps each whitespace-separated token of a granted scope
// string to its known description. Unknown tokens are silently dropped.
func (r *Resolver) ParseGranted(scopeString string) []string {
	var out []string
	for _, token := range strings.Fields(scopeString) {
		if desc, ok := permissionDescriptions[token]; ok {
			out = append(out, desc)
		}
	}
	return out
}
