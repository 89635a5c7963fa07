package scopes

import (
	"strings"
	"testing"

	"credvault/internal/credential"
)

func TestScopesFor_Defaults(t *testing.T) {
	r := NewResolver(nil, nil)

	rm := r.ScopesFor(credential.TierResourceManager)
	if len(rm) == 0 {
		t.Fatal("expected built-in resource-manager scopes")
	}
	if !strings.Contains(rm[0], ResourceManagerMarker) {
		t.Errorf("first resource-manager scope should carry the tier marker, got %q", rm[0])
	}

	dir := r.ScopesFor(credential.TierDirectoryGraph)
	if !strings.Contains(dir[0], DirectoryMarker) {
		t.Errorf("first directory scope should carry the tier marker, got %q", dir[0])
	}
}

func TestScopesFor_Configured(t *testing.T) {
	r := NewResolver(
		[]string{"https://management.azure.com/custom", "openid"},
		[]string{"https://graph.microsoft.com/User.Read", "openid"},
	)

	rm := r.ScopesFor(credential.TierResourceManager)
	if len(rm) != 2 || rm[0] != "https://management.azure.com/custom" {
		t.Errorf("expected configured scopes in order, got %v", rm)
	}
}

func TestScopesFor_BothDeduplicates(t *testing.T) {
	r := NewResolver(nil, nil)

	both := r.ScopesFor(credential.TierBoth)
	seen := make(map[string]int)
	for _, s := range both {
		seen[s]++
	}
	for s, n := range seen {
		if n > 1 {
			t.Errorf("scope %q appears %d times", s, n)
		}
	}
	// Resource-manager scopes must come first for TierBoth.
	if !strings.Contains(both[0], ResourceManagerMarker) {
		t.Errorf("expected resource-manager scope first, got %q", both[0])
	}
}

func TestScopesFor_Deterministic(t *testing.T) {
	r := NewResolver(nil, nil)
	a := r.ScopesFor(credential.TierBoth)
	b := r.ScopesFor(credential.TierBoth)
	if len(a) != len(b) {
		t.Fatalf("expected identical results, got %v and %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("element %d differs: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestMarkerFor(t *testing.T) {
	r := NewResolver(nil, nil)
	if r.MarkerFor(credential.TierResourceManager) != ResourceManagerMarker {
		t.Error("wrong marker for resource-manager tier")
	}
	if r.MarkerFor(credential.TierDirectoryGraph) != DirectoryMarker {
		t.Error("wrong marker for directory tier")
	}
	if r.MarkerFor(credential.TierBoth) != "" {
		t.Error("composite tiers have no single marker")
	}
}

func TestParseGranted_DropsUnknownTokens(t *testing.T) {
	r := NewResolver(nil, nil)

	granted := "openid https://management.azure.com/user_impersonation bogus.scope offline_access"
	descs := r.ParseGranted(granted)

	if len(descs) != 3 {
		t.Fatalf("expected 3 known scopes, got %d: %v", len(descs), descs)
	}
	for _, d := range descs {
		if strings.Contains(d, "bogus") {
			t.Errorf("unknown token leaked into descriptions: %q", d)
		}
	}
}

func TestParseGranted_Empty(t *testing.T) {
	r := NewResolver(nil, nil)
	if descs := r.ParseGranted(""); len(descs) != 0 {
		t.Errorf("expected no descriptions for empty scope string, got %v", descs)
	}
}

func TestPermissionsFor(t *testing.T) {
	r := NewResolver(nil, nil)
	perms := r.PermissionsFor(credential.TierResourceManager)
	if len(perms) == 0 {
		t.Fatal("expected permission descriptions for default scopes")
	}
}
