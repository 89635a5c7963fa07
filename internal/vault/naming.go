package vault

import (
	"fmt"
	"strings"
)

// maxVaultNameLen is the provider's limit on vault names.
const maxVaultNameLen = 24

// tenantShortIDLen is how many sanitized characters of the tenant reference
// go into the vault name.
const tenantShortIDLen = 8

// VaultName derives the per-tenant vault name from its parts. The name is
// always recomputed; no lookup table is persisted anywhere. Layout:
// <prefix>-<environment>-<tenant short id>-<suffix>, lowercased and clamped
// to the provider's length limit.
func VaultName(prefix, environment, tenantRef, suffix string) string {
	name := fmt.Sprintf("%s-%s-%s-%s",
		sanitizeNamePart(prefix),
		sanitizeNamePart(environment),
		tenantShortID(tenantRef),
		sanitizeNamePart(suffix))
	if len(name) > maxVaultNameLen {
		name = strings.TrimRight(name[:maxVaultNameLen], "-")
	}
	return name
}

// SecretName derives the vault secret name holding the bundle for a client
// record. The vault itself is per-tenant, so only the client goes into the
// name.
func SecretName(clientRef string) string {
	return "bundle-" + sanitizeNamePart(clientRef)
}

// tenantShortID produces a stable short identifier from a tenant reference.
func tenantShortID(tenantRef string) string {
	s := sanitizeNamePart(tenantRef)
	s = strings.ReplaceAll(s, "-", "")
	if len(s) > tenantShortIDLen {
		s = s[:tenantShortIDLen]
	}
	return s
}

// sanitizeNamePart lowercases and strips everything the provider does not
// allow in vault or secret names (letters, digits, dashes).
func sanitizeNamePart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		}
	}
	return b.String()
}
