// Package vault provisions per-tenant secret vaults and persists credential
// bundles in them. Vault names are derived deterministically from the tenant
// reference, so no mapping table exists anywhere; existence is established by
// probing the data plane rather than by bookkeeping.
package vault
