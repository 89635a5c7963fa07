// Package credential holds the tiered credential model and the components
// that keep stored bundles fresh and cheaply retrievable.
//
// A Bundle is the durable record for one (tenant, client) pair. It carries
// up to two independently-expiring TokenSet sub-records, one per API
// surface (resource management and directory). A sub-record is either fully
// populated or absent; refreshing one tier never touches the other.
//
// Cache is a short-TTL read-through cache whose entries cannot outlive the
// credential they hold: the effective TTL is capped below the earliest
// sub-record expiry minus a safety buffer.
//
// RefreshEngine exchanges refresh tokens per tier against the identity
// provider, rejects scope-downgraded responses, and persists successful
// updates through the store while invalidating the cache. Refresh failures
// surface as a boolean, not an error, so callers can keep using a still
// valid sibling tier.
package credential
