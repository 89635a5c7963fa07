// Package logging provides the application-wide structured logging facade.
//
// It wraps log/slog with a subsystem-tagged API so every component logs the
// same way without carrying a logger instance:
//
//	logging.Debug("Flow", "issued state for client=%s", clientRef)
//	logging.Error("Vault", err, "provisioning failed for tenant=%s", tenantRef)
//
// Initialize must be called once at startup. Sensitive values must never be
// logged verbatim; use TruncateSecret for correlation values and omit token
// material entirely.
package logging
