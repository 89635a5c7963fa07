// Package flow coordinates the OAuth authorization-code handshake for
// tenant credentials: issuing single-use state tokens, provisioning the
// tenant vault in the background when it is missing, exchanging callback
// codes for the tiered token sets, and persisting the merged bundle.
//
// Failures on the redirect path are captured as data (ErrorRecord) instead
// of being thrown, because the browser redirect that detects a failure and
// the frontend that can display it are decoupled in time. Provisioning
// outcomes are likewise observed by polling the Tracker, never by holding a
// request open.
package flow
