package flow

import (
	"sync"
	"time"

	"credvault/pkg/logging"
)

// ErrorCode classifies a failed authorization flow.
type ErrorCode string

const (
	// CodeAuthorizationDenied means the user (or their organization)
	// declined or blocked consent at the identity provider.
	CodeAuthorizationDenied ErrorCode = "AuthorizationDenied"

	// CodeTokenExchangeFailed means the code or refresh grant against the
	// token endpoint failed.
	CodeTokenExchangeFailed ErrorCode = "TokenExchangeFailed"

	// CodeVaultUnavailable means the tenant vault could not be reached
	// while persisting the flow's result.
	CodeVaultUnavailable ErrorCode = "VaultUnavailable"
)

// ErrorRecord captures a flow failure as data. The party that can display
// it (a browser-facing frontend) is decoupled in time from the party that
// detected it (the callback handler), so failures are stored under the
// flow's state token instead of being propagated across the redirect
// boundary.
type ErrorRecord struct {
	State       string    `json:"state"`
	Code        ErrorCode `json:"code"`
	Description string    `json:"description,omitempty"`

	// Recoverable means retrying the flow can plausibly succeed without
	// administrator intervention.
	Recoverable bool `json:"recoverable"`

	// UserMessage is pre-rendered actionable text safe to show end users.
	UserMessage string `json:"userMessage"`

	CreatedAt time.Time `json:"-"`
}

// idpErrorText maps known identity-provider error codes to actionable user
// messages. Unknown codes fall back to the provider's own description.
var idpErrorText = map[string]struct {
	code        ErrorCode
	recoverable bool
	message     string
}{
	"access_denied": {CodeAuthorizationDenied, true,
		"You declined consent. Retry the authorization and accept the requested permissions."},
	"consent_required": {CodeAuthorizationDenied, true,
		"Additional consent is required. Retry the authorization and accept the requested permissions."},
	"unauthorized_client": {CodeAuthorizationDenied, false,
		"This application is not authorized for your organization. Contact your administrator."},
	"invalid_client": {CodeAuthorizationDenied, false,
		"The application's identity configuration is invalid. Contact your administrator."},
	"temporarily_unavailable": {CodeTokenExchangeFailed, true,
		"The identity provider is temporarily unavailable. Please try again in a few minutes."},
	"server_error": {CodeTokenExchangeFailed, true,
		"The identity provider reported an internal error. Please try again in a few minutes."},
	"invalid_grant": {CodeTokenExchangeFailed, true,
		"The authorization could not be completed. Please restart the flow."},
}

// classifyIdPError builds an ErrorRecord from a callback error code and
// optional provider description.
func classifyIdPError(state, code, description string) *ErrorRecord {
	rec := &ErrorRecord{
		State:       state,
		Code:        CodeAuthorizationDenied,
		Description: description,
		Recoverable: true,
	}
	if known, ok := idpErrorText[code]; ok {
		rec.Code = known.code
		rec.Recoverable = known.recoverable
		rec.UserMessage = known.message
		return rec
	}

	rec.Code = CodeTokenExchangeFailed
	switch {
	case description != "":
		rec.UserMessage = description
	default:
		rec.UserMessage = "Something went wrong during authorization. Please try again."
	}
	return rec
}

// errorRecordTTL bounds how long an unread flow error is kept.
const errorRecordTTL = 10 * time.Minute

// ErrorStore holds flow error records keyed by state token. Records are
// consumed on first read.
type ErrorStore struct {
	mu      sync.Mutex
	records map[string]*ErrorRecord

	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
}

// NewErrorStore creates an error store with background expiry.
func NewErrorStore(now func() time.Time) *ErrorStore {
	if now == nil {
		now = time.Now
	}
	es := &ErrorStore{
		records:     make(map[string]*ErrorRecord),
		ttl:         errorRecordTTL,
		now:         now,
		stopCleanup: make(chan struct{}),
	}
	go es.cleanupLoop()
	return es
}

// Put stores a record under its state token, overwriting any previous one.
func (es *ErrorStore) Put(rec *ErrorRecord) {
	rec.CreatedAt = es.now()
	es.mu.Lock()
	es.records[rec.State] = rec
	es.mu.Unlock()

	logging.Debug("Flow", "Recorded flow error code=%s state=%s", rec.Code, logging.TruncateSecret(rec.State))
}

// Take returns and removes the record for a state, or nil if none exists.
func (es *ErrorStore) Take(state string) *ErrorRecord {
	es.mu.Lock()
	defer es.mu.Unlock()

	rec, ok := es.records[state]
	if !ok {
		return nil
	}
	delete(es.records, state)
	if es.now().Sub(rec.CreatedAt) > es.ttl {
		return nil
	}
	return rec
}

// peek returns the record without consuming it, or nil if absent or
// expired. The browser error page reads through here so the one-time API
// read stays intact with its original TTL.
func (es *ErrorStore) peek(state string) *ErrorRecord {
	es.mu.Lock()
	defer es.mu.Unlock()

	rec, ok := es.records[state]
	if !ok || es.now().Sub(rec.CreatedAt) > es.ttl {
		return nil
	}
	return rec
}

// Stop stops the background cleanup goroutine.
func (es *ErrorStore) Stop() {
	close(es.stopCleanup)
}

func (es *ErrorStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			es.cleanup()
		case <-es.stopCleanup:
			return
		}
	}
}

func (es *ErrorStore) cleanup() {
	es.mu.Lock()
	defer es.mu.Unlock()

	count := 0
	for state, rec := range es.records {
		if es.now().Sub(rec.CreatedAt) > es.ttl {
			delete(es.records, state)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Flow", "Cleaned up %d expired flow error records", count)
	}
}
