package flow

import (
	"crypto/rand"
	"encoding/base64"
	"sync"
	"time"

	"credvault/internal/credential"
	"credvault/pkg/logging"
)

// AuthorizationRequest is the ephemeral record bound to a state token while
// the user completes consent at the identity provider.
type AuthorizationRequest struct {
	ClientRef   string
	TenantRef   string
	Tier        credential.ScopeTier
	RedirectURI string
	Description string
	CreatedAt   time.Time
}

// requestTTL is how long an unconsumed authorization request is honored.
const requestTTL = 10 * time.Minute

// RequestStore provides thread-safe storage for in-flight authorization
// requests keyed by their state token. State tokens are single-use:
// Take removes the request on first read regardless of what the caller
// does with it, which makes the take the sole serialization point of the
// authorization handshake.
type RequestStore struct {
	mu       sync.Mutex
	requests map[string]*AuthorizationRequest

	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
}

// NewRequestStore creates a request store with background expiry.
func NewRequestStore(now func() time.Time) *RequestStore {
	if now == nil {
		now = time.Now
	}
	rs := &RequestStore{
		requests:    make(map[string]*AuthorizationRequest),
		ttl:         requestTTL,
		now:         now,
		stopCleanup: make(chan struct{}),
	}
	go rs.cleanupLoop()
	return rs
}

// Create stores the request under a fresh cryptographically random state
// token and returns the token together with its expiry.
func (rs *RequestStore) Create(req *AuthorizationRequest) (string, time.Time, error) {
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		return "", time.Time{}, err
	}
	state := base64.URLEncoding.EncodeToString(nonce)

	req.CreatedAt = rs.now()
	rs.mu.Lock()
	rs.requests[state] = req
	rs.mu.Unlock()

	logging.Debug("Flow", "Created authorization request state=%s tenant=%s client=%s tier=%s",
		logging.TruncateSecret(state), req.TenantRef, req.ClientRef, req.Tier)
	return state, req.CreatedAt.Add(rs.ttl), nil
}

// Take atomically looks up and removes the request for a state token.
// Returns nil if the state was never issued, already consumed, or expired.
// A second callback with the same state finds nothing and fails closed.
func (rs *RequestStore) Take(state string) *AuthorizationRequest {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	req, ok := rs.requests[state]
	if !ok {
		logging.Warn("Flow", "State not found in request store: %s", logging.TruncateSecret(state))
		return nil
	}
	delete(rs.requests, state)

	if rs.now().Sub(req.CreatedAt) > rs.ttl {
		logging.Warn("Flow", "State expired: %s age=%v", logging.TruncateSecret(state), rs.now().Sub(req.CreatedAt))
		return nil
	}
	return req
}

// Len returns the number of pending requests.
func (rs *RequestStore) Len() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

// Stop stops the background cleanup goroutine.
func (rs *RequestStore) Stop() {
	close(rs.stopCleanup)
}

func (rs *RequestStore) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rs.cleanup()
		case <-rs.stopCleanup:
			return
		}
	}
}

func (rs *RequestStore) cleanup() {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	count := 0
	for state, req := range rs.requests {
		if rs.now().Sub(req.CreatedAt) > rs.ttl {
			delete(rs.requests, state)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Flow", "Cleaned up %d expired authorization requests", count)
	}
}
