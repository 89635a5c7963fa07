package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyIdPErrorKnownCodes(t *testing.T) {
	tests := []struct {
		code            string
		wantCode        ErrorCode
		wantRecoverable bool
	}{
		{"access_denied", CodeAuthorizationDenied, true},
		{"consent_required", CodeAuthorizationDenied, true},
		{"unauthorized_client", CodeAuthorizationDenied, false},
		{"invalid_client", CodeAuthorizationDenied, false},
		{"temporarily_unavailable", CodeTokenExchangeFailed, true},
		{"server_error", CodeTokenExchangeFailed, true},
		{"invalid_grant", CodeTokenExchangeFailed, true},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			rec := classifyIdPError("state-1", tt.code, "provider text")
			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantRecoverable, rec.Recoverable)
			assert.NotEmpty(t, rec.UserMessage)
		})
	}
}

func TestClassifyIdPErrorUnknownCodeFallsBackToDescription(t *testing.T) {
	rec := classifyIdPError("state-1", "weird_new_code", "the provider explains itself")
	assert.Equal(t, CodeTokenExchangeFailed, rec.Code)
	assert.Equal(t, "the provider explains itself", rec.UserMessage)
}

func TestClassifyIdPErrorUnknownCodeWithoutDescription(t *testing.T) {
	rec := classifyIdPError("state-1", "weird_new_code", "")
	assert.NotEmpty(t, rec.UserMessage, "a generic message must always be present")
}

func TestErrorStoreReadOnce(t *testing.T) {
	clock := newFakeClock()
	es := NewErrorStore(clock.Now)
	defer es.Stop()

	es.Put(&ErrorRecord{State: "s1", Code: CodeAuthorizationDenied, UserMessage: "nope"})

	rec := es.Take("s1")
	require.NotNil(t, rec)
	assert.Equal(t, CodeAuthorizationDenied, rec.Code)
	assert.Nil(t, es.Take("s1"), "records are consumed on first read")
}

func TestErrorStorePeekDoesNotConsumeOrExtend(t *testing.T) {
	clock := newFakeClock()
	es := NewErrorStore(clock.Now)
	defer es.Stop()

	es.Put(&ErrorRecord{State: "s1", Code: CodeAuthorizationDenied, UserMessage: "nope"})

	require.NotNil(t, es.peek("s1"))
	require.NotNil(t, es.Take("s1"), "peek must leave the record for the one-time read")

	// Peeking near the deadline must not push the record's expiry out.
	es.Put(&ErrorRecord{State: "s2", Code: CodeTokenExchangeFailed})
	clock.Advance(errorRecordTTL - time.Second)
	require.NotNil(t, es.peek("s2"))
	clock.Advance(2 * time.Second)
	assert.Nil(t, es.Take("s2"))
}

func TestErrorStoreExpiry(t *testing.T) {
	clock := newFakeClock()
	es := NewErrorStore(clock.Now)
	defer es.Stop()

	es.Put(&ErrorRecord{State: "s1", Code: CodeTokenExchangeFailed})
	clock.Advance(errorRecordTTL + time.Minute)

	assert.Nil(t, es.Take("s1"))
}
