package flow

import (
	"sync"
	"time"

	"credvault/pkg/logging"
)

// Status is the lifecycle state of a provisioning progress entry.
type Status string

const (
	StatusCreating  Status = "Creating"
	StatusCompleted Status = "Completed"
	StatusFailed    Status = "Failed"
)

// Progress is a point-in-time snapshot of a background provisioning task.
// Updates overwrite; no history is kept.
type Progress struct {
	ID         string `json:"progressId"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	Percentage int    `json:"percentage"`

	// AuthorizationURL and State are set once the task completes and the
	// flow's authorization URL has been built.
	AuthorizationURL string     `json:"authorizationUrl,omitempty"`
	State            string     `json:"state,omitempty"`
	ExpiresAt        *time.Time `json:"expiresAt,omitempty"`

	createdAt time.Time
}

// progressTTL bounds how long an entry survives, terminal or not, so memory
// stays bounded even when a poller never reads the result.
const progressTTL = 8 * time.Minute

// Tracker holds provisioning progress entries for polling. Canceling a poll
// has no effect on the underlying task; the task keeps writing here until it
// finishes.
type Tracker struct {
	mu      sync.Mutex
	entries map[string]*Progress

	ttl         time.Duration
	now         func() time.Time
	stopCleanup chan struct{}
}

// NewTracker creates a progress tracker with background expiry.
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	tr := &Tracker{
		entries:     make(map[string]*Progress),
		ttl:         progressTTL,
		now:         now,
		stopCleanup: make(chan struct{}),
	}
	go tr.cleanupLoop()
	return tr
}

// Start registers a new entry in the Creating state.
func (tr *Tracker) Start(id string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.entries[id] = &Progress{
		ID:        id,
		Status:    StatusCreating,
		Message:   "Starting vault provisioning",
		createdAt: tr.now(),
	}
}

// Update overwrites the entry's status, message, and percentage. While the
// entry is Creating the percentage is monotonic non-decreasing; a lower
// value is ignored so pollers never see progress move backwards.
func (tr *Tracker) Update(id string, status Status, message string, percentage int) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, ok := tr.entries[id]
	if !ok {
		return
	}
	if entry.Status == StatusCreating && status == StatusCreating && percentage < entry.Percentage {
		percentage = entry.Percentage
	}
	entry.Status = status
	entry.Message = message
	entry.Percentage = percentage
}

// Complete marks the entry finished and attaches the built authorization
// URL with its state token and expiry.
func (tr *Tracker) Complete(id, authorizationURL, state string, expiresAt time.Time) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, ok := tr.entries[id]
	if !ok {
		return
	}
	entry.Status = StatusCompleted
	entry.Message = "Vault ready, authorization URL available"
	entry.Percentage = 100
	entry.AuthorizationURL = authorizationURL
	entry.State = state
	entry.ExpiresAt = &expiresAt
}

// Fail marks the entry failed with a user-facing message.
func (tr *Tracker) Fail(id, message string) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, ok := tr.entries[id]
	if !ok {
		return
	}
	entry.Status = StatusFailed
	entry.Message = message
}

// Get returns a copy of the entry, or nil if unknown or expired. Reading is
// side-effect free; entries are removed by TTL, never by polling.
func (tr *Tracker) Get(id string) *Progress {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	entry, ok := tr.entries[id]
	if !ok {
		return nil
	}
	if tr.now().Sub(entry.createdAt) > tr.ttl {
		return nil
	}
	snapshot := *entry
	return &snapshot
}

// Stop stops the background cleanup goroutine.
func (tr *Tracker) Stop() {
	close(tr.stopCleanup)
}

func (tr *Tracker) cleanupLoop() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			tr.cleanup()
		case <-tr.stopCleanup:
			return
		}
	}
}

func (tr *Tracker) cleanup() {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	count := 0
	for id, entry := range tr.entries {
		if tr.now().Sub(entry.createdAt) > tr.ttl {
			delete(tr.entries, id)
			count++
		}
	}

	if count > 0 {
		logging.Debug("Flow", "Cleaned up %d expired progress entries", count)
	}
}
