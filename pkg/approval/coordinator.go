package approval

import (
	"context"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"
)

const (
	// DefaultTimeout is how long a pending approval waits before it is
	// treated as denied.
	DefaultTimeout = 300 * time.Second

	// DefaultGraceWindow is how long resolved records linger before the
	// sweep removes them.
	DefaultGraceWindow = 300 * time.Second

	// DefaultMaxPending caps outstanding records. When the cap would be
	// exceeded, the oldest pending record is evicted and denied.
	DefaultMaxPending = 100

	approvalIDLength = 8
)

// Status is the state of a pending approval.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDenied   Status = "denied"
	StatusTimeout  Status = "timeout"
)

// Decision is the outcome delivered to a waiting caller.
type Decision struct {
	Approved bool
	Reason   string
}

// Pending describes one in-flight approval request.
type Pending struct {
	ID          string
	ToolName    string
	ToolInput   map[string]interface{}
	RequesterID string
	CreatedAt   time.Time
	Status      Status
	ResolvedAt  time.Time
	ResolvedBy  string
}

// record is the coordinator-internal state for one approval.
type record struct {
	pending  Pending
	decision chan Decision
}

// Coordinator tracks pending tool approvals and mediates between the
// runtime callback that waits and the chat handler that resolves.
type Coordinator struct {
	timeout     time.Duration
	graceWindow time.Duration
	maxPending  int
	now         func() time.Time
	logger      zerolog.Logger

	mu      sync.Mutex
	records map[string]*record
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithTimeout overrides the approval wait timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Coordinator) { c.timeout = d }
}

// WithGraceWindow overrides how long resolved records survive the sweep.
func WithGraceWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.graceWindow = d }
}

// WithMaxPending overrides the outstanding-record cap.
func WithMaxPending(n int) Option {
	return func(c *Coordinator) { c.maxPending = n }
}

// WithClock injects a clock for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the coordinator logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger.With().Str("component", "approval").Logger() }
}

// NewCoordinator creates an approval coordinator.
func NewCoordinator(opts ...Option) *Coordinator {
	c := &Coordinator{
		timeout:     DefaultTimeout,
		graceWindow: DefaultGraceWindow,
		maxPending:  DefaultMaxPending,
		now:         time.Now,
		logger:      zerolog.Nop(),
		records:     make(map[string]*record),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Handle lets the submitting caller wait for the decision.
type Handle struct {
	ID          string
	coordinator *Coordinator
	decision    chan Decision
}

// Submit registers a new pending approval and returns a waitable handle.
func (c *Coordinator) Submit(toolName string, toolInput map[string]interface{}, requesterID string) (*Handle, error) {
	id, err := gonanoid.New(approvalIDLength)
	if err != nil {
		return nil, err
	}

	rec := &record{
		pending: Pending{
			ID:          id,
			ToolName:    toolName,
			ToolInput:   toolInput,
			RequesterID: requesterID,
			CreatedAt:   c.now(),
			Status:      StatusPending,
		},
		decision: make(chan Decision, 1),
	}

	c.mu.Lock()
	c.evictOverCapLocked()
	c.records[id] = rec
	c.mu.Unlock()

	c.logger.Info().
		Str("approval_id", id).
		Str("tool", toolName).
		Str("requester", requesterID).
		Msg("approval submitted")

	return &Handle{ID: id, coordinator: c, decision: rec.decision}, nil
}

// Wait blocks until the approval is resolved, times out, or the context
// is cancelled. Timeout and cancellation are observed as denials; they
// are never surfaced as errors to the runtime callback.
func (h *Handle) Wait(ctx context.Context) Decision {
	timer := time.NewTimer(h.coordinator.timeout)
	defer timer.Stop()

	select {
	case decision := <-h.decision:
		h.coordinator.remove(h.ID)
		return decision
	case <-timer.C:
		h.coordinator.expire(h.ID)
		return Decision{Approved: false, Reason: "Approval timed out"}
	case <-ctx.Done():
		h.coordinator.remove(h.ID)
		return Decision{Approved: false, Reason: "Request cancelled"}
	}
}

// Resolve records a decision for a pending approval. It returns false if
// the id is unknown, already resolved, or the resolver is not the
// original requester.
func (c *Coordinator) Resolve(approvalID string, approved bool, resolverID string) bool {
	c.mu.Lock()
	rec, ok := c.records[approvalID]
	if !ok || rec.pending.Status != StatusPending {
		c.mu.Unlock()
		return false
	}
	if rec.pending.RequesterID != resolverID {
		c.mu.Unlock()
		c.logger.Warn().
			Str("approval_id", approvalID).
			Str("resolver", resolverID).
			Msg("approval resolution attempted by non-requester")
		return false
	}

	if approved {
		rec.pending.Status = StatusApproved
	} else {
		rec.pending.Status = StatusDenied
	}
	rec.pending.ResolvedAt = c.now()
	rec.pending.ResolvedBy = resolverID
	c.mu.Unlock()

	decision := Decision{Approved: approved}
	if !approved {
		decision.Reason = "User rejected tool"
	}

	// Buffered channel: delivery never blocks, and a second resolve on
	// the same record is rejected by the status check above.
	rec.decision <- decision

	c.logger.Info().
		Str("approval_id", approvalID).
		Bool("approved", approved).
		Msg("approval resolved")
	return true
}

// Get returns a snapshot of a pending approval.
func (c *Coordinator) Get(approvalID string) (Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[approvalID]
	if !ok {
		return Pending{}, false
	}
	return rec.pending, true
}

// PendingCount returns the number of tracked records.
func (c *Coordinator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

// Sweep removes resolved or expired records older than the grace window
// and returns how many were removed. Intended to be run periodically.
func (c *Coordinator) Sweep() int {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for id, rec := range c.records {
		age := now.Sub(rec.pending.CreatedAt)
		if rec.pending.Status != StatusPending && age > c.graceWindow {
			delete(c.records, id)
			removed++
			continue
		}
		if rec.pending.Status == StatusPending && age > c.timeout+c.graceWindow {
			// Waiter is gone or stuck; deny defensively before dropping.
			rec.pending.Status = StatusTimeout
			select {
			case rec.decision <- Decision{Approved: false, Reason: "Approval timed out"}:
			default:
			}
			delete(c.records, id)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debug().Int("removed", removed).Msg("swept stale approvals")
	}
	return removed
}

// remove drops a record after its waiter observed the decision.
func (c *Coordinator) remove(approvalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.records, approvalID)
}

// expire marks a record timed out and drops it.
func (c *Coordinator) expire(approvalID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[approvalID]; ok {
		rec.pending.Status = StatusTimeout
		delete(c.records, approvalID)
	}
}

// evictOverCapLocked denies and drops the oldest pending records until
// the cap allows one more entry. Caller holds c.mu.
func (c *Coordinator) evictOverCapLocked() {
	for len(c.records) >= c.maxPending {
		var oldestID string
		var oldestAt time.Time
		for id, rec := range c.records {
			if oldestID == "" || rec.pending.CreatedAt.Before(oldestAt) {
				oldestID = id
				oldestAt = rec.pending.CreatedAt
			}
		}
		if oldestID == "" {
			return
		}
		rec := c.records[oldestID]
		if rec.pending.Status == StatusPending {
			rec.pending.Status = StatusDenied
			select {
			case rec.decision <- Decision{Approved: false, Reason: "Evicted: too many pending approvals"}:
			default:
			}
		}
		delete(c.records, oldestID)
		c.logger.Warn().Str("approval_id", oldestID).Msg("evicted oldest pending approval")
	}
}
