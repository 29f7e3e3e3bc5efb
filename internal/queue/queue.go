// ABOUTME: Per-conversation admission control and ordered wait queue
// ABOUTME: One running job per conversation; FIFO pickup skipping cancelled entries

package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-concierge/internal/chat"
)

// Renderer is the running job's presenter. The queue holds it for lookup only;
// the orchestrator owns its lifecycle.
type Renderer interface {
	RenderAborted(ctx context.Context)
	StopTimer()
	// Ref identifies the status message the renderer owns, nil before the
	// first successful post. Used to match incoming reactions to the job.
	Ref() *chat.MessageRef
}

// JobStatus is the state of a queued entry.
type JobStatus int

const (
	// JobQueued means the entry is waiting its turn.
	JobQueued JobStatus = iota
	// JobCancelled means the entry was withdrawn and will be skipped.
	JobCancelled
)

// Job is one unit of work waiting for, or holding, a conversation's slot.
type Job struct {
	ID      string
	Query   string
	User    string
	Key     string
	Message *chat.MessageRef // the queued-notice message, reused when promoted
	// QueuedAt is when the entry joined the wait queue.
	QueuedAt time.Time
	Status   JobStatus
}

// conversation is the per-key state. Mutation happens only under Manager.mu,
// so every exported operation is atomic with respect to the others.
type conversation struct {
	processing      bool
	currentJobID    string
	currentRenderer Renderer
	currentCancel   context.CancelFunc
	queue           []*Job
	lastActive      time.Time
}

// liveCount returns the number of non-cancelled queued entries.
func (c *conversation) liveCount() int {
	n := 0
	for _, j := range c.queue {
		if j.Status != JobCancelled {
			n++
		}
	}
	return n
}

// Manager owns all per-conversation admission state.
type Manager struct {
	mu     sync.Mutex
	convs  map[string]*conversation
	logger *slog.Logger
}

// NewManager creates an empty admission manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		convs:  make(map[string]*conversation),
		logger: logger.With("component", "queue"),
	}
}

// get returns the state for key, creating it lazily. Caller holds mu.
func (m *Manager) get(key string) *conversation {
	c, ok := m.convs[key]
	if !ok {
		c = &conversation{lastActive: time.Now()}
		m.convs[key] = c
	}
	return c
}

// IsBusy reports whether the conversation's slot is occupied.
func (m *Manager) IsBusy(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	return ok && c.processing
}

// TryAdmit atomically claims the conversation's slot for the given job.
// Returns false with no side effect if the slot is already occupied. This is
// the sole admission gate: callers must not start external work unless it
// returns true. The cancel func is the job's cooperative stop signal, kept
// here so an abort request can reach the running invocation.
func (m *Manager) TryAdmit(key, jobID string, r Renderer, cancel context.CancelFunc) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(key)
	if c.processing {
		return false
	}
	c.processing = true
	c.currentJobID = jobID
	c.currentRenderer = r
	c.currentCancel = cancel
	c.lastActive = time.Now()
	m.logger.Debug("job admitted", "conversation", key, "job_id", jobID)
	return true
}

// Takeover replaces the current occupant with a prioritized job and returns
// the superseded job's renderer and cancel signal (both nil when the slot was
// free). The displaced invocation keeps running until its context is
// cancelled; its late callbacks are dropped by the CurrentJobID guard.
func (m *Manager) Takeover(key, jobID string, r Renderer, cancel context.CancelFunc) (Renderer, context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(key)
	prevRenderer := c.currentRenderer
	prevCancel := c.currentCancel
	c.processing = true
	c.currentJobID = jobID
	c.currentRenderer = r
	c.currentCancel = cancel
	c.lastActive = time.Now()
	m.logger.Info("job took over conversation slot",
		"conversation", key, "job_id", jobID)
	return prevRenderer, prevCancel
}

// CurrentJobID returns the job ID holding the slot, or "" when idle. In-flight
// callbacks compare against this to detect that they have been superseded.
func (m *Manager) CurrentJobID(key string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok && c.processing {
		return c.currentJobID
	}
	return ""
}

// CurrentRenderer returns the running job's renderer, or nil when idle.
func (m *Manager) CurrentRenderer(key string) Renderer {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok && c.processing {
		return c.currentRenderer
	}
	return nil
}

// CurrentCancel returns the running job's cancel signal, or nil when idle.
func (m *Manager) CurrentCancel(key string) context.CancelFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok && c.processing {
		return c.currentCancel
	}
	return nil
}

// Abort atomically snapshots the running job for cancellation, or returns
// zero values when the slot is idle. The slot is not released here: the abort
// path renders the terminal state first and then releases with the returned
// job ID, so a job that finished in between is left untouched.
func (m *Manager) Abort(key string) (string, Renderer, context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[key]
	if !ok || !c.processing {
		return "", nil, nil
	}
	return c.currentJobID, c.currentRenderer, c.currentCancel
}

// Release clears the slot and returns the earliest non-cancelled queued job,
// removed from the queue, or nil if none remain. Cancelled entries encountered
// during the scan are dropped. When ownerJobID is non-empty and the caller no
// longer holds the slot, the release is a stale no-op — whether another job
// took the slot over, or the slot is already idle from an earlier release.
// Honoring a duplicate release on an idle slot would dequeue a second job out
// of FIFO order while the first is still between release and admission.
func (m *Manager) Release(key, ownerJobID string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	if ownerJobID != "" && (!c.processing || c.currentJobID != ownerJobID) {
		m.logger.Debug("stale release ignored",
			"conversation", key, "job_id", ownerJobID, "current", c.currentJobID)
		return nil
	}

	c.processing = false
	c.currentJobID = ""
	c.currentRenderer = nil
	c.currentCancel = nil
	c.lastActive = time.Now()

	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue = c.queue[1:]
		if next.Status == JobCancelled {
			continue
		}
		m.logger.Debug("dequeued next job",
			"conversation", key, "job_id", next.ID, "waited", time.Since(next.QueuedAt))
		return next
	}
	return nil
}

// Enqueue appends the job to the conversation's wait queue and returns its
// 1-based position among non-cancelled entries.
func (m *Manager) Enqueue(key string, job *Job) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.get(key)
	job.Status = JobQueued
	if job.QueuedAt.IsZero() {
		job.QueuedAt = time.Now()
	}
	c.queue = append(c.queue, job)
	c.lastActive = time.Now()
	pos := c.liveCount()
	m.logger.Debug("job enqueued",
		"conversation", key, "job_id", job.ID, "position", pos)
	return pos
}

// Depth returns the number of non-cancelled queued entries.
func (m *Manager) Depth(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.convs[key]; ok {
		return c.liveCount()
	}
	return 0
}

// Cancel marks a still-queued entry cancelled in place. Removal is lazy: the
// entry stays in the slice until Release's scan drops it, so no indices shift
// under a concurrent iteration. Returns false if the job is unknown or
// already running.
func (m *Manager) Cancel(key, jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key]
	if !ok {
		return false
	}
	for _, j := range c.queue {
		if j.ID == jobID && j.Status == JobQueued {
			j.Status = JobCancelled
			c.lastActive = time.Now()
			m.logger.Debug("queued job cancelled", "conversation", key, "job_id", jobID)
			return true
		}
	}
	return false
}

// CancelNewestFor cancels the caller's most recently queued entry and returns
// it, or nil when the user has nothing queued.
func (m *Manager) CancelNewestFor(key, user string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	for i := len(c.queue) - 1; i >= 0; i-- {
		j := c.queue[i]
		if j.User == user && j.Status == JobQueued {
			j.Status = JobCancelled
			c.lastActive = time.Now()
			return j
		}
	}
	return nil
}

// Prioritize removes a still-queued entry out of order and returns it, so the
// caller can run it immediately. Returns nil if the entry is missing or
// cancelled. A prioritized job can never also be returned by Release: it is
// gone from the queue the moment this returns.
func (m *Manager) Prioritize(key, jobID string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	for i, j := range c.queue {
		if j.ID == jobID {
			if j.Status == JobCancelled {
				return nil
			}
			c.queue = append(c.queue[:i], c.queue[i+1:]...)
			c.lastActive = time.Now()
			m.logger.Debug("job prioritized", "conversation", key, "job_id", jobID)
			return j
		}
	}
	return nil
}

// NewestQueuedFor returns the user's most recent live queued entry without
// removing it, or nil.
func (m *Manager) NewestQueuedFor(key, user string) *Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.convs[key]
	if !ok {
		return nil
	}
	for i := len(c.queue) - 1; i >= 0; i-- {
		j := c.queue[i]
		if j.User == user && j.Status == JobQueued {
			return j
		}
	}
	return nil
}

// CleanupStale cancels queued entries older than maxAge and removes
// conversation state that is idle, empty, and untouched past the same age.
// Returns the aged-out entries so the caller can give each one's queued
// notice a visible terminal state.
func (m *Manager) CleanupStale(maxAge time.Duration) []*Job {
	m.mu.Lock()
	defer m.mu.Unlock()

	var aged []*Job
	now := time.Now()
	for key, c := range m.convs {
		for _, j := range c.queue {
			if j.Status == JobQueued && now.Sub(j.QueuedAt) > maxAge {
				j.Status = JobCancelled
				aged = append(aged, j)
				m.logger.Info("stale queued job cancelled",
					"conversation", key, "job_id", j.ID, "age", now.Sub(j.QueuedAt))
			}
		}
		if !c.processing && c.liveCount() == 0 && now.Sub(c.lastActive) > maxAge {
			delete(m.convs, key)
			m.logger.Debug("idle conversation state removed", "conversation", key)
		}
	}
	return aged
}
