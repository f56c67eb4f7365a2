package relay

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BrickRelay/BrickRelay/internal/config"
	"github.com/BrickRelay/BrickRelay/internal/conversation"
	"github.com/BrickRelay/BrickRelay/internal/databricks"
	"github.com/BrickRelay/BrickRelay/internal/dedupe"
)

// User-facing failure notices. Raw error detail never reaches the chat
// thread; auth failures in particular must not leak credential material.
const (
	msgUpstreamError = "Sorry, something went wrong while answering your question. Please try again later."
	msgTimeoutError  = "Sorry, the answer took too long. Please try again later."
	msgAuthError     = "Sorry, I can't reach the data platform right now. Please contact your administrator."
	msgEmptyQuestion = "Please ask me a question about your data!"
)

// ProcessedLog persists completed event ids so deduplication survives a
// restart. Optional; the in-memory dedupe cache alone covers a single
// process lifetime.
type ProcessedLog interface {
	MarkProcessed(eventID string) error
	WasProcessed(eventID string) (bool, error)
	ForgetProcessed(eventID string) error
}

// Dispatcher orchestrates dedupe → conversation lookup → backend ask →
// reply, guaranteeing at most one reply per distinct event id and session
// continuity within a thread.
type Dispatcher struct {
	seen      *dedupe.Cache
	store     conversation.Store
	processed ProcessedLog
	client    databricks.Client
	policy    config.RedeliveryPolicy
	timeout   time.Duration

	mu      sync.Mutex
	threads map[string]*threadLock
}

// threadLock serializes one thread's events. refs counts holders and
// waiters so the entry can be dropped from the map as soon as the thread
// goes idle.
type threadLock struct {
	mu   sync.Mutex
	refs int
}

// NewDispatcher wires the relay core. processed may be nil when no durable
// state path is configured.
func NewDispatcher(seen *dedupe.Cache, store conversation.Store, processed ProcessedLog, client databricks.Client, policy config.RedeliveryPolicy, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		seen:      seen,
		store:     store,
		processed: processed,
		client:    client,
		policy:    policy,
		timeout:   timeout,
		threads:   make(map[string]*threadLock),
	}
}

// Handle processes one request and returns its reply, or nil when the event
// is a duplicate or invalid. Errors never propagate: a failed backend call
// becomes a generic error reply and the event stays marked seen unless the
// fail-open policy is configured.
func (d *Dispatcher) Handle(ctx context.Context, req *Request) *Reply {
	if req == nil || strings.TrimSpace(req.ThreadID) == "" {
		return nil
	}
	eventID := strings.TrimSpace(req.EventID)
	if eventID == "" {
		eventID = DeriveEventID(req.ThreadID, req.UserID, req.Text, req.ReceivedAt)
	}

	// Mark before the outbound call so a concurrent redelivery of the same
	// event cannot also proceed while this one is in flight.
	if d.seen.CheckAndMark(eventID) {
		slog.Debug("Duplicate event dropped", "event_id", eventID, "thread_id", req.ThreadID)
		return nil
	}
	if d.processed != nil {
		if done, err := d.processed.WasProcessed(eventID); err != nil {
			slog.Warn("Processed-log lookup failed", "event_id", eventID, "error", err)
		} else if done {
			slog.Debug("Event already processed before restart", "event_id", eventID)
			return nil
		}
	}

	lock := d.acquireThread(req.ThreadID)
	defer d.releaseThread(req.ThreadID, lock)

	if strings.TrimSpace(req.Text) == "" {
		d.commit(eventID)
		return &Reply{ThreadID: req.ThreadID, Text: msgEmptyQuestion, InReplyTo: eventID}
	}

	state, err := d.store.GetOrCreate(req.ThreadID)
	if err != nil {
		slog.Error("Conversation lookup failed", "thread_id", req.ThreadID, "error", err)
		return d.failure(eventID, req.ThreadID, msgUpstreamError)
	}

	askCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	started := time.Now()
	answer, newSessionID, err := d.client.Ask(askCtx, state.RemoteSessionID, req.Text)
	if err != nil {
		switch {
		case errors.Is(err, databricks.ErrAuth):
			slog.Error("Backend rejected credentials", "backend", d.client.Name(), "thread_id", req.ThreadID)
			return d.failure(eventID, req.ThreadID, msgAuthError)
		case databricks.IsTimeout(err):
			slog.Warn("Backend ask timed out", "backend", d.client.Name(), "thread_id", req.ThreadID, "timeout", d.timeout)
			return d.failure(eventID, req.ThreadID, msgTimeoutError)
		default:
			slog.Error("Backend ask failed", "backend", d.client.Name(), "thread_id", req.ThreadID, "error", err)
			return d.failure(eventID, req.ThreadID, msgUpstreamError)
		}
	}

	if err := d.store.Update(req.ThreadID, newSessionID); err != nil {
		slog.Error("Conversation update failed", "thread_id", req.ThreadID, "error", err)
	}
	d.commit(eventID)
	slog.Info("Question answered",
		"backend", d.client.Name(),
		"thread_id", req.ThreadID,
		"event_id", eventID,
		"elapsed", time.Since(started).Round(time.Millisecond))
	return &Reply{ThreadID: req.ThreadID, Text: answer, InReplyTo: eventID}
}

// failure builds the single error reply for a failed event. Under
// fail-closed (the default) the event id stays seen so a transport
// redelivery is dropped; under fail-open it is forgotten so a redelivery
// gets a fresh attempt.
func (d *Dispatcher) failure(eventID, threadID, text string) *Reply {
	if d.policy == config.RedeliveryFailOpen {
		d.seen.Forget(eventID)
		if d.processed != nil {
			if err := d.processed.ForgetProcessed(eventID); err != nil {
				slog.Warn("Processed-log forget failed", "event_id", eventID, "error", err)
			}
		}
	} else {
		d.commit(eventID)
	}
	return &Reply{ThreadID: threadID, Text: text, InReplyTo: eventID}
}

func (d *Dispatcher) commit(eventID string) {
	if d.processed == nil {
		return
	}
	if err := d.processed.MarkProcessed(eventID); err != nil {
		slog.Warn("Processed-log mark failed", "event_id", eventID, "error", err)
	}
}

// acquireThread blocks until the caller holds threadID's lock. Locks for
// distinct threads are independent.
func (d *Dispatcher) acquireThread(threadID string) *threadLock {
	d.mu.Lock()
	lock, ok := d.threads[threadID]
	if !ok {
		lock = &threadLock{}
		d.threads[threadID] = lock
	}
	lock.refs++
	d.mu.Unlock()

	lock.mu.Lock()
	return lock
}

// releaseThread unlocks and drops the map entry once no holder or waiter
// remains, so idle threads cost nothing in a long-running daemon.
func (d *Dispatcher) releaseThread(threadID string, lock *threadLock) {
	lock.mu.Unlock()

	d.mu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(d.threads, threadID)
	}
	d.mu.Unlock()
}
