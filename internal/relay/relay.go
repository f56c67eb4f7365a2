package relay

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BrickRelay/BrickRelay/internal/bus"
	"github.com/BrickRelay/BrickRelay/internal/conversation"
)

// Recorder receives a summary of each completed exchange. Implementations
// must not block the relay; failures are theirs to log.
type Recorder interface {
	Record(ctx context.Context, ex Exchange)
}

// Exchange summarizes one processed event for the audit mirror.
type Exchange struct {
	EventID   string    `json:"event_id"`
	ThreadID  string    `json:"thread_id"`
	Backend   string    `json:"backend"`
	Outcome   string    `json:"outcome"`
	QuestionN int       `json:"question_chars"`
	AnswerN   int       `json:"answer_chars"`
	Elapsed   int64     `json:"elapsed_ms"`
	Timestamp time.Time `json:"timestamp"`
}

// Options configures a Relay.
type Options struct {
	Bus             *bus.MessageBus
	Dispatcher      *Dispatcher
	Store           conversation.Store
	Recorder        Recorder
	ConversationTTL time.Duration
	DedupeTTL       time.Duration
}

// Relay consumes inbound messages from the bus, dispatches them with
// per-thread ordering and publishes replies outbound.
type Relay struct {
	bus        *bus.MessageBus
	dispatcher *Dispatcher
	store      conversation.Store
	recorder   Recorder
	convTTL    time.Duration
	dedupeTTL  time.Duration

	mu     sync.Mutex
	queues map[string][]*job
	wg     sync.WaitGroup
}

type job struct {
	req     *Request
	channel string
	chatID  string
}

// New creates a relay from options.
func New(opts Options) *Relay {
	return &Relay{
		bus:        opts.Bus,
		dispatcher: opts.Dispatcher,
		store:      opts.Store,
		recorder:   opts.Recorder,
		convTTL:    opts.ConversationTTL,
		dedupeTTL:  opts.DedupeTTL,
		queues:     make(map[string][]*job),
	}
}

// Run consumes inbound messages until ctx is cancelled, then waits for
// in-flight workers to finish or time out.
func (r *Relay) Run(ctx context.Context) error {
	slog.Info("Relay started")
	if r.convTTL > 0 {
		go r.evictionLoop(ctx)
	}

	for {
		msg, err := r.bus.ConsumeInbound(ctx)
		if err != nil {
			r.wg.Wait()
			slog.Info("Relay stopped")
			return err
		}
		r.enqueue(ctx, msg)
	}
}

// enqueue routes one inbound message to its thread's FIFO queue. The first
// job for an idle thread spawns a worker that drains the queue and exits,
// so events in one thread are processed in submission order while distinct
// threads run concurrently.
func (r *Relay) enqueue(ctx context.Context, msg *bus.InboundMessage) {
	req := requestFromInbound(msg)
	j := &job{req: req, channel: msg.Channel, chatID: msg.ChatID}

	r.mu.Lock()
	queue, running := r.queues[req.ThreadID]
	r.queues[req.ThreadID] = append(queue, j)
	r.mu.Unlock()
	if running {
		return
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			r.mu.Lock()
			queue := r.queues[req.ThreadID]
			if len(queue) == 0 {
				delete(r.queues, req.ThreadID)
				r.mu.Unlock()
				return
			}
			next := queue[0]
			r.queues[req.ThreadID] = queue[1:]
			r.mu.Unlock()

			r.process(ctx, next)
		}
	}()
}

func (r *Relay) process(ctx context.Context, j *job) {
	started := time.Now()
	reply := r.dispatcher.Handle(ctx, j.req)
	if reply == nil {
		return
	}

	r.bus.PublishOutbound(&bus.OutboundMessage{
		Channel:   j.channel,
		ChatID:    j.chatID,
		ThreadID:  reply.ThreadID,
		InReplyTo: reply.InReplyTo,
		Text:      reply.Text,
	})

	if r.recorder != nil {
		outcome := "answered"
		if reply.Text == msgUpstreamError || reply.Text == msgTimeoutError || reply.Text == msgAuthError {
			outcome = "failed"
		}
		r.recorder.Record(ctx, Exchange{
			EventID:   reply.InReplyTo,
			ThreadID:  reply.ThreadID,
			Backend:   r.dispatcher.client.Name(),
			Outcome:   outcome,
			QuestionN: len(j.req.Text),
			AnswerN:   len(reply.Text),
			Elapsed:   time.Since(started).Milliseconds(),
			Timestamp: time.Now().UTC(),
		})
	}
}

// evictionLoop removes stale conversation state and prunes the persisted
// processed-event log on a fraction of the conversation TTL.
func (r *Relay) evictionLoop(ctx context.Context) {
	interval := r.convTTL / 4
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n, err := r.store.EvictOlderThan(r.convTTL); err != nil {
				slog.Warn("Conversation eviction failed", "error", err)
			} else if n > 0 {
				slog.Info("Evicted stale conversations", "count", n)
			}
			if pruner, ok := r.store.(interface {
				PruneProcessed(ttl time.Duration) (int, error)
			}); ok && r.dedupeTTL > 0 {
				if n, err := pruner.PruneProcessed(r.dedupeTTL); err != nil {
					slog.Warn("Processed-event prune failed", "error", err)
				} else if n > 0 {
					slog.Debug("Pruned processed events", "count", n)
				}
			}
		}
	}
}

func requestFromInbound(msg *bus.InboundMessage) *Request {
	threadID := msg.ThreadID
	if threadID == "" {
		threadID = msg.ChatID
	}
	eventID := msg.EventID
	if eventID == "" {
		eventID = DeriveEventID(threadID, msg.SenderID, msg.Text, msg.Timestamp)
	}
	return &Request{
		EventID:    eventID,
		ThreadID:   threadID,
		UserID:     msg.SenderID,
		Text:       msg.Text,
		ReceivedAt: msg.Timestamp,
	}
}
