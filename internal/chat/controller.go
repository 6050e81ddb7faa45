package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"SmargeChat/internal/backend"
	"SmargeChat/internal/transcript"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ErrorReply replaces the assistant turn when a submission fails
const ErrorReply = "Sorry, I encountered an error. Please try again."

var (
	// ErrEmptyMessage rejects a submit whose text is blank.
	ErrEmptyMessage = errors.New("message is empty")

	// ErrBusy rejects a submit while another one is in flight.
	ErrBusy = errors.New("a message is already in flight")

	// ErrLoadFailed wraps every loadConversation failure. The transcript
	// is left untouched when it is returned.
	ErrLoadFailed = errors.New("failed to load conversation")

	// ErrAbandoned is returned by Submit when the transcript was reset or
	// replaced while its stream was still open.
	ErrAbandoned = errors.New("stream abandoned")
)

// Transport opens chat streams
type Transport interface {
	StreamChat(ctx context.Context, req backend.ChatRequest) (backend.Stream, error)
}

// ConversationLoader fetches stored conversations
type ConversationLoader interface {
	GetConversation(ctx context.Context, id string) ([]transcript.Turn, error)
}

// Config holds the collaborators of a Controller
type Config struct {
	Transport Transport
	Loader    ConversationLoader
	Logger    *slog.Logger
	Tracer    trace.Tracer
	Meter     metric.Meter

	// Now stamps new turns; defaults to time.Now
	Now func() time.Time
}

// State is a point-in-time copy of the controller
type State struct {
	Turns          []transcript.Turn
	ConversationID string
	Status         Status
}

// Controller owns the transcript of one chat session. It submits user
// turns, folds the streamed reply into the transcript chunk by chunk and
// publishes a Change after every mutation.
//
// Every submission mints an epoch. Loading or resetting the transcript
// advances the epoch, and any stream still carrying an older epoch is
// ignored from then on.
type Controller struct {
	mu sync.Mutex

	transport Transport
	loader    ConversationLoader
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	metrics   streamMetrics

	transcript     *transcript.Transcript
	conversationID string
	status         Status
	epoch          uint64
	cancel         context.CancelFunc
	observers      []observerEntry
	nextObserver   int
}

type observerEntry struct {
	id  int
	obs Observer
}

type streamMetrics struct {
	chunks   metric.Int64Counter
	bytes    metric.Int64Counter
	failures metric.Int64Counter
	duration metric.Float64Histogram
}

// NewController creates a controller with an empty transcript
func NewController(cfg Config) (*Controller, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if cfg.Loader == nil {
		return nil, fmt.Errorf("conversation loader cannot be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer("smargechat/chat")
	}
	if cfg.Meter == nil {
		cfg.Meter = otel.Meter("smargechat/chat")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	m, err := newStreamMetrics(cfg.Meter)
	if err != nil {
		return nil, err
	}

	return &Controller{
		transport:  cfg.Transport,
		loader:     cfg.Loader,
		logger:     cfg.Logger,
		tracer:     cfg.Tracer,
		now:        cfg.Now,
		metrics:    m,
		transcript: transcript.New(nil),
		status:     StatusIdle,
	}, nil
}

func newStreamMetrics(meter metric.Meter) (streamMetrics, error) {
	var (
		m   streamMetrics
		err error
	)
	if m.chunks, err = meter.Int64Counter("chat.stream.chunks",
		metric.WithDescription("Chunks received on chat streams")); err != nil {
		return m, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.bytes, err = meter.Int64Counter("chat.stream.bytes",
		metric.WithDescription("Bytes received on chat streams"),
		metric.WithUnit("By")); err != nil {
		return m, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.failures, err = meter.Int64Counter("chat.stream.failures",
		metric.WithDescription("Chat submissions that ended with the error reply")); err != nil {
		return m, fmt.Errorf("failed to create counter: %w", err)
	}
	if m.duration, err = meter.Float64Histogram("chat.stream.duration",
		metric.WithDescription("Time from submit to stream end in milliseconds"),
		metric.WithUnit("ms")); err != nil {
		return m, fmt.Errorf("failed to create histogram: %w", err)
	}
	return m, nil
}

// Subscribe registers an observer and returns a function that removes it
func (c *Controller) Subscribe(obs Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextObserver++
	id := c.nextObserver
	// copy on write so publish never sees a slice being edited
	next := make([]observerEntry, len(c.observers), len(c.observers)+1)
	copy(next, c.observers)
	c.observers = append(next, observerEntry{id: id, obs: obs})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		next := make([]observerEntry, 0, len(c.observers))
		for _, e := range c.observers {
			if e.id != id {
				next = append(next, e)
			}
		}
		c.observers = next
	}
}

// Snapshot returns a copy of the current state
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{
		Turns:          c.transcript.Turns(),
		ConversationID: c.conversationID,
		Status:         c.status,
	}
}

// Status returns the current status
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// ConversationID returns the current conversation id, or "" for a new chat
func (c *Controller) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

// StartNewConversation empties the transcript and abandons any open stream
func (c *Controller) StartNewConversation() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonLocked()
	c.transcript = transcript.New(nil)
	c.conversationID = ""
	c.status = StatusIdle
	c.publishLocked(Change{Kind: ChangeReset, Turns: []transcript.Turn{}})
	c.logger.Info("started new conversation", "epoch", c.epoch)
}

// LoadConversation replaces the transcript with a stored conversation.
// On failure nothing visible changes and the error wraps ErrLoadFailed.
func (c *Controller) LoadConversation(ctx context.Context, id string) error {
	ctx, span := c.tracer.Start(ctx, "chat.load_conversation",
		trace.WithAttributes(attribute.String("conversation.id", id)))
	defer span.End()

	turns, err := c.loader.GetConversation(ctx, id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		c.logger.Warn("failed to load conversation", "conversation_id", id, "error", err)
		return fmt.Errorf("%w %s: %w", ErrLoadFailed, id, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.abandonLocked()
	c.transcript = transcript.New(turns)
	c.conversationID = id
	c.status = StatusIdle
	c.publishLocked(Change{Kind: ChangeReset, Turns: c.transcript.Turns()})

	span.SetAttributes(attribute.Int("conversation.turns", len(turns)))
	c.logger.Info("loaded conversation", "conversation_id", id, "turns", len(turns), "epoch", c.epoch)
	return nil
}

// Submit appends a user turn and streams the assistant's reply into the
// transcript. It blocks until the stream ends, so callers that need to
// abandon a reply run it on its own goroutine.
//
// A blank message returns ErrEmptyMessage and a call made while another
// submission is in flight returns ErrBusy; neither touches the transcript.
// Any transport, status or decode failure leaves ErrorReply as the
// assistant turn and is returned wrapped.
func (c *Controller) Submit(ctx context.Context, userText string) error {
	if strings.TrimSpace(userText) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.status != StatusIdle {
		c.mu.Unlock()
		return ErrBusy
	}

	c.epoch++
	epoch := c.epoch
	streamCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	turn := transcript.Turn{Role: transcript.RoleUser, Content: userText, Timestamp: c.now()}
	idx := c.transcript.Append(turn)
	c.status = StatusSubmitting
	c.publishLocked(Change{Kind: ChangeAppend, Index: idx, Turn: turn})

	req := backend.ChatRequest{Message: userText}
	if c.conversationID != "" {
		id := c.conversationID
		req.ConversationID = &id
	}
	c.mu.Unlock()
	defer cancel()

	streamCtx, span := c.tracer.Start(streamCtx, "chat.submit",
		trace.WithAttributes(attribute.Int64("chat.epoch", int64(epoch))))
	defer span.End()

	start := c.now()
	c.logger.Info("message submitted", "epoch", epoch, "conversation_id", derefOr(req.ConversationID, ""))

	stats, err := c.consume(streamCtx, epoch, req)
	switch {
	case errors.Is(err, ErrAbandoned):
		span.AddEvent("abandoned")
		c.logger.Info("stream abandoned", "epoch", epoch, "chunks", stats.chunks)
		return err
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, backend.ErrorKind(err))
		return c.fail(streamCtx, epoch, err)
	}

	elapsed := c.now().Sub(start)
	c.metrics.duration.Record(streamCtx, float64(elapsed.Milliseconds()))
	span.SetAttributes(
		attribute.Int("chat.chunks", stats.chunks),
		attribute.Int("chat.bytes", stats.bytes),
	)
	c.logger.Info("stream completed",
		"epoch", epoch,
		"chunks", stats.chunks,
		"bytes", stats.bytes,
		"duration_ms", elapsed.Milliseconds())
	return nil
}

type consumeStats struct {
	chunks int
	bytes  int
}

// consume opens the stream and applies every chunk under the submit epoch
func (c *Controller) consume(ctx context.Context, epoch uint64, req backend.ChatRequest) (consumeStats, error) {
	var stats consumeStats

	stream, err := c.transport.StreamChat(ctx, req)
	if err != nil {
		return stats, err
	}
	defer stream.Close()

	if !c.begin(epoch, stream.ConversationID()) {
		return stats, ErrAbandoned
	}

	dec := NewDecoder()
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, err
		}

		text, err := dec.Decode(chunk)
		if err != nil {
			return stats, err
		}
		if !c.apply(epoch, text) {
			return stats, ErrAbandoned
		}

		stats.chunks++
		stats.bytes += len(chunk)
		c.metrics.chunks.Add(ctx, 1)
		c.metrics.bytes.Add(ctx, int64(len(chunk)))
	}

	if err := dec.Flush(); err != nil {
		return stats, err
	}
	if !c.finish(epoch) {
		return stats, ErrAbandoned
	}
	return stats, nil
}

// begin adopts the assigned conversation id and opens the assistant turn
func (c *Controller) begin(epoch uint64, assignedID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}

	if assignedID != "" && c.conversationID == "" {
		c.conversationID = assignedID
		c.logger.Info("adopted conversation id", "conversation_id", assignedID, "epoch", epoch)
	}

	at := c.now()
	idx := c.transcript.Open(transcript.RoleAssistant, at)
	c.status = StatusStreaming
	c.publishLocked(Change{
		Kind:  ChangeAppend,
		Index: idx,
		Turn:  transcript.Turn{Role: transcript.RoleAssistant, Timestamp: at},
	})
	return true
}

// apply appends decoded text to the in-flight turn
func (c *Controller) apply(epoch uint64, text string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}

	if _, err := c.transcript.Grow(text); err != nil {
		// only reachable if the epoch check above is broken
		c.logger.Error("chunk arrived with no turn in flight", "epoch", epoch, "error", err)
		return false
	}
	c.publishLocked(Change{Kind: ChangeDelta, Index: c.transcript.Len() - 1, Delta: text})
	return true
}

// finish settles the assistant turn
func (c *Controller) finish(epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return false
	}

	c.transcript.Settle()
	c.status = StatusIdle
	c.cancel = nil
	idx := c.transcript.Len() - 1
	c.publishLocked(Change{Kind: ChangeSettle, Index: idx, Turn: c.transcript.At(idx)})
	return true
}

// fail installs ErrorReply as the assistant turn and returns the cause
func (c *Controller) fail(ctx context.Context, epoch uint64, cause error) error {
	kind := backend.ErrorKind(cause)

	c.mu.Lock()
	if c.epoch != epoch {
		c.mu.Unlock()
		c.logger.Info("stream abandoned", "epoch", epoch, "error", cause)
		return ErrAbandoned
	}

	if !c.transcript.InFlight() {
		c.transcript.Open(transcript.RoleAssistant, c.now())
	}
	if err := c.transcript.Replace(ErrorReply); err != nil {
		c.logger.Error("failed to install error reply", "error", err)
	}
	c.status = StatusIdle
	c.cancel = nil
	idx := c.transcript.Len() - 1
	c.publishLocked(Change{Kind: ChangeFail, Index: idx, Turn: c.transcript.At(idx), Err: cause})
	c.mu.Unlock()

	c.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
	c.logger.Error("failed to send message", "epoch", epoch, "kind", kind, "error", cause)
	return fmt.Errorf("send message: %w", cause)
}

// abandonLocked advances the epoch and cancels the open request without
// waiting for it to unwind
func (c *Controller) abandonLocked() {
	c.epoch++
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// publishLocked stamps and delivers a change. c.mu must be held.
func (c *Controller) publishLocked(ch Change) {
	ch.Len = c.transcript.Len()
	ch.ConversationID = c.conversationID
	ch.Status = c.status
	ch.Epoch = c.epoch
	for _, e := range c.observers {
		e.obs.TranscriptChanged(ch)
	}
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
