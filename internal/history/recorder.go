package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"SmargeChat/internal/backend"
	"SmargeChat/internal/chat"
	"SmargeChat/internal/transcript"
)

const saveTimeout = 5 * time.Second

// ErrRecorderClosed is returned by Delete after Close
var ErrRecorderClosed = errors.New("history recorder closed")

// pendingOp is a save, or a delete when result is set
type pendingOp struct {
	conversationID string
	turns          []transcript.Turn
	ctx            context.Context
	result         chan error
}

// Recorder mirrors a controller's change feed and writes every settled
// transcript to the Store on a background goroutine, so observers never
// wait on disk I/O. Deletes go through the same queue and therefore land
// after any save queued before them.
type Recorder struct {
	store  *Store
	logger *slog.Logger
	mirror *chat.Mirror
	ops    chan pendingOp
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// NewRecorder starts a recorder writing into store
func NewRecorder(store *Store, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		mirror: chat.NewMirror(),
		ops:    make(chan pendingOp, 16),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// TranscriptChanged implements chat.Observer
func (r *Recorder) TranscriptChanged(ch chat.Change) {
	r.mirror.Apply(ch)

	switch ch.Kind {
	case chat.ChangeSettle, chat.ChangeFail:
	case chat.ChangeReset:
		if len(ch.Turns) == 0 {
			return
		}
	default:
		return
	}
	if ch.ConversationID == "" {
		// nothing to key the copy on until the server assigns an id
		return
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.ops <- pendingOp{conversationID: ch.ConversationID, turns: r.mirror.Turns()}:
	default:
		r.logger.Warn("history queue full, dropping save", "conversation_id", ch.ConversationID)
	}
}

// Delete removes a conversation once every save queued before it has been
// written. A conversation that was never recorded is not an error.
func (r *Recorder) Delete(ctx context.Context, id string) error {
	op := pendingOp{conversationID: id, ctx: ctx, result: make(chan error, 1)}

	r.mu.RLock()
	if r.closed {
		r.mu.RUnlock()
		return ErrRecorderClosed
	}
	select {
	case r.ops <- op:
		r.mu.RUnlock()
	case <-ctx.Done():
		r.mu.RUnlock()
		return ctx.Err()
	}

	select {
	case err := <-op.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close flushes pending writes and stops the background goroutine
func (r *Recorder) Close() error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.ops)
	}
	r.mu.Unlock()
	<-r.done
	return nil
}

func (r *Recorder) run() {
	defer close(r.done)
	for op := range r.ops {
		if op.result != nil {
			op.result <- r.delete(op)
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		if err := r.store.SaveConversation(ctx, op.conversationID, op.turns); err != nil {
			r.logger.Error("failed to save conversation history", "conversation_id", op.conversationID, "error", err)
		}
		cancel()
	}
}

func (r *Recorder) delete(op pendingOp) error {
	err := r.store.DeleteConversation(op.ctx, op.conversationID)
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		r.logger.Error("failed to delete conversation history", "conversation_id", op.conversationID, "error", err)
		return fmt.Errorf("delete local history: %w", err)
	}
	return nil
}
