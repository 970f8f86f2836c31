// Package sync holds the client-resident reconciliation engine. It owns the
// one authoritative ordered timeline for the active conversation and merges
// three independent delivery paths for the same underlying rows: the initial
// history load, the synchronous submission response, and the asynchronous
// change feed. The feed is at-least-once, so the same logical event can
// arrive twice; every mutation here is duplicate-guarded by durable id.
package sync

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lithammer/shortuuid/v4"

	app_errors "attune/backend/internal/errors"
	"attune/backend/internal/model"
)

// DefaultBackfillLimit is how many recent store rows a defensive backfill
// sweep re-reads.
const DefaultBackfillLimit = 10

// failureReply is the locally synthesized assistant entry shown when an
// exchange fails. It is never persisted.
const failureReply = "I couldn't reach your counselor just now. Your message was kept - please try again."

// Store is the read side of the message store.
type Store interface {
	// History returns the full ordered history of a conversation.
	History(ctx context.Context, conversationID string) ([]model.Message, error)
	// Recent returns the newest limit messages in ascending time order.
	Recent(ctx context.Context, conversationID string, limit int) ([]model.Message, error)
}

// Endpoint is the submission collaborator. An empty conversationID asks the
// server to create one.
type Endpoint interface {
	Send(ctx context.Context, conversationID, content string) (*SendResult, error)
}

// Feed delivers change events for one conversation. The returned cancel
// function must be idempotent.
type Feed interface {
	Subscribe(ctx context.Context, conversationID string, onEvent func(model.ChangeEvent)) (func(), error)
}

// SendResult mirrors the submission endpoint response. ReplyError marks
// partial success: the user message is durable but no reply was generated.
type SendResult struct {
	ConversationID     string `json:"conversation_id"`
	UserMessageID      string `json:"user_message_id"`
	AssistantMessageID string `json:"assistant_message_id,omitempty"`
	ReplyText          string `json:"reply_text,omitempty"`
	ReplyError         string `json:"reply_error,omitempty"`
}

// Options tune an Engine.
type Options struct {
	// Greeting is the pinned local-only system entry shown at the top of
	// every timeline. Never persisted or synced.
	Greeting string
	// BackfillLimit overrides DefaultBackfillLimit when positive.
	BackfillLimit int
	// OnChange, if set, is invoked with a snapshot of the timeline after
	// every visible mutation. It runs on the engine's mutation path and
	// must not call back into the engine.
	OnChange func(messages []model.Message)
}

// Engine reconciles the timeline of the active conversation. All list
// mutations happen under one mutex, which renders the single-threaded
// cooperative model of the original client: suspension points (the Load,
// Send and Recent round trips) release the lock and re-validate the
// conversation generation before touching state again.
type Engine struct {
	store    Store
	endpoint Endpoint
	feed     Feed
	opts     Options

	mu             sync.Mutex
	conversationID string
	// generation increments on every conversation switch; in-flight
	// completions from a previous conversation compare it and discard
	// themselves instead of mutating the new timeline.
	generation  uint64
	messages    []model.Message
	pending     map[string]model.Annotation
	unsubscribe func()
}

func NewEngine(store Store, endpoint Endpoint, feed Feed, opts Options) *Engine {
	if opts.BackfillLimit <= 0 {
		opts.BackfillLimit = DefaultBackfillLimit
	}
	e := &Engine{
		store:    store,
		endpoint: endpoint,
		feed:     feed,
		opts:     opts,
		pending:  make(map[string]model.Annotation),
	}
	e.messages = []model.Message{e.greetingEntry()}
	return e
}

// NewTemporaryID returns a client-assigned placeholder id. shortuuid encodes
// in base57, which never contains the '-' separator, while every durable id
// is a UUID that always does; the two id spaces stay structurally distinct.
func NewTemporaryID() string {
	return shortuuid.New()
}

// IsTemporaryID reports whether an id is a client-assigned placeholder.
func IsTemporaryID(id string) bool {
	return !strings.Contains(id, "-")
}

// ConversationID returns the active conversation id, empty until the first
// submission creates one.
func (e *Engine) ConversationID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conversationID
}

// Messages returns a snapshot of the timeline.
func (e *Engine) Messages() []model.Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

// PendingAnnotations reports how many annotations are queued waiting for
// their target message. Nonzero values indicate reconciliation misses.
func (e *Engine) PendingAnnotations() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

// Start loads history, attaches the change feed and runs one backfill sweep
// to cover events emitted between the load and the subscription going live.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Load(ctx); err != nil {
		return err
	}
	if err := e.attachFeed(ctx); err != nil {
		return err
	}
	return e.Backfill(ctx)
}

// Load replaces the timeline wholesale with the store's ordered history,
// keeping the pinned greeting on top. Idempotent. On failure the prior
// timeline is left untouched.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	conversationID := e.conversationID
	gen := e.generation
	e.mu.Unlock()

	if conversationID == "" {
		// Nothing durable yet; the timeline is just the greeting.
		return nil
	}

	history, err := e.store.History(ctx, conversationID)
	if err != nil {
		return fmt.Errorf("%w: %v", app_errors.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}

	list := make([]model.Message, 0, len(history)+1)
	list = append(list, e.greetingEntry())
	list = append(list, history...)
	e.messages = list
	for i := range e.messages {
		e.flushPendingLocked(i)
	}
	e.notifyLocked()
	return nil
}

// Submit appends the content optimistically under a temporary id, calls the
// submission endpoint and reconciles its response. The optimistic entry is
// never rolled back: on failure a synthesized assistant entry is appended
// after it instead.
func (e *Engine) Submit(ctx context.Context, content string) error {
	e.mu.Lock()
	gen := e.generation
	conversationID := e.conversationID
	tempID := NewTemporaryID()
	e.messages = append(e.messages, model.Message{
		ID:        tempID,
		Role:      model.RoleUser,
		Content:   content,
		CreatedAt: time.Now(),
	})
	e.notifyLocked()
	e.mu.Unlock()

	// Suspension point: the UI renders the optimistic entry while this call
	// is in flight.
	result, err := e.endpoint.Send(ctx, conversationID, content)

	e.mu.Lock()
	if e.generation != gen {
		// The active conversation changed while the call was in flight.
		e.mu.Unlock()
		return nil
	}

	if err != nil {
		e.appendFailureLocked()
		e.notifyLocked()
		e.mu.Unlock()
		return fmt.Errorf("%w: %v", app_errors.ErrEndpoint, err)
	}

	// Upgrade the optimistic entry in place, matched by the temporary id we
	// just assigned (not by content). The position never changes. If the
	// change feed already upgraded it, the entry is gone from the temporary
	// id space and there is nothing to do.
	if i := e.indexLocked(tempID); i >= 0 {
		if e.indexLocked(result.UserMessageID) >= 0 {
			// The durable row is already displayed: with identical
			// submissions in flight, the feed insert can upgrade a different
			// optimistic entry than this response resolves to. Stamping the
			// id again would show the same row twice, so drop this entry.
			e.messages = append(e.messages[:i], e.messages[i+1:]...)
		} else {
			e.messages[i].ID = result.UserMessageID
			e.flushPendingLocked(i)
		}
	}

	adopted := false
	if e.conversationID == "" && result.ConversationID != "" {
		e.conversationID = result.ConversationID
		adopted = true
	}

	if result.ReplyError != "" {
		// Partial success: the user message is durable, the reply is not.
		e.appendFailureLocked()
	} else if result.AssistantMessageID != "" && e.indexLocked(result.AssistantMessageID) < 0 {
		// Duplicate guard: the change feed may have delivered the reply first.
		e.messages = append(e.messages, model.Message{
			ID:        result.AssistantMessageID,
			Role:      model.RoleAssistant,
			Content:   result.ReplyText,
			CreatedAt: time.Now(),
		})
	}
	e.notifyLocked()
	e.mu.Unlock()

	if adopted {
		// The conversation now exists server-side; attach the feed and sweep
		// for anything emitted before the subscription was live.
		if err := e.attachFeed(ctx); err != nil {
			return err
		}
		return e.Backfill(ctx)
	}
	return nil
}

// Backfill re-reads the newest store rows and funnels any unseen ones
// through the same insert path the change feed uses, so ordering and
// duplicate guarantees hold either way. Existing entries are never reordered.
func (e *Engine) Backfill(ctx context.Context) error {
	e.mu.Lock()
	conversationID := e.conversationID
	gen := e.generation
	limit := e.opts.BackfillLimit
	e.mu.Unlock()

	if conversationID == "" {
		return nil
	}

	recent, err := e.store.Recent(ctx, conversationID, limit)
	if err != nil {
		return fmt.Errorf("%w: %v", app_errors.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen {
		return nil
	}
	for _, row := range recent {
		e.applyInsertLocked(row)
	}
	return nil
}

// SwitchConversation makes another conversation active: the previous feed
// subscription is torn down first, the timeline and the pending-annotation
// table are discarded wholesale, and stale in-flight completions are fenced
// off by the generation bump. An empty id resets to the blank state.
func (e *Engine) SwitchConversation(ctx context.Context, conversationID string) error {
	e.mu.Lock()
	if e.conversationID == conversationID {
		e.mu.Unlock()
		return nil
	}
	e.generation++
	e.conversationID = conversationID
	e.messages = []model.Message{e.greetingEntry()}
	e.pending = make(map[string]model.Annotation)
	old := e.unsubscribe
	e.unsubscribe = nil
	e.notifyLocked()
	e.mu.Unlock()

	if old != nil {
		old()
	}
	if conversationID == "" {
		return nil
	}
	return e.Start(ctx)
}

// Close detaches the feed and fences off in-flight completions.
func (e *Engine) Close() {
	e.mu.Lock()
	e.generation++
	old := e.unsubscribe
	e.unsubscribe = nil
	e.pending = make(map[string]model.Annotation)
	e.mu.Unlock()

	if old != nil {
		old()
	}
}

// attachFeed tears down any previous subscription and subscribes to the
// active conversation's change feed.
func (e *Engine) attachFeed(ctx context.Context) error {
	e.mu.Lock()
	conversationID := e.conversationID
	old := e.unsubscribe
	e.unsubscribe = nil
	e.mu.Unlock()

	if old != nil {
		old()
	}
	if e.feed == nil || conversationID == "" {
		return nil
	}

	cancel, err := e.feed.Subscribe(ctx, conversationID, e.handleEvent)
	if err != nil {
		return fmt.Errorf("%w: %v", app_errors.ErrStoreUnavailable, err)
	}

	e.mu.Lock()
	if conversationID != e.conversationID {
		// Switched while subscribing; this subscription is already stale.
		e.mu.Unlock()
		cancel()
		return nil
	}
	e.unsubscribe = cancel
	e.mu.Unlock()
	return nil
}

// handleEvent is the change-feed entry point.
func (e *Engine) handleEvent(event model.ChangeEvent) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Events for rows outside the active conversation are discarded.
	if e.conversationID == "" || event.Row.ConversationID != e.conversationID {
		return
	}

	switch event.Kind {
	case model.EventInsert:
		e.applyInsertLocked(event.Row)
	case model.EventUpdate:
		e.applyUpdateLocked(event.Row)
	}
}

// applyInsertLocked reconciles one inserted row into the timeline.
func (e *Engine) applyInsertLocked(row model.Message) {
	if e.indexLocked(row.ID) >= 0 {
		// Duplicate delivery.
		return
	}

	if row.Role == model.RoleUser {
		// Bridge the temporary-id window: upgrade the most recent optimistic
		// entry with identical content, scanning from the end (last match
		// wins among ties). Best effort when the user repeats themselves;
		// the position of the upgraded entry is preserved.
		for i := len(e.messages) - 1; i >= 0; i-- {
			m := &e.messages[i]
			if IsTemporaryID(m.ID) && m.Role == model.RoleUser && m.Content == row.Content {
				m.ID = row.ID
				if row.Annotation != nil {
					m.Annotation = row.Annotation
				}
				e.flushPendingLocked(i)
				e.notifyLocked()
				return
			}
		}
	}

	e.messages = append(e.messages, row)
	e.flushPendingLocked(len(e.messages) - 1)
	e.notifyLocked()
}

// applyUpdateLocked reconciles an annotation update. Last write wins; at
// most one analysis pass happens per message, so no versioning is needed.
func (e *Engine) applyUpdateLocked(row model.Message) {
	if i := e.indexLocked(row.ID); i >= 0 {
		e.messages[i].Annotation = row.Annotation
		e.notifyLocked()
		return
	}

	// The id-swap from temporary to durable may not have happened yet: fall
	// back to the most recent content-identical user message that has no
	// annotation.
	for i := len(e.messages) - 1; i >= 0; i-- {
		m := &e.messages[i]
		if m.Role == model.RoleUser && m.Content == row.Content && m.Annotation == nil {
			m.Annotation = row.Annotation
			e.notifyLocked()
			return
		}
	}

	// Reconciliation miss: queue silently until the row becomes known.
	if row.Annotation != nil {
		e.pending[row.ID] = *row.Annotation
	}
}

// flushPendingLocked applies a queued annotation to the message at index i
// if one is waiting under its (durable) id, and consumes the queue entry.
func (e *Engine) flushPendingLocked(i int) {
	annotation, ok := e.pending[e.messages[i].ID]
	if !ok {
		return
	}
	a := annotation
	e.messages[i].Annotation = &a
	delete(e.pending, e.messages[i].ID)
}

func (e *Engine) indexLocked(id string) int {
	for i := range e.messages {
		if e.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (e *Engine) appendFailureLocked() {
	e.messages = append(e.messages, model.Message{
		ID:        NewTemporaryID(),
		Role:      model.RoleAssistant,
		Content:   failureReply,
		CreatedAt: time.Now(),
	})
}

func (e *Engine) greetingEntry() model.Message {
	return model.Message{
		ID:      "greeting",
		Role:    model.RoleSystem,
		Content: e.opts.Greeting,
	}
}

func (e *Engine) snapshotLocked() []model.Message {
	snapshot := make([]model.Message, len(e.messages))
	copy(snapshot, e.messages)
	return snapshot
}

func (e *Engine) notifyLocked() {
	if e.opts.OnChange != nil {
		e.opts.OnChange(e.snapshotLocked())
	}
}
