package sync_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	app_errors "attune/backend/internal/errors"
	"attune/backend/internal/model"
	"attune/backend/internal/sync"
)

// fakeStore serves canned history and backfill rows.
type fakeStore struct {
	history    []model.Message
	recent     []model.Message
	historyErr error
	recentErr  error

	historyCalls int
	recentCalls  int
}

func (s *fakeStore) History(_ context.Context, _ string) ([]model.Message, error) {
	s.historyCalls++
	return s.history, s.historyErr
}

func (s *fakeStore) Recent(_ context.Context, _ string, _ int) ([]model.Message, error) {
	s.recentCalls++
	return s.recent, s.recentErr
}

// fakeEndpoint delegates to a per-test function so tests can interleave feed
// events with the in-flight submission.
type fakeEndpoint struct {
	sendFn func(ctx context.Context, conversationID, content string) (*sync.SendResult, error)
	calls  int
}

func (e *fakeEndpoint) Send(ctx context.Context, conversationID, content string) (*sync.SendResult, error) {
	e.calls++
	return e.sendFn(ctx, conversationID, content)
}

// fakeFeed captures the engine's event callback so tests can push events
// through the real reconciliation path.
type fakeFeed struct {
	onEvent func(model.ChangeEvent)
	err     error
	subs    int
	cancels int
}

func (f *fakeFeed) Subscribe(_ context.Context, _ string, onEvent func(model.ChangeEvent)) (func(), error) {
	if f.err != nil {
		return nil, f.err
	}
	f.subs++
	f.onEvent = onEvent
	return func() { f.cancels++ }, nil
}

func (f *fakeFeed) emit(ev model.ChangeEvent) {
	f.onEvent(ev)
}

func userRow(id, conversationID, content string) model.Message {
	return model.Message{ID: id, ConversationID: conversationID, Role: model.RoleUser, Content: content}
}

func assistantRow(id, conversationID, content string) model.Message {
	return model.Message{ID: id, ConversationID: conversationID, Role: model.RoleAssistant, Content: content}
}

func ids(messages []model.Message) []string {
	out := make([]string, len(messages))
	for i, m := range messages {
		out[i] = m.ID
	}
	return out
}

func newTestEngine(store *fakeStore, endpoint *fakeEndpoint, feed *fakeFeed) *sync.Engine {
	return sync.NewEngine(store, endpoint, feed, sync.Options{Greeting: "hello you two"})
}

func TestTemporaryIDs(t *testing.T) {
	id := sync.NewTemporaryID()
	assert.True(t, sync.IsTemporaryID(id))
	assert.NotEqual(t, id, sync.NewTemporaryID())

	assert.False(t, sync.IsTemporaryID("3f1c2a9e-0000-4000-8000-000000000001"))
}

func TestEngineStart(t *testing.T) {
	t.Run("blank engine shows only the greeting", func(t *testing.T) {
		store := &fakeStore{}
		engine := newTestEngine(store, &fakeEndpoint{}, &fakeFeed{})

		require.NoError(t, engine.Start(context.Background()))

		messages := engine.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, model.RoleSystem, messages[0].Role)
		assert.Equal(t, "hello you two", messages[0].Content)
		assert.Zero(t, store.historyCalls)
	})

	t.Run("loads history and attaches the feed", func(t *testing.T) {
		store := &fakeStore{history: []model.Message{
			userRow("u-1", "conv-1", "we argued"),
			assistantRow("a-1", "conv-1", "tell me more"),
		}}
		feed := &fakeFeed{}
		engine := newTestEngine(store, &fakeEndpoint{}, feed)

		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		assert.Equal(t, []string{"greeting", "u-1", "a-1"}, ids(engine.Messages()))
		assert.Equal(t, 1, feed.subs)
		assert.Equal(t, 1, store.recentCalls)
	})

	t.Run("load failure leaves the timeline untouched", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		engine := newTestEngine(store, &fakeEndpoint{}, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		store.history = nil
		store.historyErr = errors.New("connection refused")
		err := engine.Load(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, app_errors.ErrStoreUnavailable)
		assert.Equal(t, []string{"greeting"}, ids(engine.Messages()))
	})
}

func TestEngineSubmit(t *testing.T) {
	t.Run("first submission adopts the server conversation", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, conversationID, content string) (*sync.SendResult, error) {
			assert.Empty(t, conversationID)
			assert.Equal(t, "we argued about money", content)
			return &sync.SendResult{
				ConversationID:     "conv-1",
				UserMessageID:      "u-1",
				AssistantMessageID: "a-1",
				ReplyText:          "money fights are rarely about money",
			}, nil
		}}
		engine := newTestEngine(store, endpoint, feed)

		require.NoError(t, engine.Submit(context.Background(), "we argued about money"))

		assert.Equal(t, "conv-1", engine.ConversationID())
		assert.Equal(t, []string{"greeting", "u-1", "a-1"}, ids(engine.Messages()))
		assert.Equal(t, 1, feed.subs, "feed should attach after adoption")
		assert.Equal(t, 1, store.recentCalls, "adoption should trigger a backfill sweep")
	})

	t.Run("optimistic entry is visible while the call is in flight", func(t *testing.T) {
		var engine *sync.Engine
		var inFlight []model.Message
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			inFlight = engine.Messages()
			return &sync.SendResult{ConversationID: "conv-1", UserMessageID: "u-1"}, nil
		}}
		engine = newTestEngine(&fakeStore{}, endpoint, &fakeFeed{})

		require.NoError(t, engine.Submit(context.Background(), "hello"))

		require.Len(t, inFlight, 2)
		assert.True(t, sync.IsTemporaryID(inFlight[1].ID))
		assert.Equal(t, "hello", inFlight[1].Content)
	})

	t.Run("upgrade preserves the entry position", func(t *testing.T) {
		store := &fakeStore{history: []model.Message{
			userRow("u-1", "conv-1", "first"),
			assistantRow("a-1", "conv-1", "go on"),
		}}
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			return &sync.SendResult{
				ConversationID:     "conv-1",
				UserMessageID:      "u-2",
				AssistantMessageID: "a-2",
				ReplyText:          "and how did that feel",
			}, nil
		}}
		engine := newTestEngine(store, endpoint, &fakeFeed{})
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.Submit(context.Background(), "second"))

		assert.Equal(t, []string{"greeting", "u-1", "a-1", "u-2", "a-2"}, ids(engine.Messages()))
	})

	t.Run("endpoint failure keeps the entry and appends a local notice", func(t *testing.T) {
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			return nil, errors.New("boom")
		}}
		engine := newTestEngine(&fakeStore{}, endpoint, &fakeFeed{})

		err := engine.Submit(context.Background(), "are you there")

		require.Error(t, err)
		assert.ErrorIs(t, err, app_errors.ErrEndpoint)
		messages := engine.Messages()
		require.Len(t, messages, 3)
		assert.True(t, sync.IsTemporaryID(messages[1].ID), "optimistic entry is never rolled back")
		assert.Equal(t, "are you there", messages[1].Content)
		assert.Equal(t, model.RoleAssistant, messages[2].Role)
		assert.True(t, sync.IsTemporaryID(messages[2].ID), "failure notice is local-only")
	})

	t.Run("partial success upgrades the user entry and appends a notice", func(t *testing.T) {
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			return &sync.SendResult{
				ConversationID: "conv-1",
				UserMessageID:  "u-1",
				ReplyError:     "the counselor could not respond",
			}, nil
		}}
		engine := newTestEngine(&fakeStore{}, endpoint, &fakeFeed{})

		require.NoError(t, engine.Submit(context.Background(), "hello"))

		messages := engine.Messages()
		require.Len(t, messages, 3)
		assert.Equal(t, "u-1", messages[1].ID, "user entry upgrades even without a reply")
		assert.Equal(t, model.RoleAssistant, messages[2].Role)
		assert.True(t, sync.IsTemporaryID(messages[2].ID))
	})

	t.Run("feed insert winning the race leaves no duplicate", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		var engine *sync.Engine
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, content string) (*sync.SendResult, error) {
			// The change feed delivers the durable row before the submission
			// response makes it back.
			feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-2", "conv-1", content)})
			return &sync.SendResult{
				ConversationID:     "conv-1",
				UserMessageID:      "u-2",
				AssistantMessageID: "a-2",
				ReplyText:          "mm",
			}, nil
		}}
		engine = newTestEngine(store, endpoint, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.Submit(context.Background(), "hello"))

		assert.Equal(t, []string{"greeting", "u-2", "a-2"}, ids(engine.Messages()))
	})

	t.Run("identical submissions in flight never duplicate a durable id", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		firstEntered := make(chan struct{})
		release := make(chan struct{})
		var calls int
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			calls++
			if calls == 1 {
				close(firstEntered)
				<-release
				return &sync.SendResult{
					ConversationID:     "conv-1",
					UserMessageID:      "u-1",
					AssistantMessageID: "a-1",
					ReplyText:          "mm",
				}, nil
			}
			// The second identical submission fails, so its optimistic entry
			// keeps its temporary id.
			return nil, errors.New("down")
		}}
		engine := newTestEngine(store, endpoint, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		done := make(chan error, 1)
		go func() { done <- engine.Submit(context.Background(), "sorry") }()
		<-firstEntered

		// A second identical submission and the feed insert for the first
		// durable row both land while the first call is still in flight. The
		// insert upgrades the newest matching optimistic entry, which is the
		// second one.
		require.Error(t, engine.Submit(context.Background(), "sorry"))
		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-1", "conv-1", "sorry")})
		close(release)
		require.NoError(t, <-done)

		var durable int
		for _, m := range engine.Messages() {
			if m.ID == "u-1" {
				durable++
			}
		}
		assert.Equal(t, 1, durable, "a durable id must appear at most once")
		assert.Equal(t, "u-1", engine.Messages()[1].ID, "the surviving entry keeps the upgraded position")
	})

	t.Run("switching conversations fences the in-flight completion", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		var engine *sync.Engine
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			require.NoError(t, engine.SwitchConversation(context.Background(), "conv-2"))
			return &sync.SendResult{ConversationID: "conv-1", UserMessageID: "u-1", AssistantMessageID: "a-1", ReplyText: "mm"}, nil
		}}
		engine = newTestEngine(store, endpoint, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.Submit(context.Background(), "hello"))

		assert.Equal(t, "conv-2", engine.ConversationID())
		assert.Equal(t, []string{"greeting"}, ids(engine.Messages()), "stale completion must not touch the new timeline")
	})
}

func TestEngineFeedEvents(t *testing.T) {
	setup := func(t *testing.T, history []model.Message) (*sync.Engine, *fakeFeed) {
		t.Helper()
		feed := &fakeFeed{}
		engine := newTestEngine(&fakeStore{history: history}, &fakeEndpoint{}, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))
		return engine, feed
	}

	t.Run("insert appends in arrival order", func(t *testing.T) {
		engine, feed := setup(t, nil)

		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-1", "conv-1", "hi")})
		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: assistantRow("a-1", "conv-1", "hello")})

		assert.Equal(t, []string{"greeting", "u-1", "a-1"}, ids(engine.Messages()))
	})

	t.Run("duplicate insert delivery is ignored", func(t *testing.T) {
		engine, feed := setup(t, nil)
		row := userRow("u-1", "conv-1", "hi")

		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: row})
		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: row})

		assert.Equal(t, []string{"greeting", "u-1"}, ids(engine.Messages()))
	})

	t.Run("events for other conversations are discarded", func(t *testing.T) {
		engine, feed := setup(t, nil)

		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-9", "conv-9", "wrong room")})

		assert.Equal(t, []string{"greeting"}, ids(engine.Messages()))
	})

	t.Run("repeated content upgrades the most recent optimistic entry", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		var firstID string
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			// Leave the entry temporary so two identical optimistic entries
			// coexist when the feed row for the second one arrives.
			return nil, errors.New("down")
		}}
		engine := newTestEngine(store, endpoint, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))
		require.Error(t, engine.Submit(context.Background(), "sorry"))
		require.Error(t, engine.Submit(context.Background(), "sorry"))
		firstID = engine.Messages()[1].ID

		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-2", "conv-1", "sorry")})

		messages := engine.Messages()
		assert.Equal(t, firstID, messages[1].ID, "the older optimistic entry is left alone")
		assert.Equal(t, "u-2", messages[3].ID, "the newest match takes the durable id")
	})

	t.Run("annotation update lands by durable id", func(t *testing.T) {
		engine, feed := setup(t, []model.Message{userRow("u-1", "conv-1", "hi")})
		row := userRow("u-1", "conv-1", "hi")
		row.Annotation = &model.Annotation{Score: 4}

		feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})

		require.NotNil(t, engine.Messages()[1].Annotation)
		assert.Equal(t, 4, engine.Messages()[1].Annotation.Score)
	})

	t.Run("annotation update is idempotent", func(t *testing.T) {
		engine, feed := setup(t, []model.Message{userRow("u-1", "conv-1", "hi")})
		row := userRow("u-1", "conv-1", "hi")
		row.Annotation = &model.Annotation{Score: 2}

		feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})
		feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})

		assert.Equal(t, 2, engine.Messages()[1].Annotation.Score)
		assert.Zero(t, engine.PendingAnnotations())
	})

	t.Run("update beating the id swap falls back to content", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, content string) (*sync.SendResult, error) {
			// Analysis finished before the submission response: the update
			// arrives while the timeline entry still has its temporary id.
			row := userRow("u-1", "conv-1", content)
			row.Annotation = &model.Annotation{Score: 5}
			feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})
			return &sync.SendResult{ConversationID: "conv-1", UserMessageID: "u-1"}, nil
		}}
		engine := newTestEngine(store, endpoint, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.Submit(context.Background(), "you never listen"))

		messages := engine.Messages()
		assert.Equal(t, "u-1", messages[1].ID)
		require.NotNil(t, messages[1].Annotation)
		assert.Equal(t, 5, messages[1].Annotation.Score)
		assert.Zero(t, engine.PendingAnnotations())
	})

	t.Run("update for an unknown row queues and flushes exactly once", func(t *testing.T) {
		engine, feed := setup(t, nil)
		row := userRow("u-1", "conv-1", "hi")
		row.Annotation = &model.Annotation{Score: 3}

		feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})
		assert.Equal(t, 1, engine.PendingAnnotations())

		feed.emit(model.ChangeEvent{Kind: model.EventInsert, Row: userRow("u-1", "conv-1", "hi")})

		messages := engine.Messages()
		require.NotNil(t, messages[1].Annotation)
		assert.Equal(t, 3, messages[1].Annotation.Score)
		assert.Zero(t, engine.PendingAnnotations())
	})
}

func TestEngineBackfill(t *testing.T) {
	t.Run("appends unseen rows without reordering", func(t *testing.T) {
		store := &fakeStore{history: []model.Message{userRow("u-1", "conv-1", "hi")}}
		engine := newTestEngine(store, &fakeEndpoint{}, &fakeFeed{})
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		store.recent = []model.Message{
			userRow("u-1", "conv-1", "hi"),
			assistantRow("a-1", "conv-1", "hello"),
		}
		require.NoError(t, engine.Backfill(context.Background()))

		assert.Equal(t, []string{"greeting", "u-1", "a-1"}, ids(engine.Messages()))
	})

	t.Run("upgrades an optimistic entry it finds", func(t *testing.T) {
		store := &fakeStore{}
		endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
			return nil, errors.New("down")
		}}
		engine := newTestEngine(store, endpoint, &fakeFeed{})
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))
		require.Error(t, engine.Submit(context.Background(), "hi"))

		store.recent = []model.Message{userRow("u-1", "conv-1", "hi")}
		require.NoError(t, engine.Backfill(context.Background()))

		assert.Equal(t, "u-1", engine.Messages()[1].ID)
	})

	t.Run("store failure is reported", func(t *testing.T) {
		store := &fakeStore{}
		engine := newTestEngine(store, &fakeEndpoint{}, &fakeFeed{})
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		store.recentErr = errors.New("down")
		err := engine.Backfill(context.Background())

		require.Error(t, err)
		assert.ErrorIs(t, err, app_errors.ErrStoreUnavailable)
	})
}

func TestEngineSwitchConversation(t *testing.T) {
	t.Run("tears down the old subscription and resets state", func(t *testing.T) {
		store := &fakeStore{history: []model.Message{userRow("u-1", "conv-1", "hi")}}
		feed := &fakeFeed{}
		engine := newTestEngine(store, &fakeEndpoint{}, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		// Queue an annotation that must not survive the switch.
		row := userRow("u-9", "conv-1", "gone")
		row.Annotation = &model.Annotation{Score: 1}
		feed.emit(model.ChangeEvent{Kind: model.EventUpdate, Row: row})
		require.Equal(t, 1, engine.PendingAnnotations())

		store.history = []model.Message{userRow("u-2", "conv-2", "other")}
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-2"))

		assert.Equal(t, 1, feed.cancels)
		assert.Equal(t, 2, feed.subs)
		assert.Equal(t, []string{"greeting", "u-2"}, ids(engine.Messages()))
		assert.Zero(t, engine.PendingAnnotations())
	})

	t.Run("switching to the active conversation is a no-op", func(t *testing.T) {
		store := &fakeStore{}
		feed := &fakeFeed{}
		engine := newTestEngine(store, &fakeEndpoint{}, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		assert.Equal(t, 1, feed.subs)
		assert.Zero(t, feed.cancels)
	})

	t.Run("empty id resets to the blank state", func(t *testing.T) {
		store := &fakeStore{history: []model.Message{userRow("u-1", "conv-1", "hi")}}
		feed := &fakeFeed{}
		engine := newTestEngine(store, &fakeEndpoint{}, feed)
		require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

		require.NoError(t, engine.SwitchConversation(context.Background(), ""))

		assert.Empty(t, engine.ConversationID())
		assert.Equal(t, []string{"greeting"}, ids(engine.Messages()))
		assert.Equal(t, 1, feed.cancels)
	})
}

func TestEngineClose(t *testing.T) {
	feed := &fakeFeed{}
	engine := newTestEngine(&fakeStore{}, &fakeEndpoint{}, feed)
	require.NoError(t, engine.SwitchConversation(context.Background(), "conv-1"))

	engine.Close()
	engine.Close()

	assert.Equal(t, 1, feed.cancels)
}

func TestEngineOnChange(t *testing.T) {
	var snapshots [][]model.Message
	endpoint := &fakeEndpoint{sendFn: func(_ context.Context, _, _ string) (*sync.SendResult, error) {
		return &sync.SendResult{ConversationID: "conv-1", UserMessageID: "u-1", AssistantMessageID: "a-1", ReplyText: "mm"}, nil
	}}
	engine := sync.NewEngine(&fakeStore{}, endpoint, &fakeFeed{}, sync.Options{
		Greeting: "hi",
		OnChange: func(messages []model.Message) { snapshots = append(snapshots, messages) },
	})

	require.NoError(t, engine.Submit(context.Background(), "hello"))

	// Once for the optimistic append, once for the reconciled response.
	require.Len(t, snapshots, 2)
	assert.Len(t, snapshots[0], 2)
	assert.Equal(t, []string{"greeting", "u-1", "a-1"}, ids(snapshots[1]))
}
