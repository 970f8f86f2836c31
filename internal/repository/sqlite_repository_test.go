package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"attune/backend/internal/model"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return NewSQLiteRepository(db), mock
}

func messageColumns() []string {
	return []string{"id", "conversation_id", "role", "content", "annotation", "created_at"}
}

func TestSQLiteGetConversation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := time.Now()
		mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?").
			WithArgs("conv-1").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
				AddRow("conv-1", "user-1", "money", now, now))

		c, err := repo.GetConversation(context.Background(), "conv-1")

		require.NoError(t, err)
		assert.Equal(t, "conv-1", c.ID)
		assert.Equal(t, "user-1", c.UserID)
		assert.Equal(t, "money", c.Title)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE id = ?").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}))

		_, err := repo.GetConversation(context.Background(), "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteListConversations(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, user_id, title, created_at, updated_at FROM conversations WHERE user_id = ?").
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "title", "created_at", "updated_at"}).
			AddRow("conv-2", "user-1", "newer", now, now).
			AddRow("conv-1", "user-1", "older", now, now))

	conversations, err := repo.ListConversations(context.Background(), "user-1")

	require.NoError(t, err)
	require.Len(t, conversations, 2)
	assert.Equal(t, "conv-2", conversations[0].ID)
	assert.Equal(t, "conv-1", conversations[1].ID)
}

func TestSQLiteUpdateConversationTitle(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversations SET title = ?").
			WithArgs("new title", sqlmock.AnyArg(), "conv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateConversationTitle(context.Background(), "conv-1", "new title"))
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE conversations SET title = ?").
			WithArgs("new title", sqlmock.AnyArg(), "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateConversationTitle(context.Background(), "missing", "new title"), ErrNotFound)
	})
}

func TestSQLiteAddMessage(t *testing.T) {
	message := &model.Message{
		ID:        "msg-1",
		Role:      model.RoleUser,
		Content:   "we argued",
		CreatedAt: time.Now(),
	}

	t.Run("inserts and touches the conversation in one transaction", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO messages").
			WithArgs("msg-1", "conv-1", "user", "we argued", nil, message.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE conversations SET updated_at = ?").
			WithArgs(sqlmock.AnyArg(), "conv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.AddMessage(context.Background(), "conv-1", message))
	})

	t.Run("serializes the annotation when present", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		annotated := *message
		annotated.Annotation = &model.Annotation{Score: 4}
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO messages").
			WithArgs("msg-1", "conv-1", "user", "we argued", `{"score":4}`, annotated.CreatedAt).
			WillReturnResult(sqlmock.NewResult(1, 1))
		mock.ExpectExec("UPDATE conversations SET updated_at = ?").
			WithArgs(sqlmock.AnyArg(), "conv-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		assert.NoError(t, repo.AddMessage(context.Background(), "conv-1", &annotated))
	})

	t.Run("rolls back when the insert fails", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectBegin()
		mock.ExpectExec("INSERT INTO messages").
			WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		assert.Error(t, repo.AddMessage(context.Background(), "conv-1", message))
	})
}

func TestSQLiteGetMessage(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		now := time.Now()
		mock.ExpectQuery("SELECT id, conversation_id, role, content, annotation, created_at").
			WithArgs("msg-1").
			WillReturnRows(sqlmock.NewRows(messageColumns()).
				AddRow("msg-1", "conv-1", "user", "hi", `{"score":3}`, now))

		msg, err := repo.GetMessage(context.Background(), "msg-1")

		require.NoError(t, err)
		assert.Equal(t, "conv-1", msg.ConversationID)
		require.NotNil(t, msg.Annotation)
		assert.Equal(t, 3, msg.Annotation.Score)
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectQuery("SELECT id, conversation_id, role, content, annotation, created_at").
			WithArgs("missing").
			WillReturnRows(sqlmock.NewRows(messageColumns()))

		_, err := repo.GetMessage(context.Background(), "missing")

		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestSQLiteGetMessages(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, conversation_id, role, content, annotation, created_at").
		WithArgs("conv-1").
		WillReturnRows(sqlmock.NewRows(messageColumns()).
			AddRow("msg-1", "conv-1", "user", "hi", `{"score":2}`, now).
			AddRow("msg-2", "conv-1", "assistant", "hello", nil, now))

	messages, err := repo.GetMessages(context.Background(), "conv-1")

	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, model.RoleUser, messages[0].Role)
	require.NotNil(t, messages[0].Annotation)
	assert.Equal(t, 2, messages[0].Annotation.Score)
	assert.Nil(t, messages[1].Annotation)
}

func TestSQLiteGetRecentMessages(t *testing.T) {
	repo, mock := newMockRepo(t)
	now := time.Now()
	mock.ExpectQuery("SELECT id, conversation_id, role, content, annotation, created_at FROM").
		WithArgs("conv-1", 10).
		WillReturnRows(sqlmock.NewRows(messageColumns()).
			AddRow("msg-8", "conv-1", "user", "older", nil, now.Add(-time.Minute)).
			AddRow("msg-9", "conv-1", "assistant", "newer", nil, now))

	messages, err := repo.GetRecentMessages(context.Background(), "conv-1", 10)

	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Equal(t, "msg-8", messages[0].ID)
	assert.Equal(t, "msg-9", messages[1].ID)
}

func TestSQLiteUpdateAnnotation(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE messages SET annotation = ?").
			WithArgs(`{"score":5}`, "msg-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, repo.UpdateAnnotation(context.Background(), "msg-1", model.Annotation{Score: 5}))
	})

	t.Run("not found", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec("UPDATE messages SET annotation = ?").
			WithArgs(`{"score":5}`, "missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.UpdateAnnotation(context.Background(), "missing", model.Annotation{Score: 5}), ErrNotFound)
	})
}
