// Package analysis attaches tension scores to user messages after the fact.
// The score is computed asynchronously so it never delays the exchange; it
// reaches clients as a change-feed update event, not as part of the
// submission response.
package analysis

import (
	"context"
	"log/slog"
	"time"

	"attune/backend/internal/feed"
	"attune/backend/internal/llm"
	"attune/backend/internal/model"
	"attune/backend/internal/repository"
)

const analyzeTimeout = 30 * time.Second

type Analyzer struct {
	repo   repository.Repository
	llm    llm.Provider
	broker *feed.Broker
}

func NewAnalyzer(repo repository.Repository, provider llm.Provider, broker *feed.Broker) *Analyzer {
	return &Analyzer{repo: repo, llm: provider, broker: broker}
}

// Analyze scores one stored user message, persists the annotation and
// publishes the update event. The caller passes the model from its current
// settings read, so a runtime settings change takes effect on the next
// message. It is intended to run in its own goroutine with a
// background-derived context, detached from the request that created the
// message. Failures are logged and dropped; there is no retry.
func (a *Analyzer) Analyze(messageID, modelName string) {
	ctx, cancel := context.WithTimeout(context.Background(), analyzeTimeout)
	defer cancel()

	// Re-read the stored row: the conversation may have been deleted while
	// this goroutine was queued, and the published row must reflect the
	// store, not the submitter's copy.
	message, err := a.repo.GetMessage(ctx, messageID)
	if err != nil {
		slog.Warn("Skipping analysis, message not readable", "message_id", messageID, "error", err)
		return
	}

	score, err := a.llm.Score(ctx, modelName, message.Content)
	if err != nil {
		slog.Warn("Message analysis failed", "message_id", message.ID, "error", err)
		return
	}

	annotation := model.Annotation{Score: score}
	if err := a.repo.UpdateAnnotation(ctx, message.ID, annotation); err != nil {
		slog.Warn("Could not persist annotation", "message_id", message.ID, "error", err)
		return
	}

	row := *message
	row.Annotation = &annotation
	a.broker.Publish(model.ChangeEvent{Kind: model.EventUpdate, Row: row})

	slog.Debug("Annotated message", "message_id", message.ID, "score", score)
}
