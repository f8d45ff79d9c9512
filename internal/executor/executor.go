package executor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/logging"
)

// Recorder receives the outcome of every attempted mutation
type Recorder interface {
	Record(action domain.Action, target string, err error) error
}

// Failure is one mutation that did not go through
type Failure struct {
	URI string
	Err error
}

// Report summarises a batch
type Report struct {
	Attempted int
	Succeeded int
	Failures  []Failure
}

// Executor applies removal actions one item at a time
type Executor struct {
	Remote   domain.Mutator
	Session  domain.Session
	Recorder Recorder
	Logger   *slog.Logger
}

// Execute runs every action in order. A failed item is logged and skipped;
// only context cancellation stops the batch early.
func (e *Executor) Execute(ctx context.Context, actions []domain.Action) Report {
	logger := e.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var report Report
	for _, action := range actions {
		if ctx.Err() != nil {
			logger.Warn("Batch interrupted", "remaining", len(actions)-report.Attempted)
			break
		}
		report.Attempted++

		target, err := e.apply(ctx, action)
		if e.Recorder != nil {
			if recErr := e.Recorder.Record(action, target, err); recErr != nil {
				logger.Warn("Failed to record action", "uri", action.Item.URI, "err", recErr)
			}
		}
		if err != nil {
			report.Failures = append(report.Failures, Failure{URI: action.Item.URI, Err: err})
			logger.Error("Mutation failed", "disposition", action.Disposition, "uri", action.Item.URI, "err", err)
			continue
		}
		report.Succeeded++
		logger.Log(ctx, logging.LevelTrace, "Mutation applied",
			"disposition", action.Disposition,
			"uri", action.Item.URI,
			"target", target,
			"created_at", action.Item.CreatedAt,
			"text", action.Item.Text)
	}
	return report
}

// apply dispatches one action and returns the record it removed.
func (e *Executor) apply(ctx context.Context, action domain.Action) (string, error) {
	item := action.Item
	switch action.Disposition {
	case domain.Unlike:
		if item.ViewerLike == "" {
			return "", fmt.Errorf("unlike %s: no like record", item.URI)
		}
		return item.ViewerLike, e.Remote.DeleteLike(ctx, item.ViewerLike)
	case domain.Delete:
		// Someone else's post in our feed is there through our repost.
		if item.AuthorDID != e.Session.DID {
			if item.ViewerRepost == "" {
				return "", fmt.Errorf("unrepost %s: no repost record", item.URI)
			}
			return item.ViewerRepost, e.Remote.DeleteRepost(ctx, item.ViewerRepost)
		}
		return item.URI, e.Remote.DeletePost(ctx, item.URI)
	case domain.Unrepost:
		target := item.ViewerRepost
		if target == "" {
			target = item.URI
		}
		return target, e.Remote.DeleteRepost(ctx, target)
	default:
		return "", fmt.Errorf("no mutation for disposition %q", action.Disposition)
	}
}

// Actions pairs each candidate with the same disposition
func Actions(items []domain.Item, d domain.Disposition) []domain.Action {
	actions := make([]domain.Action, 0, len(items))
	for _, it := range items {
		actions = append(actions, domain.Action{Item: it, Disposition: d})
	}
	return actions
}
