// Package paginate walks cursor-paged remote collections in bounded chunks,
// checkpointing the cursor after every page so an interrupted run resumes
// where it stopped.
package paginate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/logging"
)

// PageSize is the limit sent with every listing request
const PageSize = 100

// FetchFunc fetches the page starting at cursor
type FetchFunc func(ctx context.Context, cursor string) (domain.Page, error)

// KeepFunc reports whether an item is a removal candidate
type KeepFunc func(ctx context.Context, item domain.Item) (bool, error)

// Request describes one collection walk
type Request struct {
	Collection domain.Collection
	Start      string
	Fetch      FetchFunc
	Keep       KeepFunc
}

// Result is the outcome of a walk
type Result struct {
	Collection domain.Collection
	Candidates []domain.Item
	Pages      int
	Seen       int
	// Cursor is the position after the last page that advanced.
	Cursor string
	// Suspended is set when the page budget stopped the walk.
	Suspended bool
	// Exhausted is set when the remote returned no further cursor.
	Exhausted bool
}

// Paginator drives page walks and persists their cursors
type Paginator struct {
	Store    domain.ResumeStore
	Retry    collector.RetryPolicy
	MaxPages int
	Logger   *slog.Logger
}

// StartCursor picks where a collection walk begins. The override only
// applies to likes; everything else resumes from saved state.
func StartCursor(collection domain.Collection, override string, state domain.ResumeState) string {
	if collection == domain.Likes && override != "" {
		return override
	}
	return state[collection]
}

// Walk fetches pages until the budget is spent or the collection is
// exhausted. The new cursor is saved before the next page is requested.
func (p *Paginator) Walk(ctx context.Context, req Request) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("collection", req.Collection)

	res := Result{Collection: req.Collection, Cursor: req.Start}
	cursor := req.Start

	for {
		if p.MaxPages > 0 && res.Pages >= p.MaxPages {
			res.Suspended = true
			logger.Info("Page budget reached, suspending", "pages", res.Pages, "cursor", cursor)
			return res, nil
		}

		page, err := collector.Attempt(ctx, p.Retry, func(ctx context.Context) (domain.Page, error) {
			return req.Fetch(ctx, cursor)
		})
		if err != nil {
			return res, fmt.Errorf("%s page at cursor %q: %w", req.Collection, cursor, err)
		}
		res.Pages++
		res.Seen += len(page.Items)

		for _, item := range page.Items {
			keep, err := req.Keep(ctx, item)
			if err != nil {
				return res, fmt.Errorf("classify %s: %w", item.URI, err)
			}
			if keep {
				res.Candidates = append(res.Candidates, item)
				logger.Log(ctx, logging.LevelTrace, "Candidate", "uri", item.URI, "created_at", item.CreatedAt)
			}
		}

		if page.Cursor == "" || page.Cursor == cursor {
			res.Exhausted = true
			logger.Debug("Collection exhausted", "pages", res.Pages, "candidates", len(res.Candidates))
			return res, nil
		}

		if err := p.Store.Save(ctx, req.Collection, page.Cursor); err != nil {
			return res, fmt.Errorf("save %s cursor: %w", req.Collection, err)
		}
		cursor = page.Cursor
		res.Cursor = cursor
		logger.Debug("New cursor", "cursor", cursor)
	}
}
