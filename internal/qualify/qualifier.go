// Package qualify decides what happens to each item the sweeper walks.
//
// Predicates are evaluated on a Classified wrapper around the fetched item;
// the item itself is never modified.
package qualify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/logging"
)

// LikersPageSize is the page size used when walking an item's likers
const LikersPageSize = 100

// LikersLister lists the actors who liked an item
type LikersLister interface {
	ListLikers(ctx context.Context, uri, cursor string, limit int) (domain.LikersPage, error)
}

// Classified is an item seen from the acting account
type Classified struct {
	Item    domain.Item
	Session domain.Session

	likers LikersLister
	retry  collector.RetryPolicy
	logger *slog.Logger
}

// IsViral reports whether the repost count reached the threshold
func (c Classified) IsViral(p domain.Policy) bool {
	if p.ViralThreshold == 0 {
		return false
	}
	return c.Item.RepostCount >= p.ViralThreshold
}

// IsStale reports whether the item is at least StaleDays old
func (c Classified) IsStale(p domain.Policy) (bool, error) {
	return olderThan(c.Item, p.StaleDays, p.Now)
}

// IsProtectedDomain reports whether the item links to a protected domain.
// Matching is a case-insensitive substring test on the link.
func (c Classified) IsProtectedDomain(p domain.Policy) bool {
	if c.Item.ExternalURI == "" {
		return false
	}
	link := strings.ToLower(c.Item.ExternalURI)
	for _, d := range p.ProtectedDomains {
		if d != "" && strings.Contains(link, strings.ToLower(d)) {
			return true
		}
	}
	return false
}

// IsSelfLiked reports whether the acting account wrote the item and likes it.
// Likers are paged until the account is found or the listing ends.
func (c Classified) IsSelfLiked(ctx context.Context) (bool, error) {
	if c.Item.AuthorDID != c.Session.DID {
		return false, nil
	}

	cursor := ""
	for {
		page, err := collector.Attempt(ctx, c.retry, func(ctx context.Context) (domain.LikersPage, error) {
			return c.likers.ListLikers(ctx, c.Item.URI, cursor, LikersPageSize)
		})
		if err != nil {
			return false, fmt.Errorf("likers of %s: %w", c.Item.URI, err)
		}
		for _, actor := range page.Actors {
			if actor == c.Session.DID {
				return true, nil
			}
		}
		if page.Cursor == "" || page.Cursor == cursor {
			return false, nil
		}
		cursor = page.Cursor
		if c.logger != nil {
			c.logger.Log(ctx, logging.LevelTrace, "Likers cursor", "uri", c.Item.URI, "cursor", cursor)
		}
	}
}

func olderThan(item domain.Item, days int, now time.Time) (bool, error) {
	if days == 0 {
		return false, nil
	}
	created, err := item.Created()
	if err != nil {
		return false, err
	}
	return !created.After(now.Add(-time.Duration(days) * 24 * time.Hour)), nil
}

// Qualifier binds the run's policy and session to the predicates
type Qualifier struct {
	Policy  domain.Policy
	Session domain.Session
	Likers  LikersLister
	Retry   collector.RetryPolicy
	Logger  *slog.Logger
}

// Classify wraps item for predicate evaluation
func (q *Qualifier) Classify(item domain.Item) Classified {
	return Classified{
		Item:    item,
		Session: q.Session,
		likers:  q.Likers,
		retry:   q.Retry,
		logger:  q.Logger,
	}
}

// ToDelete selects own posts (and reposts in the feed) that are viral or
// stale, unless they link to a protected domain or were liked by their author.
func (q *Qualifier) ToDelete(ctx context.Context, item domain.Item) (bool, error) {
	c := q.Classify(item)
	stale, err := c.IsStale(q.Policy)
	if err != nil {
		return false, err
	}
	if !c.IsViral(q.Policy) && !stale {
		return false, nil
	}
	if c.IsProtectedDomain(q.Policy) {
		return false, nil
	}
	selfLiked, err := c.IsSelfLiked(ctx)
	if err != nil {
		return false, err
	}
	return !selfLiked, nil
}

// ToUnlike selects stale likes, unless the liked item is the account's own.
func (q *Qualifier) ToUnlike(ctx context.Context, item domain.Item) (bool, error) {
	c := q.Classify(item)
	stale, err := c.IsStale(q.Policy)
	if err != nil || !stale {
		return false, err
	}
	selfLiked, err := c.IsSelfLiked(ctx)
	if err != nil {
		return false, err
	}
	return !selfLiked, nil
}

// ToUnrepost selects repost records older than StaleBoostDays.
func (q *Qualifier) ToUnrepost(ctx context.Context, item domain.Item) (bool, error) {
	return olderThan(item, q.Policy.StaleBoostDays, q.Policy.Now)
}

// For returns the predicate and disposition used for collection
func (q *Qualifier) For(collection domain.Collection) (func(context.Context, domain.Item) (bool, error), domain.Disposition) {
	switch collection {
	case domain.Likes:
		return q.ToUnlike, domain.Unlike
	case domain.Reposts:
		return q.ToUnrepost, domain.Unrepost
	default:
		return q.ToDelete, domain.Delete
	}
}
