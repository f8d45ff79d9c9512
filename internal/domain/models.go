package domain

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidTimestamp is returned when an item's creation time cannot be read.
var ErrInvalidTimestamp = errors.New("invalid item timestamp")

// Collection names one of the remote listings walked by the sweeper
type Collection string

const (
	Likes   Collection = "likes"
	Posts   Collection = "posts"
	Reposts Collection = "reposts"
)

// Collections in the order a run walks them
var Collections = []Collection{Likes, Posts, Reposts}

// Item is a read-only snapshot of a post, liked post, or repost record
type Item struct {
	URI          string `json:"uri"`
	CID          string `json:"cid"`
	AuthorDID    string `json:"author_did"`
	AuthorHandle string `json:"author_handle"`
	Text         string `json:"text,omitempty"`
	CreatedAt    string `json:"created_at"`
	RepostCount  int    `json:"repost_count"`
	LikeCount    int    `json:"like_count"`
	ExternalURI  string `json:"external_uri,omitempty"`

	// ViewerLike and ViewerRepost are the acting account's own like/repost
	// records pointing at this item, if any.
	ViewerLike   string `json:"viewer_like,omitempty"`
	ViewerRepost string `json:"viewer_repost,omitempty"`
	// SubjectURI is set on repost records and names the reposted post.
	SubjectURI string `json:"subject_uri,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05.999999999Z0700",
}

// Created parses CreatedAt. Timestamps without a zone are read as UTC.
func (i Item) Created() (time.Time, error) {
	raw := strings.TrimSpace(i.CreatedAt)
	if raw == "" {
		return time.Time{}, fmt.Errorf("%w: %s has no createdAt", ErrInvalidTimestamp, i.URI)
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %s has createdAt %q", ErrInvalidTimestamp, i.URI, raw)
}

// Page is one bounded chunk of a remote listing
type Page struct {
	Items  []Item
	Cursor string
}

// LikersPage lists the DIDs of actors who liked an item
type LikersPage struct {
	Actors []string
	Cursor string
}

// BlobPage lists content ids of blobs stored in a repository
type BlobPage struct {
	CIDs   []string
	Cursor string
}

// Session identifies the acting account after login
type Session struct {
	DID    string
	Handle string
}

// Policy holds the retention thresholds for one run. Zero disables a threshold.
type Policy struct {
	ViralThreshold   int
	StaleDays        int
	StaleBoostDays   int
	ProtectedDomains []string
	Now              time.Time
}

// Disposition is the outcome of classifying one item
type Disposition string

const (
	Keep     Disposition = "keep"
	Unlike   Disposition = "unlike"
	Delete   Disposition = "delete"
	Unrepost Disposition = "unrepost"
)

// Action pairs a qualified item with the mutation to apply to it
type Action struct {
	Item        Item
	Disposition Disposition
}

// ResumeState maps each collection to the cursor after its last processed page
type ResumeState map[Collection]string

// ResumeStore persists cursor checkpoints between runs
type ResumeStore interface {
	// Load returns the saved cursors. Missing or malformed state yields an empty map.
	Load(ctx context.Context) (ResumeState, error)
	// Save merges one cursor into the stored state. An empty cursor clears the key.
	Save(ctx context.Context, collection Collection, cursor string) error
}

// Collector defines the read side of the remote API
type Collector interface {
	Login(ctx context.Context, identifier, password string) (Session, error)
	ListActorLikes(ctx context.Context, actor, cursor string, limit int) (Page, error)
	ListAuthorFeed(ctx context.Context, actor, cursor string, limit int) (Page, error)
	ListLikers(ctx context.Context, uri, cursor string, limit int) (LikersPage, error)
	ListReposts(ctx context.Context, repo, cursor string, limit int) (Page, error)
}

// Mutator defines the destructive side of the remote API
type Mutator interface {
	DeleteLike(ctx context.Context, likeURI string) error
	DeletePost(ctx context.Context, uri string) error
	DeleteRepost(ctx context.Context, repostURI string) error
}

// Archiver fetches the raw repository snapshot and its media
type Archiver interface {
	GetRepo(ctx context.Context, did string) ([]byte, error)
	ListBlobs(ctx context.Context, did, cursor string) (BlobPage, error)
	GetBlob(ctx context.Context, did, cid string) ([]byte, error)
}

// Remote is everything the sweeper needs from the social network
type Remote interface {
	Collector
	Mutator
	Archiver
}
