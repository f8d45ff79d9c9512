package collector

import (
	"fmt"
	"strings"

	"github.com/qepting91/skeet-sweeper/internal/domain"
)

// Record collections touched by the sweeper
const (
	PostCollection   = "app.bsky.feed.post"
	LikeCollection   = "app.bsky.feed.like"
	RepostCollection = "app.bsky.feed.repost"
)

// RecordRef is a parsed at:// URI
type RecordRef struct {
	Repo       string
	Collection string
	RKey       string
}

// ParseATURI splits at://<repo>/<collection>/<rkey>
func ParseATURI(uri string) (RecordRef, error) {
	rest, ok := strings.CutPrefix(uri, "at://")
	if !ok {
		return RecordRef{}, fmt.Errorf("parse at-uri %q: missing at:// scheme", uri)
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return RecordRef{}, fmt.Errorf("parse at-uri %q: want repo/collection/rkey", uri)
	}
	return RecordRef{Repo: parts[0], Collection: parts[1], RKey: parts[2]}, nil
}

type actorView struct {
	DID    string `json:"did"`
	Handle string `json:"handle"`
}

type externalView struct {
	URI string `json:"uri"`
}

type embedView struct {
	External *externalView `json:"external"`
	Media    *embedView    `json:"media"`
}

func (e *embedView) externalURI() string {
	if e == nil {
		return ""
	}
	if e.External != nil {
		return e.External.URI
	}
	return e.Media.externalURI()
}

type postView struct {
	URI    string    `json:"uri"`
	CID    string    `json:"cid"`
	Author actorView `json:"author"`
	Record struct {
		Text      string `json:"text"`
		CreatedAt string `json:"createdAt"`
	} `json:"record"`
	Embed       *embedView `json:"embed"`
	RepostCount int        `json:"repostCount"`
	LikeCount   int        `json:"likeCount"`
	Viewer      struct {
		Like   string `json:"like"`
		Repost string `json:"repost"`
	} `json:"viewer"`
}

type feedResponse struct {
	Cursor string `json:"cursor"`
	Feed   []struct {
		Post postView `json:"post"`
	} `json:"feed"`
}

func (r feedResponse) page() domain.Page {
	page := domain.Page{Cursor: r.Cursor}
	for _, entry := range r.Feed {
		p := entry.Post
		page.Items = append(page.Items, domain.Item{
			URI:          p.URI,
			CID:          p.CID,
			AuthorDID:    p.Author.DID,
			AuthorHandle: p.Author.Handle,
			Text:         p.Record.Text,
			CreatedAt:    p.Record.CreatedAt,
			RepostCount:  p.RepostCount,
			LikeCount:    p.LikeCount,
			ExternalURI:  p.Embed.externalURI(),
			ViewerLike:   p.Viewer.Like,
			ViewerRepost: p.Viewer.Repost,
		})
	}
	return page
}

type likesResponse struct {
	Cursor string `json:"cursor"`
	Likes  []struct {
		Actor actorView `json:"actor"`
	} `json:"likes"`
}

type listRecordsResponse struct {
	Cursor  string `json:"cursor"`
	Records []struct {
		URI   string `json:"uri"`
		CID   string `json:"cid"`
		Value struct {
			Subject struct {
				URI string `json:"uri"`
			} `json:"subject"`
			CreatedAt string `json:"createdAt"`
		} `json:"value"`
	} `json:"records"`
}

func (r listRecordsResponse) page(repo string) domain.Page {
	page := domain.Page{Cursor: r.Cursor}
	for _, rec := range r.Records {
		page.Items = append(page.Items, domain.Item{
			URI:          rec.URI,
			CID:          rec.CID,
			AuthorDID:    repo,
			CreatedAt:    rec.Value.CreatedAt,
			ViewerRepost: rec.URI,
			SubjectURI:   rec.Value.Subject.URI,
		})
	}
	return page
}
