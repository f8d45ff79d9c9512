package collector

import (
	"context"
	"fmt"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/domain"
)

// MockClient implements domain.Remote over in-memory collections
type MockClient struct {
	mu sync.Mutex

	Account domain.Session
	Likes   []domain.Item
	Feed    []domain.Item
	Reposts []domain.Item
	// Likers maps a post URI to the DIDs that liked it.
	Likers map[string][]string
	Repo   []byte
	Blobs  map[string][]byte

	// FailOn makes the mutation for a record URI return the given error.
	FailOn map[string]error
	// Deleted records every record URI removed, in call order.
	Deleted []string
	Calls   map[string]int
}

// NewMockClient returns a client seeded with a small simulated account
func NewMockClient() *MockClient {
	did := "did:plc:simulated"
	now := time.Now().UTC()
	mc := &MockClient{
		Account: domain.Session{DID: did, Handle: "simulated.bsky.social"},
		Likers:  map[string][]string{},
		Blobs:   map[string][]byte{},
	}
	for i := 0; i < 12; i++ {
		created := now.AddDate(0, 0, -15*i).Format(time.RFC3339)
		postURI := fmt.Sprintf("at://%s/%s/mock%d", did, PostCollection, i)
		mc.Feed = append(mc.Feed, domain.Item{
			URI:          postURI,
			CID:          fmt.Sprintf("bafymockpost%d", i),
			AuthorDID:    did,
			AuthorHandle: mc.Account.Handle,
			Text:         fmt.Sprintf("Simulated post #%d", i),
			CreatedAt:    created,
			RepostCount:  i * 3,
		})
		mc.Likes = append(mc.Likes, domain.Item{
			URI:          fmt.Sprintf("at://did:plc:other%d/%s/liked%d", i, PostCollection, i),
			AuthorDID:    fmt.Sprintf("did:plc:other%d", i),
			AuthorHandle: fmt.Sprintf("other%d.bsky.social", i),
			CreatedAt:    created,
			ViewerLike:   fmt.Sprintf("at://%s/%s/like%d", did, LikeCollection, i),
		})
		mc.Reposts = append(mc.Reposts, domain.Item{
			URI:          fmt.Sprintf("at://%s/%s/repost%d", did, RepostCollection, i),
			AuthorDID:    did,
			CreatedAt:    created,
			ViewerRepost: fmt.Sprintf("at://%s/%s/repost%d", did, RepostCollection, i),
			SubjectURI:   fmt.Sprintf("at://did:plc:other%d/%s/shared%d", i, PostCollection, i),
		})
	}
	return mc
}

func (mc *MockClient) count(op string) {
	if mc.Calls == nil {
		mc.Calls = map[string]int{}
	}
	mc.Calls[op]++
}

func (mc *MockClient) Login(ctx context.Context, identifier, password string) (domain.Session, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("login")
	if mc.Account.Handle == "" {
		mc.Account.Handle = identifier
	}
	return mc.Account, nil
}

func (mc *MockClient) ListActorLikes(ctx context.Context, actor, cursor string, limit int) (domain.Page, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("likes")
	return pageOf(mc.Likes, cursor, limit)
}

func (mc *MockClient) ListAuthorFeed(ctx context.Context, actor, cursor string, limit int) (domain.Page, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("feed")
	return pageOf(mc.Feed, cursor, limit)
}

func (mc *MockClient) ListReposts(ctx context.Context, repo, cursor string, limit int) (domain.Page, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("reposts")
	return pageOf(mc.Reposts, cursor, limit)
}

func (mc *MockClient) ListLikers(ctx context.Context, uri, cursor string, limit int) (domain.LikersPage, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("likers")
	actors := mc.Likers[uri]
	start, end, next, err := window(len(actors), cursor, limit)
	if err != nil {
		return domain.LikersPage{}, err
	}
	return domain.LikersPage{Actors: slices.Clone(actors[start:end]), Cursor: next}, nil
}

func (mc *MockClient) DeleteLike(ctx context.Context, likeURI string) error {
	return mc.remove(likeURI, &mc.Likes, func(it domain.Item) string { return it.ViewerLike })
}

func (mc *MockClient) DeletePost(ctx context.Context, uri string) error {
	return mc.remove(uri, &mc.Feed, func(it domain.Item) string { return it.URI })
}

func (mc *MockClient) DeleteRepost(ctx context.Context, repostURI string) error {
	if err := mc.remove(repostURI, &mc.Reposts, func(it domain.Item) string { return it.URI }); err != nil {
		return err
	}
	// A repost also shows up in the author feed.
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.Feed = slices.DeleteFunc(mc.Feed, func(it domain.Item) bool { return it.ViewerRepost == repostURI })
	return nil
}

func (mc *MockClient) remove(uri string, items *[]domain.Item, key func(domain.Item) string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("delete")
	if err, ok := mc.FailOn[uri]; ok {
		return err
	}
	*items = slices.DeleteFunc(*items, func(it domain.Item) bool { return key(it) == uri })
	mc.Deleted = append(mc.Deleted, uri)
	return nil
}

func (mc *MockClient) GetRepo(ctx context.Context, did string) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("repo")
	return mc.Repo, nil
}

func (mc *MockClient) ListBlobs(ctx context.Context, did, cursor string) (domain.BlobPage, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("blobs")
	cids := make([]string, 0, len(mc.Blobs))
	for cid := range mc.Blobs {
		cids = append(cids, cid)
	}
	slices.Sort(cids)
	start, end, next, err := window(len(cids), cursor, 2)
	if err != nil {
		return domain.BlobPage{}, err
	}
	return domain.BlobPage{CIDs: cids[start:end], Cursor: next}, nil
}

func (mc *MockClient) GetBlob(ctx context.Context, did, cid string) ([]byte, error) {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.count("blob")
	data, ok := mc.Blobs[cid]
	if !ok {
		return nil, &APIError{Status: 404, Name: "BlobNotFound", Message: cid}
	}
	return data, nil
}

func pageOf(items []domain.Item, cursor string, limit int) (domain.Page, error) {
	start, end, next, err := window(len(items), cursor, limit)
	if err != nil {
		return domain.Page{}, err
	}
	return domain.Page{Items: slices.Clone(items[start:end]), Cursor: next}, nil
}

// window pages by offset; the cursor is the decimal offset of the next page.
func window(total int, cursor string, limit int) (start, end int, next string, err error) {
	if cursor != "" {
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return 0, 0, "", &APIError{Status: 400, Name: "InvalidRequest", Message: "bad cursor " + cursor}
		}
	}
	if limit <= 0 {
		limit = 50
	}
	start = min(start, total)
	end = min(start+limit, total)
	if end < total {
		next = strconv.Itoa(end)
	}
	return start, end, next, nil
}
