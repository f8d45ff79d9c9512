package qualify

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/ingest"
)

const me = "did:plc:me"

var now = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeLikers struct {
	pages map[string]domain.LikersPage // keyed by cursor
	errs  []error
	calls int
}

func (f *fakeLikers) ListLikers(ctx context.Context, uri, cursor string, limit int) (domain.LikersPage, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return domain.LikersPage{}, err
		}
	}
	return f.pages[cursor], nil
}

func newQualifier(p domain.Policy, likers LikersLister) *Qualifier {
	p.Now = now
	retry := collector.DefaultRetryPolicy(nil)
	retry.Sleep = func(context.Context, time.Duration) error { return nil }
	return &Qualifier{
		Policy:  p,
		Session: domain.Session{DID: me, Handle: "me.test"},
		Likers:  likers,
		Retry:   retry,
	}
}

func daysAgo(d int) string {
	return now.Add(-time.Duration(d) * 24 * time.Hour).Format(time.RFC3339)
}

func ownPost(reposts int, created string) domain.Item {
	return domain.Item{
		URI:         "at://did:plc:me/app.bsky.feed.post/1",
		AuthorDID:   me,
		CreatedAt:   created,
		RepostCount: reposts,
	}
}

func noLikers() *fakeLikers {
	return &fakeLikers{pages: map[string]domain.LikersPage{"": {}}}
}

func TestZeroThresholdsDisablePredicates(t *testing.T) {
	q := newQualifier(domain.Policy{}, noLikers())
	for _, item := range []domain.Item{
		ownPost(0, daysAgo(0)),
		ownPost(1_000_000, daysAgo(10_000)),
		ownPost(5, ""),
	} {
		c := q.Classify(item)
		if c.IsViral(q.Policy) {
			t.Errorf("IsViral(%+v) with threshold 0", item)
		}
		if stale, err := c.IsStale(q.Policy); stale || err != nil {
			t.Errorf("IsStale(%+v) = %v, %v with threshold 0", item, stale, err)
		}
		if ok, err := q.ToUnrepost(context.Background(), item); ok || err != nil {
			t.Errorf("ToUnrepost(%+v) = %v, %v with threshold 0", item, ok, err)
		}
	}
}

func TestToDeleteVirality(t *testing.T) {
	tests := []struct {
		name    string
		reposts int
		want    bool
	}{
		{name: "at threshold", reposts: 5, want: true},
		{name: "above threshold", reposts: 6, want: true},
		{name: "below threshold", reposts: 4, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQualifier(domain.Policy{ViralThreshold: 5}, noLikers())
			item := ownPost(tt.reposts, daysAgo(1))
			item.ExternalURI = "https://unrelated.example/page"
			got, err := q.ToDelete(context.Background(), item)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ToDelete() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestToUnlikeStaleness(t *testing.T) {
	tests := []struct {
		name    string
		created string
		want    bool
	}{
		{name: "31 days old", created: daysAgo(31), want: true},
		{name: "exactly 30 days old", created: daysAgo(30), want: true},
		{name: "29 days old", created: daysAgo(29), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := newQualifier(domain.Policy{StaleDays: 30}, noLikers())
			item := domain.Item{URI: "at://did:plc:x/app.bsky.feed.post/9", AuthorDID: "did:plc:x", CreatedAt: tt.created}
			got, err := q.ToUnlike(context.Background(), item)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("ToUnlike() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProtectedDomainIsSubstringMatch(t *testing.T) {
	q := newQualifier(domain.Policy{ViralThreshold: 1, ProtectedDomains: []string{"example.com"}}, noLikers())
	tests := []struct {
		link string
		want bool
	}{
		{link: "https://example.com/a", want: true},
		{link: "https://blog.example.com/b", want: true},
		{link: "https://EXAMPLE.com/d", want: true},
		{link: "https://example.org/c", want: false},
		{link: "", want: false},
	}
	for _, tt := range tests {
		item := ownPost(10, daysAgo(1))
		item.ExternalURI = tt.link
		if got := q.Classify(item).IsProtectedDomain(q.Policy); got != tt.want {
			t.Errorf("IsProtectedDomain(%q) = %v, want %v", tt.link, got, tt.want)
		}
		del, _ := q.ToDelete(context.Background(), item)
		if del == tt.want {
			t.Errorf("ToDelete(%q) = %v", tt.link, del)
		}
	}
}

func TestProtectedDomainsFromFlagList(t *testing.T) {
	domains := ingest.ParseDomains("GitHub.com, https://nytimes.com")
	q := newQualifier(domain.Policy{StaleDays: 30, ProtectedDomains: domains}, noLikers())

	tests := []struct {
		link string
		want bool
	}{
		{link: "https://GitHub.com/owner/repo", want: false},
		{link: "https://github.com/owner/repo", want: false},
		{link: "https://www.nytimes.com/2020/story", want: true},
		{link: "https://nytimes.com/2020/story", want: false},
		{link: "https://gitlab.com/owner/repo", want: true},
	}
	for _, tt := range tests {
		item := ownPost(0, daysAgo(60))
		item.ExternalURI = tt.link
		got, err := q.ToDelete(context.Background(), item)
		if err != nil {
			t.Fatal(err)
		}
		if got != tt.want {
			t.Errorf("ToDelete(%q) = %v, want %v", tt.link, got, tt.want)
		}
	}
}

func TestSelfLikedWalksLikersAndShortCircuits(t *testing.T) {
	likers := &fakeLikers{pages: map[string]domain.LikersPage{
		"":   {Actors: []string{"did:plc:a", "did:plc:b"}, Cursor: "c1"},
		"c1": {Actors: []string{"did:plc:c", me}, Cursor: "c2"},
		"c2": {Actors: []string{"did:plc:d"}},
	}}
	q := newQualifier(domain.Policy{StaleDays: 1}, likers)

	liked, err := q.Classify(ownPost(0, daysAgo(5))).IsSelfLiked(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if !liked {
		t.Error("IsSelfLiked() = false, want true")
	}
	if likers.calls != 2 {
		t.Errorf("likers calls = %d, want 2 (stop at first match)", likers.calls)
	}

	del, err := q.ToDelete(context.Background(), ownPost(0, daysAgo(5)))
	if err != nil || del {
		t.Errorf("ToDelete() on self-liked post = %v, %v", del, err)
	}
}

func TestSelfLikedTerminates(t *testing.T) {
	tests := []struct {
		name  string
		pages map[string]domain.LikersPage
		calls int
	}{
		{
			name: "cursor exhausted",
			pages: map[string]domain.LikersPage{
				"":   {Actors: []string{"did:plc:a"}, Cursor: "c1"},
				"c1": {Actors: []string{"did:plc:b"}},
			},
			calls: 2,
		},
		{
			name: "cursor repeats",
			pages: map[string]domain.LikersPage{
				"":   {Actors: []string{"did:plc:a"}, Cursor: "c1"},
				"c1": {Actors: []string{"did:plc:b"}, Cursor: "c1"},
			},
			calls: 2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			likers := &fakeLikers{pages: tt.pages}
			q := newQualifier(domain.Policy{}, likers)
			liked, err := q.Classify(ownPost(0, daysAgo(1))).IsSelfLiked(context.Background())
			if err != nil || liked {
				t.Errorf("IsSelfLiked() = %v, %v", liked, err)
			}
			if likers.calls != tt.calls {
				t.Errorf("calls = %d, want %d", likers.calls, tt.calls)
			}
		})
	}
}

func TestSelfLikedRequiresAuthorship(t *testing.T) {
	likers := &fakeLikers{pages: map[string]domain.LikersPage{"": {Actors: []string{me}}}}
	q := newQualifier(domain.Policy{StaleDays: 1}, likers)
	item := domain.Item{URI: "at://did:plc:other/app.bsky.feed.post/2", AuthorDID: "did:plc:other", CreatedAt: daysAgo(3)}

	liked, err := q.Classify(item).IsSelfLiked(context.Background())
	if err != nil || liked {
		t.Errorf("IsSelfLiked() = %v, %v for someone else's post", liked, err)
	}
	if likers.calls != 0 {
		t.Errorf("likers fetched %d times for someone else's post", likers.calls)
	}
	if ok, _ := q.ToUnlike(context.Background(), item); !ok {
		t.Error("ToUnlike() = false for a stale like of someone else's post")
	}
}

func TestSelfLikedRetriesTransientErrors(t *testing.T) {
	likers := &fakeLikers{
		pages: map[string]domain.LikersPage{"": {Actors: []string{me}}},
		errs:  []error{&collector.APIError{Status: http.StatusBadGateway}, nil},
	}
	q := newQualifier(domain.Policy{}, likers)
	liked, err := q.Classify(ownPost(0, daysAgo(1))).IsSelfLiked(context.Background())
	if err != nil || !liked {
		t.Errorf("IsSelfLiked() = %v, %v", liked, err)
	}
	if likers.calls != 2 {
		t.Errorf("calls = %d, want 2", likers.calls)
	}
}

func TestSelfLikedPropagatesPermanentErrors(t *testing.T) {
	likers := &fakeLikers{errs: []error{&collector.APIError{Status: http.StatusNotFound}}}
	q := newQualifier(domain.Policy{StaleDays: 1}, likers)
	_, err := q.ToDelete(context.Background(), ownPost(0, daysAgo(3)))
	var apiErr *collector.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want APIError", err)
	}
}

func TestInvalidTimestampFailsLoud(t *testing.T) {
	q := newQualifier(domain.Policy{StaleDays: 30, StaleBoostDays: 7}, noLikers())
	for _, created := range []string{"", "yesterday", "2024-13-45"} {
		item := ownPost(0, created)
		if _, err := q.ToDelete(context.Background(), item); !errors.Is(err, domain.ErrInvalidTimestamp) {
			t.Errorf("ToDelete(createdAt=%q) error = %v", created, err)
		}
		if _, err := q.ToUnlike(context.Background(), item); !errors.Is(err, domain.ErrInvalidTimestamp) {
			t.Errorf("ToUnlike(createdAt=%q) error = %v", created, err)
		}
		if _, err := q.ToUnrepost(context.Background(), item); !errors.Is(err, domain.ErrInvalidTimestamp) {
			t.Errorf("ToUnrepost(createdAt=%q) error = %v", created, err)
		}
	}
}

func TestToUnrepostAgeOnly(t *testing.T) {
	q := newQualifier(domain.Policy{StaleBoostDays: 7, ViralThreshold: 1}, noLikers())
	old := domain.Item{URI: "at://did:plc:me/app.bsky.feed.repost/1", CreatedAt: daysAgo(8), RepostCount: 0}
	fresh := domain.Item{URI: "at://did:plc:me/app.bsky.feed.repost/2", CreatedAt: daysAgo(6), RepostCount: 99}

	if ok, _ := q.ToUnrepost(context.Background(), old); !ok {
		t.Error("ToUnrepost(8 days) = false")
	}
	if ok, _ := q.ToUnrepost(context.Background(), fresh); ok {
		t.Error("ToUnrepost(6 days) = true")
	}
}

func TestExemptionsAreMonotonic(t *testing.T) {
	protected := ownPost(50, daysAgo(400))
	protected.ExternalURI = "https://keep.example/x"
	likers := &fakeLikers{pages: map[string]domain.LikersPage{"": {Actors: []string{me}}}}

	for _, viral := range []int{0, 1, 10, 50, 1000} {
		for _, stale := range []int{0, 1, 30, 365} {
			q := newQualifier(domain.Policy{ViralThreshold: viral, StaleDays: stale, ProtectedDomains: []string{"keep.example"}}, likers)
			if del, _ := q.ToDelete(context.Background(), protected); del {
				t.Errorf("protected item deletable at viral=%d stale=%d", viral, stale)
			}
			selfLiked := ownPost(50, daysAgo(400))
			if del, _ := q.ToDelete(context.Background(), selfLiked); del {
				t.Errorf("self-liked item deletable at viral=%d stale=%d", viral, stale)
			}
		}
	}
}

func TestFor(t *testing.T) {
	q := newQualifier(domain.Policy{}, noLikers())
	for collection, want := range map[domain.Collection]domain.Disposition{
		domain.Likes:   domain.Unlike,
		domain.Posts:   domain.Delete,
		domain.Reposts: domain.Unrepost,
	} {
		keep, got := q.For(collection)
		if keep == nil || got != want {
			t.Errorf("For(%s) = %v, want %v", collection, got, want)
		}
	}
}
