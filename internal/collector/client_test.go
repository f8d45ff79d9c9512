package collector

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"golang.org/x/time/rate"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *BskyClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	bc := NewBskyClient(server.URL, "skeet-sweeper-test")
	bc.limiter = rate.NewLimiter(rate.Inf, 1)
	return bc
}

func login(t *testing.T, bc *BskyClient) {
	t.Helper()
	if _, err := bc.Login(context.Background(), "alice.test", "hunter2"); err != nil {
		t.Fatalf("Login() error: %v", err)
	}
}

func sessionHandler(w http.ResponseWriter, r *http.Request) bool {
	if r.URL.Path != "/xrpc/com.atproto.server.createSession" {
		return false
	}
	json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
		"accessJwt":  "jwt-token",
		"refreshJwt": "refresh-token",
		"did":        "did:plc:alice",
		"handle":     "alice.test",
	})
	return true
}

func TestLogin(t *testing.T) {
	var gotBody map[string]string
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		json.NewDecoder(r.Body).Decode(&gotBody) //nolint:errcheck
		sessionHandler(w, r)
	})

	session, err := bc.Login(context.Background(), "alice.test", "hunter2")
	if err != nil {
		t.Fatalf("Login() error: %v", err)
	}
	if session.DID != "did:plc:alice" || session.Handle != "alice.test" {
		t.Errorf("session = %+v", session)
	}
	if gotBody["identifier"] != "alice.test" || gotBody["password"] != "hunter2" {
		t.Errorf("login body = %v", gotBody)
	}
}

func TestLoginFailureIsPermanent(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error":"AuthenticationRequired","message":"Invalid identifier or password"}`)) //nolint:errcheck
	})

	_, err := bc.Login(context.Background(), "alice.test", "wrong")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusUnauthorized || apiErr.Name != "AuthenticationRequired" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if Classify(err) != Permanent {
		t.Error("auth failure classified as transient")
	}
}

func TestQueriesRequireLogin(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	})
	if _, err := bc.ListActorLikes(context.Background(), "alice.test", "", 100); !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("error = %v, want ErrNotAuthenticated", err)
	}
}

func TestListAuthorFeed(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		if r.URL.Path != "/xrpc/app.bsky.feed.getAuthorFeed" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer jwt-token" {
			t.Errorf("Authorization = %q", got)
		}
		q := r.URL.Query()
		if q.Get("actor") != "alice.test" || q.Get("cursor") != "c1" || q.Get("limit") != "100" {
			t.Errorf("query = %v", q)
		}
		w.Write([]byte(`{
			"cursor": "c2",
			"feed": [
				{"post": {
					"uri": "at://did:plc:alice/app.bsky.feed.post/1",
					"cid": "bafy1",
					"author": {"did": "did:plc:alice", "handle": "alice.test"},
					"record": {"text": "hello", "createdAt": "2024-01-02T03:04:05.000Z"},
					"embed": {"$type": "app.bsky.embed.external#view", "external": {"uri": "https://example.com/a"}},
					"repostCount": 7,
					"likeCount": 3,
					"viewer": {"like": "at://did:plc:alice/app.bsky.feed.like/l1"}
				}},
				{"post": {
					"uri": "at://did:plc:bob/app.bsky.feed.post/2",
					"author": {"did": "did:plc:bob", "handle": "bob.test"},
					"record": {"text": "shared", "createdAt": "2024-01-01T00:00:00Z"},
					"embed": {"$type": "app.bsky.embed.recordWithMedia#view", "media": {"external": {"uri": "https://news.example.org/x"}}},
					"viewer": {"repost": "at://did:plc:alice/app.bsky.feed.repost/r1"}
				}}
			]}`)) //nolint:errcheck
	})
	login(t, bc)

	page, err := bc.ListAuthorFeed(context.Background(), "alice.test", "c1", 100)
	if err != nil {
		t.Fatalf("ListAuthorFeed() error: %v", err)
	}
	if page.Cursor != "c2" {
		t.Errorf("cursor = %q, want c2", page.Cursor)
	}
	if len(page.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(page.Items))
	}
	first := page.Items[0]
	if first.RepostCount != 7 || first.ExternalURI != "https://example.com/a" || first.ViewerLike == "" {
		t.Errorf("first item = %+v", first)
	}
	second := page.Items[1]
	if second.AuthorDID != "did:plc:bob" || second.ExternalURI != "https://news.example.org/x" {
		t.Errorf("second item = %+v", second)
	}
	if second.ViewerRepost != "at://did:plc:alice/app.bsky.feed.repost/r1" {
		t.Errorf("viewer repost = %q", second.ViewerRepost)
	}
}

func TestListLikersAndReposts(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		switch r.URL.Path {
		case "/xrpc/app.bsky.feed.getLikes":
			w.Write([]byte(`{"likes":[{"actor":{"did":"did:plc:bob"}},{"actor":{"did":"did:plc:alice"}}]}`)) //nolint:errcheck
		case "/xrpc/com.atproto.repo.listRecords":
			if got := r.URL.Query().Get("collection"); got != RepostCollection {
				t.Errorf("collection = %q", got)
			}
			w.Write([]byte(`{"cursor":"r2","records":[{
				"uri":"at://did:plc:alice/app.bsky.feed.repost/r1",
				"value":{"subject":{"uri":"at://did:plc:bob/app.bsky.feed.post/2"},"createdAt":"2024-01-01T00:00:00Z"}
			}]}`)) //nolint:errcheck
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	login(t, bc)

	likers, err := bc.ListLikers(context.Background(), "at://did:plc:alice/app.bsky.feed.post/1", "", 100)
	if err != nil {
		t.Fatalf("ListLikers() error: %v", err)
	}
	if len(likers.Actors) != 2 || likers.Actors[1] != "did:plc:alice" || likers.Cursor != "" {
		t.Errorf("likers = %+v", likers)
	}

	reposts, err := bc.ListReposts(context.Background(), "did:plc:alice", "", 100)
	if err != nil {
		t.Fatalf("ListReposts() error: %v", err)
	}
	if reposts.Cursor != "r2" || len(reposts.Items) != 1 {
		t.Fatalf("reposts = %+v", reposts)
	}
	item := reposts.Items[0]
	if item.SubjectURI != "at://did:plc:bob/app.bsky.feed.post/2" || item.ViewerRepost != item.URI {
		t.Errorf("repost item = %+v", item)
	}
}

func TestDeleteRecord(t *testing.T) {
	var got map[string]string
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		if r.URL.Path != "/xrpc/com.atproto.repo.deleteRecord" {
			t.Errorf("path = %s", r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&got) //nolint:errcheck
	})
	login(t, bc)

	if err := bc.DeletePost(context.Background(), "at://did:plc:alice/app.bsky.feed.post/3kxyz"); err != nil {
		t.Fatalf("DeletePost() error: %v", err)
	}
	want := map[string]string{"repo": "did:plc:alice", "collection": PostCollection, "rkey": "3kxyz"}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	if err := bc.DeleteLike(context.Background(), "at://did:plc:alice/app.bsky.feed.post/3kxyz"); err == nil {
		t.Error("DeleteLike() accepted a post uri")
	}
}

func TestServerErrorIsTransient(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	})
	login(t, bc)

	_, err := bc.ListActorLikes(context.Background(), "alice.test", "", 100)
	if Classify(err) != Transient {
		t.Errorf("Classify(%v) = permanent, want transient", err)
	}
}

func expiredToken(w http.ResponseWriter) {
	w.WriteHeader(http.StatusBadRequest)
	w.Write([]byte(`{"error":"ExpiredToken","message":"Token has expired"}`)) //nolint:errcheck
}

func TestExpiredTokenIsRefreshedAndReplayed(t *testing.T) {
	var refreshes int
	var deleted map[string]string
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		auth := r.Header.Get("Authorization")
		switch r.URL.Path {
		case "/xrpc/com.atproto.server.refreshSession":
			refreshes++
			if !strings.HasPrefix(auth, "Bearer refresh-token") {
				t.Errorf("refresh Authorization = %q", auth)
			}
			json.NewEncoder(w).Encode(map[string]string{ //nolint:errcheck
				"accessJwt":  "jwt-token-2",
				"refreshJwt": "refresh-token-2",
				"did":        "did:plc:alice",
				"handle":     "alice.test",
			})
		case "/xrpc/app.bsky.feed.getActorLikes":
			if auth != "Bearer jwt-token-2" {
				expiredToken(w)
				return
			}
			w.Write([]byte(`{"cursor":"c2","feed":[]}`)) //nolint:errcheck
		case "/xrpc/com.atproto.repo.deleteRecord":
			if auth != "Bearer jwt-token-2" {
				expiredToken(w)
				return
			}
			json.NewDecoder(r.Body).Decode(&deleted) //nolint:errcheck
		default:
			t.Errorf("unexpected path %s", r.URL.Path)
		}
	})
	login(t, bc)

	page, err := bc.ListActorLikes(context.Background(), "alice.test", "", 100)
	if err != nil {
		t.Fatalf("ListActorLikes() error: %v", err)
	}
	if page.Cursor != "c2" || refreshes != 1 {
		t.Errorf("cursor = %q, refreshes = %d", page.Cursor, refreshes)
	}

	// A later expiry on a write replays the body too.
	bc.accessJwt = "jwt-token"
	if err := bc.DeleteLike(context.Background(), "at://did:plc:alice/app.bsky.feed.like/l1"); err != nil {
		t.Fatalf("DeleteLike() error: %v", err)
	}
	if refreshes != 2 || deleted["rkey"] != "l1" {
		t.Errorf("refreshes = %d, replayed body = %v", refreshes, deleted)
	}
	if bc.refreshJwt != "refresh-token-2" {
		t.Errorf("refresh token = %q", bc.refreshJwt)
	}
}

func TestFailedRefreshIsReported(t *testing.T) {
	var refreshes int
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		if r.URL.Path == "/xrpc/com.atproto.server.refreshSession" {
			refreshes++
		}
		expiredToken(w)
	})
	login(t, bc)

	_, err := bc.ListAuthorFeed(context.Background(), "alice.test", "", 100)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Name != "ExpiredToken" {
		t.Fatalf("error = %v, want ExpiredToken", err)
	}
	if refreshes != 1 {
		t.Errorf("refreshes = %d, want 1", refreshes)
	}
	if Classify(err) != Permanent {
		t.Error("failed refresh classified as transient")
	}
}

func TestAPIErrorStatusComesFromResponse(t *testing.T) {
	bc := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if sessionHandler(w, r) {
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"status":200,"error":"Unavailable","message":"down"}`)) //nolint:errcheck
	})
	login(t, bc)

	_, err := bc.ListActorLikes(context.Background(), "alice.test", "", 100)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.Status != http.StatusServiceUnavailable || apiErr.Name != "Unavailable" {
		t.Errorf("apiErr = %+v", apiErr)
	}
	if Classify(err) != Transient {
		t.Error("503 classified as permanent")
	}
}

func TestParseATURI(t *testing.T) {
	tests := []struct {
		uri     string
		want    RecordRef
		wantErr bool
	}{
		{uri: "at://did:plc:abc/app.bsky.feed.like/3k", want: RecordRef{Repo: "did:plc:abc", Collection: LikeCollection, RKey: "3k"}},
		{uri: "https://bsky.app/profile/x", wantErr: true},
		{uri: "at://did:plc:abc/app.bsky.feed.like", wantErr: true},
		{uri: "at://did:plc:abc//3k", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			got, err := ParseATURI(tt.uri)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseATURI() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseATURI() = %+v, want %+v", got, tt.want)
			}
		})
	}
}
