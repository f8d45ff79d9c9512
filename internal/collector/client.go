package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/domain"
	"golang.org/x/time/rate"
)

// DefaultHost is the PDS used when none is configured
const DefaultHost = "https://bsky.social"

// Outbound calls are paced to one every 750ms, just under the 5000 calls/hour ceiling.
const requestInterval = 750 * time.Millisecond

// ErrNotAuthenticated is returned by calls made before Login
var ErrNotAuthenticated = errors.New("not authenticated")

// APIError is a non-2xx XRPC response
type APIError struct {
	Status  int    `json:"-"`
	Name    string `json:"error"`
	Message string `json:"message"`
}

func (e *APIError) Error() string {
	if e.Name == "" && e.Message == "" {
		return fmt.Sprintf("xrpc status %d", e.Status)
	}
	return fmt.Sprintf("xrpc status %d: %s: %s", e.Status, e.Name, e.Message)
}

// BskyClient speaks XRPC to a Bluesky PDS
type BskyClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	host       string
	userAgent  string

	accessJwt  string
	refreshJwt string
	session    domain.Session
}

// NewBskyClient builds a client for host with the 120s request timeout
func NewBskyClient(host, userAgent string) *BskyClient {
	if host == "" {
		host = DefaultHost
	}
	return &BskyClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		limiter:    rate.NewLimiter(rate.Every(requestInterval), 1),
		host:       strings.TrimRight(host, "/"),
		userAgent:  userAgent,
	}
}

// Login creates a session with com.atproto.server.createSession
func (bc *BskyClient) Login(ctx context.Context, identifier, password string) (domain.Session, error) {
	body := map[string]string{"identifier": identifier, "password": password}
	var out sessionResponse
	if err := bc.procedure(ctx, "com.atproto.server.createSession", body, &out, false); err != nil {
		return domain.Session{}, fmt.Errorf("login: %w", err)
	}
	bc.accessJwt = out.AccessJwt
	bc.refreshJwt = out.RefreshJwt
	bc.session = domain.Session{DID: out.DID, Handle: out.Handle}
	return bc.session, nil
}

type sessionResponse struct {
	AccessJwt  string `json:"accessJwt"`
	RefreshJwt string `json:"refreshJwt"`
	DID        string `json:"did"`
	Handle     string `json:"handle"`
}

// refresh swaps the refresh token for a new token pair with
// com.atproto.server.refreshSession.
func (bc *BskyClient) refresh(ctx context.Context) error {
	if bc.refreshJwt == "" {
		return ErrNotAuthenticated
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.host+"/xrpc/com.atproto.server.refreshSession", nil)
	if err != nil {
		return err
	}
	data, err := bc.send(req, bc.refreshJwt)
	if err != nil {
		return fmt.Errorf("refresh session: %w", err)
	}
	var out sessionResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("decode refresh session: %w", err)
	}
	bc.accessJwt = out.AccessJwt
	bc.refreshJwt = out.RefreshJwt
	return nil
}

func (bc *BskyClient) ListActorLikes(ctx context.Context, actor, cursor string, limit int) (domain.Page, error) {
	params := pageParams(cursor, limit)
	params.Set("actor", actor)
	var out feedResponse
	if err := bc.query(ctx, "app.bsky.feed.getActorLikes", params, &out); err != nil {
		return domain.Page{}, fmt.Errorf("list actor likes: %w", err)
	}
	return out.page(), nil
}

func (bc *BskyClient) ListAuthorFeed(ctx context.Context, actor, cursor string, limit int) (domain.Page, error) {
	params := pageParams(cursor, limit)
	params.Set("actor", actor)
	params.Set("filter", "posts_with_replies")
	var out feedResponse
	if err := bc.query(ctx, "app.bsky.feed.getAuthorFeed", params, &out); err != nil {
		return domain.Page{}, fmt.Errorf("list author feed: %w", err)
	}
	return out.page(), nil
}

func (bc *BskyClient) ListLikers(ctx context.Context, uri, cursor string, limit int) (domain.LikersPage, error) {
	params := pageParams(cursor, limit)
	params.Set("uri", uri)
	var out likesResponse
	if err := bc.query(ctx, "app.bsky.feed.getLikes", params, &out); err != nil {
		return domain.LikersPage{}, fmt.Errorf("list likers: %w", err)
	}
	page := domain.LikersPage{Cursor: out.Cursor}
	for _, l := range out.Likes {
		page.Actors = append(page.Actors, l.Actor.DID)
	}
	return page, nil
}

func (bc *BskyClient) ListReposts(ctx context.Context, repo, cursor string, limit int) (domain.Page, error) {
	params := pageParams(cursor, limit)
	params.Set("repo", repo)
	params.Set("collection", RepostCollection)
	var out listRecordsResponse
	if err := bc.query(ctx, "com.atproto.repo.listRecords", params, &out); err != nil {
		return domain.Page{}, fmt.Errorf("list reposts: %w", err)
	}
	return out.page(repo), nil
}

func (bc *BskyClient) DeleteLike(ctx context.Context, likeURI string) error {
	return bc.deleteRecord(ctx, likeURI, LikeCollection)
}

func (bc *BskyClient) DeletePost(ctx context.Context, uri string) error {
	return bc.deleteRecord(ctx, uri, PostCollection)
}

func (bc *BskyClient) DeleteRepost(ctx context.Context, repostURI string) error {
	return bc.deleteRecord(ctx, repostURI, RepostCollection)
}

func (bc *BskyClient) GetRepo(ctx context.Context, did string) ([]byte, error) {
	params := url.Values{"did": {did}}
	data, err := bc.raw(ctx, "com.atproto.sync.getRepo", params)
	if err != nil {
		return nil, fmt.Errorf("get repo: %w", err)
	}
	return data, nil
}

func (bc *BskyClient) ListBlobs(ctx context.Context, did, cursor string) (domain.BlobPage, error) {
	params := pageParams(cursor, 0)
	params.Set("did", did)
	var out struct {
		Cursor string   `json:"cursor"`
		CIDs   []string `json:"cids"`
	}
	if err := bc.query(ctx, "com.atproto.sync.listBlobs", params, &out); err != nil {
		return domain.BlobPage{}, fmt.Errorf("list blobs: %w", err)
	}
	return domain.BlobPage{CIDs: out.CIDs, Cursor: out.Cursor}, nil
}

func (bc *BskyClient) GetBlob(ctx context.Context, did, cid string) ([]byte, error) {
	params := url.Values{"did": {did}, "cid": {cid}}
	data, err := bc.raw(ctx, "com.atproto.sync.getBlob", params)
	if err != nil {
		return nil, fmt.Errorf("get blob %s: %w", cid, err)
	}
	return data, nil
}

func (bc *BskyClient) deleteRecord(ctx context.Context, uri, want string) error {
	ref, err := ParseATURI(uri)
	if err != nil {
		return err
	}
	if ref.Collection != want {
		return fmt.Errorf("delete record: %s is not a %s record", uri, want)
	}
	body := map[string]string{"repo": ref.Repo, "collection": ref.Collection, "rkey": ref.RKey}
	if err := bc.procedure(ctx, "com.atproto.repo.deleteRecord", body, nil, true); err != nil {
		return fmt.Errorf("delete record %s: %w", uri, err)
	}
	return nil
}

func pageParams(cursor string, limit int) url.Values {
	params := url.Values{}
	if cursor != "" {
		params.Set("cursor", cursor)
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}
	return params
}

func (bc *BskyClient) query(ctx context.Context, nsid string, params url.Values, out any) error {
	data, err := bc.raw(ctx, nsid, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", nsid, err)
	}
	return nil
}

func (bc *BskyClient) raw(ctx context.Context, nsid string, params url.Values) ([]byte, error) {
	if bc.accessJwt == "" {
		return nil, ErrNotAuthenticated
	}
	endpoint := bc.host + "/xrpc/" + nsid
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	return bc.do(req, true)
}

func (bc *BskyClient) procedure(ctx context.Context, nsid string, in, out any, auth bool) error {
	if auth && bc.accessJwt == "" {
		return ErrNotAuthenticated
	}
	payload, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, bc.host+"/xrpc/"+nsid, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	data, err := bc.do(req, auth)
	if err != nil {
		return err
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", nsid, err)
	}
	return nil
}

// do sends req, with the access token when auth is set. An expired access
// token is refreshed once and the request replayed.
func (bc *BskyClient) do(req *http.Request, auth bool) ([]byte, error) {
	if !auth {
		return bc.send(req, "")
	}
	data, err := bc.send(req, bc.accessJwt)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Name != "ExpiredToken" {
		return data, err
	}

	if rerr := bc.refresh(req.Context()); rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	replay := req.Clone(req.Context())
	if req.GetBody != nil {
		body, gerr := req.GetBody()
		if gerr != nil {
			return nil, gerr
		}
		replay.Body = body
	}
	return bc.send(replay, bc.accessJwt)
}

func (bc *BskyClient) send(req *http.Request, token string) ([]byte, error) {
	if err := bc.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	if bc.userAgent != "" {
		req.Header.Set("User-Agent", bc.userAgent)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := bc.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		_ = json.Unmarshal(data, apiErr)
		return nil, apiErr
	}
	return data, nil
}
