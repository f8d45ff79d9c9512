// Package archive saves a copy of the account before anything is removed:
// the repository snapshot as JSON, every media blob, and an HTML report.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/report"
)

// Archiver writes account archives under Root
type Archiver struct {
	Remote domain.Archiver
	Root   string
	Retry  collector.RetryPolicy
	Logger *slog.Logger
}

// Options carries run details shown in the report
type Options struct {
	CursorSuggestion string
	Candidates       map[domain.Disposition]int
}

// Result lists what was written
type Result struct {
	Dir       string
	BlobDir   string
	JSONPath  string
	HTMLPath  string
	StatsPath string
	Blobs     int
	Blocks    int
}

var extensions = map[string]string{
	"image/jpeg": ".jpeg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"video/mp4":  ".mp4",
}

// Run archives the repository and media of session's account
func (a *Archiver) Run(ctx context.Context, session domain.Session, now time.Time, opts Options) (Result, error) {
	logger := a.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dir := filepath.Join(a.Root, strings.ReplaceAll(session.DID, ":", "_"))
	res := Result{Dir: dir, BlobDir: filepath.Join(dir, "_blob")}
	if err := os.MkdirAll(res.BlobDir, 0o755); err != nil {
		return res, fmt.Errorf("create archive dir: %w", err)
	}

	logger.Info("Archiving posts and media", "dir", dir)
	repo, err := collector.Attempt(ctx, a.Retry, func(ctx context.Context) ([]byte, error) {
		return a.Remote.GetRepo(ctx, session.DID)
	})
	if err != nil {
		return res, err
	}
	snap, err := ReadCAR(bytes.NewReader(repo))
	if err != nil {
		return res, err
	}
	res.Blocks = len(snap.Blocks)

	cids, err := a.listBlobs(ctx, session.DID)
	if err != nil {
		return res, err
	}
	logger.Info("Downloading media", "blobs", len(cids))
	existing := existingBlobs(res.BlobDir)
	blobFiles := map[string]string{}
	for _, cid := range cids {
		name, err := a.saveBlob(ctx, session.DID, cid, res.BlobDir, existing)
		if err != nil {
			return res, err
		}
		blobFiles[cid] = name
		res.Blobs++
		logger.Debug("Saved blob", "file", name)
	}

	stamp := strings.ReplaceAll(now.UTC().Format(time.RFC3339), ":", "_")
	res.JSONPath = filepath.Join(dir, "bsky-archive-"+stamp+".json")
	res.HTMLPath = filepath.Join(dir, "bsky-archive-"+stamp+".html")
	res.StatsPath = filepath.Join(dir, "bsky-archive-"+stamp+"-stats.html")

	data, err := json.MarshalIndent(snap, "", "    ")
	if err != nil {
		return res, fmt.Errorf("encode archive json: %w", err)
	}
	if err := os.WriteFile(res.JSONPath, data, 0o644); err != nil {
		return res, fmt.Errorf("write archive json: %w", err)
	}
	logger.Info("JSON conversion complete", "path", res.JSONPath)

	doc := buildReport(snap, blobFiles, opts)
	doc.StatsFile = filepath.Base(res.StatsPath)
	if err := report.WriteFile(res.HTMLPath, doc); err != nil {
		return res, err
	}
	if err := report.WriteStats(res.StatsPath, doc); err != nil {
		return res, err
	}
	logger.Info("HTML file generated", "path", res.HTMLPath)
	return res, nil
}

func (a *Archiver) listBlobs(ctx context.Context, did string) ([]string, error) {
	var cids []string
	cursor := ""
	for {
		page, err := collector.Attempt(ctx, a.Retry, func(ctx context.Context) (domain.BlobPage, error) {
			return a.Remote.ListBlobs(ctx, did, cursor)
		})
		if err != nil {
			return nil, fmt.Errorf("list blobs: %w", err)
		}
		cids = append(cids, page.CIDs...)
		if page.Cursor == "" || page.Cursor == cursor {
			return cids, nil
		}
		cursor = page.Cursor
	}
}

// saveBlob downloads one blob unless a file for it already exists, and
// returns its file name inside dir.
func (a *Archiver) saveBlob(ctx context.Context, did, cid, dir string, existing map[string]string) (string, error) {
	if name, ok := existing[cid]; ok {
		return name, nil
	}
	data, err := collector.Attempt(ctx, a.Retry, func(ctx context.Context) ([]byte, error) {
		return a.Remote.GetBlob(ctx, did, cid)
	})
	if err != nil {
		return "", err
	}
	name := cid + extensions[http.DetectContentType(data)]
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write blob %s: %w", cid, err)
	}
	return name, nil
}

// existingBlobs maps the CID of every blob already in dir to its file name.
func existingBlobs(dir string) map[string]string {
	out := map[string]string{}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("Error reading blob folder", "dir", dir, "err", err)
		}
		return out
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		out[strings.TrimSuffix(name, filepath.Ext(name))] = name
	}
	return out
}

func buildReport(snap *Snapshot, blobFiles map[string]string, opts Options) report.Document {
	doc := report.Document{
		BlobDir:          "_blob",
		CursorSuggestion: opts.CursorSuggestion,
		Candidates:       map[string]int{},
	}
	for d, n := range opts.Candidates {
		doc.Candidates[string(d)] = n
	}

	for _, b := range snap.Blocks {
		entry := report.Entry{CID: b.CID, Type: b.Type}
		if m, ok := b.Value.(map[string]any); ok {
			entry.CreatedAt, _ = m["createdAt"].(string)
			entry.Text, _ = m["text"].(string)
			if subject, ok := m["subject"].(map[string]any); ok {
				entry.Subject, _ = subject["uri"].(string)
			}
			entry.Media = mediaFiles(m, blobFiles)
		}
		raw, _ := json.MarshalIndent(b.Value, "", "    ")
		entry.Raw = string(raw)

		switch {
		case strings.Contains(b.Type, "like"):
			doc.Likes = append(doc.Likes, entry)
		case strings.Contains(b.Type, "repost"):
			doc.Reposts = append(doc.Reposts, entry)
		case strings.Contains(b.Type, "post"):
			doc.Posts = append(doc.Posts, entry)
		default:
			doc.Others = append(doc.Others, entry)
		}
	}

	cids := make([]string, 0, len(blobFiles))
	for cid := range blobFiles {
		cids = append(cids, cid)
	}
	slices.Sort(cids)
	for _, cid := range cids {
		if name := blobFiles[cid]; !doc.References(name) {
			doc.Others = append(doc.Others, report.Entry{CID: cid, Media: []string{name}})
		}
	}
	return doc
}

// mediaFiles collects archived blob files linked anywhere inside a record.
func mediaFiles(v any, blobFiles map[string]string) []string {
	var out []string
	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			if link, ok := t["$link"].(string); ok {
				if name, ok := blobFiles[link]; ok {
					out = append(out, name)
				}
			}
			for _, val := range t {
				walk(val)
			}
		case []any:
			for _, val := range t {
				walk(val)
			}
		}
	}
	walk(v)
	return out
}
