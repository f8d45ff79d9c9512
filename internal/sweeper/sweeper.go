// Package sweeper runs one cleanup pass over an account: gather candidates
// from every collection, archive the account, then remove each batch once
// it is confirmed.
package sweeper

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/qepting91/skeet-sweeper/internal/archive"
	"github.com/qepting91/skeet-sweeper/internal/collector"
	"github.com/qepting91/skeet-sweeper/internal/domain"
	"github.com/qepting91/skeet-sweeper/internal/executor"
	"github.com/qepting91/skeet-sweeper/internal/paginate"
	"github.com/qepting91/skeet-sweeper/internal/qualify"
)

// Confirmer asks before a destructive batch
type Confirmer interface {
	Confirm(question string) (bool, error)
}

// Prompt reads answers from In. Only an exact "Y" or "n" is accepted;
// anything else asks again.
type Prompt struct {
	In  *bufio.Reader
	Out io.Writer
}

func (p Prompt) Confirm(question string) (bool, error) {
	for {
		fmt.Fprintf(p.Out, "\n%s Y/n: ", question)
		line, err := p.In.ReadString('\n')
		answer := strings.TrimSpace(line)
		switch answer {
		case "Y":
			return true, nil
		case "n":
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("read answer: %w", err)
		}
	}
}

// Options are the per-run choices
type Options struct {
	Identifier  string
	Password    string
	Policy      domain.Policy
	LikesCursor string
	AutoConfirm bool
	SkipArchive bool
	DryRun      bool
}

// Summary is what a run found and did
type Summary struct {
	Session domain.Session
	Walks   map[domain.Collection]paginate.Result
	Reports map[domain.Disposition]executor.Report
	Archive *archive.Result
}

// Sweeper wires the remote account to the resume store and executor
type Sweeper struct {
	Remote   domain.Remote
	Store    domain.ResumeStore
	Archiver *archive.Archiver
	Confirm  Confirmer
	Recorder executor.Recorder
	Retry    collector.RetryPolicy
	MaxPages int
	Out      io.Writer
	Logger   *slog.Logger
	Now      func() time.Time
}

var batchOrder = []struct {
	collection  domain.Collection
	disposition domain.Disposition
}{
	{domain.Likes, domain.Unlike},
	{domain.Posts, domain.Delete},
	{domain.Reposts, domain.Unrepost},
}

// Run performs one sweep. A collection that fails to page is reported in the
// returned error; candidates from the pages it finished are still removed and
// the other collections proceed.
func (s *Sweeper) Run(ctx context.Context, opts Options) (Summary, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	out := s.Out
	if out == nil {
		out = io.Discard
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}

	summary := Summary{
		Walks:   map[domain.Collection]paginate.Result{},
		Reports: map[domain.Disposition]executor.Report{},
	}

	session, err := collector.Attempt(ctx, s.Retry, func(ctx context.Context) (domain.Session, error) {
		return s.Remote.Login(ctx, opts.Identifier, opts.Password)
	})
	if err != nil {
		return summary, err
	}
	summary.Session = session
	logger = logger.With("did", session.DID)
	logger.Info("Logged in", "handle", session.Handle)

	state, err := s.Store.Load(ctx)
	if err != nil {
		return summary, fmt.Errorf("load resume state: %w", err)
	}

	policy := opts.Policy
	policy.Now = now().UTC()
	q := &qualify.Qualifier{Policy: policy, Session: session, Likers: s.Remote, Retry: s.Retry, Logger: logger}
	pg := &paginate.Paginator{Store: s.Store, Retry: s.Retry, MaxPages: s.MaxPages, Logger: logger}

	var errs []error
	var walked []domain.Collection
	candidates := map[domain.Disposition][]domain.Item{}
	suggestion := ""

	for _, b := range batchOrder {
		if b.collection == domain.Reposts && policy.StaleBoostDays == 0 {
			logger.Debug("Stale boost threshold not set, skipping reposts")
			continue
		}
		keep, _ := q.For(b.collection)
		res, err := pg.Walk(ctx, paginate.Request{
			Collection: b.collection,
			Start:      paginate.StartCursor(b.collection, opts.LikesCursor, state),
			Fetch:      s.fetcher(b.collection, session.DID),
			Keep:       keep,
		})
		summary.Walks[b.collection] = res
		walked = append(walked, b.collection)
		// Pages before a failure already have their cursor saved; their
		// candidates are queued like any other.
		candidates[b.disposition] = res.Candidates
		if err != nil {
			logger.Error("Collection aborted", "collection", b.collection, "candidates", len(res.Candidates), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", b.collection, err))
		}
		fmt.Fprintf(out, "Found %s to %s.\n", plural(len(res.Candidates)), b.disposition)

		if b.collection == domain.Likes {
			suggestion = res.Cursor
			if policy.StaleDays != 0 && suggestion != "" {
				fmt.Fprintf(out, "Suggestion: For future runs, consider using the -c flag with this cursor: %s\n", suggestion)
			}
		}
	}

	if s.Archiver != nil && !opts.SkipArchive {
		counts := map[domain.Disposition]int{}
		for d, items := range candidates {
			counts[d] = len(items)
		}
		res, err := s.Archiver.Run(ctx, session, policy.Now, archive.Options{CursorSuggestion: suggestion, Candidates: counts})
		if err != nil {
			// Nothing is removed without a fresh archive; rewind so the next
			// run sees the same candidates again.
			errs = append(errs, fmt.Errorf("archive: %w", err))
			if rerr := s.rewind(ctx, walked, state); rerr != nil {
				errs = append(errs, rerr)
			}
			return summary, errors.Join(errs...)
		}
		summary.Archive = &res
	}

	for _, b := range batchOrder {
		items := candidates[b.disposition]
		if len(items) == 0 {
			continue
		}
		if opts.DryRun {
			fmt.Fprintf(out, "Dry run: would %s %s.\n", b.disposition, plural(len(items)))
			continue
		}
		if !opts.AutoConfirm {
			ok, err := s.Confirm.Confirm(fmt.Sprintf("Proceed to %s %s? WARNING: THIS IS DESTRUCTIVE AND CANNOT BE UNDONE.", b.disposition, plural(len(items))))
			if err != nil {
				return summary, errors.Join(append(errs, err)...)
			}
			if !ok {
				logger.Info("Batch declined", "disposition", b.disposition, "items", len(items))
				continue
			}
		}

		ex := &executor.Executor{Remote: s.Remote, Session: session, Recorder: s.Recorder, Logger: logger}
		report := ex.Execute(ctx, executor.Actions(items, b.disposition))
		summary.Reports[b.disposition] = report
		logger.Info("Batch complete",
			"disposition", b.disposition,
			"attempted", report.Attempted,
			"succeeded", report.Succeeded,
			"failed", len(report.Failures))
		for _, f := range report.Failures {
			fmt.Fprintf(out, "Failed to %s %s: %v\n", b.disposition, f.URI, f.Err)
		}
		if ctx.Err() != nil {
			return summary, errors.Join(append(errs, ctx.Err())...)
		}
	}

	return summary, errors.Join(errs...)
}

// rewind restores the cursors saved before this run for every walked collection.
func (s *Sweeper) rewind(ctx context.Context, collections []domain.Collection, state domain.ResumeState) error {
	for _, c := range collections {
		if err := s.Store.Save(ctx, c, state[c]); err != nil {
			return fmt.Errorf("rewind %s cursor: %w", c, err)
		}
	}
	return nil
}

func (s *Sweeper) fetcher(c domain.Collection, did string) paginate.FetchFunc {
	switch c {
	case domain.Likes:
		return func(ctx context.Context, cursor string) (domain.Page, error) {
			return s.Remote.ListActorLikes(ctx, did, cursor, paginate.PageSize)
		}
	case domain.Reposts:
		return func(ctx context.Context, cursor string) (domain.Page, error) {
			return s.Remote.ListReposts(ctx, did, cursor, paginate.PageSize)
		}
	default:
		return func(ctx context.Context, cursor string) (domain.Page, error) {
			return s.Remote.ListAuthorFeed(ctx, did, cursor, paginate.PageSize)
		}
	}
}

func plural(n int) string {
	if n == 1 {
		return "1 post"
	}
	return fmt.Sprintf("%d posts", n)
}
