// Package pipeline drains each user's fragment backlog in fixed time
// windows, promoting every summarizable chunk to a durable recap.
package pipeline

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/akarpov/earshot/internal/storage"
	"github.com/akarpov/earshot/internal/summarizer"
)

// WindowOutcome classifies one processing pass over a time window.
type WindowOutcome string

const (
	// WindowSuccess: a summary was committed for the window.
	WindowSuccess WindowOutcome = "success"
	// WindowNoFragments: the window contained no pending fragments.
	WindowNoFragments WindowOutcome = "no_fragments"
	// WindowInsufficient: too little text, or the model declined. Expected
	// and silent; counts as a failed attempt for the contained fragments.
	WindowInsufficient WindowOutcome = "insufficient_context"
	// WindowError: a hard failure (LLM call, parse, or commit). Logged,
	// rolled back, counts as a failed attempt.
	WindowError WindowOutcome = "error"
)

// FragmentStore is the storage surface the processor drives.
type FragmentStore interface {
	EarliestUnprocessed(userID string) (time.Time, bool, error)
	UnprocessedWindow(userID string, start, end time.Time) ([]storage.Fragment, error)
	HasUnprocessedSince(userID string, t time.Time) (bool, error)
	LockFragments(ids []string, at time.Time) error
	UnlockFragments(ids []string) error
	PenalizeWindow(userID string, start, end time.Time, maxAttempts int) (int64, int64, error)
	CommitSummary(sum storage.Summary, segmentIDs, fragmentIDs []string) error
}

// Summarizer produces a recap (or an insufficient-context signal) for a
// chunk's concatenated text.
type Summarizer interface {
	Summarize(ctx context.Context, text string) (summarizer.Outcome, error)
}

// Exporter pushes a committed summary to an external note sink. Export is
// strictly best-effort: errors are logged by the processor and never undo
// the commit.
type Exporter interface {
	Export(ctx context.Context, sum storage.Summary, user storage.User) error
}

// Options tune the chunking behavior. Zero values fall back to the defaults.
type Options struct {
	ChunkSize   time.Duration // window step, default 10m
	MinTextLen  int           // minimum concatenated text length, default 50
	MaxAttempts int           // attempt budget before eviction, default 3
}

const (
	defaultChunkSize   = 10 * time.Minute
	defaultMinTextLen  = 50
	defaultMaxAttempts = 3
)

// Processor runs the chunked drain loop for one user at a time.
type Processor struct {
	store       FragmentStore
	generator   Summarizer
	exporter    Exporter // optional
	chunkSize   time.Duration
	minTextLen  int
	maxAttempts int
	logger      *slog.Logger
}

// New creates a Processor. exporter may be nil to disable export.
func New(store FragmentStore, generator Summarizer, exporter Exporter, opts Options) *Processor {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}
	if opts.MinTextLen <= 0 {
		opts.MinTextLen = defaultMinTextLen
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaultMaxAttempts
	}
	return &Processor{
		store:       store,
		generator:   generator,
		exporter:    exporter,
		chunkSize:   opts.ChunkSize,
		minTextLen:  opts.MinTextLen,
		maxAttempts: opts.MaxAttempts,
		logger:      slog.Default(),
	}
}

// ProcessUser drains the user's backlog: starting at the earliest pending
// fragment, it processes fixed-size windows and advances by exactly one
// window per iteration regardless of outcome, until no pending fragment
// remains at or after the cursor. The unconditional advance guarantees
// forward progress even on a poison chunk; attempt penalties plus eviction
// keep a repeatedly failing window from living forever.
func (p *Processor) ProcessUser(ctx context.Context, user storage.User) error {
	start, ok, err := p.store.EarliestUnprocessed(user.ID)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		end := start.Add(p.chunkSize)
		outcome := p.processWindow(ctx, user, start, end)

		if outcome != WindowSuccess {
			bumped, evicted, err := p.store.PenalizeWindow(user.ID, start, end, p.maxAttempts)
			if err != nil {
				return err
			}
			if bumped > 0 || evicted > 0 {
				p.logger.Info("window penalized",
					"user_id", user.ID, "outcome", string(outcome),
					"attempts_bumped", bumped, "evicted", evicted)
			}
		}

		start = end
		more, err := p.store.HasUnprocessedSince(user.ID, end)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// processWindow handles one window: select, lock, summarize, commit,
// export. Every non-success path unlocks the selected fragments before
// returning; penalties are applied by the caller.
func (p *Processor) processWindow(ctx context.Context, user storage.User, start, end time.Time) WindowOutcome {
	fragments, err := p.store.UnprocessedWindow(user.ID, start, end)
	if err != nil {
		p.logger.Error("selecting window failed", "user_id", user.ID, "error", err)
		return WindowError
	}
	if len(fragments) == 0 {
		return WindowNoFragments
	}

	ids := make([]string, len(fragments))
	texts := make([]string, len(fragments))
	segmentIDs := make([]string, len(fragments))
	for i, f := range fragments {
		ids[i] = f.ID
		texts[i] = f.Text
		segmentIDs[i] = f.SegmentID
	}

	if err := p.store.LockFragments(ids, time.Now().UTC()); err != nil {
		p.logger.Error("locking fragments failed", "user_id", user.ID, "error", err)
		return WindowError
	}

	// The minimum is counted in characters, not bytes, so multibyte
	// transcripts are gated the same as ASCII ones.
	text := strings.Join(texts, " ")
	if utf8.RuneCountInString(strings.TrimSpace(text)) < p.minTextLen {
		p.unlock(ids)
		return WindowInsufficient
	}

	outcome, err := p.generator.Summarize(ctx, text)
	if err != nil {
		p.logger.Error("summarization failed",
			"user_id", user.ID, "window_start", start, "error", err)
		p.unlock(ids)
		return WindowError
	}
	if outcome.Insufficient {
		p.unlock(ids)
		return WindowInsufficient
	}

	sum := storage.Summary{
		ID:           uuid.New().String(),
		UserID:       user.ID,
		Headline:     outcome.Content.Headline,
		BulletPoints: outcome.Content.BulletPoints,
		Tag:          outcome.Content.Tag,
		FactChecks:   outcome.Content.FactChecks,
		Timestamp:    fragments[0].Timestamp,
		CreatedAt:    time.Now().UTC(),
	}
	if err := p.store.CommitSummary(sum, segmentIDs, ids); err != nil {
		p.logger.Error("committing summary failed",
			"user_id", user.ID, "window_start", start, "error", err)
		p.unlock(ids)
		return WindowError
	}

	p.logger.Info("summary committed",
		"user_id", user.ID, "summary_id", sum.ID, "fragments", len(fragments))

	// Export after the commit is durable. Failures are advisory.
	if p.exporter != nil {
		if err := p.exporter.Export(ctx, sum, user); err != nil {
			p.logger.Warn("summary export failed",
				"user_id", user.ID, "summary_id", sum.ID, "error", err)
		}
	}

	return WindowSuccess
}

func (p *Processor) unlock(ids []string) {
	if err := p.store.UnlockFragments(ids); err != nil {
		p.logger.Error("unlocking fragments failed", "error", err)
	}
}
