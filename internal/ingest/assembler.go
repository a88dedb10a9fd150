// Package ingest turns a stream of dump pages into the article log.
package ingest

import (
	"errors"
	"fmt"
	"time"

	"github.com/DeafMist/wiki-offline/internal/dedupe"
	"github.com/DeafMist/wiki-offline/internal/dump"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

// ErrWriteFailure marks a record that could not be made durable.
var ErrWriteFailure = errors.New("article write failure")

// WriteFailureError aborts the run: the log cannot be trusted past this point.
type WriteFailureError struct {
	ArticleID uint64
	Title     string
	Err       error
}

func (e *WriteFailureError) Error() string {
	if e.Title == "" {
		return fmt.Sprintf("write failure: %v", e.Err)
	}
	return fmt.Sprintf("write article %d %q: %v", e.ArticleID, e.Title, e.Err)
}

func (e *WriteFailureError) Unwrap() error { return e.Err }

func (e *WriteFailureError) Is(target error) bool { return target == ErrWriteFailure }

// Decision is what the assembler did with one page.
type Decision int

const (
	DecisionKeep Decision = iota
	DecisionRedirect
	DecisionNonArticle
	DecisionTooShort
	DecisionTooLarge
	DecisionDuplicate
)

func (d Decision) String() string {
	switch d {
	case DecisionKeep:
		return "keep"
	case DecisionRedirect:
		return "redirect"
	case DecisionNonArticle:
		return "non_article"
	case DecisionTooShort:
		return "too_short"
	case DecisionTooLarge:
		return "too_large"
	case DecisionDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Policy holds the keep thresholds. Lengths count characters of plain text.
// Zero MaxArticleSize or MaxArticles means unlimited.
type Policy struct {
	MinLength      int
	MaxArticleSize int
	MaxArticles    uint64
}

// RecordSink receives kept articles in id order.
type RecordSink interface {
	Write(models.Article) error
	Flush() error
}

// Assembler applies the policy and owns the run counters. It is used from a
// single goroutine.
type Assembler struct {
	policy Policy
	sink   RecordSink
	titles *dedupe.TitleSet
	now    func() time.Time
	nextID uint64
	stats  models.ExtractionStats
}

// NewAssembler starts ids at 1. now defaults to time.Now.
func NewAssembler(policy Policy, sink RecordSink, now func() time.Time) *Assembler {
	if now == nil {
		now = time.Now
	}
	return &Assembler{
		policy: policy,
		sink:   sink,
		titles: dedupe.NewTitleSet(1 << 16),
		now:    now,
		nextID: 1,
		stats: models.ExtractionStats{
			MinLength: policy.MinLength,
			MaxSize:   policy.MaxArticleSize,
			StartedAt: now().UTC(),
		},
	}
}

// Skippable reports whether a page will be dropped before its text matters,
// so callers can avoid normalizing it.
func Skippable(page *models.RawPage) bool {
	return page.IsRedirect() || processing.IsRedirect(page.Text) ||
		page.Namespace != 0 || !processing.IsContentTitle(page.Title)
}

// Add decides the fate of page given its normalized markup. Only a failed
// write returns an error.
func (a *Assembler) Add(page *models.RawPage, res processing.Result) (Decision, error) {
	if page.IsRedirect() || processing.IsRedirect(page.Text) {
		a.stats.RedirectsSkipped++
		return DecisionRedirect, nil
	}

	title := processing.NormalizeTitle(page.Title)
	if page.Namespace != 0 || title == "" || !processing.IsContentTitle(title) {
		a.stats.NonArticleSkipped++
		return DecisionNonArticle, nil
	}

	length := res.PlainChars
	if length < a.policy.MinLength {
		a.stats.TooShortSkipped++
		return DecisionTooShort, nil
	}
	if a.policy.MaxArticleSize > 0 && length > a.policy.MaxArticleSize {
		a.stats.TooLargeSkipped++
		return DecisionTooLarge, nil
	}

	if !a.titles.MarkIfAbsent(processing.TitleKey(title)) {
		a.stats.DuplicateSkipped++
		return DecisionDuplicate, nil
	}

	article := models.Article{
		ID:          a.nextID,
		Title:       title,
		Content:     res.Text,
		Categories:  res.Categories,
		ExtractedAt: a.now().UTC(),
	}
	if article.Categories == nil {
		article.Categories = []string{}
	}
	if err := a.sink.Write(article); err != nil {
		return DecisionKeep, &WriteFailureError{ArticleID: article.ID, Title: title, Err: err}
	}

	a.nextID++
	a.stats.ArticlesExtracted++
	a.stats.TotalBytes += uint64(len(article.Content))
	return DecisionKeep, nil
}

// PageFailed counts a page the parser could not deliver.
func (a *Assembler) PageFailed(err error) {
	if errors.Is(err, dump.ErrPageTooLarge) {
		a.stats.PageTooLarge++
		return
	}
	a.stats.ParseErrors++
}

// LimitReached is true once MaxArticles articles have been kept.
func (a *Assembler) LimitReached() bool {
	return a.policy.MaxArticles > 0 && a.stats.ArticlesExtracted >= a.policy.MaxArticles
}

// Stats returns a snapshot of the counters.
func (a *Assembler) Stats() models.ExtractionStats {
	return a.stats
}

// Finish stamps completion onto a snapshot. A non-nil cause marks the run
// as aborted.
func (a *Assembler) Finish(cause error) models.ExtractionStats {
	s := a.stats
	done := a.now().UTC()
	s.CompletedAt = &done
	s.DurationSec = done.Sub(s.StartedAt).Seconds()
	s.Complete = cause == nil
	if cause != nil {
		s.AbortReason = cause.Error()
	}
	return s
}
