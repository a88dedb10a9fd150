package models

import "time"

// ExtractionStats aggregates the outcome of one ingestion run.
type ExtractionStats struct {
	RunID      string `json:"run_id"`
	Language   string `json:"language"`
	SourceFile string `json:"source_file"`
	MinLength  int    `json:"min_length"`
	MaxSize    int    `json:"max_size"`

	ArticlesExtracted uint64 `json:"articles_extracted"`
	RedirectsSkipped  uint64 `json:"redirects_skipped"`
	TooShortSkipped   uint64 `json:"too_short_skipped"`
	TooLargeSkipped   uint64 `json:"too_large_skipped"`
	PageTooLarge      uint64 `json:"page_too_large"`
	ParseErrors       uint64 `json:"parse_errors"`
	NonArticleSkipped uint64 `json:"non_article_skipped"`
	DuplicateSkipped  uint64 `json:"duplicate_skipped"`
	TotalBytes        uint64 `json:"total_bytes"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	DurationSec float64    `json:"duration_secs,omitempty"`
	Complete    bool       `json:"complete"`
	AbortReason string     `json:"abort_reason,omitempty"`
}

// Skipped sums every per-page drop regardless of cause.
func (s ExtractionStats) Skipped() uint64 {
	return s.RedirectsSkipped + s.TooShortSkipped + s.TooLargeSkipped +
		s.PageTooLarge + s.ParseErrors + s.NonArticleSkipped + s.DuplicateSkipped
}

// ArticlesPerSecond is zero until the run has a duration.
func (s ExtractionStats) ArticlesPerSecond() float64 {
	if s.DurationSec <= 0 {
		return 0
	}
	return float64(s.ArticlesExtracted) / s.DurationSec
}

// RunMetadata is the minimal view of config.json / stats.json written by the
// surrounding tooling. Unknown fields are ignored.
type RunMetadata struct {
	Language          string `json:"language"`
	ArticlesExtracted uint64 `json:"articles_extracted"`
}
