package models

import "time"

// Article is the persisted unit of the corpus, one per line of articles.jsonl.
type Article struct {
	ID          uint64    `json:"id"`
	Title       string    `json:"title"`
	Content     string    `json:"content"`
	Categories  []string  `json:"categories"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// RawPage is a single page as it appears in the dump. It only lives for the
// duration of one streaming pass.
type RawPage struct {
	ID             uint64
	Title          string
	Namespace      int
	RedirectTarget string
	Text           string
	Timestamp      time.Time
}

// IsRedirect reports whether the dump itself flagged the page as a redirect.
func (p *RawPage) IsRedirect() bool {
	return p.RedirectTarget != ""
}

// TitleEntry is the light projection used by browse listings.
type TitleEntry struct {
	ID    uint64 `json:"id"`
	Title string `json:"title"`
}
