package ingest_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/dump"
	"github.com/DeafMist/wiki-offline/internal/ingest"
	"github.com/DeafMist/wiki-offline/internal/models"
	"github.com/DeafMist/wiki-offline/internal/processing"
)

func TestAssemblerDecisions(t *testing.T) {
	long := processing.Normalize(longBody("dog"))
	tests := []struct {
		name string
		page models.RawPage
		res  processing.Result
		want ingest.Decision
	}{
		{name: "keep", page: models.RawPage{ID: 1, Title: "Dog"}, res: long, want: ingest.DecisionKeep},
		{name: "redirect element", page: models.RawPage{Title: "Canine", RedirectTarget: "Dog"}, res: long, want: ingest.DecisionRedirect},
		{name: "redirect text with body", page: models.RawPage{Title: "Hound", Text: "#REDIRECT [[Dog]]\nlots of text"}, res: long, want: ingest.DecisionRedirect},
		{name: "namespace", page: models.RawPage{Title: "Talk:Dog", Namespace: 1}, res: long, want: ingest.DecisionNonArticle},
		{name: "prefix", page: models.RawPage{Title: "Portal:Dogs"}, res: long, want: ingest.DecisionNonArticle},
		{name: "too short", page: models.RawPage{Title: "Cat"}, res: processing.Normalize("tiny"), want: ingest.DecisionTooShort},
		{name: "too large", page: models.RawPage{Title: "Big"}, res: processing.Normalize(longBody("enormous")), want: ingest.DecisionTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := &memorySink{}
			asm := ingest.NewAssembler(ingest.Policy{MinLength: 200, MaxArticleSize: 500}, sink, fixedNow)
			got, err := asm.Add(&tt.page, tt.res)
			require.NoError(t, err)
			require.Equal(t, tt.want, got, got.String())
		})
	}
}

func TestAssemblerCountsLengthInCharacters(t *testing.T) {
	// 150 two-byte characters: 300 bytes but only 150 characters.
	res := processing.Normalize(strings.Repeat("é", 150))
	asm := ingest.NewAssembler(ingest.Policy{MinLength: 200}, &memorySink{}, fixedNow)
	got, err := asm.Add(&models.RawPage{Title: "Accent"}, res)
	require.NoError(t, err)
	require.Equal(t, ingest.DecisionTooShort, got)
}

func TestAssemblerPageFailures(t *testing.T) {
	asm := ingest.NewAssembler(ingest.Policy{}, &memorySink{}, fixedNow)
	asm.PageFailed(&dump.PageError{Kind: dump.KindPageTooLarge})
	asm.PageFailed(&dump.PageError{Kind: dump.KindParse})
	asm.PageFailed(&dump.PageError{Kind: dump.KindParse})

	stats := asm.Stats()
	require.Equal(t, uint64(1), stats.PageTooLarge)
	require.Equal(t, uint64(2), stats.ParseErrors)
	require.Equal(t, uint64(3), stats.Skipped())
}
