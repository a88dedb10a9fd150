package processing_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DeafMist/wiki-offline/internal/processing"
)

func TestNormalizeTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "Albert_Einstein", want: "Albert Einstein"},
		{in: "  albert   einstein ", want: "Albert einstein"},
		{in: "Café", want: "Café"},
		{in: "élan", want: "Élan"},
		{in: "", want: ""},
		{in: "___", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := processing.NormalizeTitle(tt.in)
			require.Equal(t, tt.want, got)
			require.Equal(t, got, processing.NormalizeTitle(got), "idempotent")
		})
	}
}

func TestTitleKeyVariantsShareKey(t *testing.T) {
	want := processing.TitleKey("Albert Einstein")
	for _, v := range []string{"Albert_Einstein", "albert einstein", "ALBERT  EINSTEIN", " Albert_Einstein "} {
		require.Equal(t, want, processing.TitleKey(v), v)
	}
	require.NotEqual(t, want, processing.TitleKey("Albert Einstein (film)"))
	require.Equal(t, want, processing.TitleKey(want))
}

func TestIsRedirect(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{text: "#REDIRECT [[Dog]]", want: true},
		{text: "# redirect [[Dog]]", want: true},
		{text: "  #Redirect[[Dog]]", want: true},
		{text: "#REDIRECTION is a word", want: false},
		{text: "The dog #REDIRECT", want: false},
		{text: "", want: false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			require.Equal(t, tt.want, processing.IsRedirect(tt.text))
		})
	}
}

func TestRedirectTarget(t *testing.T) {
	target, ok := processing.RedirectTarget("#REDIRECT [[dog_breed#Types|x]]")
	require.True(t, ok)
	require.Equal(t, "Dog breed", target)

	_, ok = processing.RedirectTarget("#REDIRECT nowhere")
	require.False(t, ok)
	_, ok = processing.RedirectTarget("Not a redirect [[Dog]]")
	require.False(t, ok)
}

func TestIsContentTitle(t *testing.T) {
	require.True(t, processing.IsContentTitle("Dog"))
	require.True(t, processing.IsContentTitle("Star Wars: A New Hope"))
	for _, title := range []string{"Wikipedia:About", "Template:Infobox", "Category:Dogs", "File:Dog.jpg", "User talk:Someone", "Module:Arguments"} {
		require.False(t, processing.IsContentTitle(title), title)
	}
}
