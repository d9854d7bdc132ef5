package newsapi

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/dedup"
)

func TestCleanBoundaries(t *testing.T) {
	t.Parallel()

	cleaner := NewCleaner(func() time.Time { return fixedNow })

	// Title "a", description "b": the two joining spaces count toward the total.
	shortContent := strings.Repeat("c", article.MinContentLength-1-4)
	raw := RawArticle{URL: "https://example.com/short", Title: "a", Description: "b", Content: shortContent}
	require.Equal(t, article.MinContentLength-1, len(raw.Title+" "+raw.Description+" "+raw.Content))
	_, reason, ok := cleaner.Clean(raw, "x", dedup.New(nil))
	require.False(t, ok)
	require.Equal(t, RejectTooShort, reason)

	raw.Content += "c"
	got, _, ok := cleaner.Clean(raw, "x", dedup.New(nil))
	require.True(t, ok)
	require.Equal(t, shortContent+"c", got.Content)

	long := strings.Repeat("z", article.MaxContentLength+100)
	got, _, ok = cleaner.Clean(RawArticle{URL: "https://example.com/long", Title: "t", Content: long}, "x", dedup.New(nil))
	require.True(t, ok)
	require.Equal(t, strings.Repeat("z", article.MaxContentLength)+article.TruncationMarker, got.Content)
}

func TestCleanRejections(t *testing.T) {
	t.Parallel()

	cleaner := NewCleaner(nil)
	body := strings.Repeat("word ", 20)

	_, reason, ok := cleaner.Clean(RawArticle{URL: "   ", Title: "t", Content: body}, "x", nil)
	require.False(t, ok)
	require.Equal(t, RejectMissingURL, reason)

	seen := dedup.New(nil)
	_, _, ok = cleaner.Clean(RawArticle{URL: "https://example.com/a", Content: body}, "x", seen)
	require.True(t, ok)
	_, reason, ok = cleaner.Clean(RawArticle{URL: " https://example.com/a ", Content: body}, "y", seen)
	require.False(t, ok)
	require.Equal(t, RejectDuplicate, reason)
}

func TestCleanShortArticleDoesNotClaimURL(t *testing.T) {
	t.Parallel()

	cleaner := NewCleaner(nil)
	seen := dedup.New(nil)
	_, _, ok := cleaner.Clean(RawArticle{URL: "https://example.com/a", Title: "tiny"}, "x", seen)
	require.False(t, ok)
	require.False(t, seen.Seen("https://example.com/a"))
}

func TestCleanStampsAndDefaults(t *testing.T) {
	t.Parallel()

	cleaner := NewCleaner(func() time.Time { return fixedNow })
	got, _, ok := cleaner.Clean(RawArticle{
		URL:         "  https://example.com/a  ",
		Title:       "  <b>Markets</b> rally  ",
		Description: "<p>Stocks <i>rose</i> sharply</p>",
		Content:     strings.Repeat("text ", 20),
		PublishedAt: "2025-03-14T08:30:00Z",
		URLToImage:  "https://cdn.example.com/a.jpg",
	}, "markets", nil)
	require.True(t, ok)
	require.Equal(t, "https://example.com/a", got.URL)
	require.Equal(t, "Markets rally", got.Title)
	require.Equal(t, "Stocks rose sharply", got.Description)
	require.Equal(t, article.UnknownValue, got.Source)
	require.Equal(t, article.UnknownValue, got.Author)
	require.Equal(t, article.ID("https://example.com/a"), got.ID)
	require.Equal(t, got.ID, got.URLHash)
	require.Equal(t, "markets", got.SearchTopic)
	require.Equal(t, fixedNow, got.FetchedAt)
	require.Equal(t, time.Date(2025, 3, 14, 8, 30, 0, 0, time.UTC), got.PublishedAt)
	require.Equal(t, "https://cdn.example.com/a.jpg", got.ImageURL)
}

func TestCleanUnparseablePublishedAt(t *testing.T) {
	t.Parallel()

	got, _, ok := NewCleaner(nil).Clean(RawArticle{
		URL:         "https://example.com/a",
		Content:     strings.Repeat("text ", 20),
		PublishedAt: "yesterday",
	}, "x", nil)
	require.True(t, ok)
	require.True(t, got.PublishedAt.IsZero())
}

func TestStripMarkup(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{name: "plain", in: "  Rates held steady  ", want: "Rates held steady"},
		{name: "html", in: "<p>Rates <b>held</b> steady</p>", want: "Rates held steady"},
		{name: "comparison in prose", in: "Shares fell when x<y held and analysts reacted", want: "Shares fell when x<y held and analysts reacted"},
		{name: "spaced comparison", in: "Growth was 3 < 5 forecasts", want: "Growth was 3 < 5 forecasts"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, stripMarkup(tt.in))
		})
	}
}

func TestCleanKeepsProseWithAngleBracket(t *testing.T) {
	t.Parallel()

	content := "Shares fell when x<y held and analysts reacted to the news today"
	got, reason, ok := NewCleaner(nil).Clean(RawArticle{
		URL:     "https://example.com/markets",
		Title:   "t",
		Content: content,
	}, "x", dedup.New(nil))
	require.True(t, ok, reason)
	require.Equal(t, content, got.Content)
}
