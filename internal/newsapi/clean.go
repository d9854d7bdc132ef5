package newsapi

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/article-pipeline/internal/article"
)

// Rejection reasons reported by Clean.
const (
	RejectMissingURL = "missing_url"
	RejectTooShort   = "too_short"
	RejectDuplicate  = "duplicate"
)

// Seen is the run-scoped duplicate gate consulted while cleaning.
type Seen interface {
	Accept(url string) bool
}

// Cleaner turns RawArticles into stamped Articles.
type Cleaner struct {
	now func() time.Time
}

// NewCleaner builds a Cleaner stamping fetched_at from now.
func NewCleaner(now func() time.Time) *Cleaner {
	if now == nil {
		now = time.Now
	}
	return &Cleaner{now: now}
}

// Clean validates raw and returns the stamped article, or the rejection reason.
// The length check runs before the duplicate gate so a rejected short article
// never claims its URL for the rest of the run.
func (c *Cleaner) Clean(raw RawArticle, topic string, seen Seen) (article.Article, string, bool) {
	a := article.Article{
		URL:         strings.TrimSpace(raw.URL),
		Title:       stripMarkup(raw.Title),
		Description: stripMarkup(raw.Description),
		Content:     stripMarkup(raw.Content),
		Source:      orUnknown(raw.Source.Name),
		Author:      orUnknown(raw.Author),
		ImageURL:    strings.TrimSpace(raw.URLToImage),
		SearchTopic: topic,
	}
	if a.URL == "" {
		return article.Article{}, RejectMissingURL, false
	}
	if utf8.RuneCountInString(a.CombinedText()) < article.MinContentLength {
		return article.Article{}, RejectTooShort, false
	}
	if seen != nil && !seen.Accept(a.URL) {
		return article.Article{}, RejectDuplicate, false
	}

	a.Content = article.Clamp(a.Content, article.MaxContentLength)
	a.ID = article.ID(a.URL)
	a.URLHash = a.ID
	a.FetchedAt = c.now().UTC()
	if ts, err := time.Parse(time.RFC3339, strings.TrimSpace(raw.PublishedAt)); err == nil {
		a.PublishedAt = ts.UTC()
	}
	return a, "", true
}

func orUnknown(s string) string {
	if s = strings.TrimSpace(s); s == "" {
		return article.UnknownValue
	}
	return s
}

// stripMarkup trims s and, when it holds HTML elements, reduces it to its
// text. Input whose parsed elements include an unknown tag, such as "x<y" in
// prose, is returned trimmed but otherwise untouched.
func stripMarkup(s string) string {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil || !isMarkup(doc) {
		return s
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

// isMarkup reports whether the body has at least one element and every
// element is a known HTML tag.
func isMarkup(doc *goquery.Document) bool {
	elements := doc.Find("body *")
	if elements.Length() == 0 {
		return false
	}
	known := true
	elements.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if node := sel.Get(0); node == nil || node.DataAtom == 0 {
			known = false
		}
		return known
	})
	return known
}
