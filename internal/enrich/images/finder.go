// Package images scrapes article pages for a lead image.
package images

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"github.com/panjf2000/ants/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/enrich"
)

const (
	defaultTimeout     = 10 * time.Second
	defaultConcurrency = 4
	defaultUserAgent   = "Mozilla/5.0 (compatible; article-pipeline/1.0)"
)

// Config controls page retrieval.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	Concurrency int
}

// Finder implements enrich.ImageFinder with a Colly collector.
type Finder struct {
	cfg    Config
	base   *colly.Collector
	logger *zap.Logger
}

var _ enrich.ImageFinder = (*Finder)(nil)

// New builds a Finder.
func New(cfg Config, logger *zap.Logger) *Finder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.UserAgent = cfg.UserAgent
	c.SetRequestTimeout(cfg.Timeout)
	c.WithTransport(newHTTPTransport())
	return &Finder{cfg: cfg, base: c, logger: logger}
}

// FindImages visits each article URL under the concurrency bound. Pages that
// fail to load or carry no image yield no result.
func (f *Finder) FindImages(ctx context.Context, articles []article.Article) ([]article.ImageResult, error) {
	if len(articles) == 0 {
		return nil, nil
	}
	pool, err := ants.NewPool(f.cfg.Concurrency)
	if err != nil {
		return nil, fmt.Errorf("image worker pool: %w", err)
	}
	defer pool.Release()

	found := make([]string, len(articles))
	var wg sync.WaitGroup
	for i, a := range articles {
		i, a := i, a
		if a.URL == "" {
			continue
		}
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			img, err := f.find(ctx, a.URL)
			if err != nil {
				f.logger.Debug("image lookup failed", zap.String("id", a.ID), zap.Error(err))
				return
			}
			found[i] = img
		}); err != nil {
			wg.Done()
			f.logger.Warn("submit image lookup failed", zap.String("id", a.ID), zap.Error(err))
		}
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("find images: %w", err)
	}
	var out []article.ImageResult
	for i, img := range found {
		if img != "" {
			out = append(out, article.ImageResult{ID: articles[i].ID, ImageURL: img})
		}
	}
	return out, nil
}

func (f *Finder) find(ctx context.Context, pageURL string) (string, error) {
	collector := f.base.Clone()
	var (
		image    string
		fetchErr error
	)
	collector.OnHTML("html", func(e *colly.HTMLElement) {
		if src := pickImage(e.DOM); src != "" {
			image = e.Request.AbsoluteURL(src)
		}
	})
	collector.OnError(func(_ *colly.Response, err error) {
		fetchErr = err
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("image fetch canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("colly visit failed: %w", err)
		}
		if fetchErr != nil {
			return "", fmt.Errorf("colly response failed: %w", fetchErr)
		}
		return image, nil
	}
}

// pickImage prefers social card metadata over inline images.
func pickImage(doc *goquery.Selection) string {
	for _, sel := range []string{
		`meta[property="og:image"]`,
		`meta[name="twitter:image"]`,
		`meta[itemprop="image"]`,
	} {
		if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	if v, ok := doc.Find("img[src]").First().Attr("src"); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
