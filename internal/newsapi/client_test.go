package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-pipeline/internal/article"
	"github.com/JakeFAU/article-pipeline/internal/dedup"
	"github.com/JakeFAU/article-pipeline/internal/keypool"
)

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func TestFetchTopicRotatesPastThrottledKeys(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var seenKeys []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.URL.Query().Get("apiKey")
		mu.Lock()
		seenKeys = append(seenKeys, key)
		mu.Unlock()
		if key != "k3" {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"status":"error","code":"rateLimited","message":"slow down"}`))
			return
		}
		writeArticles(t, w, sampleRaw(5, "story"))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1", "k2", "k3"})
	require.NoError(t, err)
	client := newTestClient(srv.URL)

	got, err := client.FetchTopic(context.Background(), pool, dedup.New(nil), "economy", "")
	require.NoError(t, err)
	require.Len(t, got, 5)
	require.Equal(t, 2, pool.Cursor())
	mu.Lock()
	require.Equal(t, []string{"k1", "k2", "k3"}, seenKeys)
	mu.Unlock()
	for _, a := range got {
		require.Equal(t, "economy", a.SearchTopic)
		require.Equal(t, article.ID(a.URL), a.ID)
		require.Equal(t, a.ID, a.URLHash)
		require.Equal(t, fixedNow, a.FetchedAt)
	}
}

func TestFetchTopicAllKeysForbidden(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1", "k2", "k3"})
	require.NoError(t, err)
	client := newTestClient(srv.URL)

	got, err := client.FetchTopic(context.Background(), pool, dedup.New(nil), "economy", "")
	require.NoError(t, err)
	require.Empty(t, got)
	_, err = pool.Current()
	require.ErrorIs(t, err, keypool.ErrExhaustedKeys)
}

func TestFetchTopicRequestFailureDoesNotRotate(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1", "k2"})
	require.NoError(t, err)
	got, err := newTestClient(srv.URL).FetchTopic(context.Background(), pool, dedup.New(nil), "economy", "")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, int32(1), calls.Load())
	require.Equal(t, 0, pool.Failed())
}

func TestFetchTopicTransportErrorAbandons(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	pool, err := keypool.New([]string{"k1", "k2"})
	require.NoError(t, err)
	got, err := newTestClient(target).FetchTopic(context.Background(), pool, dedup.New(nil), "economy", "")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 0, pool.Failed())
}

func TestFetchTopicTimeoutAbandons(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-release
	}))
	defer srv.Close()
	defer close(release)

	pool, err := keypool.New([]string{"k1"})
	require.NoError(t, err)
	client := New(Config{SearchURL: srv.URL, Timeout: 50 * time.Millisecond}, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))

	got, err := client.FetchTopic(context.Background(), pool, dedup.New(nil), "economy", "")
	require.NoError(t, err)
	require.Empty(t, got)
	require.False(t, pool.Exhausted())
}

func TestFetchTopicErrorPayloadWithKeyVocabularyRotates(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("apiKey") == "k1" {
			_, _ = w.Write([]byte(`{"status":"error","code":"apiKeyDisabled","message":"Your API key has been disabled."}`))
			return
		}
		writeArticles(t, w, sampleRaw(2, "ok"))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1", "k2"})
	require.NoError(t, err)
	got, err := newTestClient(srv.URL).FetchTopic(context.Background(), pool, dedup.New(nil), "markets", "")
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, 1, pool.Failed())
}

func TestFetchTopicErrorPayloadOtherwiseAbandons(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","code":"parameterInvalid","message":"bad from date"}`))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1", "k2"})
	require.NoError(t, err)
	got, err := newTestClient(srv.URL).FetchTopic(context.Background(), pool, dedup.New(nil), "markets", "")
	require.NoError(t, err)
	require.Empty(t, got)
	require.Equal(t, 0, pool.Failed())
}

func TestFetchTopicRequestShape(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	query := map[string]string{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		for k := range r.URL.Query() {
			query[k] = r.URL.Query().Get(k)
		}
		mu.Unlock()
		writeArticles(t, w, nil)
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1"})
	require.NoError(t, err)
	_, err = newTestClient(srv.URL).FetchTopic(context.Background(), pool, dedup.New(nil), "climate", "publishedAt")
	require.NoError(t, err)
	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, map[string]string{
		"q":        "climate",
		"apiKey":   "k1",
		"language": "en",
		"sortBy":   "publishedAt",
		"pageSize": "100",
		"from":     "2025-03-08",
	}, query)
}

func TestFetchHeadlinesTagsTrending(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var pageSize, q string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		pageSize = r.URL.Query().Get("pageSize")
		q = r.URL.Query().Get("q")
		mu.Unlock()
		writeArticles(t, w, sampleRaw(3, "headline"))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1"})
	require.NoError(t, err)
	got, err := newTestClient(srv.URL).FetchHeadlines(context.Background(), pool, dedup.New(nil))
	require.NoError(t, err)
	require.Len(t, got, 3)
	mu.Lock()
	require.Equal(t, "50", pageSize)
	require.Empty(t, q)
	mu.Unlock()
	for _, a := range got {
		require.Equal(t, article.TrendingTopic, a.SearchTopic)
	}
}

func TestFetchTopicSharedSeenDropsRepeats(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeArticles(t, w, sampleRaw(2, "same"))
	}))
	defer srv.Close()

	pool, err := keypool.New([]string{"k1"})
	require.NoError(t, err)
	seen := dedup.New(nil)
	client := newTestClient(srv.URL)

	first, err := client.FetchTopic(context.Background(), pool, seen, "a", "")
	require.NoError(t, err)
	second, err := client.FetchTopic(context.Background(), pool, seen, "b", "")
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.Empty(t, second)
}

func TestFetchTopicCanceledContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeArticles(t, w, nil)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pool, err := keypool.New([]string{"k1"})
	require.NoError(t, err)
	_, err = newTestClient(srv.URL).FetchTopic(ctx, pool, dedup.New(nil), "a", "")
	require.ErrorIs(t, err, context.Canceled)
}

func newTestClient(base string) *Client {
	return New(Config{
		SearchURL:    base,
		HeadlinesURL: base,
		Timeout:      2 * time.Second,
	}, zap.NewNop(), WithClock(func() time.Time { return fixedNow }))
}

func writeArticles(t *testing.T, w http.ResponseWriter, articles []RawArticle) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if articles == nil {
		articles = []RawArticle{}
	}
	if err := json.NewEncoder(w).Encode(Response{
		Status:       "ok",
		TotalResults: len(articles),
		Articles:     articles,
	}); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func sampleRaw(n int, prefix string) []RawArticle {
	out := make([]RawArticle, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, RawArticle{
			Source:      RawSource{Name: "Wire"},
			Author:      "Reporter",
			Title:       fmt.Sprintf("%s headline %d", prefix, i),
			Description: "A description long enough to describe the story in brief.",
			Content:     strings.Repeat("body ", 30),
			URL:         fmt.Sprintf("https://news.example.com/%s/%d", prefix, i),
			PublishedAt: "2025-03-14T08:30:00Z",
		})
	}
	return out
}
