package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/sitechat-go/internal/embedder"
	"github.com/54b3r/sitechat-go/internal/rag"
	"github.com/54b3r/sitechat-go/internal/webfetch"
)

// memStore is an in-memory rag.VectorStore keyed by content hash.
type memStore struct {
	mu   sync.Mutex
	rows map[string]rag.Chunk
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]rag.Chunk)}
}

func (s *memStore) Upsert(_ context.Context, chunks []rag.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if len(c.Embedding) == 0 {
			return fmt.Errorf("chunk %s has no embedding", c.ContentHash)
		}
		s.rows[c.ContentHash] = c
	}
	return nil
}

func (s *memStore) Search(context.Context, []float32, int, float32) ([]rag.Hit, error) {
	return nil, nil
}

func (s *memStore) DeleteStale(_ context.Context, pageURL string, keep []string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	keepSet := make(map[string]bool, len(keep))
	for _, h := range keep {
		keepSet[h] = true
	}
	n := 0
	for h, c := range s.rows {
		if c.URL == pageURL && !keepSet[h] {
			delete(s.rows, h)
			n++
		}
	}
	return n, nil
}

func (s *memStore) Ping(context.Context) error { return nil }
func (s *memStore) Close() error               { return nil }

func (s *memStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

// fakeEmbedder returns a one-dimensional vector per text.
type fakeEmbedder struct {
	mu      sync.Mutex
	calls   [][]string
	err     error
	failOn  int
	shorter bool
}

func (e *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, texts)
	if e.err != nil && len(e.calls) >= e.failOn {
		return nil, e.err
	}
	n := len(texts)
	if e.shorter {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = []float32{float32(len(texts[i]))}
	}
	return out, nil
}

// fakeSource is a fixed URLSource.
type fakeSource struct {
	base *url.URL
	urls []string
	err  error
}

func (s *fakeSource) Resolve(context.Context) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := append([]string(nil), s.urls...)
	sort.Strings(out)
	return out, nil
}

func (s *fakeSource) Base() *url.URL { return s.base }

// fakeFetcher serves canned pages; unknown URLs return 404.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]string
	failing map[string]bool
	fetched []string
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (*webfetch.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetched = append(f.fetched, rawURL)
	if f.failing[rawURL] {
		return nil, errors.New("connection reset")
	}
	body, ok := f.pages[rawURL]
	if !ok {
		return &webfetch.Result{URL: rawURL, StatusCode: 404}, nil
	}
	return &webfetch.Result{URL: rawURL, StatusCode: 200, Body: []byte(body)}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	results []PageResult
}

func (o *recordingObserver) ObservePage(r PageResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

const base = "https://www.shop.com"

func page(title, body string) string {
	return "<html><head><title>" + title + "</title></head><body>" + body + "</body></html>"
}

func newTestPipeline(t *testing.T, store *memStore, emb *fakeEmbedder, src *fakeSource, f *fakeFetcher, cfg Config) *Pipeline {
	t.Helper()
	cfg.Delay = -1
	p, err := NewPipeline(emb, store, src, f, cfg)
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return p
}

func testSource(urls ...string) *fakeSource {
	u, _ := url.Parse(base)
	return &fakeSource{base: u, urls: urls}
}

func TestRun_IngestsAndSkips(t *testing.T) {
	t.Parallel()

	about := base + "/pages/about"
	empty := base + "/pages/empty"
	missing := base + "/pages/missing"
	broken := base + "/pages/broken"

	store := newMemStore()
	emb := &fakeEmbedder{}
	obs := &recordingObserver{}
	f := &fakeFetcher{
		pages: map[string]string{
			about: page("About", "We sell shoes. Since 1999!"),
			empty: "<html><body><script>nothing()</script></body></html>",
		},
		failing: map[string]bool{broken: true},
	}
	p := newTestPipeline(t, store, emb, testSource(about, empty, missing, broken), f, Config{Observer: obs})

	stats, err := p.Run(context.Background(), Request{Limit: 10})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Total != 4 || stats.Processed != 1 || stats.Skipped != 3 || stats.Chunks != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if !stats.Done() {
		t.Error("expected run to be done")
	}
	if store.count() != 1 {
		t.Fatalf("store rows = %d, want 1", store.count())
	}

	// The title is part of the extracted text.
	hash := rag.ContentHash(about, "About We sell shoes. Since 1999!")
	row, ok := store.rows[hash]
	if !ok {
		t.Fatalf("expected row keyed by content hash %s", hash)
	}
	if row.Title != "About" || row.Section != "pages" || row.FetchedAt.IsZero() {
		t.Errorf("row = %+v", row)
	}
	if len(obs.results) != 4 {
		t.Errorf("observer saw %d pages, want 4", len(obs.results))
	}
}

func TestRun_Idempotent(t *testing.T) {
	t.Parallel()

	about := base + "/pages/about"
	store := newMemStore()
	f := &fakeFetcher{pages: map[string]string{about: page("About", strings.Repeat("A sentence here. ", 200))}}
	p := newTestPipeline(t, store, &fakeEmbedder{}, testSource(about), f, Config{})

	first, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	rows := store.count()
	if rows == 0 || rows != first.Chunks {
		t.Fatalf("rows = %d, chunks = %d", rows, first.Chunks)
	}
	if _, err := p.Run(context.Background(), Request{}); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if store.count() != rows {
		t.Errorf("re-ingest changed row count: %d -> %d", rows, store.count())
	}
}

func TestRun_BatchesEmbeddings(t *testing.T) {
	t.Parallel()

	about := base + "/pages/about"
	// 5 sentences of 30 runes each with a 40-rune limit give 5 chunks.
	body := strings.Repeat("This sentence is thirty runes. ", 5)
	emb := &fakeEmbedder{}
	f := &fakeFetcher{pages: map[string]string{about: page("About", body)}}
	p := newTestPipeline(t, newMemStore(), emb, testSource(about), f, Config{ChunkMaxChars: 40, BatchSize: 2})

	stats, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Chunks != 5 {
		t.Fatalf("chunks = %d, want 5", stats.Chunks)
	}
	var sizes []int
	for _, c := range emb.calls {
		sizes = append(sizes, len(c))
	}
	if fmt.Sprint(sizes) != "[2 2 1]" {
		t.Errorf("embed batch sizes = %v, want [2 2 1]", sizes)
	}
}

func TestRun_Pagination(t *testing.T) {
	t.Parallel()

	var urls []string
	pages := make(map[string]string)
	for i := 0; i < 5; i++ {
		u := fmt.Sprintf("%s/pages/p%d", base, i)
		urls = append(urls, u)
		pages[u] = page("P", fmt.Sprintf("Page %d body.", i))
	}
	f := &fakeFetcher{pages: pages}
	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{}, testSource(urls...), f, Config{})

	stats, err := p.Run(context.Background(), Request{Limit: 2, Offset: 2})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(stats.URLs) != 2 || stats.URLs[0] != urls[2] || stats.URLs[1] != urls[3] {
		t.Errorf("URLs = %v", stats.URLs)
	}
	if stats.NextOffset == nil || *stats.NextOffset != 4 {
		t.Errorf("NextOffset = %v, want 4", stats.NextOffset)
	}

	last, err := p.Run(context.Background(), Request{Limit: 2, Offset: 4})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !last.Done() || len(last.URLs) != 1 {
		t.Errorf("last window = %+v", last)
	}

	past, err := p.Run(context.Background(), Request{Limit: 2, Offset: 99})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(past.URLs) != 0 || !past.Done() {
		t.Errorf("offset past end = %+v", past)
	}
}

func TestRun_SectionFilter(t *testing.T) {
	t.Parallel()

	about := base + "/pages/about"
	post := base + "/blogs/news/launch"
	f := &fakeFetcher{pages: map[string]string{
		about: page("About", "About us."),
		post:  page("Launch", "We launched."),
	}}
	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{}, testSource(about, post), f, Config{})

	stats, err := p.Run(context.Background(), Request{Sections: []Section{SectionBlogs}})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Total != 1 || len(stats.URLs) != 1 || stats.URLs[0] != post {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_EmbeddingFailureAborts(t *testing.T) {
	t.Parallel()

	a := base + "/pages/a"
	b := base + "/pages/b"
	c := base + "/pages/c"
	store := newMemStore()
	emb := &fakeEmbedder{err: errors.New("upstream 500"), failOn: 2}
	f := &fakeFetcher{pages: map[string]string{
		a: page("A", "First page."),
		b: page("B", "Second page."),
		c: page("C", "Third page."),
	}}
	p := newTestPipeline(t, store, emb, testSource(a, b, c), f, Config{})

	stats, err := p.Run(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected embedding error")
	}
	if stats.Processed != 1 || stats.Chunks != 1 {
		t.Errorf("partial stats = %+v", stats)
	}
	if store.count() != 1 {
		t.Errorf("earlier upserts must remain, rows = %d", store.count())
	}
	for _, u := range f.fetched {
		if u == c {
			t.Error("run continued after embedding failure")
		}
	}
}

func TestRun_LaterBatchFailureCountsPartialPage(t *testing.T) {
	t.Parallel()

	about := base + "/pages/about"
	body := strings.Repeat("This sentence is thirty runes. ", 3)
	store := newMemStore()
	emb := &fakeEmbedder{err: &embedder.UpstreamError{Provider: "openai", StatusCode: 503}, failOn: 2}
	obs := &recordingObserver{}
	f := &fakeFetcher{pages: map[string]string{about: page("About", body)}}
	p := newTestPipeline(t, store, emb, testSource(about), f, Config{ChunkMaxChars: 40, BatchSize: 1, Observer: obs})

	stats, err := p.Run(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected embedding error")
	}
	if !temporary(err) {
		t.Errorf("temporary(%v) = false, want true for a wrapped 503", err)
	}
	// The first batch is already stored, so the page counts as processed.
	if stats.Processed != 1 || stats.Chunks != 1 || store.count() != 1 {
		t.Errorf("processed=%d chunks=%d rows=%d, want 1/1/1", stats.Processed, stats.Chunks, store.count())
	}
	if len(obs.results) != 1 || obs.results[0].Outcome != OutcomeFailed || obs.results[0].Chunks != 1 {
		t.Errorf("observed = %+v", obs.results)
	}
}

func TestTemporary(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &embedder.UpstreamError{StatusCode: 429}, true},
		{"server error wrapped", fmt.Errorf("embed: %w", &embedder.UpstreamError{StatusCode: 502}), true},
		{"bad request", &embedder.UpstreamError{StatusCode: 400}, false},
		{"plain error", errors.New("boom"), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		if got := temporary(tt.err); got != tt.want {
			t.Errorf("%s: temporary = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestRun_VectorCountMismatch(t *testing.T) {
	t.Parallel()

	a := base + "/pages/a"
	f := &fakeFetcher{pages: map[string]string{a: page("A", "One. Two.")}}
	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{shorter: true}, testSource(a), f, Config{})
	if _, err := p.Run(context.Background(), Request{}); err == nil {
		t.Fatal("expected error on vector count mismatch")
	}
}

func TestRun_UpsertFailureAborts(t *testing.T) {
	t.Parallel()

	a := base + "/pages/a"
	f := &fakeFetcher{pages: map[string]string{a: page("A", "Text.")}}
	p, err := NewPipeline(&fakeEmbedder{}, failingStore{newMemStore()}, testSource(a), f, Config{Delay: -1})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	stats, err := p.Run(context.Background(), Request{})
	if err == nil {
		t.Fatal("expected upsert error")
	}
	if stats.Processed != 0 {
		t.Errorf("processed = %d, want 0", stats.Processed)
	}
}

type failingStore struct{ *memStore }

func (failingStore) Upsert(context.Context, []rag.Chunk) error { return errors.New("write failed") }

func TestRun_ExplicitURL(t *testing.T) {
	t.Parallel()

	target := "https://shop.com/pages/faq#top"
	f := &fakeFetcher{pages: map[string]string{"https://shop.com/pages/faq": page("FAQ", "Questions here.")}}
	src := testSource()
	src.err = errors.New("resolver must not be called")
	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{}, src, f, Config{})

	stats, err := p.Run(context.Background(), Request{URL: target, Limit: 25})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Total != 1 || stats.Processed != 1 || stats.URLs[0] != "https://shop.com/pages/faq" {
		t.Errorf("stats = %+v", stats)
	}
}

func TestRun_ExplicitURLForeignHost(t *testing.T) {
	t.Parallel()

	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{}, testSource(), &fakeFetcher{}, Config{})
	_, err := p.Run(context.Background(), Request{URL: "https://evil.example/pages/x"})
	if !errors.Is(err, ErrForeignHost) {
		t.Fatalf("err = %v, want ErrForeignHost", err)
	}
}

func TestRun_PruneStale(t *testing.T) {
	t.Parallel()

	a := base + "/pages/a"
	store := newMemStore()
	stale := rag.Chunk{URL: a, Content: "Old text.", ContentHash: rag.ContentHash(a, "Old text."), Embedding: []float32{1}}
	if err := store.Upsert(context.Background(), []rag.Chunk{stale}); err != nil {
		t.Fatal(err)
	}

	f := &fakeFetcher{pages: map[string]string{a: page("A", "New text.")}}
	p := newTestPipeline(t, store, &fakeEmbedder{}, testSource(a), f, Config{PruneStale: true})

	stats, err := p.Run(context.Background(), Request{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if stats.Pruned != 1 {
		t.Errorf("pruned = %d, want 1", stats.Pruned)
	}
	if _, ok := store.rows[stale.ContentHash]; ok {
		t.Error("stale row still present")
	}
	if store.count() != 1 {
		t.Errorf("rows = %d, want 1", store.count())
	}
}

func TestRun_ResolveErrorIsReturned(t *testing.T) {
	t.Parallel()

	src := testSource()
	src.err = context.Canceled
	p := newTestPipeline(t, newMemStore(), &fakeEmbedder{}, src, &fakeFetcher{}, Config{})
	if _, err := p.Run(context.Background(), Request{}); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestClampLimit(t *testing.T) {
	t.Parallel()
	tests := []struct{ in, want int }{
		{0, DefaultLimit}, {-3, DefaultLimit}, {1, 1}, {50, 50}, {51, MaxLimit}, {1000, MaxLimit},
	}
	for _, tt := range tests {
		if got := ClampLimit(tt.in); got != tt.want {
			t.Errorf("ClampLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestNewPipeline_NilDependencies(t *testing.T) {
	t.Parallel()
	src := testSource()
	if _, err := NewPipeline(nil, newMemStore(), src, &fakeFetcher{}, Config{}); err == nil {
		t.Error("expected error for nil embedder")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, nil, src, &fakeFetcher{}, Config{}); err == nil {
		t.Error("expected error for nil store")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, newMemStore(), nil, &fakeFetcher{}, Config{}); err == nil {
		t.Error("expected error for nil url source")
	}
	if _, err := NewPipeline(&fakeEmbedder{}, newMemStore(), src, nil, Config{}); err == nil {
		t.Error("expected error for nil fetcher")
	}
}
