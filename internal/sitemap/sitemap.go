// Package sitemap resolves a site's sitemap tree into the set of page URLs
// eligible for indexing.
//
// Traversal is an iterative worklist with an explicit visited set, so nested
// sitemap indexes of any depth are followed without recursion and cycles are
// fetched once. Failures on individual sitemap documents are logged and
// skipped; a site with no reachable sitemap resolves to an empty set.
package sitemap

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/webfetch"
)

const (
	// DefaultPath is the root sitemap location relative to the site origin.
	DefaultPath = "/sitemap.xml"
	// DefaultMaxSitemaps bounds the number of sitemap documents fetched per resolve.
	DefaultMaxSitemaps = 200
)

// sitemapsNS identifies the sitemap protocol namespace, http or https.
const sitemapsNS = "sitemaps.org/schemas/sitemap/"

// DefaultPrefixes are the page path prefixes accepted by default.
var DefaultPrefixes = []string{"/pages/", "/policies/", "/blogs/", "/collections/", "/products/"}

// assetExts lists file extensions that are never HTML pages.
var assetExts = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".svg": true, ".ico": true, ".bmp": true, ".tif": true, ".tiff": true, ".avif": true,
	".css": true, ".js": true, ".mjs": true, ".map": true, ".json": true,
	".pdf": true, ".doc": true, ".docx": true, ".xls": true, ".xlsx": true,
	".ppt": true, ".pptx": true, ".csv": true, ".txt": true,
	".mp4": true, ".webm": true, ".mov": true, ".avi": true, ".mkv": true,
	".mp3": true, ".wav": true, ".ogg": true, ".m4a": true, ".flac": true,
	".zip": true, ".gz": true, ".tgz": true, ".tar": true, ".rar": true, ".7z": true,
	".woff": true, ".woff2": true, ".ttf": true, ".otf": true, ".eot": true,
}

// Kind distinguishes sitemap documents from page candidates.
type Kind int

const (
	// KindPage is a page candidate listed by a <urlset>.
	KindPage Kind = iota
	// KindSitemap is a nested sitemap listed by a <sitemapindex>.
	KindSitemap
)

// String returns the kind's name.
func (k Kind) String() string {
	if k == KindSitemap {
		return "nested-sitemap"
	}
	return "page"
}

// Entry is one <loc> read from a sitemap document.
type Entry struct {
	// Loc is the absolute URL as written in the document.
	Loc string
	// Kind is KindSitemap when the document root was <sitemapindex>.
	Kind Kind
}

// Fetcher retrieves one URL. *webfetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*webfetch.Result, error)
}

// Config holds the settings for constructing a Resolver.
type Config struct {
	// BaseURL is the site origin, e.g. https://www.example.com.
	BaseURL string
	// Path is the root sitemap path. Defaults to DefaultPath.
	Path string
	// Prefixes are the accepted page path prefixes. Defaults to DefaultPrefixes.
	Prefixes []string
	// MaxSitemaps bounds sitemap documents fetched. Defaults to DefaultMaxSitemaps.
	MaxSitemaps int
}

// Resolver turns a site's sitemap tree into a sorted, deduplicated list of
// page URLs. It holds no per-call state and is safe for concurrent use.
type Resolver struct {
	fetcher     Fetcher
	base        *url.URL
	root        string
	prefixes    []string
	maxSitemaps int
}

// NewResolver validates cfg and constructs a Resolver.
func NewResolver(fetcher Fetcher, cfg Config) (*Resolver, error) {
	if fetcher == nil {
		return nil, errors.New("sitemap: fetcher must not be nil")
	}
	base, err := ParseBase(cfg.BaseURL)
	if err != nil {
		return nil, err
	}
	if cfg.Path == "" {
		cfg.Path = DefaultPath
	}
	if !strings.HasPrefix(cfg.Path, "/") {
		cfg.Path = "/" + cfg.Path
	}
	if len(cfg.Prefixes) == 0 {
		cfg.Prefixes = DefaultPrefixes
	}
	if cfg.MaxSitemaps <= 0 {
		cfg.MaxSitemaps = DefaultMaxSitemaps
	}
	return &Resolver{
		fetcher:     fetcher,
		base:        base,
		root:        base.Scheme + "://" + base.Host + cfg.Path,
		prefixes:    cfg.Prefixes,
		maxSitemaps: cfg.MaxSitemaps,
	}, nil
}

// Base returns the parsed site origin.
func (r *Resolver) Base() *url.URL {
	u := *r.base
	return &u
}

// Resolve walks the sitemap tree from the root document and returns every
// accepted page URL, sorted. It returns an error only when ctx is done.
func (r *Resolver) Resolve(ctx context.Context) ([]string, error) {
	log := logging.FromContext(ctx)

	queue := []string{r.root}
	visited := map[string]bool{r.root: true}
	pages := make(map[string]struct{})
	fetched := 0

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if fetched >= r.maxSitemaps {
			log.Warn("sitemap: document cap reached, remaining sitemaps skipped",
				slog.Int("cap", r.maxSitemaps),
				slog.Int("pending", len(queue)),
			)
			break
		}

		next := queue[0]
		queue = queue[1:]
		fetched++

		entries, err := r.fetchEntries(ctx, next)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("sitemap: document skipped", slog.String("sitemap", next), slog.String("error", err.Error()))
			continue
		}

		for _, e := range entries {
			switch e.Kind {
			case KindSitemap:
				abs, ok := absolute(next, e.Loc)
				if !ok || visited[abs] {
					continue
				}
				visited[abs] = true
				queue = append(queue, abs)
				log.Debug("sitemap: enqueued", slog.String("loc", abs), slog.String("kind", e.Kind.String()))
			case KindPage:
				if u, ok := r.Accept(e.Loc); ok {
					pages[u] = struct{}{}
				}
			}
		}
	}

	out := make([]string, 0, len(pages))
	for u := range pages {
		out = append(out, u)
	}
	sort.Strings(out)

	log.Debug("sitemap: resolved",
		slog.Int("sitemaps_fetched", fetched),
		slog.Int("pages", len(out)),
	)
	return out, nil
}

// Accept reports whether loc is an indexable page of this site and returns
// its canonical form (host lowercased, fragment removed).
func (r *Resolver) Accept(loc string) (string, bool) {
	u, err := url.Parse(strings.TrimSpace(loc))
	if err != nil || u.Host == "" {
		return "", false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", false
	}
	if !SameHost(u, r.base) {
		return "", false
	}
	if !r.allowedPath(u.Path) {
		return "", false
	}
	if assetExts[strings.ToLower(path.Ext(u.Path))] {
		return "", false
	}
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), true
}

// allowedPath reports whether p starts with one of the configured prefixes.
func (r *Resolver) allowedPath(p string) bool {
	for _, prefix := range r.prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	return false
}

// fetchEntries downloads and parses one sitemap document.
func (r *Resolver) fetchEntries(ctx context.Context, loc string) ([]Entry, error) {
	res, err := r.fetcher.Fetch(ctx, loc)
	if err != nil {
		return nil, err
	}
	if !res.OK() {
		return nil, fmt.Errorf("sitemap: GET %s returned %d", loc, res.StatusCode)
	}
	return Parse(res.Body)
}

// Parse reads the <loc> entries of a sitemap document. A document whose root
// element is <sitemapindex> yields KindSitemap entries; any other root yields
// KindPage entries. Gzip-compressed input is detected and decompressed.
func Parse(doc []byte) ([]Entry, error) {
	var src io.Reader = bytes.NewReader(doc)
	if len(doc) >= 2 && doc[0] == 0x1f && doc[1] == 0x8b {
		zr, err := gzip.NewReader(src)
		if err != nil {
			return nil, fmt.Errorf("sitemap: gzip: %w", err)
		}
		defer zr.Close()
		src = zr
	}

	dec := xml.NewDecoder(src)
	dec.Strict = false

	var (
		entries []Entry
		kind    = KindPage
		rooted  bool
		inLoc   bool
		loc     strings.Builder
	)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if rooted {
				// Keep what was read before the malformed tail.
				return entries, nil
			}
			return nil, fmt.Errorf("sitemap: parse: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !rooted {
				rooted = true
				if strings.EqualFold(t.Name.Local, "sitemapindex") {
					kind = KindSitemap
				}
			}
			if strings.EqualFold(t.Name.Local, "loc") && sitemapNamespace(t.Name.Space) {
				inLoc = true
				loc.Reset()
			}
		case xml.CharData:
			if inLoc {
				loc.Write(t)
			}
		case xml.EndElement:
			if inLoc && strings.EqualFold(t.Name.Local, "loc") && sitemapNamespace(t.Name.Space) {
				inLoc = false
				if v := strings.TrimSpace(loc.String()); v != "" {
					entries = append(entries, Entry{Loc: v, Kind: kind})
				}
			}
		}
	}
	if !rooted {
		return nil, errors.New("sitemap: empty document")
	}
	return entries, nil
}

// sitemapNamespace reports whether an element namespace is the sitemap
// protocol's own (or none). Extension elements such as image:loc are not.
func sitemapNamespace(space string) bool {
	return space == "" || strings.Contains(space, sitemapsNS)
}

// ParseBase parses a site origin and rejects anything without a scheme and host.
func ParseBase(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("sitemap: base URL is required (SITE_BASE_URL)")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("sitemap: invalid base URL %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("sitemap: base URL %q must be an absolute http(s) URL", raw)
	}
	return u, nil
}

// NormalizeHost lowercases host and strips a leading "www.".
func NormalizeHost(host string) string {
	return strings.TrimPrefix(strings.ToLower(host), "www.")
}

// SameHost reports whether a and b name the same site, ignoring case and a
// leading "www.".
func SameHost(a, b *url.URL) bool {
	return NormalizeHost(a.Hostname()) == NormalizeHost(b.Hostname())
}

// absolute resolves loc against the document it was read from.
func absolute(doc, loc string) (string, bool) {
	base, err := url.Parse(doc)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(strings.TrimSpace(loc))
	if err != nil {
		return "", false
	}
	u := base.ResolveReference(ref)
	u.Fragment = ""
	return u.String(), true
}
