package ingestion

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// Section is a page category derived from the first path segment of a URL.
type Section string

// Known sections. Each maps to the path prefix "/<section>/".
const (
	SectionPages       Section = "pages"
	SectionPolicies    Section = "policies"
	SectionCollections Section = "collections"
	SectionProducts    Section = "products"
	SectionBlogs       Section = "blogs"
)

// AllSections lists every known section in display order.
var AllSections = []Section{SectionPages, SectionPolicies, SectionCollections, SectionProducts, SectionBlogs}

// ErrUnknownSection is returned by ParseSections for a name outside AllSections.
var ErrUnknownSection = errors.New("ingestion: unknown section")

// Prefix returns the URL path prefix of s, e.g. "/pages/".
func (s Section) Prefix() string {
	return "/" + string(s) + "/"
}

// Prefixes returns the path prefixes of sections, or of AllSections when
// sections is empty.
func Prefixes(sections []Section) []string {
	if len(sections) == 0 {
		sections = AllSections
	}
	out := make([]string, 0, len(sections))
	for _, s := range sections {
		out = append(out, s.Prefix())
	}
	return out
}

// ParseSections parses a comma-separated list such as "pages,policies".
// Names are case-insensitive; blanks and duplicates are ignored. An empty
// list returns nil, meaning all sections.
func ParseSections(raw string) ([]Section, error) {
	var (
		out  []Section
		seen = make(map[Section]bool)
	)
	for _, part := range strings.Split(raw, ",") {
		name := Section(strings.ToLower(strings.TrimSpace(part)))
		if name == "" || seen[name] {
			continue
		}
		if !name.valid() {
			return nil, fmt.Errorf("%w %q (valid: %s)", ErrUnknownSection, name, JoinSections(AllSections))
		}
		seen[name] = true
		out = append(out, name)
	}
	return out, nil
}

// InferSection returns the section of rawURL from its first path segment,
// or "" when the URL does not live under a known section.
func InferSection(rawURL string) Section {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := trimSegments(strings.ToLower(parsed.Path))
	if len(segments) < 2 {
		return ""
	}
	if s := Section(segments[0]); s.valid() {
		return s
	}
	return ""
}

// FilterBySection keeps the URLs whose section is in sections. Order is
// preserved. An empty sections list keeps every URL under a known section.
func FilterBySection(urls []string, sections []Section) []string {
	want := make(map[Section]bool, len(AllSections))
	if len(sections) == 0 {
		sections = AllSections
	}
	for _, s := range sections {
		want[s] = true
	}
	out := make([]string, 0, len(urls))
	for _, u := range urls {
		if want[InferSection(u)] {
			out = append(out, u)
		}
	}
	return out
}

// JoinSections renders sections as a comma-separated list.
func JoinSections(sections []Section) string {
	names := make([]string, 0, len(sections))
	for _, s := range sections {
		names = append(names, string(s))
	}
	return strings.Join(names, ",")
}

// valid reports whether s is one of AllSections.
func (s Section) valid() bool {
	for _, known := range AllSections {
		if s == known {
			return true
		}
	}
	return false
}

// trimSegments splits a URL path into non-empty segments.
func trimSegments(path string) []string {
	parts := strings.Split(path, "/")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
