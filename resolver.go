// Copyright (c) 2025 Ronan Le Meillat
//
// Website Source Downloader - A tool for mirroring a web page's assets and the
// original sources recovered from its source maps
//
// Author: Ronan Le Meillat
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"

	whatwgUrl "github.com/nlnwa/whatwg-url/url"
)

var skippedPrefixes = []string{"data:", "mailto:", "tel:", "#"}

var reservedChars = strings.NewReplacer(
	"<", "_", ">", "_", ":", "_", "\"", "_", "|", "_", "?", "_", "*", "_",
)

// urlParser follows the WHATWG URL standard so references resolve as a browser would
var urlParser = whatwgUrl.NewParser(whatwgUrl.WithPercentEncodeSinglePercentSign())

// ResolveURL resolves reference against base and returns the absolute URL.
// Only http and https results are accepted.
func ResolveURL(reference, base string) (string, bool) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return "", false
	}
	lower := strings.ToLower(reference)
	for _, prefix := range skippedPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return "", false
		}
	}

	resolved, err := urlParser.ParseRef(base, reference)
	if err != nil {
		return "", false
	}
	abs, err := url.Parse(resolved.Href(false))
	if err != nil {
		return "", false
	}
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if abs.Host == "" {
		return "", false
	}
	return abs.String(), true
}

// Origin returns scheme://host of rawURL, or "" when it cannot be parsed.
func Origin(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// urlSet is an insertion-ordered set keyed by exact string.
type urlSet struct {
	seen map[string]struct{}
	list []string
}

func newURLSet() *urlSet {
	return &urlSet{seen: make(map[string]struct{})}
}

// Add reports whether u was not already present.
func (s *urlSet) Add(u string) bool {
	if _, ok := s.seen[u]; ok {
		return false
	}
	s.seen[u] = struct{}{}
	s.list = append(s.list, u)
	return true
}

func (s *urlSet) Has(u string) bool {
	_, ok := s.seen[u]
	return ok
}

func (s *urlSet) Len() int { return len(s.list) }

// List returns the members in insertion order.
func (s *urlSet) List() []string {
	out := make([]string, len(s.list))
	copy(out, s.list)
	return out
}

// VisitedSet records the URLs already fetched successfully during a session.
type VisitedSet struct {
	mu   sync.RWMutex
	urls map[string]struct{}
}

// NewVisitedSet creates an empty VisitedSet
func NewVisitedSet() *VisitedSet {
	return &VisitedSet{urls: make(map[string]struct{})}
}

// Add marks u as visited and reports whether it was new.
func (v *VisitedSet) Add(u string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, ok := v.urls[u]; ok {
		return false
	}
	v.urls[u] = struct{}{}
	return true
}

func (v *VisitedSet) Has(u string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.urls[u]
	return ok
}

func (v *VisitedSet) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.urls)
}

// Reset forgets every visited URL.
func (v *VisitedSet) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.urls = make(map[string]struct{})
}

// LocalPath converts a fetched URL to a catalog filename.
// Resources served from another host than rootURL are placed under external/<host>/.
func LocalPath(rawURL, rootURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}

	p := strings.TrimPrefix(u.Path, "/")

	// Directory-style URLs are stored as their index page
	if p == "" {
		p = "index.html"
	} else if strings.HasSuffix(p, "/") {
		p += "index.html"
	} else if path.Ext(p) == "" {
		// Extension-less pages and endpoints may also be the parent of other resources
		p += "/index.html"
	}

	p = cleanSegments(p)
	if p == "" {
		p = "index.html"
	}

	if root, err := url.Parse(rootURL); err == nil && root.Host != "" && !strings.EqualFold(root.Host, u.Host) {
		p = path.Join("external", u.Host, p)
	}

	return reservedChars.Replace(p)
}

// cleanSegments resolves "." and ".." segments so a path can never climb out of its prefix.
func cleanSegments(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}

// URLFilter applies the include/exclude patterns given on the command line.
type URLFilter struct {
	Include *regexp.Regexp
	Exclude *regexp.Regexp
}

// Allow checks if a URL should be processed based on the include/exclude patterns
func (f URLFilter) Allow(rawURL string) bool {
	// If include pattern is set, URL must match it
	if f.Include != nil && !f.Include.MatchString(rawURL) {
		return false
	}

	// If exclude pattern is set, URL must not match it
	if f.Exclude != nil && f.Exclude.MatchString(rawURL) {
		return false
	}

	return true
}
