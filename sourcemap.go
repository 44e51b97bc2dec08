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
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/semaphore"
)

var (
	sourceMappingRegex = regexp.MustCompile(`//([#@])\s*sourceMappingURL=(\S+)\s*$`)
	webpackPrefixRegex = regexp.MustCompile(`^webpack://[^/]*/`)
)

// noiseMarkers identify bundler runtime files that carry no application source.
var noiseMarkers = []string{
	"webpack/",
	"node_modules/",
	"webpack:///",
	"webpack/bootstrap",
	"webpack/runtime",
	"webpack-dev-server",
	"webpack-hot-middleware",
	"__webpack",
	"webpack-internal://",
}

// ResourceFetcher is the part of Fetcher the pipeline components depend on.
type ResourceFetcher interface {
	Fetch(ctx context.Context, rawURL, method string) (*Response, error)
}

// FindSourceMapReference looks for a sourceMappingURL comment in a script.
// The last "//#" comment wins; the legacy "//@" form is used when no "//#" exists.
func FindSourceMapReference(scriptText, scriptURL string) (string, bool) {
	var modern, legacy string
	for _, line := range strings.Split(scriptText, "\n") {
		m := sourceMappingRegex.FindStringSubmatch(strings.TrimRight(line, "\r"))
		if m == nil {
			continue
		}
		if m[1] == "#" {
			modern = m[2]
		} else {
			legacy = m[2]
		}
	}

	ref := modern
	if ref == "" {
		ref = legacy
	}
	if ref == "" {
		return "", false
	}
	// Inline maps are decoded by the processor
	if strings.HasPrefix(ref, "data:") {
		return ref, true
	}
	if u, err := url.Parse(ref); err == nil && (u.Scheme == "http" || u.Scheme == "https") {
		return ref, true
	}
	return ResolveURL(ref, scriptURL)
}

// CleanSourcePath normalizes a "sources" entry into a relative file path.
func CleanSourcePath(p string) string {
	p = strings.TrimPrefix(p, "/")
	p = webpackPrefixRegex.ReplaceAllString(p, "")
	p = strings.TrimPrefix(p, "webpack://")
	p = strings.TrimPrefix(p, "./")
	if i := strings.Index(p, "?"); i >= 0 {
		p = p[:i]
	}
	return reservedChars.Replace(p)
}

// IsNoisePath reports whether a cleaned source path must be excluded.
func IsNoisePath(cleaned string) bool {
	if len(cleaned) < 2 {
		return true
	}
	if strings.HasPrefix(cleaned, "(webpack)") {
		return true
	}
	for _, marker := range noiseMarkers {
		if strings.Contains(cleaned, marker) {
			return true
		}
	}
	return false
}

// sourceFilename returns the catalog name of a source entry, false when it is filtered.
func sourceFilename(source string) (string, bool) {
	cleaned := CleanSourcePath(source)
	if IsNoisePath(cleaned) {
		return "", false
	}
	name := cleanSegments(cleaned)
	if name == "" {
		return "", false
	}
	return sourcePrefix + name, true
}

type sourceMap struct {
	SourceRoot string
	Sources    []string
	// Contents is positionally aligned with Sources when HasContent is set.
	Contents   []string
	HasContent bool
}

// parseSourceMap accepts any JSON object with a "sources" array; "version" is not required.
func parseSourceMap(raw []byte) (*sourceMap, error) {
	text := strings.TrimSpace(string(raw))
	// Some servers prepend an XSSI guard line
	if strings.HasPrefix(text, ")]}") {
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		}
	}
	if !gjson.Valid(text) {
		return nil, fmt.Errorf("%w: source map is not valid JSON", ErrParse)
	}

	doc := gjson.Parse(text)
	sources := doc.Get("sources")
	if !sources.IsArray() {
		return nil, fmt.Errorf("%w: source map has no sources array", ErrParse)
	}

	sm := &sourceMap{SourceRoot: doc.Get("sourceRoot").String()}
	for _, s := range sources.Array() {
		sm.Sources = append(sm.Sources, s.String())
	}

	contents := doc.Get("sourcesContent")
	if contents.IsArray() {
		arr := contents.Array()
		if len(arr) == len(sm.Sources) {
			sm.HasContent = true
			sm.Contents = make([]string, len(arr))
			for i, c := range arr {
				if c.Type == gjson.String {
					sm.Contents[i] = c.String()
				}
			}
		}
	}
	return sm, nil
}

// decodeInlineMap decodes a data: URI source map.
func decodeInlineMap(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed inline source map", ErrParse)
	}
	if strings.HasSuffix(meta, ";base64") {
		data, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
				return nil, fmt.Errorf("%w: inline source map: %v", ErrParse, err)
			}
		}
		return data, nil
	}
	s, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: inline source map: %v", ErrParse, err)
	}
	return []byte(s), nil
}

// SourceMapProcessor recovers original sources from the maps of downloaded scripts.
type SourceMapProcessor struct {
	Fetcher     ResourceFetcher
	Catalog     *Catalog
	Visited     *VisitedSet
	RootURL     string
	Concurrency int64
	// Active is polled before every network call; nil means always active.
	Active func() bool
	Log    zerolog.Logger

	seenOnce sync.Once
	seen     *VisitedSet
}

func (p *SourceMapProcessor) active() bool {
	return p.Active == nil || p.Active()
}

// firstVisit records mapURL and reports whether this processor had not seen it yet.
func (p *SourceMapProcessor) firstVisit(mapURL string) bool {
	p.seenOnce.Do(func() { p.seen = NewVisitedSet() })
	return p.seen.Add(mapURL)
}

// Process fetches the map at mapURL and stores every recovered source.
// It returns the number of extracted files.
// A map shared by several scripts is fetched and extracted only once.
func (p *SourceMapProcessor) Process(ctx context.Context, mapURL string, script *Record) (int, error) {
	var raw []byte
	inline := strings.HasPrefix(mapURL, "data:")
	if !inline && !p.firstVisit(mapURL) {
		p.Log.Debug().Str("phase", "maps").Str("url", mapURL).Msg("Source map already processed")
		return 0, nil
	}
	if inline {
		data, err := decodeInlineMap(mapURL)
		if err != nil {
			return 0, err
		}
		raw = data
	} else {
		if !p.active() {
			return 0, ErrCancelled
		}
		resp, err := p.Fetcher.Fetch(ctx, mapURL, http.MethodGet)
		if err != nil {
			return 0, err
		}
		raw = resp.Bytes()
	}

	sm, err := parseSourceMap(raw)
	if err != nil {
		return 0, err
	}
	if !p.active() {
		return 0, ErrCancelled
	}

	if !inline && p.Visited.Add(mapURL) {
		p.Catalog.Put(LocalPath(mapURL, p.RootURL), &Record{
			Text:        string(raw),
			SourceURL:   mapURL,
			ContentType: "application/json",
			Kind:        KindSourceMap,
		})
	}

	if sm.HasContent {
		return p.extractEmbedded(sm), nil
	}

	base := script.SourceURL
	if sm.SourceRoot != "" && !inline {
		root := sm.SourceRoot
		if !strings.HasSuffix(root, "/") {
			root += "/"
		}
		if resolved, ok := ResolveURL(root, mapURL); ok {
			base = resolved
		}
	}
	return p.fetchSources(ctx, sm, base), nil
}

func (p *SourceMapProcessor) extractEmbedded(sm *sourceMap) int {
	count := 0
	for i, src := range sm.Sources {
		content := sm.Contents[i]
		if content == "" {
			continue
		}
		name, ok := sourceFilename(src)
		if !ok {
			p.Log.Debug().Str("source", src).Msg("Skipping bundler source")
			continue
		}
		p.Catalog.Put(name, &Record{Text: content, Kind: KindSource})
		count++
	}
	return count
}

// fetchSources downloads each source listed without embedded content.
// Downloads run concurrently; results are stored in source order.
func (p *SourceMapProcessor) fetchSources(ctx context.Context, sm *sourceMap, base string) int {
	type job struct {
		name string
		url  string
		resp *Response
	}

	var jobs []*job
	for _, src := range sm.Sources {
		name, ok := sourceFilename(src)
		if !ok {
			continue
		}
		abs, ok := ResolveURL(src, base)
		if !ok {
			// bundler schemes such as webpack:// only resolve once cleaned
			abs, ok = ResolveURL(strings.TrimPrefix(name, sourcePrefix), base)
		}
		if !ok {
			p.Log.Warn().Str("phase", "maps").Str("source", src).Msg("Source path cannot be fetched")
			continue
		}
		jobs = append(jobs, &job{name: name, url: abs})
	}

	concurrency := p.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(concurrency)
	var wg sync.WaitGroup

	for _, j := range jobs {
		wg.Add(1)
		go func(j *job) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			if !p.active() {
				return
			}
			resp, err := p.Fetcher.Fetch(ctx, j.url, http.MethodGet)
			if err != nil {
				p.Log.Warn().Err(err).Str("phase", "maps").Str("url", j.url).Msg("Failed to fetch original source")
				return
			}
			j.resp = resp
		}(j)
	}
	wg.Wait()

	count := 0
	for _, j := range jobs {
		if j.resp == nil || !p.active() {
			continue
		}
		p.Visited.Add(j.url)
		p.Catalog.Put(j.name, &Record{
			Text:        string(j.resp.Bytes()),
			SourceURL:   j.url,
			ContentType: j.resp.ContentType,
			Kind:        KindSource,
		})
		count++
	}
	return count
}
