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
	"path"
	"strconv"
	"strings"
	"sync"
)

// Kind classifies a catalog record.
type Kind string

const (
	KindHTML       Kind = "html"
	KindScript     Kind = "script"
	KindStylesheet Kind = "stylesheet"
	KindImage      Kind = "image"
	KindSource     Kind = "source"
	KindSourceMap  Kind = "sourcemap"
	KindOther      Kind = "other"
)

var imageExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".webp": true, ".avif": true, ".ico": true, ".bmp": true,
}

// Record is one retained file. Records are not modified once stored.
type Record struct {
	Filename    string
	Text        string
	Data        []byte
	IsBinary    bool
	Size        int64
	SourceURL   string // empty for synthesized files
	ContentType string
	Kind        Kind
	// SourceMap is the map location announced by a SourceMap/X-SourceMap response header.
	SourceMap string
}

// Content returns the raw payload.
func (r *Record) Content() []byte {
	if r.IsBinary {
		return r.Data
	}
	return []byte(r.Text)
}

// RecordFromResponse builds a record for a fetched resource.
func RecordFromResponse(resp *Response) *Record {
	rec := &Record{
		SourceURL:   resp.URL,
		ContentType: resp.ContentType,
		IsBinary:    resp.IsBinary,
		Text:        resp.Text,
		Data:        resp.Data,
	}
	if sm := resp.Header.Get("sourcemap"); sm != "" {
		rec.SourceMap = sm
	} else if sm := resp.Header.Get("x-sourcemap"); sm != "" {
		rec.SourceMap = sm
	}
	return rec
}

// KindFor derives a kind from the declared content type, then the file extension.
func KindFor(filename, contentType string) Kind {
	ct := strings.ToLower(contentType)
	ext := strings.ToLower(path.Ext(filename))

	switch {
	case ext == ".map":
		return KindSourceMap
	case strings.Contains(ct, "html"):
		return KindHTML
	case strings.Contains(ct, "javascript") || strings.Contains(ct, "ecmascript"):
		return KindScript
	case strings.Contains(ct, "css"):
		return KindStylesheet
	case strings.HasPrefix(ct, "image/"):
		return KindImage
	case ct != "" && !genericContentType(ct):
		return KindOther
	}

	switch {
	case ext == ".html" || ext == ".htm":
		return KindHTML
	case ext == ".js" || ext == ".mjs" || ext == ".cjs":
		return KindScript
	case ext == ".css":
		return KindStylesheet
	case imageExtensions[ext]:
		return KindImage
	}
	return KindOther
}

// genericContentType reports types that say nothing about the payload, so the
// extension decides instead.
func genericContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/plain") || strings.HasPrefix(ct, "application/octet-stream")
}

// Stats aggregates the records of a catalog.
type Stats struct {
	TotalFiles int
	TotalSize  int64
	ByKind     map[Kind]int
}

// Catalog is the per-session store of retained files keyed by filename.
type Catalog struct {
	mu      sync.Mutex
	records map[string]*Record
	order   []*Record
	stats   Stats
}

// NewCatalog creates an empty catalog
func NewCatalog() *Catalog {
	return &Catalog{
		records: make(map[string]*Record),
		stats:   Stats{ByKind: make(map[Kind]int)},
	}
}

// Put stores rec under filename, or under filename_N.ext when the name is taken,
// and returns the name actually assigned. Calls are serialised so the first
// caller keeps the bare name.
func (c *Catalog) Put(filename string, rec *Record) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	name := filename
	for n := 1; c.records[name] != nil; n++ {
		name = suffixedName(filename, n)
	}

	rec.Filename = name
	rec.Size = int64(len(rec.Content()))
	if rec.Kind == "" {
		rec.Kind = KindFor(name, rec.ContentType)
	}

	c.records[name] = rec
	c.order = append(c.order, rec)
	c.stats.TotalFiles++
	c.stats.TotalSize += rec.Size
	c.stats.ByKind[rec.Kind]++
	return name
}

// suffixedName inserts _n right before the extension of the last path segment.
func suffixedName(filename string, n int) string {
	dir, base := path.Split(filename)
	ext := path.Ext(base)
	if ext == base {
		// dotfiles such as .env have no extension to preserve
		ext = ""
	}
	return dir + strings.TrimSuffix(base, ext) + "_" + strconv.Itoa(n) + ext
}

func (c *Catalog) Has(filename string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[filename] != nil
}

func (c *Catalog) Get(filename string) (*Record, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[filename]
	return rec, ok
}

// Records returns every record in insertion order.
func (c *Catalog) Records() []*Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Record, len(c.order))
	copy(out, c.order)
	return out
}

// RecordsOfKind returns the records of kind k in insertion order.
func (c *Catalog) RecordsOfKind(k Kind) []*Record {
	var out []*Record
	for _, rec := range c.Records() {
		if rec.Kind == k {
			out = append(out, rec)
		}
	}
	return out
}

// Stats returns a snapshot of the running statistics.
func (c *Catalog) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	byKind := make(map[Kind]int, len(c.stats.ByKind))
	for k, v := range c.stats.ByKind {
		byKind[k] = v
	}
	return Stats{TotalFiles: c.stats.TotalFiles, TotalSize: c.stats.TotalSize, ByKind: byKind}
}

// Reset drops every record and zeroes the statistics.
func (c *Catalog) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.records = make(map[string]*Record)
	c.order = nil
	c.stats = Stats{ByKind: make(map[Kind]int)}
}
