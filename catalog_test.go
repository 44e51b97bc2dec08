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
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogPutRenamesCollisions(t *testing.T) {
	c := NewCatalog()

	assert.Equal(t, "src/app.js", c.Put("src/app.js", &Record{Text: "first"}))
	assert.Equal(t, "src/app_1.js", c.Put("src/app.js", &Record{Text: "second"}))
	assert.Equal(t, "src/app_2.js", c.Put("src/app.js", &Record{Text: "third"}))
	assert.Equal(t, "LICENSE", c.Put("LICENSE", &Record{Text: "a"}))
	assert.Equal(t, "LICENSE_1", c.Put("LICENSE", &Record{Text: "b"}))

	first, ok := c.Get("src/app.js")
	require.True(t, ok)
	assert.Equal(t, "first", first.Text)

	second, ok := c.Get("src/app_1.js")
	require.True(t, ok)
	assert.Equal(t, "second", second.Text)
}

func TestSuffixedName(t *testing.T) {
	tests := []struct {
		name     string
		n        int
		expected string
	}{
		{"a.js", 1, "a_1.js"},
		{"dir/a.min.js", 2, "dir/a.min_2.js"},
		{"README", 1, "README_1"},
		{"conf/.env", 1, "conf/.env_1"},
		{"v1.2/file", 3, "v1.2/file_3"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, suffixedName(tt.name, tt.n), "suffixedName(%q, %d)", tt.name, tt.n)
	}
}

func TestCatalogConcurrentPutsNeverShareAName(t *testing.T) {
	c := NewCatalog()
	const workers = 50

	var wg sync.WaitGroup
	names := make([]string, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			names[i] = c.Put("static/main.js", &Record{Text: fmt.Sprint(i)})
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, name := range names {
		assert.False(t, seen[name], "name %s assigned twice", name)
		seen[name] = true
	}
	assert.True(t, seen["static/main.js"])
	assert.True(t, seen[fmt.Sprintf("static/main_%d.js", workers-1)])
	assert.Equal(t, workers, c.Stats().TotalFiles)
}

func TestCatalogStatsAndKinds(t *testing.T) {
	c := NewCatalog()
	c.Put("index.html", &Record{Text: "<html></html>", ContentType: "text/html; charset=utf-8"})
	c.Put("app.js", &Record{Text: "let a", ContentType: "application/javascript"})
	c.Put("logo.png", &Record{Data: []byte{1, 2, 3}, IsBinary: true})
	c.Put("src/app.ts", &Record{Text: "const a = 1", Kind: KindSource})
	c.Put("app.js.map", &Record{Text: "{}", ContentType: "application/json"})

	stats := c.Stats()
	assert.Equal(t, 5, stats.TotalFiles)
	assert.Equal(t, int64(13+5+3+11+2), stats.TotalSize)
	assert.Equal(t, map[Kind]int{
		KindHTML:      1,
		KindScript:    1,
		KindImage:     1,
		KindSource:    1,
		KindSourceMap: 1,
	}, stats.ByKind)

	rec, ok := c.Get("logo.png")
	require.True(t, ok)
	assert.Equal(t, int64(3), rec.Size)
	assert.Equal(t, []byte{1, 2, 3}, rec.Content())

	names := make([]string, 0, 5)
	for _, r := range c.Records() {
		names = append(names, r.Filename)
	}
	assert.Equal(t, []string{"index.html", "app.js", "logo.png", "src/app.ts", "app.js.map"}, names)
	assert.Len(t, c.RecordsOfKind(KindScript), 1)
}

func TestKindFor(t *testing.T) {
	tests := []struct {
		filename    string
		contentType string
		expected    Kind
	}{
		{"index.html", "", KindHTML},
		{"api/users", "text/html", KindHTML},
		{"bundle", "text/javascript", KindScript},
		{"lib.mjs", "", KindScript},
		{"theme.css", "", KindStylesheet},
		{"x", "text/css", KindStylesheet},
		{"photo.JPG", "", KindImage},
		{"img", "image/webp", KindImage},
		{"main.js.map", "application/json", KindSourceMap},
		{"api/data", "application/json", KindOther},
		{"api/data/index.html", "application/json", KindOther},
		{"docs/index.html", "text/html; charset=utf-8", KindHTML},
		{"a.js", "text/plain", KindScript},
		{"blob.css", "application/octet-stream", KindStylesheet},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, KindFor(tt.filename, tt.contentType), "KindFor(%q, %q)", tt.filename, tt.contentType)
	}
}

func TestCatalogReset(t *testing.T) {
	c := NewCatalog()
	c.Put("a.js", &Record{Text: "x"})
	c.Reset()

	assert.False(t, c.Has("a.js"))
	assert.Empty(t, c.Records())
	assert.Equal(t, 0, c.Stats().TotalFiles)
	assert.Equal(t, "a.js", c.Put("a.js", &Record{Text: "y"}))
}
