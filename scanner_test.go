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
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestScanEndpoints(t *testing.T) {
	visited := NewVisitedSet()
	visited.Add("https://x.test/js/app.js")

	records := []*Record{
		{Kind: KindScript, Text: `fetch("/api/users");axios.get('/api/items?page=1');const u=` + "`/api/config`" + `;`},
		{Kind: KindScript, Text: `import("https://x.test/js/app.js");load("https://cdn.test/chunk.js")`},
		{Kind: KindHTML, Text: `<a href="/api/ignored">`},
		{Kind: KindScript, IsBinary: true},
	}

	got := ScanEndpoints(records, "https://x.test/app/index.html", visited, 0)
	assert.Equal(t, []string{
		"https://x.test/api/users",
		"https://x.test/api/items?page=1",
		"https://x.test/api/config",
		"https://cdn.test/chunk.js",
	}, got)
}

func TestScanEndpointsDeduplicatesAndLimits(t *testing.T) {
	records := []*Record{
		{Kind: KindScript, Text: `"/api/a" "/api/a" "/api/b" "/api/c"`},
	}

	all := ScanEndpoints(records, "https://x.test/", NewVisitedSet(), 0)
	assert.Equal(t, []string{"https://x.test/api/a", "https://x.test/api/b", "https://x.test/api/c"}, all)

	limited := ScanEndpoints(records, "https://x.test/", NewVisitedSet(), 2)
	assert.Equal(t, []string{"https://x.test/api/a", "https://x.test/api/b"}, limited)
}

func TestScanEndpointsSkipsVisitedAPIPaths(t *testing.T) {
	visited := NewVisitedSet()
	visited.Add("https://x.test/api/done")
	records := []*Record{{Kind: KindScript, Text: `"/api/done","/api/todo"`}}

	assert.Equal(t, []string{"https://x.test/api/todo"}, ScanEndpoints(records, "https://x.test/", visited, 0))
}
