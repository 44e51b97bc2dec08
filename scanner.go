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
	"regexp"
)

var (
	apiPathRegex     = regexp.MustCompile("[\"'`](/api/[^\"'`\\s]*)[\"'`]")
	absoluteURLRegex = regexp.MustCompile("[\"'`](https?://[^\"'`\\s]+)[\"'`]")
)

// ScanEndpoints looks for API paths and absolute URLs quoted in script records.
// API paths are resolved against the origin of rootURL; absolute URLs already in
// visited are skipped. At most limit URLs are returned when limit is positive.
func ScanEndpoints(records []*Record, rootURL string, visited *VisitedSet, limit int) []string {
	origin := Origin(rootURL)
	found := newURLSet()

	add := func(u string) bool {
		if limit > 0 && found.Len() >= limit {
			return false
		}
		found.Add(u)
		return true
	}

	for _, rec := range records {
		if rec.Kind != KindScript || rec.IsBinary || rec.Text == "" {
			continue
		}

		for _, m := range apiPathRegex.FindAllStringSubmatch(rec.Text, -1) {
			if abs, ok := ResolveURL(m[1], origin+"/"); ok && !visited.Has(abs) {
				if !add(abs) {
					return found.List()
				}
			}
		}

		for _, m := range absoluteURLRegex.FindAllStringSubmatch(rec.Text, -1) {
			abs, ok := ResolveURL(m[1], rootURL)
			if !ok || visited.Has(abs) {
				continue
			}
			if !add(abs) {
				return found.List()
			}
		}
	}
	return found.List()
}
