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
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// resourceSelectors are queried in this order; the result set is order-independent.
var resourceSelectors = []struct {
	selector string
	attr     string
}{
	{"script[src]", "src"},
	{"link[rel~=stylesheet][href]", "href"},
	{"img[src]", "src"},
	{"[href]:not(base)", "href"},
	{"[src]", "src"},
}

var (
	cssURLRegex    = regexp.MustCompile(`url\(\s*(['"]?)([^'")]+)['"]?\s*\)`)
	cssImportRegex = regexp.MustCompile(`@import\s+['"]([^'"]+)['"]`)
)

// ExtractResources returns every resource URL referenced by the markup, resolved
// against baseURL (or the document's <base href>) and de-duplicated.
func ExtractResources(htmlText, baseURL string) ([]string, error) {
	root, err := html.Parse(strings.NewReader(htmlText))
	if err != nil {
		return nil, fmt.Errorf("%w: html: %v", ErrParse, err)
	}
	doc := goquery.NewDocumentFromNode(root)

	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, ok := ResolveURL(href, baseURL); ok {
			baseURL = resolved
		}
	}

	found := newURLSet()
	for _, rs := range resourceSelectors {
		doc.Find(rs.selector).Each(func(_ int, s *goquery.Selection) {
			if val, ok := s.Attr(rs.attr); ok {
				if abs, ok := ResolveURL(val, baseURL); ok {
					found.Add(abs)
				}
			}
		})
	}

	// Responsive images list further candidates in srcset
	doc.Find("img[srcset], source[srcset]").Each(func(_ int, s *goquery.Selection) {
		srcset, _ := s.Attr("srcset")
		for _, candidate := range parseSrcset(srcset) {
			if abs, ok := ResolveURL(candidate, baseURL); ok {
				found.Add(abs)
			}
		}
	})

	return found.List(), nil
}

// parseSrcset returns the URL part of each "url descriptor" entry.
func parseSrcset(srcset string) []string {
	var urls []string
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(strings.TrimSpace(entry))
		if len(fields) > 0 {
			urls = append(urls, fields[0])
		}
	}
	return urls
}

// ExtractStylesheetResources finds url(...) and @import references in a stylesheet.
func ExtractStylesheetResources(css, cssURL string) []string {
	found := newURLSet()
	for _, match := range cssURLRegex.FindAllStringSubmatch(css, -1) {
		if abs, ok := ResolveURL(match[2], cssURL); ok {
			found.Add(abs)
		}
	}
	for _, match := range cssImportRegex.FindAllStringSubmatch(css, -1) {
		if abs, ok := ResolveURL(match[1], cssURL); ok {
			found.Add(abs)
		}
	}
	return found.List()
}
