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
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedServerURL returns the address of a server that no longer accepts connections.
func closedServerURL(t *testing.T) string {
	t.Helper()
	srv := httptest.NewServer(http.NotFoundHandler())
	u := srv.URL
	srv.Close()
	return u
}

func testFetcher(relayURL string, mode RelayMode) *Fetcher {
	cfg := DefaultConfig()
	cfg.Timeout = 5 * time.Second
	cfg.RelayURL = relayURL
	cfg.RelayMode = mode
	cfg.RelayTimeout = 5 * time.Second
	return NewFetcher(cfg, zerolog.Nop())
}

func TestIsTextContentType(t *testing.T) {
	text := []string{"text/html; charset=utf-8", "application/javascript", "application/json", "text/css", "image/svg+xml", "application/xhtml+xml"}
	for _, ct := range text {
		assert.True(t, IsTextContentType(ct), ct)
	}
	binary := []string{"image/png", "font/woff2", "application/octet-stream", ""}
	for _, ct := range binary {
		assert.False(t, IsTextContentType(ct), ct)
	}
}

func TestFetchDirectClassifiesPayload(t *testing.T) {
	png := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n', 0, 0, 0, 0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/app.js":
			assert.Equal(t, defaultUserAgent, r.Header.Get("User-Agent"))
			w.Header().Set("Content-Type", "application/javascript")
			w.Header().Set("ETag", `"v1"`)
			_, _ = w.Write([]byte("console.log(1)"))
		case "/logo.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(png)
		}
	}))
	defer srv.Close()

	f := testFetcher("", RelayRaw)

	js, err := f.Fetch(context.Background(), srv.URL+"/app.js", http.MethodGet)
	require.NoError(t, err)
	assert.False(t, js.IsBinary)
	assert.Equal(t, "console.log(1)", js.Text)
	assert.Equal(t, "direct", js.Via)
	assert.Equal(t, http.StatusOK, js.Status)
	assert.Equal(t, `"v1"`, js.Header.Get("ETag"))

	img, err := f.Fetch(context.Background(), srv.URL+"/logo.png", "")
	require.NoError(t, err)
	assert.True(t, img.IsBinary)
	assert.Equal(t, png, img.Data)
	assert.Empty(t, img.Text)
}

func TestFetchCollapsesConcurrentRequests(t *testing.T) {
	const callers = 8
	var hits atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			close(started)
		}
		<-release
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("var shared = 1"))
	}))
	defer srv.Close()

	f := testFetcher("", RelayRaw)

	var wg sync.WaitGroup
	results := make([]*Response, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.Fetch(context.Background(), srv.URL+"/chunk.js", http.MethodGet)
		}(i)
	}

	<-started
	// give the other callers time to join the request in flight
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), hits.Load())
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "var shared = 1", results[i].Text)
	}
}

func TestFetchHonorsRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Rate = 20
	f := NewFetcher(cfg, zerolog.Nop())

	start := time.Now()
	for i := 0; i < 5; i++ {
		_, err := f.Fetch(context.Background(), fmt.Sprintf("%s/r%d.txt", srv.URL, i), http.MethodGet)
		require.NoError(t, err)
	}
	// one burst token, then four waits of 50ms each
	assert.GreaterOrEqual(t, time.Since(start), 180*time.Millisecond)
}

func TestFetchRateLimitWaitStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	cfg := DefaultConfig()
	cfg.Rate = 0.1
	f := NewFetcher(cfg, zerolog.Nop())

	_, err := f.Fetch(context.Background(), srv.URL+"/first.txt", http.MethodGet)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = f.Fetch(ctx, srv.URL+"/second.txt", http.MethodGet)
	assert.Error(t, err)
}

func TestFetchHTTPErrorDoesNotUseRelay(t *testing.T) {
	var relayCalls atomic.Int32
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayCalls.Add(1)
	}))
	defer relay.Close()

	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := testFetcher(relay.URL, RelayRaw)
	_, err := f.Fetch(context.Background(), srv.URL+"/missing.js", http.MethodGet)
	require.Error(t, err)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)
	assert.ErrorIs(t, err, ErrResourceFetch)
	assert.Equal(t, int32(0), relayCalls.Load())
}

func TestFetchFallsBackToRawRelay(t *testing.T) {
	target := closedServerURL(t) + "/lib.js"

	var relayed atomic.Value
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayed.Store(r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "application/javascript")
		_, _ = w.Write([]byte("var relayed = true"))
	}))
	defer relay.Close()

	f := testFetcher(relay.URL, RelayRaw)
	resp, err := f.Fetch(context.Background(), target, http.MethodGet)
	require.NoError(t, err)

	assert.Equal(t, target, relayed.Load())
	assert.Equal(t, "relay", resp.Via)
	assert.Equal(t, target, resp.URL)
	assert.Equal(t, "var relayed = true", resp.Text)
	assert.Equal(t, "application/javascript", resp.ContentType)
}

func TestFetchFallsBackToEnvelopeRelay(t *testing.T) {
	target := closedServerURL(t) + "/style.css"

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"contents":"body{}","status":{"http_code":200,"content_type":"text/css"},"etag":"abc"}`))
	}))
	defer relay.Close()

	f := testFetcher(relay.URL, RelayEnvelope)
	resp, err := f.Fetch(context.Background(), target, http.MethodGet)
	require.NoError(t, err)

	assert.Equal(t, "body{}", resp.Text)
	assert.Equal(t, "text/css", resp.ContentType)
	assert.Equal(t, "abc", resp.Header.Get("etag"))
	assert.Equal(t, "relay", resp.Via)
}

func TestFetchRelayErrorStatus(t *testing.T) {
	target := closedServerURL(t) + "/x.js"

	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"URL not allowed"}`))
	}))
	defer relay.Close()

	f := testFetcher(relay.URL, RelayRaw)
	_, err := f.Fetch(context.Background(), target, http.MethodGet)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.Status)
	assert.Equal(t, "URL not allowed", httpErr.Reason)
}

func TestFetchBothPathsFailing(t *testing.T) {
	target := closedServerURL(t) + "/x.js"
	f := testFetcher(closedServerURL(t), RelayRaw)

	_, err := f.Fetch(context.Background(), target, http.MethodGet)
	assert.ErrorIs(t, err, ErrResourceFetch)
	assert.ErrorIs(t, err, ErrRelay)

	noRelay := testFetcher("", RelayRaw)
	_, err = noRelay.Fetch(context.Background(), target, http.MethodGet)
	assert.ErrorIs(t, err, ErrResourceFetch)
	assert.NotErrorIs(t, err, ErrRelay)
}

func TestFetchRelayTimeout(t *testing.T) {
	target := closedServerURL(t) + "/slow.js"

	release := make(chan struct{})
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer relay.Close()
	defer close(release)

	cfg := DefaultConfig()
	cfg.RelayURL = relay.URL
	cfg.RelayTimeout = 100 * time.Millisecond
	f := NewFetcher(cfg, zerolog.Nop())

	_, err := f.Fetch(context.Background(), target, http.MethodGet)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrRelay)
}

func TestRelayRequestURL(t *testing.T) {
	assert.Equal(t,
		"https://relay.test/get?url=https%3A%2F%2Fx.test%2Fa.js%3Fv%3D1",
		relayRequestURL("https://relay.test/get", "https://x.test/a.js?v=1"))
	assert.Equal(t,
		"https://relay.test/?key=k&url=https%3A%2F%2Fx.test%2F",
		relayRequestURL("https://relay.test/?key=k", "https://x.test/"))
}

func TestDecodeEnvelope(t *testing.T) {
	_, err := decodeEnvelope("https://x.test/", []byte("not json"))
	assert.ErrorIs(t, err, ErrParse)

	_, err = decodeEnvelope("https://x.test/", []byte(`{"error":"blocked"}`))
	assert.ErrorContains(t, err, "blocked")

	_, err = decodeEnvelope("https://x.test/", []byte(`{"contents":"","status":{"http_code":404}}`))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.Status)

	resp, err := decodeEnvelope("https://x.test/", []byte(`{"contents":"<html></html>"}`))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "<html></html>", resp.Text)
}
