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
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"
)

// RelayMode selects the response shape emitted by the configured relay.
type RelayMode string

const (
	// RelayRaw relays answer with the resource bytes as body and forwarded headers.
	RelayRaw RelayMode = "raw"
	// RelayEnvelope relays answer with a JSON envelope carrying the body in "contents".
	RelayEnvelope RelayMode = "envelope"
)

// textContentMarkers classify a content type as text when any of them is a substring.
var textContentMarkers = []string{"text", "javascript", "json", "css", "html", "xml"}

// forwardedHeaders are the response headers a relay passes through.
var forwardedHeaders = []string{"content-type", "content-length", "last-modified", "etag", "cache-control", "expires"}

// Header is a case-insensitive header map with lower-cased keys.
type Header map[string]string

// Get returns the value of key, case-insensitively
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set stores value under the lower-cased key
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del removes key
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

func headerFrom(src http.Header) Header {
	h := make(Header, len(src))
	for k, v := range src {
		if len(v) > 0 {
			h.Set(k, v[0])
		}
	}
	return h
}

// Response is the uniform result of a fetch, whichever transport produced it.
// Exactly one of Text and Data carries the payload, selected by IsBinary.
type Response struct {
	URL         string
	Status      int
	Header      Header
	ContentType string
	IsBinary    bool
	Text        string
	Data        []byte
	Via         string // "direct" or "relay"
}

// Bytes returns the payload regardless of its representation.
func (r *Response) Bytes() []byte {
	if r.IsBinary {
		return r.Data
	}
	return []byte(r.Text)
}

// IsTextContentType reports whether contentType designates decodable text.
func IsTextContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, marker := range textContentMarkers {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

func newResponse(rawURL string, status int, header Header, body []byte, via string) *Response {
	ct := header.Get("content-type")
	if ct == "" && len(body) > 0 {
		ct = mimetype.Detect(body).String()
	}
	r := &Response{
		URL:         rawURL,
		Status:      status,
		Header:      header,
		ContentType: ct,
		Via:         via,
	}
	if IsTextContentType(ct) {
		r.Text = string(body)
	} else {
		r.IsBinary = true
		r.Data = body
	}
	return r
}

// Fetcher retrieves resources directly and falls back to a relay on network failure.
type Fetcher struct {
	client       *http.Client
	relayClient  *http.Client
	relayURL     string
	relayMode    RelayMode
	relayTimeout time.Duration
	userAgent    string
	limiter      *rate.Limiter
	group        singleflight.Group
	log          zerolog.Logger
}

// NewFetcher creates a Fetcher from the network part of cfg
func NewFetcher(cfg Config, log zerolog.Logger) *Fetcher {
	f := &Fetcher{
		client:       &http.Client{Timeout: cfg.Timeout},
		relayClient:  &http.Client{},
		relayURL:     cfg.RelayURL,
		relayMode:    cfg.RelayMode,
		relayTimeout: cfg.RelayTimeout,
		userAgent:    cfg.UserAgent,
		log:          log.With().Str("component", "fetcher").Logger(),
	}
	if f.relayMode == "" {
		f.relayMode = RelayRaw
	}
	if f.relayTimeout <= 0 {
		f.relayTimeout = defaultRelayTimeout
	}
	if f.userAgent == "" {
		f.userAgent = defaultUserAgent
	}
	if cfg.Rate > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.Rate), 1)
	}
	return f
}

// Fetch retrieves rawURL. Concurrent calls for the same method and URL share one request.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, method string) (*Response, error) {
	if method == "" {
		method = http.MethodGet
	}
	v, err, _ := f.group.Do(method+" "+rawURL, func() (interface{}, error) {
		return f.fetch(ctx, rawURL, method)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Response), nil
}

func (f *Fetcher) fetch(ctx context.Context, rawURL, method string) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrResourceFetch, rawURL, err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("X-Requested-With", "site-source-downloader")

	resp, directErr := f.fetchDirect(ctx, req)
	if directErr == nil {
		return resp, nil
	}

	// HTTP error statuses are final, only transport failures go through the relay
	var httpErr *HTTPError
	if errors.As(directErr, &httpErr) {
		return nil, directErr
	}
	if ctx.Err() != nil || f.relayURL == "" {
		return nil, fmt.Errorf("%w: %s: %w", ErrResourceFetch, rawURL, directErr)
	}

	f.log.Debug().Err(directErr).Str("url", rawURL).Msg("Direct request failed, using relay")
	resp, relayErr := f.fetchRelay(ctx, rawURL)
	if relayErr != nil {
		if errors.As(relayErr, &httpErr) {
			return nil, relayErr
		}
		return nil, fmt.Errorf("%w: %w: %s: direct: %v, relay: %w", ErrResourceFetch, ErrRelay, rawURL, directErr, relayErr)
	}
	return resp, nil
}

func (f *Fetcher) fetchDirect(ctx context.Context, req *http.Request) (*Response, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &HTTPError{URL: req.URL.String(), Status: resp.StatusCode, Reason: http.StatusText(resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	return newResponse(req.URL.String(), resp.StatusCode, headerFrom(resp.Header), body, "direct"), nil
}

// relayRequestURL builds <relay>?url=<escaped target>.
func relayRequestURL(relay, target string) string {
	sep := "?"
	if strings.Contains(relay, "?") {
		sep = "&"
	}
	return relay + sep + "url=" + url.QueryEscape(target)
}

func (f *Fetcher) fetchRelay(ctx context.Context, rawURL string) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, f.relayTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, relayRequestURL(f.relayURL, rawURL), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.relayClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: relay for %s after %s", ErrTimeout, rawURL, f.relayTimeout)
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: relay for %s after %s", ErrTimeout, rawURL, f.relayTimeout)
		}
		return nil, err
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		reason := gjson.GetBytes(body, "error").String()
		if reason == "" {
			reason = http.StatusText(resp.StatusCode)
		}
		return nil, &HTTPError{URL: rawURL, Status: resp.StatusCode, Reason: reason}
	}

	if f.relayMode == RelayEnvelope {
		return decodeEnvelope(rawURL, body)
	}

	header := headerFrom(resp.Header)
	return &Response{
		URL:         rawURL,
		Status:      resp.StatusCode,
		Header:      header,
		ContentType: header.Get("content-type"),
		Text:        string(body),
		Via:         "relay",
	}, nil
}

// decodeEnvelope unwraps {"contents": ..., "status": {...}} relay answers.
func decodeEnvelope(rawURL string, body []byte) (*Response, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("%w: relay envelope for %s is not JSON", ErrParse, rawURL)
	}
	env := gjson.ParseBytes(body)
	if msg := env.Get("error").String(); msg != "" {
		return nil, fmt.Errorf("relay reported an error for %s: %s", rawURL, msg)
	}

	status := int(env.Get("status.http_code").Int())
	if status == 0 {
		status = http.StatusOK
	}
	if status < 200 || status > 299 {
		return nil, &HTTPError{URL: rawURL, Status: status, Reason: http.StatusText(status)}
	}

	header := make(Header)
	for _, name := range forwardedHeaders {
		if v := env.Get(name); v.Type == gjson.String {
			header.Set(name, v.String())
		}
	}
	if ct := env.Get("status.content_type").String(); ct != "" {
		header.Set("content-type", ct)
	}

	return &Response{
		URL:         rawURL,
		Status:      status,
		Header:      header,
		ContentType: header.Get("content-type"),
		Text:        env.Get("contents").String(),
		Via:         "relay",
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
