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
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
)

// State is a phase of the download state machine.
type State string

const (
	StateIdle              State = "idle"
	StateFetchingRoot      State = "fetching-root"
	StateExtracting        State = "extracting"
	StateDownloadingStatic State = "downloading-static"
	StateProcessingMaps    State = "processing-maps"
	StateScanningDynamic   State = "scanning-dynamic"
	StateFinalizing        State = "finalizing"
	StateComplete          State = "complete"
	StateCancelled         State = "cancelled"
	StateFailed            State = "failed"
)

// Terminal reports whether no further transition can happen from s.
func (s State) Terminal() bool {
	return s == StateComplete || s == StateCancelled || s == StateFailed
}

// ProgressFunc receives a non-decreasing percentage and a phase message.
type ProgressFunc func(percent int, message string)

// Session is the state of one download. A new session never shares state with a previous one.
type Session struct {
	ID      string
	RootURL string
	Started time.Time
	Catalog *Catalog
	Visited *VisitedSet

	active atomic.Bool
	mu     sync.Mutex
	state  State

	// reportMu keeps callbacks in the order their percentages were computed
	reportMu sync.Mutex
	percent  int
	progress ProgressFunc
}

func newSession(rootURL string, progress ProgressFunc) *Session {
	s := &Session{
		ID:       uuid.NewString(),
		RootURL:  rootURL,
		Started:  time.Now(),
		Catalog:  NewCatalog(),
		Visited:  NewVisitedSet(),
		state:    StateIdle,
		progress: progress,
	}
	s.active.Store(true)
	return s
}

// Active reports whether the session may still issue network calls.
func (s *Session) Active() bool { return s.active.Load() }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Percent returns the last reported progress.
func (s *Session) Percent() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.percent
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.state.Terminal() {
		s.state = st
	}
}

// report publishes progress, never letting the percentage go backwards.
func (s *Session) report(percent int, message string) {
	s.reportMu.Lock()
	defer s.reportMu.Unlock()

	s.mu.Lock()
	if percent < s.percent {
		percent = s.percent
	}
	if percent > 100 {
		percent = 100
	}
	s.percent = percent
	progress := s.progress
	s.mu.Unlock()

	if progress != nil {
		progress(percent, message)
	}
}

// Downloader runs download sessions, one at a time.
type Downloader struct {
	cfg        Config
	fetcher    ResourceFetcher
	interactor Interactor
	filter     URLFilter
	log        zerolog.Logger
	progress   ProgressFunc

	mu      sync.Mutex
	session *Session
}

// Option customizes a Downloader.
type Option func(d *Downloader)

// WithFetcher replaces the network fetcher.
func WithFetcher(f ResourceFetcher) Option {
	return func(d *Downloader) { d.fetcher = f }
}

// WithInteractor enables the interaction step.
func WithInteractor(i Interactor) Option {
	return func(d *Downloader) { d.interactor = i }
}

// WithProgress registers the progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(d *Downloader) { d.progress = fn }
}

// NewDownloader creates a Downloader. cfg must have been validated.
func NewDownloader(cfg Config, log zerolog.Logger, options ...Option) *Downloader {
	d := &Downloader{
		cfg: cfg,
		log: log,
	}
	for _, fn := range options {
		fn(d)
	}
	if d.fetcher == nil {
		d.fetcher = NewFetcher(cfg, log)
	}
	if filter, err := cfg.Filter(); err == nil {
		d.filter = filter
	}
	if d.cfg.Concurrency < 1 {
		d.cfg.Concurrency = 1
	}
	return d
}

// Session returns the current session, nil after Reset.
func (d *Downloader) Session() *Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.session
}

// Stop asks the running session to stop issuing requests. Records already
// stored are kept.
func (d *Downloader) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.active.Store(false)
	}
}

// Reset stops and discards the current session.
func (d *Downloader) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.active.Store(false)
		d.session = nil
	}
}

// validateTarget returns the normalized root URL.
func validateTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: missing target URL", ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidInput, raw)
	}
	// same normalization as every extracted reference, so the root is recognized among them
	if normalized, ok := ResolveURL(u.String(), u.String()); ok {
		return normalized, nil
	}
	return u.String(), nil
}

// Start runs a complete session for rawURL and blocks until it ends.
// Any previous session is stopped and discarded first. The returned session is
// non-nil unless the input was invalid; it carries whatever was catalogued even
// when the error is ErrCancelled.
func (d *Downloader) Start(ctx context.Context, rawURL string) (*Session, error) {
	rootURL, err := validateTarget(rawURL)
	if err != nil {
		return nil, err
	}

	s := newSession(rootURL, d.progress)
	d.mu.Lock()
	if d.session != nil {
		d.session.active.Store(false)
	}
	d.session = s
	d.mu.Unlock()

	// context cancellation behaves like Stop
	stopWatch := context.AfterFunc(ctx, func() { s.active.Store(false) })
	defer stopWatch()

	log := d.log.With().Str("session", s.ID).Logger()
	log.Info().Str("url", rootURL).Msg("Starting download session")

	err = d.run(ctx, s, log)
	switch {
	case err == nil:
		s.setState(StateComplete)
		s.report(100, "Download complete")
	case errors.Is(err, ErrCancelled):
		s.setState(StateCancelled)
		s.report(s.Percent(), "Download cancelled")
		log.Warn().Int("files", s.Catalog.Stats().TotalFiles).Msg("Session cancelled")
	default:
		s.setState(StateFailed)
		log.Error().Err(err).Msg("Session failed")
	}
	return s, err
}

func (d *Downloader) run(ctx context.Context, s *Session, log zerolog.Logger) error {
	// Fetching-Root
	s.setState(StateFetchingRoot)
	s.report(5, "Fetching root page")
	if !s.Active() {
		return ErrCancelled
	}
	root, err := d.fetcher.Fetch(ctx, s.RootURL, http.MethodGet)
	if err != nil {
		// an interrupted root request is a cancellation, not a failure
		if ctx.Err() != nil || !s.Active() {
			return ErrCancelled
		}
		return fmt.Errorf("%w: %s: %w", ErrRootFetch, s.RootURL, err)
	}
	if !s.Active() {
		return ErrCancelled
	}
	s.Visited.Add(s.RootURL)
	rootRec := RecordFromResponse(root)
	rootRec.Kind = KindHTML
	s.Catalog.Put("index.html", rootRec)

	// Extracting
	s.setState(StateExtracting)
	s.report(15, "Extracting resource references")
	targets := newURLSet()
	urls, err := ExtractResources(root.Text, s.RootURL)
	if err != nil {
		log.Warn().Err(err).Str("phase", "extract").Str("url", s.RootURL).Msg("Could not parse root page")
	}
	for _, u := range urls {
		targets.Add(u)
	}

	if d.interactor != nil && s.Active() {
		observed, err := d.interactor.Interact(ctx, s.RootURL)
		if err != nil {
			log.Warn().Err(err).Str("phase", "extract").Msg("Page interaction failed")
		}
		for _, u := range observed {
			targets.Add(u)
		}
	}

	var static []string
	for _, u := range targets.List() {
		if u == s.RootURL || !d.filter.Allow(u) {
			continue
		}
		static = append(static, u)
	}
	log.Info().Int("count", len(static)).Msg("Resources discovered")
	if !s.Active() {
		return ErrCancelled
	}

	// Downloading-Static
	s.setState(StateDownloadingStatic)
	s.report(20, fmt.Sprintf("Downloading %d static resources", len(static)))
	d.fetchBatch(ctx, s, log, "static", static, 20, 50)

	// Stylesheets reference fonts and images of their own
	cssTargets := newURLSet()
	for _, rec := range s.Catalog.RecordsOfKind(KindStylesheet) {
		for _, u := range ExtractStylesheetResources(rec.Text, rec.SourceURL) {
			if !s.Visited.Has(u) && d.filter.Allow(u) {
				cssTargets.Add(u)
			}
		}
	}
	if cssTargets.Len() > 0 {
		s.report(50, fmt.Sprintf("Downloading %d stylesheet resources", cssTargets.Len()))
		d.fetchBatch(ctx, s, log, "static", cssTargets.List(), 50, 60)
	}
	if !s.Active() {
		return ErrCancelled
	}

	// Processing-Maps
	s.setState(StateProcessingMaps)
	s.report(60, "Processing source maps")
	extracted, err := d.processMaps(ctx, s, log)
	if err != nil {
		return err
	}
	log.Info().Int("files", extracted).Msg("Original sources recovered")

	// Scanning-Dynamic
	s.setState(StateScanningDynamic)
	s.report(85, "Scanning scripts for dynamic endpoints")
	var endpoints []string
	for _, u := range ScanEndpoints(s.Catalog.Records(), s.RootURL, s.Visited, d.cfg.MaxEndpoints) {
		if d.filter.Allow(u) {
			endpoints = append(endpoints, u)
		}
	}
	log.Debug().Int("count", len(endpoints)).Msg("Dynamic endpoints found")
	d.fetchBatch(ctx, s, log, "dynamic", endpoints, 85, 95)
	if !s.Active() {
		return ErrCancelled
	}

	// Finalizing
	s.setState(StateFinalizing)
	stats := s.Catalog.Stats()
	s.report(98, fmt.Sprintf("Finalizing %d files", stats.TotalFiles))
	log.Info().
		Int("files", stats.TotalFiles).
		Int64("bytes", stats.TotalSize).
		Dur("elapsed", time.Since(s.Started)).
		Msg("Download finished")
	return nil
}

// fetchBatch downloads urls concurrently and stores each success in the catalog.
// Progress moves from "from" to "to" as downloads complete.
func (d *Downloader) fetchBatch(ctx context.Context, s *Session, log zerolog.Logger, phase string, urls []string, from, to int) {
	total := len(urls)
	if total == 0 {
		return
	}

	// Use a semaphore to limit concurrency based on the configured setting
	sem := semaphore.NewWeighted(int64(d.cfg.Concurrency))
	var wg sync.WaitGroup
	var counter, failures int32

	for _, u := range urls {
		if s.Visited.Has(u) {
			continue
		}
		wg.Add(1)

		go func(u string) {
			defer wg.Done()

			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)

			// Checked again once the slot is acquired so Stop takes effect within one fetch
			if !s.Active() {
				return
			}

			resp, err := d.fetcher.Fetch(ctx, u, http.MethodGet)
			done := atomic.AddInt32(&counter, 1)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				log.Warn().Err(err).Str("phase", phase).Str("url", u).Msg("Failed to fetch resource")
				return
			}

			// Results arriving after Stop are dropped
			if !s.Active() {
				return
			}
			if s.Visited.Add(u) {
				name := s.Catalog.Put(LocalPath(u, s.RootURL), RecordFromResponse(resp))
				log.Debug().Str("phase", phase).Str("url", u).Str("file", name).Str("via", resp.Via).Msg("Stored resource")
			}

			s.report(from+int(done)*(to-from)/total, fmt.Sprintf("Downloaded %d/%d %s resources", done, total, phase))
		}(u)
	}

	wg.Wait()
	if failures > 0 {
		log.Info().Str("phase", phase).Int32("failed", failures).Int("total", total).Msg("Batch finished with failures")
	}
}

// processMaps locates the source map of each script record and extracts its sources.
func (d *Downloader) processMaps(ctx context.Context, s *Session, log zerolog.Logger) (int, error) {
	scripts := s.Catalog.RecordsOfKind(KindScript)
	proc := &SourceMapProcessor{
		Fetcher:     d.fetcher,
		Catalog:     s.Catalog,
		Visited:     s.Visited,
		RootURL:     s.RootURL,
		Concurrency: int64(d.cfg.Concurrency),
		Active:      s.Active,
		Log:         log,
	}

	extracted := 0
	for i, script := range scripts {
		if !s.Active() {
			return extracted, ErrCancelled
		}

		mapURL, origin := d.mapLocation(script)
		if origin == "" {
			continue
		}

		n, err := proc.Process(ctx, mapURL, script)
		switch {
		case errors.Is(err, ErrCancelled):
			return extracted, err
		case err != nil && origin == "guess":
			log.Debug().Err(err).Str("phase", "maps").Str("url", mapURL).Msg("No source map next to script")
		case err != nil:
			log.Warn().Err(err).Str("phase", "maps").Str("url", mapURL).Str("script", script.Filename).Msg("Source map skipped")
		default:
			log.Debug().Str("phase", "maps").Str("url", mapURL).Int("files", n).Msg("Source map processed")
		}
		extracted += n
		s.report(60+(i+1)*25/len(scripts), fmt.Sprintf("Processed source maps for %d/%d scripts", i+1, len(scripts)))
	}
	return extracted, nil
}

// mapLocation returns where the source map of script lives and how it was found:
// "header", "comment", or "guess" for the script URL plus ".map".
// The origin is empty when the script has no map.
func (d *Downloader) mapLocation(script *Record) (string, string) {
	if script.SourceMap != "" && script.SourceURL != "" {
		if u, ok := ResolveURL(script.SourceMap, script.SourceURL); ok {
			return u, "header"
		}
	}
	if !script.IsBinary {
		if u, ok := FindSourceMapReference(script.Text, script.SourceURL); ok {
			return u, "comment"
		}
	}
	if d.cfg.GuessMaps && script.SourceURL != "" {
		u, err := url.Parse(script.SourceURL)
		if err == nil && strings.HasSuffix(u.Path, ".js") {
			u.Path += ".map"
			u.RawQuery = ""
			return u.String(), "guess"
		}
	}
	return "", ""
}
