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
	"flag"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

const (
	defaultUserAgent    = "site-source-downloader/1.0 (+resource mirror)"
	defaultRelayTimeout = 30 * time.Second
	// sourcePrefix is the virtual directory that receives sources recovered from source maps
	sourcePrefix = "src/"
)

// Config holds every setting of a download session.
type Config struct {
	URL          string
	OutDir       string
	ZipPath      string
	Concurrency  int
	Timeout      time.Duration
	RelayURL     string
	RelayMode    RelayMode
	RelayTimeout time.Duration
	UserAgent    string
	Rate         float64
	GuessMaps    bool
	MaxEndpoints int
	Interact     bool
	Include      string
	Exclude      string
	Verbose      bool
	LogFile      string
}

// DefaultConfig returns the settings used when no flag overrides them
func DefaultConfig() Config {
	return Config{
		Concurrency:  10,
		Timeout:      30 * time.Second,
		RelayMode:    RelayRaw,
		RelayTimeout: defaultRelayTimeout,
		UserAgent:    defaultUserAgent,
		GuessMaps:    true,
		MaxEndpoints: 200,
	}
}

// ParseFlags fills a Config from command line arguments.
// A positional argument overrides -url.
func ParseFlags(fs *flag.FlagSet, args []string) (Config, error) {
	cfg := DefaultConfig()
	var (
		timeout      int
		relayTimeout int
		relayMode    string
	)

	fs.StringVar(&cfg.URL, "url", "", "URL of the page to download")
	fs.IntVar(&cfg.Concurrency, "concurrency", cfg.Concurrency, "Maximum concurrent downloads")
	fs.StringVar(&cfg.OutDir, "outdir", "", "Write the mirror to this directory")
	fs.StringVar(&cfg.ZipPath, "zip", "", "Write the mirror to this ZIP archive (default <host>.zip)")
	fs.StringVar(&cfg.Include, "include", "", "Only include URLs matching this regex")
	fs.StringVar(&cfg.Exclude, "exclude", "", "Exclude URLs matching this regex")
	fs.IntVar(&timeout, "timeout", int(cfg.Timeout/time.Second), "HTTP timeout in seconds for direct requests")
	fs.StringVar(&cfg.RelayURL, "relay", "", "Relay endpoint used when a direct request fails")
	fs.StringVar(&relayMode, "relay-mode", string(cfg.RelayMode), "Relay response shape: raw or envelope")
	fs.IntVar(&relayTimeout, "relay-timeout", int(cfg.RelayTimeout/time.Second), "Relay timeout in seconds")
	fs.StringVar(&cfg.UserAgent, "user-agent", cfg.UserAgent, "User-Agent header sent with direct requests")
	fs.Float64Var(&cfg.Rate, "rate", 0, "Maximum direct requests per second (0 = unlimited)")
	fs.BoolVar(&cfg.GuessMaps, "guess-maps", cfg.GuessMaps, "Try <script>.map when a script declares no source map")
	fs.IntVar(&cfg.MaxEndpoints, "max-endpoints", cfg.MaxEndpoints, "Maximum dynamic endpoints fetched from scripts")
	fs.BoolVar(&cfg.Interact, "interact", false, "Load the page in headless Chrome to observe lazy resources")
	fs.BoolVar(&cfg.Verbose, "verbose", false, "Enable verbose logging")
	fs.StringVar(&cfg.LogFile, "log-file", "", "Also write logs to this rotating file")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// If URL provided as positional argument, use it
	if rest := fs.Args(); len(rest) > 0 {
		cfg.URL = rest[0]
	}
	cfg.Timeout = time.Duration(timeout) * time.Second
	cfg.RelayTimeout = time.Duration(relayTimeout) * time.Second
	cfg.RelayMode = RelayMode(strings.ToLower(relayMode))

	return cfg, cfg.Validate()
}

// Validate checks settings that do not depend on the network.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("%w: concurrency must be at least 1", ErrInvalidInput)
	}
	if c.RelayMode != RelayRaw && c.RelayMode != RelayEnvelope {
		return fmt.Errorf("%w: unknown relay mode %q", ErrInvalidInput, c.RelayMode)
	}
	if c.RelayURL != "" {
		u, err := url.Parse(c.RelayURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("%w: relay must be an http(s) URL", ErrInvalidInput)
		}
	}
	if _, err := c.Filter(); err != nil {
		return err
	}
	return nil
}

// Filter compiles the include/exclude patterns
func (c Config) Filter() (URLFilter, error) {
	var f URLFilter
	var err error
	if c.Include != "" {
		if f.Include, err = regexp.Compile(c.Include); err != nil {
			return f, fmt.Errorf("%w: invalid include pattern: %v", ErrInvalidInput, err)
		}
	}
	if c.Exclude != "" {
		if f.Exclude, err = regexp.Compile(c.Exclude); err != nil {
			return f, fmt.Errorf("%w: invalid exclude pattern: %v", ErrInvalidInput, err)
		}
	}
	return f, nil
}
