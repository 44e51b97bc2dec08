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
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	cfg, err := ParseFlags(flag.CommandLine, os.Args[1:])
	log := newLogger(cfg.Verbose, cfg.LogFile)
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		os.Exit(1)
	}

	// Ctrl-C stops the session; what was downloaded so far is still archived
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error().Err(err).Msg("Download failed")
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg Config, log zerolog.Logger) error {
	options := []Option{
		WithProgress(func(percent int, message string) {
			log.Info().Int("progress", percent).Msg(message)
		}),
	}
	if cfg.Interact {
		options = append(options, WithInteractor(NewChromeInteractor(cfg.UserAgent)))
	}
	if cfg.RelayURL != "" {
		log.Info().Str("relay", cfg.RelayURL).Str("mode", string(cfg.RelayMode)).Msg("Using relay fallback")
	}

	downloader := NewDownloader(cfg, log, options...)
	session, err := downloader.Start(ctx, cfg.URL)
	if err != nil && !errors.Is(err, ErrCancelled) {
		return err
	}

	return save(cfg, session, log)
}

// save writes the session catalog to the configured directory and/or ZIP archive.
func save(cfg Config, s *Session, log zerolog.Logger) error {
	records := s.Catalog.Records()

	if cfg.OutDir != "" {
		if err := WriteDirectory(cfg.OutDir, records); err != nil {
			return err
		}
		log.Info().Str("dir", cfg.OutDir).Int("files", len(records)).Msg("Saved mirror directory")
		if cfg.ZipPath == "" {
			return nil
		}
	}

	zipPath := cfg.ZipPath
	if zipPath == "" {
		u, _ := url.Parse(s.RootURL)
		zipPath = u.Hostname() + ".zip"
	}

	manifest, err := Manifest(s)
	if err != nil {
		return err
	}

	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("failed to create archive: %w", err)
	}
	if err := WriteZip(f, records, manifest); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close archive: %w", err)
	}

	abs, _ := filepath.Abs(zipPath)
	stats := s.Catalog.Stats()
	log.Info().
		Str("archive", abs).
		Int("files", stats.TotalFiles).
		Int64("bytes", stats.TotalSize).
		Msg("Saved archive")
	return nil
}
