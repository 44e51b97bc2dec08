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
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/tidwall/sjson"
)

const manifestName = "_session.json"

// Manifest builds the session summary stored next to the archived files.
func Manifest(s *Session) ([]byte, error) {
	stats := s.Catalog.Stats()
	doc := []byte(`{}`)
	var err error

	set := func(path string, value interface{}) {
		if err == nil {
			doc, err = sjson.SetBytes(doc, path, value)
		}
	}

	set("session", s.ID)
	set("url", s.RootURL)
	set("started", s.Started.UTC().Format(time.RFC3339))
	set("state", string(s.State()))
	set("totalFiles", stats.TotalFiles)
	set("totalSize", stats.TotalSize)
	for kind, n := range stats.ByKind {
		set("byKind."+string(kind), n)
	}
	set("files", []interface{}{})
	for _, rec := range s.Catalog.Records() {
		entry, entryErr := manifestEntry(rec)
		if entryErr != nil {
			return nil, fmt.Errorf("build manifest: %w", entryErr)
		}
		if err == nil {
			doc, err = sjson.SetRawBytes(doc, "files.-1", entry)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("build manifest: %w", err)
	}
	return doc, nil
}

func manifestEntry(rec *Record) ([]byte, error) {
	entry := []byte(`{}`)
	var err error
	set := func(path string, value interface{}) {
		if err == nil {
			entry, err = sjson.SetBytes(entry, path, value)
		}
	}
	set("name", rec.Filename)
	set("kind", string(rec.Kind))
	set("size", rec.Size)
	if rec.SourceURL != "" {
		set("url", rec.SourceURL)
	}
	if rec.ContentType != "" {
		set("contentType", rec.ContentType)
	}
	return entry, err
}

// WriteZip writes one archive entry per record, using the record filename as
// the entry path. A non-empty manifest is stored as _session.json, renamed like a
// catalog collision when a site file already uses that name.
func WriteZip(w io.Writer, records []*Record, manifest []byte) error {
	zw := zip.NewWriter(w)

	taken := make(map[string]bool, len(records))
	for _, rec := range records {
		taken[rec.Filename] = true
	}

	for _, rec := range records {
		entry, err := zw.Create(rec.Filename)
		if err != nil {
			return fmt.Errorf("create entry %s: %w", rec.Filename, err)
		}
		if _, err := entry.Write(rec.Content()); err != nil {
			return fmt.Errorf("write entry %s: %w", rec.Filename, err)
		}
	}

	if len(manifest) > 0 {
		name := manifestName
		for n := 1; taken[name]; n++ {
			name = suffixedName(manifestName, n)
		}
		entry, err := zw.Create(name)
		if err != nil {
			return fmt.Errorf("create manifest: %w", err)
		}
		if _, err := entry.Write(manifest); err != nil {
			return fmt.Errorf("write manifest: %w", err)
		}
	}

	return zw.Close()
}

// ExportRecord writes the raw content of a single record.
func ExportRecord(w io.Writer, rec *Record) error {
	_, err := w.Write(rec.Content())
	return err
}

// WriteDirectory saves every record below dir, recreating the catalog tree.
func WriteDirectory(dir string, records []*Record) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	for _, rec := range records {
		outputPath := filepath.Join(dir, filepath.FromSlash(rec.Filename))

		// Make sure the directory exists
		if err := os.MkdirAll(filepath.Dir(outputPath), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", rec.Filename, err)
		}

		if err := os.WriteFile(outputPath, rec.Content(), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", outputPath, err)
		}
	}
	return nil
}
