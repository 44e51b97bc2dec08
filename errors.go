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
	"errors"
	"fmt"
)

var (
	// ErrInvalidInput is returned before any network activity when the target URL is unusable.
	ErrInvalidInput = errors.New("invalid input")
	// ErrRootFetch aborts a session: the root page could not be retrieved.
	ErrRootFetch = errors.New("root page fetch failed")
	// ErrResourceFetch marks a failed non-root fetch. The session continues.
	ErrResourceFetch = errors.New("resource fetch failed")
	// ErrParse marks an HTML or JSON document that could not be parsed.
	ErrParse = errors.New("parse failure")
	// ErrRelay is returned when both the direct request and the relay failed.
	ErrRelay = errors.New("relay fetch failed")
	// ErrTimeout is returned when the relay did not answer in time.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled is returned by Start when Stop was called during the session.
	ErrCancelled = errors.New("session cancelled")
)

// HTTPError is a response that arrived with a non-2xx status.
type HTTPError struct {
	URL    string
	Status int
	Reason string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("bad status for %s: %d %s", e.URL, e.Status, e.Reason)
}

// Is lets errors.Is(err, ErrResourceFetch) match HTTP failures.
func (e *HTTPError) Is(target error) bool {
	return target == ErrResourceFetch
}
