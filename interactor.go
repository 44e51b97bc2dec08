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
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// Interactor triggers page interactions and reports the resource URLs observed meanwhile.
// Results are best effort and may differ between runs.
type Interactor interface {
	Interact(ctx context.Context, pageURL string) ([]string, error)
}

// ChromeInteractor loads the page in headless Chrome, scrolls it and records
// every request the browser issues.
type ChromeInteractor struct {
	UserAgent string
	Scrolls   int
	Settle    time.Duration
	Timeout   time.Duration
}

// NewChromeInteractor returns a ChromeInteractor with the defaults used by the CLI
func NewChromeInteractor(userAgent string) *ChromeInteractor {
	return &ChromeInteractor{
		UserAgent: userAgent,
		Scrolls:   3,
		Settle:    2 * time.Second,
		Timeout:   60 * time.Second,
	}
}

func (c *ChromeInteractor) Interact(ctx context.Context, pageURL string) ([]string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(c.UserAgent),
	)
	allocCtx, cancel := chromedp.NewExecAllocator(ctx, opts...)
	defer cancel()

	taskCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	taskCtx, cancel = context.WithTimeout(taskCtx, c.Timeout)
	defer cancel()

	var mu sync.Mutex
	observed := newURLSet()
	chromedp.ListenTarget(taskCtx, func(ev interface{}) {
		if e, ok := ev.(*network.EventRequestWillBeSent); ok {
			if abs, ok := ResolveURL(e.Request.URL, pageURL); ok {
				mu.Lock()
				observed.Add(abs)
				mu.Unlock()
			}
		}
	})

	actions := []chromedp.Action{
		network.Enable(),
		chromedp.EmulateViewport(1920, 1080),
		chromedp.Navigate(pageURL),
		chromedp.Sleep(c.Settle),
	}
	for i := 0; i < c.Scrolls; i++ {
		actions = append(actions,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(c.Settle),
		)
	}

	if err := chromedp.Run(taskCtx, actions...); err != nil {
		return nil, fmt.Errorf("browser interaction on %s: %w", pageURL, err)
	}

	mu.Lock()
	defer mu.Unlock()
	return observed.List(), nil
}
