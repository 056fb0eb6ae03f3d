package mysideline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/goccy/go-json"
)

// State is a step of one scrape.
type State string

// Scrape states.
const (
	StateLaunching        State = "LAUNCHING"
	StateNavigating       State = "NAVIGATING"
	StateWaitingForAPI    State = "WAITING_FOR_API"
	StateExtractingImages State = "EXTRACTING_IMAGES"
	StateBuilding         State = "BUILDING"
	StateDone             State = "DONE"
	StateFailed           State = "FAILED"
)

// CaptureRequest describes one page visit.
type CaptureRequest struct {
	PageURL  string
	APIMatch string // substring of the API response URL to intercept
	Timeout  time.Duration
	Grace    time.Duration // wait for the API response after DOM ready
	Headless bool
	ExecPath string

	// OnState, when set, is told about each state the visit enters.
	OnState func(State)
}

func (r CaptureRequest) enter(s State) {
	if r.OnState != nil {
		r.OnState(s)
	}
}

// Capture is what one page visit produced.
type Capture struct {
	HTML    string
	Payload []byte // nil when no API response was intercepted
}

// Browser visits a page, intercepting the first matching JSON response and
// snapshotting the rendered DOM.
type Browser interface {
	Capture(ctx context.Context, req CaptureRequest) (*Capture, error)
}

// ChromeBrowser drives a local Chrome or Chromium through the DevTools protocol.
type ChromeBrowser struct{}

// NewChromeBrowser creates a chromedp-backed Browser.
func NewChromeBrowser() *ChromeBrowser {
	return &ChromeBrowser{}
}

// Capture launches a fresh browser for the visit and tears it down on return.
func (b *ChromeBrowser) Capture(ctx context.Context, req CaptureRequest) (*Capture, error) {
	req.enter(StateLaunching)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", req.Headless),
	)
	if req.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(req.ExecPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if req.Timeout > 0 {
		var cancelTimeout context.CancelFunc
		browserCtx, cancelTimeout = context.WithTimeout(browserCtx, req.Timeout)
		defer cancelTimeout()
	}

	payloads := make(chan []byte, 1)
	var (
		once     sync.Once
		mu       sync.Mutex
		matching = map[network.RequestID]bool{}
	)

	chromedp.ListenTarget(browserCtx, func(ev any) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Response == nil || !strings.Contains(e.Response.URL, req.APIMatch) {
				return
			}
			if e.Response.Status < 200 || e.Response.Status >= 300 {
				return
			}
			mu.Lock()
			matching[e.RequestID] = true
			mu.Unlock()

		case *network.EventLoadingFinished:
			mu.Lock()
			ok := matching[e.RequestID]
			delete(matching, e.RequestID)
			mu.Unlock()
			if !ok {
				return
			}
			// Listeners must not block, so the body is fetched on its own goroutine.
			go func(id network.RequestID) {
				c := chromedp.FromContext(browserCtx)
				if c == nil || c.Target == nil {
					return
				}
				body, err := network.GetResponseBody(id).Do(cdp.WithExecutor(browserCtx, c.Target))
				if err != nil || !json.Valid(body) {
					return
				}
				once.Do(func() { payloads <- body })
			}(e.RequestID)
		}
	})

	req.enter(StateNavigating)
	err := chromedp.Run(browserCtx,
		network.Enable(),
		chromedp.Navigate(req.PageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", req.PageURL, err)
	}

	req.enter(StateWaitingForAPI)
	capture := &Capture{}
	grace := time.NewTimer(req.Grace)
	defer grace.Stop()

	select {
	case body := <-payloads:
		capture.Payload = body
	case <-grace.C:
	case <-browserCtx.Done():
		if errors.Is(browserCtx.Err(), context.Canceled) && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("waiting for search response: %w", browserCtx.Err())
	}

	req.enter(StateExtractingImages)
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &capture.HTML, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("reading page html: %w", err)
	}
	return capture, nil
}
