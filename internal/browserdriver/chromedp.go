// Package browserdriver implements browser.Browser using headless Chrome
// via chromedp. Navigation concurrency and per-domain rate limiting are
// pool-wide, not per-browser: the cluster spins up one browser process per
// worker (unlike a single shared renderer fanning out many tabs), so a
// per-instance budget would let the pool exceed either limit by a factor of
// the pool size.
package browserdriver

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/relayhq/browsercluster/internal/browser"
)

// Config controls a Browser's allocator flags and pool-wide throttling.
type Config struct {
	UserAgent      string
	NavTimeout     time.Duration
	MaxConcurrency int
	DomainQPS      float64
}

// ChromeBrowser drives one headless Chrome process for exactly one Worker.
// navSlots and limiter are shared across every ChromeBrowser a single
// NewFactory call produces.
type ChromeBrowser struct {
	allocatorCancel context.CancelFunc
	browserCtx      context.Context
	browserCancel   context.CancelFunc

	logger  *zap.Logger
	timeout time.Duration

	navSlots chan struct{}
	limiter  *domainLimiter

	userAgent string
	jsToken   string
}

// NewFactory returns a browser.Factory that spawns ChromeBrowser instances
// configured per cfg, one per worker entering the Starting state. The
// navigation slot pool and domain limiter are constructed once here and
// shared by every Browser the returned Factory produces.
func NewFactory(cfg Config, logger *zap.Logger) browser.Factory {
	concurrency := cfg.MaxConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	navSlots := make(chan struct{}, concurrency)
	limiter := newDomainLimiter(cfg.DomainQPS)

	return func(ctx context.Context, jsToken string) (browser.Browser, error) {
		return newChromeBrowser(ctx, cfg, jsToken, logger, navSlots, limiter)
	}
}

func newChromeBrowser(ctx context.Context, cfg Config, jsToken string, logger *zap.Logger, navSlots chan struct{}, limiter *domainLimiter) (*ChromeBrowser, error) {
	opts := chromedp.DefaultExecAllocatorOptions[:]
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	allocatorCtx, allocatorCancel := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocatorCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		allocatorCancel()
		browserCancel()
		return nil, fmt.Errorf("chromedp warmup: %w", err)
	}

	timeout := cfg.NavTimeout
	if timeout <= 0 {
		timeout = 25 * time.Second
	}

	return &ChromeBrowser{
		allocatorCancel: allocatorCancel,
		browserCtx:      browserCtx,
		browserCancel:   browserCancel,
		logger:          logger,
		timeout:         timeout,
		navSlots:        navSlots,
		limiter:         limiter,
		userAgent:       cfg.UserAgent,
		jsToken:         jsToken,
	}, nil
}

// Load navigates to rawURL and returns the resulting DOM snapshot.
func (b *ChromeBrowser) Load(ctx context.Context, rawURL string) (browser.Page, error) {
	release, err := b.acquireNavSlot(ctx)
	if err != nil {
		return browser.Page{}, err
	}
	defer release()

	if err := b.waitDomainBudget(ctx, rawURL); err != nil {
		return browser.Page{}, fmt.Errorf("navigate rate limit: %w", err)
	}

	tabCtx, cancelTab := chromedp.NewContext(b.browserCtx)
	defer cancelTab()

	taskCtx, cancelTask := context.WithTimeout(tabCtx, b.timeout)
	defer cancelTask()

	stopForward := context.AfterFunc(ctx, cancelTask)
	defer stopForward()

	meta := recordResponseMeta(tabCtx)

	html, err := b.runNavigate(taskCtx, rawURL)
	if err != nil {
		return browser.Page{}, fmt.Errorf("chromedp navigate: %w", err)
	}

	return browser.Page{
		URL:        rawURL,
		FinalURL:   meta.finalURL(rawURL),
		StatusCode: meta.statusCode,
		Headers:    meta.headers,
		Body:       []byte(html),
	}, nil
}

// FireEvent dispatches a synthetic DOM event against the located element by
// evaluating a small JS snippet, name-spaced under the shared JS token so
// concurrent audits against the same origin do not collide.
func (b *ChromeBrowser) FireEvent(ctx context.Context, locator browser.ElementLocator, event, value string) error {
	release, err := b.acquireNavSlot(ctx)
	if err != nil {
		return err
	}
	defer release()

	script := fmt.Sprintf(`
		(function() {
			window.__bc_%s = window.__bc_%s || {};
			var el = document.querySelector(%q);
			if (!el) { return false; }
			if (%q !== "") { el.value = %q; }
			var ev = new Event(%q, {bubbles: true});
			el.dispatchEvent(ev);
			return true;
		})()`, b.jsToken, b.jsToken, locator.Selector, value, value, event)

	taskCtx, cancel := context.WithTimeout(b.browserCtx, b.timeout)
	defer cancel()

	var fired bool
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(script, &fired)); err != nil {
		return fmt.Errorf("fire event: %w", err)
	}
	return nil
}

// ToPage returns a snapshot of the browser's current DOM.
func (b *ChromeBrowser) ToPage(ctx context.Context) (browser.Page, error) {
	taskCtx, cancel := context.WithTimeout(b.browserCtx, b.timeout)
	defer cancel()

	var html string
	if err := chromedp.Run(taskCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return browser.Page{}, fmt.Errorf("snapshot dom: %w", err)
	}
	return browser.Page{Body: []byte(html)}, nil
}

// Shutdown tears down the browser and allocator contexts. Safe to call
// exactly once.
func (b *ChromeBrowser) Shutdown(ctx context.Context) error {
	if b == nil {
		return nil
	}
	b.browserCancel()
	b.allocatorCancel()
	select {
	case <-ctx.Done():
	default:
	}
	return nil
}

// acquireNavSlot blocks until a pool-wide navigation slot is free or ctx is
// done. Slots are shared by every ChromeBrowser the owning Factory
// produced, not private to b, since each worker's browser is otherwise free
// to navigate independently of the others.
func (b *ChromeBrowser) acquireNavSlot(ctx context.Context) (func(), error) {
	if b.navSlots == nil {
		return func() {}, nil
	}
	select {
	case b.navSlots <- struct{}{}:
		return func() { <-b.navSlots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("acquire navigation slot: %w", ctx.Err())
	}
}

// waitDomainBudget delegates to the pool-wide domain limiter. Kept as a
// method so callers never need to reach through b.limiter directly.
func (b *ChromeBrowser) waitDomainBudget(ctx context.Context, rawURL string) error {
	return b.limiter.wait(ctx, rawURL)
}

// domainLimiter rate-limits navigation per host across the whole pool.
// Built once by NewFactory and shared by every ChromeBrowser it produces.
type domainLimiter struct {
	qps      float64
	limiters sync.Map
}

func newDomainLimiter(qps float64) *domainLimiter {
	return &domainLimiter{qps: qps}
}

func (d *domainLimiter) wait(ctx context.Context, rawURL string) error {
	if d == nil || d.qps <= 0 {
		return nil
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse navigate url: %w", err)
	}
	host := strings.ToLower(parsed.Host)
	val, _ := d.limiters.LoadOrStore(host, rate.NewLimiter(rate.Limit(d.qps), 1))
	limiter, ok := val.(*rate.Limiter)
	if !ok {
		return fmt.Errorf("unexpected limiter type %T", val)
	}
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("wait limiter: %w", err)
	}
	return nil
}

func (b *ChromeBrowser) runNavigate(ctx context.Context, rawURL string) (string, error) {
	var html string
	tasks := chromedp.Tasks{
		network.Enable(),
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, tasks); err != nil {
		return "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, nil
}

// responseMeta captures the first document response chromedp observes for
// a navigation, since chromedp has no direct "status code of the page I
// just loaded" accessor.
type responseMeta struct {
	once       sync.Once
	statusCode int
	headers    map[string][]string
	url        string
}

func (m *responseMeta) finalURL(raw string) string {
	if m.url == "" {
		return raw
	}
	return m.url
}

// recordResponseMeta installs a CDP event listener on tabCtx and returns
// the responseMeta it will populate on the first document response.
func recordResponseMeta(tabCtx context.Context) *responseMeta {
	meta := &responseMeta{headers: make(map[string][]string)}
	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		resp, ok := ev.(*network.EventResponseReceived)
		if !ok || resp.Type != network.ResourceTypeDocument {
			return
		}
		meta.once.Do(func() {
			meta.statusCode = int(resp.Response.Status)
			meta.url = resp.Response.URL
			for k, v := range resp.Response.Headers {
				meta.headers[k] = append(meta.headers[k], fmt.Sprint(v))
			}
		})
	})
	return meta
}
