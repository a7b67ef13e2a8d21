package browserdriver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestChromeBrowserLoad(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<!doctype html><html><body><div id="ready">ok</div></body></html>`))
	}))
	defer srv.Close()

	factory := NewFactory(Config{
		UserAgent:      "browsercluster-test",
		NavTimeout:     5 * time.Second,
		MaxConcurrency: 1,
		DomainQPS:      0,
	}, zap.NewNop())

	br, err := factory(context.Background(), "testtoken")
	if err != nil {
		t.Skipf("chromedp unavailable: %v", err)
	}
	defer func() { _ = br.Shutdown(context.Background()) }()

	page, err := br.Load(context.Background(), srv.URL)
	if err != nil {
		t.Skipf("load failed: %v", err)
	}
	if !strings.Contains(string(page.Body), "ok") {
		t.Fatal("rendered body missing expected content")
	}
}

func TestWaitDomainBudgetRejectsBadURL(t *testing.T) {
	b := &ChromeBrowser{limiter: newDomainLimiter(1)}
	if err := b.waitDomainBudget(context.Background(), "http://[::1"); err == nil {
		t.Fatal("expected error parsing malformed url")
	}
}

func TestAcquireNavSlotRespectsContext(t *testing.T) {
	b := &ChromeBrowser{navSlots: make(chan struct{}, 1)}
	release, err := b.acquireNavSlot(context.Background())
	if err != nil {
		t.Fatalf("acquireNavSlot() error = %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.acquireNavSlot(ctx); err == nil {
		t.Fatal("expected context error on second acquire")
	}
}

func TestDomainLimiterSharedAcrossBrowsers(t *testing.T) {
	limiter := newDomainLimiter(1000)
	a := &ChromeBrowser{limiter: limiter}
	b := &ChromeBrowser{limiter: limiter}

	if err := a.waitDomainBudget(context.Background(), "https://shared.example/a"); err != nil {
		t.Fatalf("first wait error = %v", err)
	}
	if err := b.waitDomainBudget(context.Background(), "https://shared.example/b"); err != nil {
		t.Fatalf("second wait error = %v", err)
	}
	if _, ok := limiter.limiters.Load("shared.example"); !ok {
		t.Fatal("expected a limiter to be recorded for the shared host")
	}
}
