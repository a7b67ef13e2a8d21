package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/cluster"
)

type fakeBrowser struct {
	loadStatus int
}

func (f *fakeBrowser) Load(_ context.Context, url string) (browser.Page, error) {
	status := f.loadStatus
	if status == 0 {
		status = 200
	}
	return browser.Page{URL: url, StatusCode: status}, nil
}

func (f *fakeBrowser) FireEvent(_ context.Context, _ browser.ElementLocator, _, _ string) error {
	return nil
}

func (f *fakeBrowser) ToPage(_ context.Context) (browser.Page, error) {
	return browser.Page{}, nil
}

func (f *fakeBrowser) Shutdown(_ context.Context) error { return nil }

type fakeJobContext struct {
	mu        sync.Mutex
	results   []cluster.Result
	queued    []cluster.Job
	sitemap   map[string]int
	skips     map[string]map[string]bool
}

func newFakeJobContext() *fakeJobContext {
	return &fakeJobContext{
		sitemap: make(map[string]int),
		skips:   make(map[string]map[string]bool),
	}
}

func (f *fakeJobContext) Queue(job cluster.Job, _ cluster.Callback) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queued = append(f.queued, job)
	return nil
}

func (f *fakeJobContext) HandleResult(result cluster.Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results = append(f.results, result)
}

func (f *fakeJobContext) IsSkipped(jobID, fingerprint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.skips[jobID][fingerprint]
}

func (f *fakeJobContext) MarkSkip(jobID, fingerprint string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.skips[jobID]
	if !ok {
		set = make(map[string]bool)
		f.skips[jobID] = set
	}
	if set[fingerprint] {
		return false
	}
	set[fingerprint] = true
	return true
}

func (f *fakeJobContext) MergeSkips(jobID string, fingerprints []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	set, ok := f.skips[jobID]
	if !ok {
		set = make(map[string]bool)
		f.skips[jobID] = set
	}
	for _, fp := range fingerprints {
		set[fp] = true
	}
}

func (f *fakeJobContext) PushSitemap(url string, statusCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sitemap[url] = statusCode
}

func TestExecuteBrowserProviderHandsBrowserThroughResult(t *testing.T) {
	t.Parallel()

	br := &fakeBrowser{}
	jc := newFakeJobContext()
	job := cluster.Job{ID: "bp-1", Kind: cluster.KindBrowserProvider}

	require.NoError(t, executeBrowserProvider(context.Background(), job, br, jc))
	require.Len(t, jc.results, 1)
	require.Same(t, br, jc.results[0].Payload)
}

func TestExecuteBrowserProviderErrorsWithoutBrowser(t *testing.T) {
	t.Parallel()

	jc := newFakeJobContext()
	job := cluster.Job{ID: "bp-2", Kind: cluster.KindBrowserProvider}

	err := executeBrowserProvider(context.Background(), job, nil, jc)
	require.Error(t, err)
	require.Empty(t, jc.results)
}

func TestExecuteTaintTraceSkipsRepeatedFingerprint(t *testing.T) {
	t.Parallel()

	br := &fakeBrowser{}
	jc := newFakeJobContext()
	transition := browser.Transition{
		Element: browser.ElementLocator{Selector: "#btn", Frame: ""},
		Event:   "click",
	}
	job := cluster.Job{
		ID:   "taint-1",
		Kind: cluster.KindTaintTrace,
		Payload: cluster.TaintPayload{
			Resource: "https://example.com",
			Options:  cluster.TaintOptions{Transitions: []browser.Transition{transition, transition}},
		},
	}

	require.NoError(t, executeTaintTrace(context.Background(), job, br, jc))
	require.Equal(t, 200, jc.sitemap["https://example.com"])
	require.Len(t, jc.results, 2)

	first := jc.results[0].Payload.(cluster.TraceStep)
	second := jc.results[1].Payload.(cluster.TraceStep)
	require.False(t, first.Skipped)
	require.True(t, second.Skipped)
}

func TestExecuteResourceExplorationExtractsAndForwardsLinks(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><a href="/child">child</a></body></html>`))
	}))
	defer srv.Close()

	br := &fakeBrowser{}
	jc := newFakeJobContext()
	job := cluster.Job{
		ID:   "explore-1",
		Kind: cluster.KindResourceExploration,
		Payload: cluster.ExplorationPayload{
			Resource: srv.URL,
			Depth:    0,
			Options:  cluster.ExplorationOptions{MaxDepth: 1, MaxLinks: 10},
		},
	}

	require.NoError(t, executeResourceExploration(context.Background(), job, br, jc))
	require.Len(t, jc.results, 1)
	result := jc.results[0].Payload.(cluster.ExplorationResult)
	require.Equal(t, srv.URL, result.Resource)
	require.NotEmpty(t, result.Links)
	require.Len(t, jc.queued, len(result.Links))
}

func TestExecuteResourceExplorationStopsAtMaxDepth(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><a href="/child">child</a></body></html>`))
	}))
	defer srv.Close()

	br := &fakeBrowser{}
	jc := newFakeJobContext()
	job := cluster.Job{
		ID:   "explore-2",
		Kind: cluster.KindResourceExploration,
		Payload: cluster.ExplorationPayload{
			Resource: srv.URL,
			Depth:    1,
			Options:  cluster.ExplorationOptions{MaxDepth: 1},
		},
	}

	require.NoError(t, executeResourceExploration(context.Background(), job, br, jc))
	require.Empty(t, jc.queued)
}

func TestFilterLinksRespectsAllowDeny(t *testing.T) {
	t.Parallel()

	links := []string{"https://good.example/a", "https://bad.example/b"}
	out := filterLinks(links, cluster.ExplorationOptions{DenyDomains: []string{"bad.example"}})
	require.Equal(t, []string{"https://good.example/a"}, out)

	out = filterLinks(links, cluster.ExplorationOptions{AllowDomains: []string{"good.example"}})
	require.Equal(t, []string{"https://good.example/a"}, out)
}
