// Package browser declares the capability the cluster needs from a headless
// browser without depending on any concrete driver.
package browser

import "context"

// Page is an opaque DOM snapshot returned by a Browser. The core scheduler
// never inspects its fields; job bodies do.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Headers    map[string][]string
	Body       []byte
}

// ElementLocator opaquely identifies a DOM element for FireEvent. Job bodies
// decide its contents; the core never interprets it.
type ElementLocator struct {
	Selector string
	Frame    string
}

// Transition is an opaque DOM action tuple consumed by TaintTraceJob.
type Transition struct {
	Element ElementLocator
	Event   string
	Value   string
}

// Browser is the capability a Worker drives. Implementations are owned by
// exactly one Worker at a time and are never shared.
type Browser interface {
	// Load navigates to url and returns the resulting page snapshot.
	Load(ctx context.Context, url string) (Page, error)
	// FireEvent dispatches a synthetic DOM event against the located element.
	FireEvent(ctx context.Context, locator ElementLocator, event, value string) error
	// ToPage returns a snapshot of the browser's current DOM.
	ToPage(ctx context.Context) (Page, error)
	// Shutdown terminates the underlying browser process and releases
	// resources. It must be safe to call exactly once per Browser.
	Shutdown(ctx context.Context) error
}

// Factory constructs a fresh Browser for a worker entering the Starting
// state. jsToken is the cluster-wide namespace string injected into every
// browser so concurrent audits do not collide.
type Factory func(ctx context.Context, jsToken string) (Browser, error)
