// Package cluster implements the Browser Cluster scheduler: the persistent
// job queue, skip registry, fan-out/fan-in accounting, worker pool, and the
// public supervisor facade that mediates all of it.
package cluster

import (
	"encoding/json"
	"fmt"

	"github.com/relayhq/browsercluster/internal/browser"
)

// Kind selects the Executor a worker runs a Job through.
type Kind string

// Kinds for the job bodies defined by this package's consumers. Declared
// here, rather than in the packages that implement them, so that the
// supervisor's convenience constructors (WithBrowser, Explore, TraceTaint)
// never need to import those packages.
const (
	KindBrowserProvider     Kind = "browser_provider"
	KindResourceExploration Kind = "resource_exploration"
	KindTaintTrace          Kind = "taint_trace"
)

// Job is the minimal data a worker needs to resume execution after the job
// has traveled through the queue, possibly via disk. Payload must be
// JSON-encodable; callback routing happens by ID through the supervisor's
// side-table, never by a closure carried on the Job itself.
type Job struct {
	ID          string `json:"id"`
	Kind        Kind   `json:"kind"`
	NeverEnding bool   `json:"never_ending"`
	Payload     any    `json:"payload"`
}

// Forward produces a child Job sharing this Job's ID and Kind but carrying a
// new payload. Children are never never-ending regardless of the parent.
func (j Job) Forward(payload any) Job {
	return Job{ID: j.ID, Kind: j.Kind, Payload: payload}
}

// Result carries the specific Job instance that produced it and an opaque,
// job-kind-specific payload. Consumed only by the parent job's callback.
type Result struct {
	Job     Job `json:"job"`
	Payload any `json:"payload"`
}

// Callback is invoked once per Result for the job id it was registered
// against.
type Callback func(Result)

// ExplorationOptions bounds a ResourceExplorationJob's fan-out.
type ExplorationOptions struct {
	MaxDepth     int      `json:"max_depth"`
	MaxLinks     int      `json:"max_links"`
	AllowDomains []string `json:"allow_domains,omitempty"`
	DenyDomains  []string `json:"deny_domains,omitempty"`
}

// ExplorationPayload is the Payload carried by a ResourceExplorationJob
// instance: the resource to load, how deep this instance is, and the
// options shared by every instance sharing the job's ID.
type ExplorationPayload struct {
	Resource string              `json:"resource"`
	Depth    int                 `json:"depth"`
	Options  ExplorationOptions  `json:"options"`
}

// ExplorationResult is the Result.Payload emitted by a
// ResourceExplorationJob instance.
type ExplorationResult struct {
	Resource   string   `json:"resource"`
	StatusCode int      `json:"status_code"`
	Links      []string `json:"links"`
}

// TaintOptions carries the transition table a TaintTraceJob walks.
type TaintOptions struct {
	Transitions []browser.Transition `json:"transitions"`
}

// TaintPayload is the Payload carried by a TaintTraceJob.
type TaintPayload struct {
	Resource string       `json:"resource"`
	Options  TaintOptions `json:"options"`
}

// TraceStep is the Result.Payload a TaintTraceJob emits once per transition
// in its table. Skipped is true when the transition's fingerprint was
// already in the skip set and the event was not fired again.
type TraceStep struct {
	Transition browser.Transition `json:"transition"`
	Skipped    bool               `json:"skipped"`
}

// DecodePayload recovers a concrete payload type from a Job's Payload
// field. A job that never left the resident part of the queue already
// carries the concrete type and the round-trip is a no-op in effect; one
// that spilled to disk and came back as a generic map[string]interface{}
// needs this to regain its shape before a job body can use it.
func DecodePayload[T any](payload any) (T, error) {
	var out T
	if typed, ok := payload.(T); ok {
		return typed, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out, fmt.Errorf("remarshal payload: %w", err)
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode payload into %T: %w", out, err)
	}
	return out, nil
}
