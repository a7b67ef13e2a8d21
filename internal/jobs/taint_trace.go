package jobs

import (
	"context"
	"fmt"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/cluster"
	"github.com/relayhq/browsercluster/internal/hash/sha256"
	"github.com/relayhq/browsercluster/internal/metrics"
)

func init() {
	cluster.RegisterExecutor(cluster.KindTaintTrace, executeTaintTrace)
}

// executeTaintTrace loads resource, then walks its transition table,
// firing each DOM event exactly once across the whole cluster: the
// fingerprint is content-stable (sha256 of job id + selector + frame +
// event),
// consulted via MarkSkip's atomic insert-if-new return value rather than a
// separate IsSkipped/MarkSkip pair, which would otherwise race.
func executeTaintTrace(ctx context.Context, job cluster.Job, br browser.Browser, jc cluster.JobContext) error {
	payload, err := cluster.DecodePayload[cluster.TaintPayload](job.Payload)
	if err != nil {
		return fmt.Errorf("decode taint payload: %w", err)
	}

	page, err := br.Load(ctx, payload.Resource)
	if err != nil {
		return fmt.Errorf("load resource %s: %w", payload.Resource, err)
	}
	jc.PushSitemap(payload.Resource, page.StatusCode)

	hasher := sha256.New()
	for _, transition := range payload.Options.Transitions {
		fingerprint, err := fingerprintTransition(hasher, job.ID, transition)
		if err != nil {
			return fmt.Errorf("fingerprint transition: %w", err)
		}

		if !jc.MarkSkip(job.ID, fingerprint) {
			metrics.SkipHits.Inc()
			jc.HandleResult(cluster.Result{Job: job, Payload: cluster.TraceStep{Transition: transition, Skipped: true}})
			continue
		}

		if err := br.FireEvent(ctx, transition.Element, transition.Event, transition.Value); err != nil {
			return fmt.Errorf("fire event %s on %s: %w", transition.Event, transition.Element.Selector, err)
		}
		jc.HandleResult(cluster.Result{Job: job, Payload: cluster.TraceStep{Transition: transition, Skipped: false}})
	}
	return nil
}

func fingerprintTransition(hasher *sha256.Hasher, jobID string, t browser.Transition) (string, error) {
	digest, err := hasher.Hash([]byte(jobID + "|" + t.Element.Selector + "|" + t.Element.Frame + "|" + t.Event))
	if err != nil {
		return "", fmt.Errorf("hash transition: %w", err)
	}
	return digest, nil
}
