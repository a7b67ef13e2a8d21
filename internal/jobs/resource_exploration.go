package jobs

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/gocolly/colly/v2"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/cluster"
	"github.com/relayhq/browsercluster/internal/metrics"
)

func init() {
	cluster.RegisterExecutor(cluster.KindResourceExploration, executeResourceExploration)
}

// executeResourceExploration loads resource through the worker's own
// Browser (so the worker's page counter and the sitemap both reflect a
// real, JS-rendered navigation), then runs a colly collector against the
// same resource to enumerate outbound links: the browser establishes
// ground truth, colly supplies fast structured link discovery.
func executeResourceExploration(ctx context.Context, job cluster.Job, br browser.Browser, jc cluster.JobContext) error {
	payload, err := cluster.DecodePayload[cluster.ExplorationPayload](job.Payload)
	if err != nil {
		return fmt.Errorf("decode exploration payload: %w", err)
	}

	page, err := br.Load(ctx, payload.Resource)
	if err != nil {
		return fmt.Errorf("load resource %s: %w", payload.Resource, err)
	}
	jc.PushSitemap(payload.Resource, page.StatusCode)

	links, err := extractLinks(payload.Resource)
	if err != nil {
		jc.HandleResult(cluster.Result{Job: job, Payload: cluster.ExplorationResult{
			Resource:   payload.Resource,
			StatusCode: page.StatusCode,
		}})
		return fmt.Errorf("extract links from %s: %w", payload.Resource, err)
	}

	filtered := filterLinks(links, payload.Options)
	jc.HandleResult(cluster.Result{Job: job, Payload: cluster.ExplorationResult{
		Resource:   payload.Resource,
		StatusCode: page.StatusCode,
		Links:      filtered,
	}})

	if payload.Depth >= payload.Options.MaxDepth {
		return nil
	}
	budget := payload.Options.MaxLinks
	if budget <= 0 {
		budget = len(filtered)
	}
	for i, link := range filtered {
		if i >= budget {
			break
		}
		fingerprint := fmt.Sprintf("explore:%s", link)
		if !jc.MarkSkip(job.ID, fingerprint) {
			metrics.SkipHits.Inc()
			continue
		}
		child := job.Forward(cluster.ExplorationPayload{
			Resource: link,
			Depth:    payload.Depth + 1,
			Options:  payload.Options,
		})
		if err := jc.Queue(child, nil); err != nil {
			return fmt.Errorf("queue sub-job for %s: %w", link, err)
		}
	}
	return nil
}

func extractLinks(resource string) ([]string, error) {
	var (
		mu    sync.Mutex
		links []string
	)
	collector := colly.NewCollector(colly.Async(false))
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		href := e.Request.AbsoluteURL(e.Attr("href"))
		if href == "" {
			return
		}
		mu.Lock()
		links = append(links, href)
		mu.Unlock()
	})
	if err := collector.Visit(resource); err != nil {
		return nil, fmt.Errorf("colly visit: %w", err)
	}
	collector.Wait()
	return links, nil
}

func filterLinks(links []string, options cluster.ExplorationOptions) []string {
	out := make([]string, 0, len(links))
	for _, link := range links {
		parsed, err := url.Parse(link)
		if err != nil {
			continue
		}
		host := strings.ToLower(parsed.Host)
		if len(options.AllowDomains) > 0 && !containsFold(options.AllowDomains, host) {
			continue
		}
		if containsFold(options.DenyDomains, host) {
			continue
		}
		out = append(out, link)
	}
	return out
}

func containsFold(haystack []string, needle string) bool {
	for _, h := range haystack {
		if strings.EqualFold(h, needle) {
			return true
		}
	}
	return false
}
