// Package jobs implements the concrete job bodies the cluster ships with:
// BrowserProviderJob, ResourceExplorationJob, and TaintTraceJob. Each
// registers its Executor against the cluster package's registry in an
// init() function, the same way a database/sql driver registers itself —
// the scheduler core never imports this package.
package jobs

import (
	"context"
	"fmt"

	"github.com/relayhq/browsercluster/internal/browser"
	"github.com/relayhq/browsercluster/internal/cluster"
)

func init() {
	cluster.RegisterExecutor(cluster.KindBrowserProvider, executeBrowserProvider)
}

// executeBrowserProvider hands the worker's own Browser to the caller
// through the ordinary Result.Payload channel, exactly as any other job
// kind reports its payload. Grounded on the cluster supervisor's
// with_browser convenience: no closure is carried on the Job.
func executeBrowserProvider(_ context.Context, job cluster.Job, br browser.Browser, jc cluster.JobContext) error {
	if br == nil {
		return fmt.Errorf("browser provider job %s: no browser assigned", job.ID)
	}
	jc.HandleResult(cluster.Result{Job: job, Payload: br})
	return nil
}
