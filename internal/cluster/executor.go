package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/relayhq/browsercluster/internal/browser"
)

// Executor runs one Job instance against a worker's Browser. jc exposes the
// subset of supervisor operations a job body is allowed to call back into:
// Queue (for fan-out), HandleResult, the skip registry, and the sitemap.
type Executor func(ctx context.Context, job Job, br browser.Browser, jc JobContext) error

// JobContext is the supervisor facade passed into Executor so that job
// bodies never hold a reference to the full Supervisor (and therefore never
// reach its pool-management or shutdown surface).
type JobContext interface {
	Queue(job Job, callback Callback) error
	HandleResult(result Result)
	IsSkipped(jobID, fingerprint string) bool
	MarkSkip(jobID, fingerprint string) bool
	MergeSkips(jobID string, fingerprints []string)
	PushSitemap(url string, statusCode int)
}

var (
	executorsMu sync.RWMutex
	executors   = map[Kind]Executor{}
)

// RegisterExecutor associates kind with exec. Job bodies call this from an
// init() function, mirroring database/sql driver registration: the
// scheduler core never imports the packages that implement job bodies, so
// job kinds must register themselves instead of being looked up by type.
// Registering the same kind twice is a programming error and panics, same
// as database/sql.Register.
func RegisterExecutor(kind Kind, exec Executor) {
	executorsMu.Lock()
	defer executorsMu.Unlock()
	if _, exists := executors[kind]; exists {
		panic(fmt.Sprintf("cluster: executor already registered for kind %q", kind))
	}
	executors[kind] = exec
}

func lookupExecutor(kind Kind) (Executor, error) {
	executorsMu.RLock()
	defer executorsMu.RUnlock()
	exec, ok := executors[kind]
	if !ok {
		return nil, fmt.Errorf("cluster: no executor registered for kind %q", kind)
	}
	return exec, nil
}
