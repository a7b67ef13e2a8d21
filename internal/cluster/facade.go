package cluster

import "fmt"

// WithBrowser queues a single-shot BrowserProviderJob whose Execute hands
// the assigned worker's Browser to callback through the ordinary Result
// payload channel.
func (s *Supervisor) WithBrowser(callback Callback) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	job := Job{ID: id, Kind: KindBrowserProvider}
	return s.Queue(job, callback)
}

// Explore queues a ResourceExplorationJob rooted at resource.
func (s *Supervisor) Explore(resource string, options ExplorationOptions, callback Callback) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	job := Job{
		ID:   id,
		Kind: KindResourceExploration,
		Payload: ExplorationPayload{
			Resource: resource,
			Depth:    0,
			Options:  options,
		},
	}
	return s.Queue(job, callback)
}

// TraceTaint queues a TaintTraceJob against resource.
func (s *Supervisor) TraceTaint(resource string, options TaintOptions, callback Callback) error {
	id, err := s.ids.NewID()
	if err != nil {
		return fmt.Errorf("generate job id: %w", err)
	}
	job := Job{
		ID:   id,
		Kind: KindTaintTrace,
		Payload: TaintPayload{
			Resource: resource,
			Options:  options,
		},
	}
	return s.Queue(job, callback)
}
