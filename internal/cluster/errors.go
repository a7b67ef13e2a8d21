package cluster

import "errors"

// Sentinel errors returned by the supervisor. Callers should use errors.Is.
var (
	ErrAlreadyShutdown = errors.New("cluster: already shutdown")
	ErrJobNotFound     = errors.New("cluster: job not found")
	ErrAlreadyDone     = errors.New("cluster: job already done")
	ErrMissingCallback = errors.New("cluster: no callback registered for job id")
)
