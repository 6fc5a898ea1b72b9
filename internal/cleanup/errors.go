package cleanup

import "errors"

var (
	ErrWorkerAlreadyRunning = errors.New("cleanup worker is already running")
	ErrWorkerNotRunning     = errors.New("cleanup worker is not running")
)
