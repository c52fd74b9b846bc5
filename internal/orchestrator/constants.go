package orchestrator

import "time"

// Job manager configuration constants
const (
	// Finished jobs kept in memory for status and PDF lookups
	RecentJobs = 50

	// Channel buffer sizes
	EventBuffer = 100

	// A progress event is emitted at most every ProgressEvery frames
	ProgressEvery = 25

	// Grace period for running jobs on Stop
	StopTimeout = 10 * time.Second
)
