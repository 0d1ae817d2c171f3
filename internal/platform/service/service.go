// Package service runs the daemon under the host's service manager.
package service

// Event ids written to the Windows event log.
const (
	eventIDStart = 100
	eventIDStop  = 101
	eventIDError = 102
)
