//go:build !windows

package service

import "context"

// Run calls run directly; systemd and friends manage the process via signals.
func Run(ctx context.Context, _ string, run func(context.Context) error) error {
	return run(ctx)
}
