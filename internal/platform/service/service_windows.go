//go:build windows

package service

import (
	"context"
	"fmt"

	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/eventlog"
)

// runner handles the Windows service lifecycle around run.
type runner struct {
	cancel context.CancelFunc
	done   <-chan struct{}
}

// Execute implements svc.Handler.
func (r *runner) Execute(_ []string, req <-chan svc.ChangeRequest, changes chan<- svc.Status) (bool, uint32) {
	const cmdsAccepted = svc.AcceptStop | svc.AcceptShutdown
	changes <- svc.Status{State: svc.StartPending}
	changes <- svc.Status{State: svc.Running, Accepts: cmdsAccepted}

	for {
		select {
		case <-r.done:
			changes <- svc.Status{State: svc.StopPending}
			return false, 0
		case c := <-req:
			switch c.Cmd {
			case svc.Interrogate:
				changes <- c.CurrentStatus
			case svc.Stop, svc.Shutdown:
				changes <- svc.Status{State: svc.StopPending}
				r.cancel()
				<-r.done
				return false, 0
			}
		}
	}
}

// Run executes run under the service control manager when the process was
// started by it, and directly otherwise.
func Run(ctx context.Context, name string, run func(context.Context) error) error {
	isService, err := svc.IsWindowsService()
	if err != nil || !isService {
		return run(ctx)
	}

	elog, err := eventlog.Open(name)
	if err != nil {
		elog = nil
	}
	report := func(eid uint32, msg string) {
		if elog == nil {
			return
		}
		if eid == eventIDError {
			elog.Error(eid, msg)
			return
		}
		elog.Info(eid, msg)
	}
	defer func() {
		if elog != nil {
			elog.Close()
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan struct{})
	var runErr error
	go func() {
		defer close(done)
		runErr = run(ctx)
	}()

	report(eventIDStart, "service started")
	if err := svc.Run(name, &runner{cancel: cancel, done: done}); err != nil {
		cancel()
		<-done
		report(eventIDError, fmt.Sprintf("service run error: %v", err))
		return err
	}
	<-done
	if runErr != nil {
		report(eventIDError, fmt.Sprintf("service stopped with error: %v", runErr))
		return runErr
	}
	report(eventIDStop, "service stopped")
	return nil
}
