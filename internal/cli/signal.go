// Package cli holds the command logic behind cmd/espalier: engine assembly
// from configuration, progress output, and run execution. The cobra files
// stay thin and delegate here.
package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// SignalContext wraps a context and captures the signal that canceled it,
// so completion messages can tell an interrupt from a termination.
type SignalContext struct {
	context.Context
	Cancel func()

	start  sync.Once
	stop   sync.Once
	sigCh  chan os.Signal
	mu     sync.Mutex
	sigVal os.Signal
}

// NewSignalContext creates a context canceled on SIGINT or SIGTERM.
func NewSignalContext(parent context.Context) *SignalContext {
	ctx, cancel := context.WithCancel(parent)
	sc := &SignalContext{
		Context: ctx,
		Cancel:  cancel,
		sigCh:   make(chan os.Signal, 1),
	}

	sc.start.Do(func() {
		signal.Notify(sc.sigCh, os.Interrupt, syscall.SIGTERM)
		go func() {
			select {
			case sig := <-sc.sigCh:
				sc.mu.Lock()
				sc.sigVal = sig
				sc.mu.Unlock()
				sc.Cancel()
			case <-sc.Context.Done():
			}
			sc.stop.Do(func() {
				signal.Stop(sc.sigCh)
			})
		}()
	})

	return sc
}

// Signal returns the signal that canceled the context, or nil.
func (sc *SignalContext) Signal() os.Signal {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.sigVal
}

// isInterrupted reports whether the error is a user cancellation rather than
// a failure.
func isInterrupted(err error) bool {
	return errors.Is(err, context.Canceled)
}

// handleRunError converts interruptions into clean exits. A run cut short by
// the user is not a failure.
func handleRunError(err error) error {
	if err == nil || isInterrupted(err) {
		return nil
	}
	return err
}
