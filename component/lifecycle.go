package component

import (
	"context"
	"time"
)

// State tracks where a component sits in its lifecycle. Transitions run
// Created -> Initialized -> Started -> Stopped, with Failed reachable
// from any step.
type State int

const (
	// StateCreated: constructed, Initialize not yet called.
	StateCreated State = iota
	// StateInitialized: resources built, not yet running.
	StateInitialized
	// StateStarted: running.
	StateStarted
	// StateStopped: quiesced by Stop.
	StateStopped
	// StateFailed: a lifecycle call returned an error.
	StateFailed
)

func (cs State) String() string {
	switch cs {
	case StateCreated:
		return "created"
	case StateInitialized:
		return "initialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LifecycleComponent is the contract the runner manages. Initialize builds
// resources without a context, Start begins work under the given context,
// Stop quiesces within the timeout.
//
// Initialize must be safe to call again after Stop so a component can be
// restarted. Stop must be idempotent: calling it on a component that is
// not running returns nil.
type LifecycleComponent interface {
	Discoverable
	Initialize() error
	Start(ctx context.Context) error
	Stop(timeout time.Duration) error
}
