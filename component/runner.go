package component

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cerrors "github.com/c360/sensorstream/errors"
)

// rollbackStopTimeout bounds component shutdown when a later component
// fails to start and the already-running ones must be unwound.
const rollbackStopTimeout = 5 * time.Second

// ManagedComponent tracks a component and its lifecycle state.
//
// The runner creates a named child context per component and passes it
// to Start. The component never stores the context; only the runner
// keeps the cancel func, so one component can be signalled without
// tearing down the rest.
type ManagedComponent struct {
	Name      string
	Component LifecycleComponent
	State     State
	LastError error

	cancel context.CancelFunc
}

// Runner starts components in registration order and stops them in
// reverse. The pipeline topology is fixed, so registration order is the
// dependency order: sinks and consumers first, the broker client last.
type Runner struct {
	logger *slog.Logger

	mu      sync.Mutex
	managed []*ManagedComponent
	started bool
}

// NewRunner creates a runner. A nil logger falls back to slog.Default().
func NewRunner(logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{logger: logger}
}

// Add registers a component under a name. Components start in the order
// they were added.
func (r *Runner) Add(name string, comp LifecycleComponent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.managed = append(r.managed, &ManagedComponent{
		Name:      name,
		Component: comp,
		State:     StateCreated,
	})
}

// StartAll initializes and starts every registered component in order.
// On failure it stops the components already started, in reverse order,
// and returns the error from the component that failed.
func (r *Runner) StartAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.started {
		return cerrors.WrapInvalid(cerrors.ErrAlreadyStarted,
			"Runner", "StartAll", "start components")
	}

	for i, mc := range r.managed {
		if err := mc.Component.Initialize(); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			r.unwind(i)
			return cerrors.Wrap(err, "Runner", "StartAll",
				fmt.Sprintf("initialize %s", mc.Name))
		}
		mc.State = StateInitialized

		childCtx, cancel := context.WithCancel(ctx)
		mc.cancel = cancel

		r.logger.Info("starting component",
			"component", mc.Name, "type", mc.Component.Meta().Type)
		if err := mc.Component.Start(childCtx); err != nil {
			cancel()
			mc.State = StateFailed
			mc.LastError = err
			r.unwind(i)
			return cerrors.Wrap(err, "Runner", "StartAll",
				fmt.Sprintf("start %s", mc.Name))
		}
		mc.State = StateStarted
	}

	r.started = true
	return nil
}

// unwind stops components [0, failed) in reverse order after a start
// failure. Callers hold r.mu.
func (r *Runner) unwind(failed int) {
	for j := failed - 1; j >= 0; j-- {
		mc := r.managed[j]
		if mc.State != StateStarted {
			continue
		}
		if mc.cancel != nil {
			mc.cancel()
		}
		if err := mc.Component.Stop(rollbackStopTimeout); err != nil {
			mc.LastError = err
			r.logger.Error("component stop failed during rollback",
				"component", mc.Name, "error", err)
		}
		mc.State = StateStopped
	}
}

// StopAll stops every started component in reverse registration order.
// Component contexts are cancelled first to signal shutdown intent, then
// each component gets the full timeout for its own Stop. The first stop
// error is returned after all components have been attempted.
func (r *Runner) StopAll(timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	// Cancel all contexts before any Stop so in-flight work starts
	// draining everywhere at once.
	for j := len(r.managed) - 1; j >= 0; j-- {
		mc := r.managed[j]
		if mc.State == StateStarted && mc.cancel != nil {
			mc.cancel()
		}
	}

	var firstErr error
	for j := len(r.managed) - 1; j >= 0; j-- {
		mc := r.managed[j]
		if mc.State != StateStarted {
			continue
		}
		if err := mc.Component.Stop(timeout); err != nil {
			mc.State = StateFailed
			mc.LastError = err
			r.logger.Error("component stop failed",
				"component", mc.Name, "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("stop %s: %w", mc.Name, err)
			}
			continue
		}
		mc.State = StateStopped
		r.logger.Info("component stopped", "component", mc.Name)
	}

	r.started = false
	if firstErr != nil {
		return cerrors.Wrap(firstErr, "Runner", "StopAll", "stop components")
	}
	return nil
}

// Components returns a snapshot of the managed components and their
// states, in registration order.
func (r *Runner) Components() []ManagedComponent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ManagedComponent, len(r.managed))
	for i, mc := range r.managed {
		out[i] = *mc
	}
	return out
}
