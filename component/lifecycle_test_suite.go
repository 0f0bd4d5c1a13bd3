package component

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// LifecycleFactory builds a fresh component for each conformance case.
type LifecycleFactory func() LifecycleComponent

// StandardLifecycleTests runs the lifecycle conformance suite against
// any component. Packages call this from their own tests so every
// component honors the same Initialize/Start/Stop contract.
func StandardLifecycleTests(t *testing.T, factory LifecycleFactory) {
	t.Run("Compliance", func(t *testing.T) {
		testLifecycleCompliance(t, factory)
	})
	t.Run("ConcurrentStop", func(t *testing.T) {
		testConcurrentStop(t, factory)
	})
}

func testLifecycleCompliance(t *testing.T, factory LifecycleFactory) {
	cases := []struct {
		name string
		run  func(t *testing.T, comp LifecycleComponent)
	}{
		{"Initialize", testInitialize},
		{"StartStop", testStartStop},
		{"StartWithoutInit", testStartWithoutInit},
		{"StopWithoutStart", testStopWithoutStart},
		{"DoubleStop", testDoubleStop},
		{"RestartAfterStop", testRestartAfterStop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			comp := factory()
			require.NotNil(t, comp, "factory must build a component")
			tc.run(t, comp)
		})
	}
}

// startComp walks a fresh component to running and returns a cancel for
// the start context.
func startComp(t *testing.T, comp LifecycleComponent) context.CancelFunc {
	t.Helper()
	require.NoError(t, comp.Initialize())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	require.NoError(t, comp.Start(ctx))
	return cancel
}

func testInitialize(t *testing.T, comp LifecycleComponent) {
	assert.NoError(t, comp.Initialize(), "fresh component must initialize")
}

func testStartStop(t *testing.T, comp LifecycleComponent) {
	cancel := startComp(t, comp)
	defer cancel()

	assert.NoError(t, comp.Stop(5*time.Second))
}

func testStartWithoutInit(t *testing.T, comp LifecycleComponent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// A component may initialize implicitly on Start; one that does not
	// must say what went wrong.
	err := comp.Start(ctx)
	if err != nil {
		assert.Contains(t, err.Error(), "not initialized")
	} else {
		assert.NoError(t, comp.Stop(5*time.Second))
	}
}

func testStopWithoutStart(t *testing.T, comp LifecycleComponent) {
	assert.NoError(t, comp.Stop(5*time.Second), "Stop on an idle component is a no-op")
}

func testDoubleStop(t *testing.T, comp LifecycleComponent) {
	cancel := startComp(t, comp)
	defer cancel()

	assert.NoError(t, comp.Stop(5*time.Second))
	assert.NoError(t, comp.Stop(5*time.Second), "repeated Stop must stay nil")
}

func testRestartAfterStop(t *testing.T, comp LifecycleComponent) {
	cancel := startComp(t, comp)
	defer cancel()
	require.NoError(t, comp.Stop(5*time.Second))

	// The full cycle must work a second time on the same instance.
	cancel2 := startComp(t, comp)
	defer cancel2()
	assert.NoError(t, comp.Stop(5*time.Second))
}

// testConcurrentStop checks that racing Stop calls neither panic nor
// error once the component is running.
func testConcurrentStop(t *testing.T, factory LifecycleFactory) {
	comp := factory()
	require.NotNil(t, comp, "factory must build a component")

	cancel := startComp(t, comp)
	defer cancel()

	var wg sync.WaitGroup
	errs := make([]error, 10)
	for i := range errs {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			errs[idx] = comp.Stop(5 * time.Second)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil && !strings.Contains(err.Error(), "already stopped") {
			assert.NoError(t, err, "concurrent Stop %d should be clean", i)
		}
	}
}
