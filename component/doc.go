// Package component defines the contracts shared by every runtime piece
// of the ingestion pipeline, and the runner that orchestrates them.
//
// # Lifecycle
//
// Components follow a single lifecycle pattern:
//
//	Initialize() error                  // setup/create only, no context
//	Start(ctx context.Context) error    // begin work, context passed through
//	Stop(timeout time.Duration) error   // graceful shutdown with deadline
//
// Initialize is callable again after Stop so components can restart.
// Stop is idempotent. Components never store the context they were
// started with; the runner keeps the cancel func per component.
//
// # Discovery
//
// Discoverable exposes Meta(), Health(), and DataFlow() so the health
// monitor can fold each component's view into the aggregated pipeline
// report without knowing concrete types.
//
// # Orchestration
//
// Runner holds the fixed component topology. Registration order is
// start order; shutdown runs in reverse with contexts cancelled first:
//
//	runner := component.NewRunner(logger)
//	runner.Add("sink", sinkComponent)
//	runner.Add("pipeline", pipeline)
//	runner.Add("broker", client)
//	if err := runner.StartAll(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer runner.StopAll(10 * time.Second)
//
// A component that fails to start unwinds the ones already running.
//
// # Conformance Testing
//
// StandardLifecycleTests runs the shared lifecycle conformance suite.
// Component packages call it from their own tests:
//
//	func TestPipelineLifecycle(t *testing.T) {
//		component.StandardLifecycleTests(t, func() component.LifecycleComponent {
//			return newTestPipeline(t)
//		})
//	}
package component
