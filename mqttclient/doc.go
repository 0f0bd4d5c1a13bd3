// Package mqttclient provides a resilient MQTT broker client with an
// explicit connection state machine, bounded reconnection, and
// subscription replay for the sensor ingestion pipeline.
//
// The mqttclient package wraps the Eclipse Paho MQTT client with the
// reliability features the pipeline depends on: a five-state connection
// machine with ordered transition notifications, a reconnect loop with
// a configurable attempt budget, and subscriptions that survive broker
// outages. It is the single entry point for all broker traffic in
// sensorstream.
//
// # Connection State Machine
//
// The client moves through five states:
//
//	Disconnected → Connecting → Connected ⇄ Reconnecting
//	                                           ↓
//	                                        Errored
//
// A connect attempt moves Disconnected to Connecting and, on broker
// acknowledgement, to Connected. An unsolicited transport drop moves
// Connected to Reconnecting; each retry emits a StateChange with an
// increasing Attempt counter. When the attempt budget is exhausted the
// machine makes exactly one terminal transition to Errored and stops
// retrying. Errored is left only by an operator-driven restart
// (Stop, Initialize, Start); a graceful Disconnect moves any state
// straight to Disconnected without passing through Reconnecting.
//
// # Basic Usage
//
// Creating and connecting to a broker:
//
//	client, err := mqttclient.NewClient("tcp://localhost:1883")
//	if err != nil {
//	    return err
//	}
//
//	if err := client.Initialize(); err != nil {
//	    return err
//	}
//
//	ctx := context.Background()
//	if err := client.Start(ctx); err != nil {
//	    return err
//	}
//	defer client.Stop(5 * time.Second)
//
//	// Subscribe to sensor data
//	err = client.Subscribe("sensors/+/data", 1, func(msg mqttclient.Message) {
//	    fmt.Printf("%s: %d bytes\n", msg.Topic, len(msg.Payload))
//	})
//
//	// Publish a command
//	err = client.Publish("control/line4/command", 1, false, []byte(`{"cmd":"pause"}`))
//
// Start retries the initial dial with quick backoff, so a broker that
// is still coming up does not fail pipeline startup. For single-shot
// connection control use Connect directly and retry in the caller.
//
// # Subscriptions and Reconnect
//
// Subscriptions are owned by the client, not the transport. Every
// registered filter is replayed after each successful reconnect, and
// subscribing while the connection is down registers the filter for
// replay and returns nil. Handlers run on the transport callback
// goroutine and must hand work off quickly, typically by appending to
// the ingestion buffer.
//
// Duplicate QoS 1 deliveries are passed through with the Duplicate
// flag set; deduplication is the persistence sink's responsibility.
//
// # Topic Filters
//
// The package exports the MQTT filter utilities used across the
// pipeline:
//
//	mqttclient.ValidateFilter("sensors/+/data")   // '+' one level, '#' final level
//	mqttclient.ValidateTopic("sensors/press4/data") // concrete, no wildcards
//	mqttclient.MatchTopic("sensors/#", "sensors/press4/data") // true
//
// Matching follows the MQTT specification: '+' matches exactly one
// level, '#' matches any number of trailing levels including none, and
// filters beginning with a wildcard never match topics starting with
// '$'.
//
// # State Change Notifications
//
// Every transition is delivered on a buffered channel that never
// blocks the transport callbacks:
//
//	go func() {
//	    for change := range client.StateChanges() {
//	        if change.To == mqttclient.StateErrored {
//	            log.Printf("broker client gave up: %v", change.Err)
//	        }
//	    }
//	}()
//
// When the buffer is full the change is dropped and counted in
// Stats().Dropped rather than delivered late. A callback variant is
// available through WithStateCallback; callbacks run on their own
// goroutine.
//
// # Reconnection Budget
//
// The reconnect loop is owned by this package rather than the
// transport so the attempt counter and the terminal transition are
// exact:
//
//	client, err := mqttclient.NewClient(url,
//	    mqttclient.WithReconnectPeriod(2*time.Second),
//	    mqttclient.WithMaxReconnectAttempts(10),
//	)
//
// A negative budget retries forever. A budget of zero makes the first
// connection drop terminal. During an outage spanning n retries the
// client emits n Reconnecting changes with Attempt 1..n, then one
// Errored change.
//
// # Last Will
//
// A last-will declaration is published by the broker when the client
// vanishes without a clean disconnect, letting downstream consumers
// observe pipeline death:
//
//	client, err := mqttclient.NewClient(url,
//	    mqttclient.WithLastWill("status/ingest", []byte(`{"online":false}`), 1, true),
//	)
//
// # Error Handling
//
// The package defines sentinel errors for the common failure modes:
//
//	var (
//	    ErrNotConnected   = errors.New("not connected to broker")
//	    ErrConnectTimeout = errors.New("broker connect timeout")
//	    ErrClientErrored  = errors.New("client errored, manual restart required")
//	)
//
// Connection failures returned from Connect and Publish are classified
// as transient connection errors, so pipeline stages can route them
// with errors.IsTransient and errors.KindOf.
//
// # Connection Options
//
// Available configuration options:
//
//	WithClientID(id string)                  // MQTT client identifier
//	WithCredentials(user, pass string)       // Broker authentication
//	WithKeepAlive(d time.Duration)           // PINGREQ interval, 0 disables
//	WithCleanStart(clean bool)               // Discard prior session state
//	WithConnectTimeout(d time.Duration)      // Bound on one connect attempt
//	WithReconnectPeriod(d time.Duration)     // Wait between reconnect attempts
//	WithMaxReconnectAttempts(n int)          // Reconnect budget (-1 = forever)
//	WithDefaultQoS(qos byte)                 // Default quality of service
//	WithLastWill(topic, payload, qos, ret)   // Will declaration
//	WithTLSConfig(cfg *tls.Config)           // Transport security
//	WithStateCallback(fn func(StateChange))  // Transition callback
//	WithNotifyBuffer(n int)                  // Notification channel capacity
//	WithLogger(logger Logger)                // Custom logger
//	WithMetrics(registry)                    // Prometheus collectors
//
// When no client id is configured one is generated as
// "sensorstream-" followed by a short random suffix, so two pipeline
// instances never steal each other's broker session.
//
// # Thread Safety
//
// The Client type is safe for concurrent use. State and the attempt
// counter move together under one mutex, so observers never see a torn
// pair; traffic counters are atomics. Subscription handlers run on the
// transport callback goroutine in delivery order.
//
// # Architecture Integration
//
// The broker client is the pipeline's input component:
//
//	MQTT broker → Client → ingestion buffer → transformer → sink
//	                 ↓
//	        StateChanges → health monitor, fan-out bridge
//
// It implements component.LifecycleComponent, so the service runner
// starts it after the consumers that drain it and stops it first.
package mqttclient
