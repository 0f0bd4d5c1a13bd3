// Package deadletter quarantines deliveries the pipeline could not
// process.
//
// The Controller receives failed batches from the ingestion flush
// together with their cause and disposes of them by error class.
// Invalid failures (undecodable or unvalidatable payloads) park
// immediately: retrying a poison payload cannot succeed. Transient
// failures (sink or broker trouble) are requeued at the front of the
// ingestion buffer until the entry's retry budget is spent, then
// parked; a parked transient entry therefore shows a retry count equal
// to the budget and was attempted budget+1 times. Fatal failures park
// at once with an error-level log line.
//
// Parked entries live in a bounded in-memory holding set keyed by
// entry id. At capacity the oldest parked entry is evicted with a
// warning. Parking also republishes the original payload to the
// configured dead-letter topic when a publisher is wired and the
// connection is up, best-effort at QoS 0.
//
// Operators inspect the set with List, drop it with Clear, and
// re-inject everything with RetryAll, which resets retry budgets so
// the drained entries get a full set of attempts again.
package deadletter
