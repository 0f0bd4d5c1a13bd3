// Package fanout republishes pipeline output to live subscribers. It
// is observational only: nothing in this package affects ingestion
// correctness, and publishing with no subscribers connected is not an
// error.
//
// # Channel Translation
//
// Broker topics become external channel names through TranslateChannel:
// a sensor data topic maps to metric:{id}, command and status topics
// map to event:{last-level}, and channels under the internal mqtt/
// prefix pass through unchanged. Topics that match no rule are dropped
// and counted, never queued.
//
// # Delivery
//
// The Bridge hands each event to every subscriber over a buffered
// channel with drop-oldest on pressure, so a slow consumer loses its
// own oldest frames instead of stalling the pipeline. The WebSocket
// hub serves Envelope JSON frames to connected clients, each with its
// own drop-oldest send queue. The optional NATS publisher republishes
// channels as subjects with ':' and '/' rewritten to '.', keeping the
// raw payload bytes as the message body.
package fanout
