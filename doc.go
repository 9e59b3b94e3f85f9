// Package pumpbridge is the command bridge and status fanout for a two pump
// test rig whose controller is reachable only over a serial line.
//
// # Architecture
//
// Two processes share a NATS bus:
//
//	┌──────────────┐  POST /pump/{id}/command   ┌──────────────┐
//	│ HTTP client  │ ─────────────────────────► │   pumpapi    │
//	└──────────────┘                            │  gateway     │
//	┌──────────────┐  /ws status stream         │  fanout      │
//	│ WS clients   │ ◄───────────────────────── │  profiles    │
//	└──────────────┘                            └──────┬───────┘
//	                      pump/<id>/command            │  ▲ pump/<id>/status
//	                                                   ▼  │
//	                                            ┌──────────────┐  serial  ┌────────────┐
//	                                            │  pumpbridge  │ ───────► │ controller │
//	                                            │  bridge      │ ◄─────── │            │
//	                                            └──────────────┘          └────────────┘
//
// pumpbridge runs on the host that owns the port. Commands are queued and
// exchanged with the controller one at a time; a reply with status "ok"
// republishes the command payload on the pump's status topic and merges it
// into the last known state kept in a JetStream KV bucket. Timeouts,
// malformed replies and rejections are logged and counted, never retried.
//
// pumpapi is the external face: it validates commands and publishes them,
// serves last known state, runs scripted profiles, and broadcasts every
// status event to WebSocket clients.
//
// # Packages
//
//	pump        command model, line protocol codec, topic scheme, device state
//	serial      exclusive serial channel with synchronous exchange
//	bridge      per device state machine between bus and channel
//	natsclient  bus adapter and KV state store
//	fanout      realtime hub and WebSocket subscribers
//	gateway     HTTP command API
//	profile     scripted pump schedules
//	config      YAML configuration with environment overrides
//	errors      classified errors and the pump error taxonomy
//	health      component health aggregation
//	metric      Prometheus registry and /metrics server
//	pkg/worker  single worker ordered queue
//	pkg/retry   bounded retries for startup dependencies
//	testutil    in-memory bus, fake serial port, memory state store
//
// # Delivery semantics
//
// Command delivery is at most once. An HTTP 200 means the command reached the
// bus; whether the device applied it is visible only as a status event.
//
// # Running
//
//	go build -o bin/ ./cmd/...
//	./bin/pumpbridge --config configs/pumpbridge.yaml
//	./bin/pumpapi --config configs/pumpbridge.yaml
//
// Integration tests need Docker and run with INTEGRATION_TESTS=1.
package pumpbridge
