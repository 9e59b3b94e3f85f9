// Package bridge connects the command topics on the message bus to the
// serial link.
//
// Each message on pump/<id>/command is checked against its topic, queued,
// and handled on a single worker goroutine:
//
//	parse and validate -> encode frame -> exchange -> publish pump/<id>/status
//
// Only an "ok" acknowledgment produces a status event, and the event carries
// the original command payload. Timeouts, malformed replies and rejected
// commands are logged and counted; nothing is retried. A serial transport
// failure makes Health report unhealthy so the process can exit and be
// restarted.
//
// With WithStateStore every acknowledged command is merged into the stored
// pump.State for its device.
package bridge
