// Package gateway holds the configuration and collaborator interfaces of the
// pump command API. The HTTP implementation lives in gateway/http.
//
// # Routes
//
//	GET  /                         liveness message
//	POST /pump/{id}/command        validate and publish to pump/{id}/command
//	GET  /pump/{id}/state          last acknowledged state from the KV store
//	GET  /profiles                 registered profiles
//	GET  /profiles/active          running profile, if any
//	POST /profiles/{name}/start    start (or replace) the running profile
//	POST /profiles/stop            stop and disable every pump
//	GET  /ws                       realtime status stream
//	GET  /healthz                  aggregated health
//
// # Submission, not execution
//
// A 200 from the command route means the command was validated and handed to
// the bus. The device exchange happens later in the bridge process; a
// timeout or rejection there is visible only as a missing status event on
// /ws. Operators watching the rig should expect that asymmetry.
//
// # Limits
//
// Bodies over max_request_size get 413. Each pump has its own token bucket
// (rate_limit per second, rate_burst deep); exceeding it gets 429. Rejected
// requests never publish and never spend a token.
//
// # Example Configuration
//
//	gateway:
//	  enable_cors: true
//	  cors_origins: ["*"]
//	  max_request_size: 65536
//	  rate_limit: 10
//	  rate_burst: 20
//	  publish_timeout: 2s
package gateway
