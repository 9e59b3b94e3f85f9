// Package config loads the configuration shared by pumpbridge and pumpapi.
//
// Values are layered: built in defaults, then a YAML (or JSON) file, then
// PUMPBRIDGE_* environment variables, then command line flags applied by the
// process itself. Load validates the result.
//
// # Basic Usage
//
//	cfg, err := config.Load("configs/pumpbridge.yaml")
//	if err != nil {
//		return err
//	}
//	ch, err := serial.Open(ctx, serial.Config{Port: cfg.Serial.Port, Baud: cfg.Serial.Baud})
//
// # Environment
//
//	PUMPBRIDGE_NATS_URL            nats://host:4222 (wins over HOST/PORT)
//	PUMPBRIDGE_NATS_HOST           bus host, composed with NATS_PORT
//	PUMPBRIDGE_NATS_PORT           bus port (default 4222)
//	PUMPBRIDGE_NATS_USERNAME       bus credentials
//	PUMPBRIDGE_NATS_PASSWORD
//	PUMPBRIDGE_NATS_TOKEN
//	PUMPBRIDGE_NATS_STATE_BUCKET   KV bucket for last known state
//	PUMPBRIDGE_NATS_CONNECT_RETRIES  startup connect retries (default 29)
//	PUMPBRIDGE_SERIAL_PORT         /dev/ttyUSB0
//	PUMPBRIDGE_SERIAL_BAUD         115200
//	PUMPBRIDGE_SETTLE_DELAY        2s
//	PUMPBRIDGE_EXCHANGE_TIMEOUT    2s
//	PUMPBRIDGE_DEVICES             1,2
//	PUMPBRIDGE_HTTP_ADDR           :8000
//	PUMPBRIDGE_METRICS_ADDR        :9090 (empty file value disables)
//	PUMPBRIDGE_LOG_LEVEL           debug|info|warn|error
//	PUMPBRIDGE_LOG_FORMAT          json|text
//
// Config files are limited to 1MB and must have a .yaml, .yml or .json
// extension. String renders the config with credentials redacted and is safe
// to log.
package config
