// Package config handles configuration loading for switchboard.
//
// # Configuration File
//
// The path comes from the SWITCHBOARD_CONFIG environment variable when set,
// otherwise from the --config flag (default ./config.yaml). Files ending in
// .toml are parsed as TOML; everything else is YAML.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax and must be positive:
//
//	typing:
//	  timeout: "30s"
//	  sweep_interval: "1m"
//
// # Example
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "./switchboard.db"
//	auth:
//	  jwt_secret: "${SWITCHBOARD_JWT_SECRET}"
//	redis:
//	  url: "redis://localhost:6379/0"
//	broker:
//	  kind: "redis"          # or "amqp"
//	  amqp_url: ""
//	  amqp_exchange: "switchboard.ai"
//	dedup:
//	  ttl: "30s"
//	socket:
//	  send_buffer: 64
//	  ping_interval: "25s"
//	  allowed_origins: ["https://support.example.com"]
//	logging:
//	  level: "info"
//	  format: "text"
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load applies defaults and then rejects a missing database path, a JWT
// secret shorter than 32 bytes, and a broker without its connection URL.
package config
