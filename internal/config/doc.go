// Package config handles configuration loading for derailed.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${DERAILED_JWT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	auth:
//	  session_ttl: "1008h"
//	gateway:
//	  auth_timeout: "10s"
//	  ping_interval: "30s"
//
// Supported units: ns, us, ms, s, m, h
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:8080"   # REST API and websocket gateway
//
// Database:
//
//	database:
//	  path: "/var/lib/derailed/derailed.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${DERAILED_JWT_SECRET}"  # Required, at least 32 bytes
//	  session_ttl: "1008h"                  # Token lifetime, default six weeks
//
// Gateway tuning:
//
//	gateway:
//	  queue_capacity: 64    # Buffered events per connection
//	  auth_timeout: "10s"   # Identify deadline after websocket upgrade
//	  write_timeout: "10s"
//	  ping_interval: "30s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// Metrics:
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// # Validation
//
// Load() validates:
//
//   - Listen address and database path presence
//   - JWT secret minimum length (32 bytes)
//   - Duration format validity
//
// # Usage
//
//	cfg, err := config.Load("/etc/derailed/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
