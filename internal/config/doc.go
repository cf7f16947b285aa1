// Package config handles configuration loading for consult-gateway.
//
// # Overview
//
// Configuration is loaded from a YAML file, or a TOML file when the path ends
// in .toml, with environment variable expansion, defaults and validation.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from CONSULT_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/consult/gateway.yaml
//  3. ~/.config/consult/gateway.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${CONSULT_JWT_SECRET}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "127.0.0.1:8000"
//	  grpc_addr: ""                 # optional health/reflection listener
//
//	database:
//	  driver: "sqlite"              # sqlite, postgres
//	  path: "consult.db"            # sqlite only, ":memory:" allowed
//	  dsn: ""                       # postgres only
//
//	auth:
//	  jwt_secret: "${CONSULT_JWT_SECRET}"
//	  token_ttl: "30m"
//	  bcrypt_cost: 10
//
//	engine:
//	  mode: "remote"                # remote, echo
//	  url: "http://127.0.0.1:2024"
//	  assistant_id: "agent"
//	  request_timeout: "60s"
//	  turn_timeout: "5m"
//
//	threads:
//	  backend: "memory"             # memory, redis
//	  ttl: "24h"
//	  redis:
//	    addr: "localhost:6379"
//
//	stream:
//	  render_markdown: false
//
//	logging:
//	  level: "info"                 # debug, info, warn, error
//	  format: "text"                # text, json
//
// Duration values use Go's time.ParseDuration syntax.
package config
