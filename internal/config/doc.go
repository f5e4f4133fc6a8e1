// Package config loads agent-console configuration.
//
// Configuration comes from an optional YAML file layered over Default().
// ${VAR_NAME} references in the file are expanded from the environment
// before parsing; unset variables expand to an empty string.
//
// Cloud target defaults can also come straight from the environment, which
// wins over the file when set:
//
//	GOOGLE_CLOUD_PROJECT         cloud.project
//	GOOGLE_CLOUD_LOCATION        cloud.location
//	AGENT_ENGINE_STAGING_BUCKET  cloud.staging_bucket
//	AGENTSPACE_PROJECT           cloud.agentspace_project
//	AGENTSPACE_LOCATIONS         cloud.agentspace_locations (comma separated, default "global,us")
//
// Durations use time.ParseDuration syntax and must be positive.
//
// Example:
//
//	server:
//	  http_addr: "127.0.0.1:8501"
//	  shutdown_timeout: "30s"
//
//	database:
//	  path: "./data/agent-console.db"
//
//	logging:
//	  level: "info"            # debug, info, warn, error
//	  format: "text"           # text, json
//	  file: "./logs/console.log"
//	  keep: 7
//
//	webadmin:
//	  session_secret: "${CONSOLE_SESSION_SECRET}"   # 32+ bytes; random per process when empty
//	  session_idle: "2h"
//
//	agents:
//	  catalog: "./agents.yaml"  # or .toml; empty uses the built-in gallery
//	  root: "."
package config
