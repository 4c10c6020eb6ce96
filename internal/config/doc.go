// Package config handles configuration loading for the noa binaries.
//
// Configuration is loaded from YAML files with environment variable
// expansion. All binaries share one file and read the sections they need.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	llm:
//	  timeout: "60s"
//	userproxy:
//	  ask_timeout: "5m"
//
// # Sections
//
// Shared space:
//
//	broker:
//	  addr: "localhost:9400"
//	space: "noa"
//
// Model backend (see the llm package for types and defaults):
//
//	llm:
//	  type: "openai"
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//
// Moderator:
//
//	moderator:
//	  roster_dir: "./agents"
//	  ledger_path: "./data/noa.db"
//
// User proxy:
//
//	userproxy:
//	  http_addr: "localhost:9401"
//	  jwt_secret: "${NOA_JWT_SECRET}"
//	  echo: true
package config
