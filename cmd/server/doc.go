// Package main is the entry point for the gradebox MCP server.
//
// gradebox runs and grades participant code for an online learning platform.
// Each submission is merged by a module script, executed inside an isolate
// box under per-module quotas and checked by a module script. The server
// exposes this pipeline as MCP tools over stdio or HTTP and can serve
// Prometheus metrics on a separate listener.
//
// The application uses Uber's fx framework for dependency injection and lifecycle
// management, with zap for structured logging and viper for configuration.
package main
