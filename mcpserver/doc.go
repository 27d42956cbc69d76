// Package mcpserver exposes the execution service as Model Context Protocol
// tools.
//
// Two tools are registered on a mark3labs/mcp-go server: run_code runs a
// participant's code for a module without grading it, and evaluate_code runs
// and grades it. Both take module_id, user_id, code and an optional
// execution_id, and answer with the execution result as JSON together with
// the size-capped diagnostic report. On an infrastructure fault the report is
// logged instead of returned.
//
// The server supports both stdio and HTTP transports as configured by the
// application configuration.
//
// Usage:
//
//	server, err := mcpserver.New(config, logger, executionService, moduleRepository)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	err = server.ServeStdio() // or server.ServeHTTP()
package mcpserver
