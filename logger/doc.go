// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap. Every pipeline stage logs with structured fields
// (box_id, module_id, user_id, run_type) while participant-invisible
// diagnostics go to the per-execution reporter.
//
// Usage:
//
//	log, err := logger.NewFromConfig(cfg)
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("box acquired", zap.String("box_id", box.ID))
package logger
