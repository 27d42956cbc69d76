// Package config provides application configuration management.
//
// The config package handles loading and validation of the application's
// configuration from YAML files and GRADEBOX_* environment variables. It
// covers the server transport, logging, the isolation tool and box pool,
// default quotas, the execution pipeline, archival and the module catalog.
//
// Usage:
//
//	cfg, err := config.New()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("Box pool capacity: %d\n", cfg.Sandbox.MaxConcurrent)
package config
