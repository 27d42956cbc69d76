package sandbox

import (
	"go.uber.org/zap"

	"github.com/isdmx/gradebox/config"
)

// NewPoolFromConfig creates the box pool described by the sandbox section
func NewPoolFromConfig(logger *zap.Logger, cfg *config.Config) *Pool {
	return NewPool(logger.Named("pool"), PoolConfig{
		Root:     cfg.Sandbox.ExecPath,
		Prefix:   cfg.Sandbox.BoxIDPrefix,
		Capacity: cfg.Sandbox.MaxConcurrent,
	})
}

// NewIsolateFromConfig creates the isolation tool driver described by the
// sandbox section
func NewIsolateFromConfig(logger *zap.Logger, cfg *config.Config) *Isolate {
	return NewIsolate(logger.Named("isolate"), IsolateConfig{
		Command:     cfg.IsolateArgs(),
		InitTimeout: cfg.GetInitTimeout(),
		DirBinds:    cfg.Sandbox.DirBinds,
		Env:         cfg.Sandbox.Env,
	})
}
