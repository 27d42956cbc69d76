package main

import (
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/isdmx/gradebox/config"
	"github.com/isdmx/gradebox/logger"
	"github.com/isdmx/gradebox/mcpserver"
	"github.com/isdmx/gradebox/sandbox"
)

func main() {
	fx.New(
		fx.Provide(
			config.New,
			logger.NewFromConfig,

			// Sandboxes
			sandbox.NewPoolFromConfig,
			sandbox.NewIsolateFromConfig,

			// Archive store, optionally mirrored to MinIO
			newArchiveStore,

			// Execution service and module catalog behind the MCP tools
			fx.Annotate(newExecutionService, fx.As(new(mcpserver.Executor))),
			fx.Annotate(newModuleRepository, fx.As(new(mcpserver.ModuleRepository))),

			mcpserver.New,
		),

		fx.Invoke(registerMetricsServer, startTransport),

		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
	).Run()
}
