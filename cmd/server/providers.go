package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/isdmx/gradebox/archive"
	"github.com/isdmx/gradebox/catalog"
	"github.com/isdmx/gradebox/config"
	"github.com/isdmx/gradebox/execution"
	"github.com/isdmx/gradebox/mcpserver"
	"github.com/isdmx/gradebox/metrics"
	"github.com/isdmx/gradebox/sandbox"
)

func newArchiveStore(cfg *config.Config, logger *zap.Logger) (*archive.Store, error) {
	storeConfig := archive.StoreConfig{
		Root:     cfg.Archive.StorePath,
		Ignore:   cfg.Archive.Ignore,
		Snapshot: cfg.Archive.Snapshot,
	}

	var opts []archive.StoreOption
	if m := cfg.Archive.MinIO; m.Endpoint != "" {
		uploader, err := archive.NewMinIOUploader(archive.MinIOConfig{
			Endpoint:  m.Endpoint,
			AccessKey: m.AccessKey,
			SecretKey: m.SecretKey,
			UseSSL:    m.UseSSL,
			Bucket:    m.Bucket,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, archive.WithUploader(uploader))
	}

	return archive.NewStore(logger.Named("archive"), storeConfig, opts...), nil
}

func newExecutionService(cfg *config.Config, logger *zap.Logger, pool *sandbox.Pool, isolate *sandbox.Isolate, store *archive.Store) (*execution.Service, error) {
	limits, err := cfg.QuotaDefaults()
	if err != nil {
		return nil, err
	}

	return execution.NewService(logger.Named("execution"), execution.Config{
		ModuleLibPath: cfg.Execution.ModuleLibPath,
		OutputMaxLen:  cfg.Execution.OutputMaxLen,
		Quota:         limits,
	}, pool, isolate, store), nil
}

func newModuleRepository(cfg *config.Config, logger *zap.Logger) *catalog.FileRepository {
	return catalog.NewFileRepository(logger.Named("catalog"), cfg.Catalog.ModulesDir)
}

// registerMetricsServer serves Prometheus metrics for the lifetime of the app
func registerMetricsServer(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger) {
	if !cfg.Metrics.Enabled {
		return
	}

	srv := metrics.NewServer(cfg.Metrics.ListenAddr)
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			logger.Info("serving metrics", zap.String("addr", ln.Addr().String()))
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("metrics server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

// startTransport serves MCP on the configured transport. A transport that
// stops with an error shuts the whole application down.
func startTransport(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg *config.Config, server *mcpserver.MCPServer, logger *zap.Logger) error {
	var serve func() error
	switch cfg.Server.Transport {
	case "stdio":
		serve = server.ServeStdio
	case "http":
		serve = server.ServeHTTP
	default:
		return fmt.Errorf("unsupported transport: %s", cfg.Server.Transport)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				if err := serve(); err != nil {
					logger.Error("transport stopped", zap.String("transport", cfg.Server.Transport), zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
	})
	return nil
}
