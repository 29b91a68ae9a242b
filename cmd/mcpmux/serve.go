package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/mcpmux/mcpmux/internal/config"
	"github.com/mcpmux/mcpmux/internal/gateway"
	"github.com/mcpmux/mcpmux/internal/logger"
	mcpbridge "github.com/mcpmux/mcpmux/internal/mcp"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideGatewayService,
		),
		fx.Invoke(
			startGateways,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideConfig() (config.Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideGatewayService(log *slog.Logger, cfg config.Config) *gateway.Service {
	return gateway.NewService(log, cfg.Listener.Host)
}

// startGateways exposes one gateway per configured upstream and tears
// everything down on shutdown. Without upstreams the service idles until a
// programmatic caller creates the first gateway.
func startGateways(lc fx.Lifecycle, log *slog.Logger, cfg config.Config, service *gateway.Service) {
	var invokers []*mcpbridge.SessionInvoker
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if len(cfg.Upstreams) == 0 {
				log.Warn("no upstreams configured; listener starts with the first gateway")
				return nil
			}
			for _, upstream := range cfg.Upstreams {
				invoker, err := connectUpstream(ctx, log, upstream)
				if err != nil {
					return fmt.Errorf("connect upstream %s: %w", upstream.Name, err)
				}
				invokers = append(invokers, invoker)
				info, err := service.CreateGateway(upstream.Name, invoker)
				if err != nil {
					return fmt.Errorf("create gateway for %s: %w", upstream.Name, err)
				}
				log.Info("gateway ready",
					slog.String("upstream", upstream.Name),
					slog.String("gateway_id", info.GatewayID),
					slog.String("address", info.Address),
				)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			err := service.Close(ctx)
			for _, invoker := range invokers {
				if closeErr := invoker.Close(); closeErr != nil {
					log.Warn("close upstream session failed", slog.Any("error", closeErr))
				}
			}
			return err
		},
	})
}

func connectUpstream(ctx context.Context, log *slog.Logger, upstream config.UpstreamConfig) (*mcpbridge.SessionInvoker, error) {
	switch upstream.Transport {
	case "sse":
		return mcpbridge.ConnectSSE(ctx, log, upstream.URL, upstream.Headers)
	case "stdio":
		return mcpbridge.ConnectCommand(ctx, log, upstream.Command, upstream.Args, upstream.Env)
	default:
		return mcpbridge.ConnectStreamable(ctx, log, upstream.URL, upstream.Headers)
	}
}
