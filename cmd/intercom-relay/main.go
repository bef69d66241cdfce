// Command intercom-relay is the process entrypoint: load config, build the
// logger, wire the signalling core (internal/service) to its broker and
// bridge listeners, start the reference status API, and supervise all of it
// under one cancellable errgroup until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/n-ia-hane/intercom-relay/internal/bridge"
	"github.com/n-ia-hane/intercom-relay/internal/commons"
	"github.com/n-ia-hane/intercom-relay/internal/config"
	"github.com/n-ia-hane/intercom-relay/internal/service"
	"github.com/n-ia-hane/intercom-relay/internal/statusapi"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("intercom-relay: %v", err)
	}
}

func run() error {
	vConfig, err := config.InitConfig()
	if err != nil {
		return fmt.Errorf("init config: %w", err)
	}
	cfg, err := config.GetApplicationConfig(vConfig)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logOpts := commons.DefaultOptions()
	logOpts.Level = cfg.LogLevel
	logOpts.LogFile = cfg.LogFile
	logger, err := commons.NewApplicationLogger(logOpts)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	logger.Infow("starting intercom-relay",
		"version", cfg.Version,
		"broker_addr", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort),
		"bridge_addr", fmt.Sprintf("%s:%d", cfg.BridgeHost, cfg.BridgePort),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := service.New(service.Config{
		CallTimeout:     cfg.CallTimeout,
		PingInterval:    cfg.PingInterval,
		PingTimeout:     cfg.PingTimeout,
		AudioQueueDepth: cfg.AudioQueueDepth,
	}, logger)

	brokerLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BrokerHost, cfg.BrokerPort))
	if err != nil {
		return fmt.Errorf("bind broker listener: %w", err)
	}
	bridgeLn, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.BridgeHost, cfg.BridgePort))
	if err != nil {
		return fmt.Errorf("bind bridge listener: %w", err)
	}

	pairer := bridge.NewPairer(cfg.BridgeQueueDepth, logger)
	statusSrv := statusapi.NewServer(logger)

	group, gctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		svc.Run()
		return nil
	})
	group.Go(func() error {
		<-gctx.Done()
		svc.Shutdown()
		return nil
	})
	// statusSrv.Consume ranges over svc.Events() for the life of the
	// process; the channel is never closed, so it is deliberately not
	// tracked by the errgroup — it exits with the process, not with Wait.
	go statusSrv.Consume(svc.Events())

	group.Go(func() error {
		return svc.ServeBroker(gctx, brokerLn)
	})
	group.Go(func() error {
		return pairer.Serve(gctx, bridgeLn)
	})

	if cfg.StatusAddr != "" {
		httpSrv := &http.Server{Addr: cfg.StatusAddr, Handler: statusSrv.Handler()}
		group.Go(func() error {
			if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		group.Go(func() error {
			<-gctx.Done()
			return httpSrv.Shutdown(context.Background())
		})
		logger.Infow("status api listening", "addr", cfg.StatusAddr)
	}

	if err := group.Wait(); err != nil {
		return err
	}
	logger.Infow("intercom-relay shut down cleanly")
	return nil
}
