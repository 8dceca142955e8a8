package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/guseggert/stdipc/bridge"
	"github.com/guseggert/stdipc/ipc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func newApp(run func(c *cli.Context, s *settings) error) *cli.App {
	return &cli.App{
		Name:      "ipcworker",
		Usage:     "serve operations to a host process over stdin and stdout",
		ArgsUsage: "[HOST_PID]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Usage:   "Path to a TOML config file. Flags override its values.",
				EnvVars: []string{"IPCWORKER_CONFIG"},
			},
			&cli.StringFlag{
				Name:    "interval",
				Usage:   "Pause between two ticks of the worker loop.",
				Value:   ipc.DefaultInterval.String(),
				EnvVars: []string{"IPCWORKER_INTERVAL"},
			},
			&cli.StringFlag{
				Name:    "heartbeat-interval",
				Usage:   "Send a heartbeat frame this often. Empty disables heartbeats.",
				EnvVars: []string{"IPCWORKER_HEARTBEAT_INTERVAL"},
			},
			&cli.BoolFlag{
				Name:    "require-capability",
				Usage:   "Refuse to start unless the capability marker sits next to the executable.",
				EnvVars: []string{"IPCWORKER_REQUIRE_CAPABILITY"},
			},
			&cli.StringFlag{
				Name:    "marker-ext",
				Usage:   "Extension of the capability marker file.",
				Value:   ipc.DefaultMarkerExt,
				EnvVars: []string{"IPCWORKER_MARKER_EXT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "One of [debug,info,warn,error]. Logs always go to stderr.",
				Value:   "info",
				EnvVars: []string{"IPCWORKER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "listen-addr",
				Usage:   "Serve over WebSocket on this address instead of stdin and stdout.",
				EnvVars: []string{"IPCWORKER_LISTEN_ADDR"},
			},
			&cli.StringFlag{
				Name:    "heartbeat-timeout",
				Usage:   "With --listen-addr, exit when no client has sent a heartbeat for this long.",
				EnvVars: []string{"IPCWORKER_HEARTBEAT_TIMEOUT"},
			},
			&cli.Float64Flag{
				Name:  "rate-limit",
				Usage: "Reject calls beyond this many per second. Zero disables the limit.",
			},
			&cli.IntFlag{
				Name:  "rate-burst",
				Usage: "Burst size for --rate-limit.",
				Value: 1,
			},
			&cli.StringSliceFlag{
				Name:  "env-allow",
				Usage: "Environment variables the env operation may reveal.",
			},
		},
		Action: func(c *cli.Context) error {
			s, err := resolveSettings(c)
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}
			return run(c, s)
		},
	}
}

func run(c *cli.Context, s *settings) error {
	logger, err := zap.NewDevelopment()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	logger = logger.WithOptions(zap.IncreaseLevel(s.logLevel)).Named("ipcworker")
	defer logger.Sync()

	reg := ipc.NewRegistry()
	if err := registerBuiltins(reg, s.envAllow); err != nil {
		return fmt.Errorf("registering builtins: %w", err)
	}

	var mws []ipc.Middleware
	if s.rateLimit > 0 {
		mws = append(mws, ipc.RateLimitMiddleware(s.rateLimit, s.rateBurst))
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if s.listenAddr != "" {
		return serveBridge(ctx, logger, reg, mws, s)
	}

	opts := []ipc.Option{
		ipc.WithLogger(logger),
		ipc.WithInterval(s.interval),
		ipc.WithHeartbeatInterval(s.heartbeatInterval),
		ipc.WithParentArgs(s.parentArgs),
		ipc.WithMiddleware(mws...),
	}
	if s.requireCapability {
		opts = append(opts, ipc.WithRequireCapability(s.markerExt))
	}
	err = ipc.NewWorker(reg, opts...).Run(ctx)
	if code := ipc.ExitCode(err); code != 0 {
		return cli.Exit(err.Error(), code)
	}
	return nil
}

func serveBridge(ctx context.Context, logger *zap.Logger, reg *ipc.Registry, mws []ipc.Middleware, s *settings) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := []bridge.Option{
		bridge.WithLogger(logger),
		bridge.WithListenAddr(s.listenAddr),
		bridge.WithInterval(s.interval),
		bridge.WithMiddleware(mws...),
	}
	if s.heartbeatTimeout > 0 {
		opts = append(opts,
			bridge.WithHeartbeatTimeout(s.heartbeatTimeout),
			bridge.WithHeartbeatFailureHandler(func() {
				logger.Info("heartbeat failed, exiting")
				cancel()
			}),
		)
	}
	server := bridge.NewServer(reg, opts...)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Run() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	if err := server.Stop(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("stopping bridge: %w", err)
	}
	return <-errCh
}

func main() {
	if err := newApp(run).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
