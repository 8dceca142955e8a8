package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/guseggert/stdipc/bridge"
	"github.com/guseggert/stdipc/host"
	"github.com/guseggert/stdipc/internal/files"
	"github.com/guseggert/stdipc/ipc"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

const defaultWorker = "ipcworker"

func newApp(stdout io.Writer) *cli.App {
	return &cli.App{
		Name:      "ipccall",
		Usage:     "call one operation on a worker and print the result",
		ArgsUsage: "OPERATION [JSON_ARG]",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker",
				Usage:   "Path of the worker to launch. Defaults to the first ipcworker found walking up from the working directory.",
				EnvVars: []string{"IPCCALL_WORKER"},
			},
			&cli.StringSliceFlag{
				Name:  "worker-arg",
				Usage: "Extra argument passed to the worker before the host PID.",
			},
			&cli.StringFlag{
				Name:    "bridge",
				Usage:   "Call a worker bridge at this URL instead of launching a worker.",
				EnvVars: []string{"IPCCALL_BRIDGE"},
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Give up on the call after this long.",
				Value: 30 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Log debug output to stderr.",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return cli.Exit("expected OPERATION and an optional JSON_ARG", 2)
			}
			op := c.Args().Get(0)
			arg, err := parseArg(c.Args().Get(1))
			if err != nil {
				return cli.Exit(err.Error(), 2)
			}

			logger := zap.NewNop()
			if c.Bool("verbose") {
				if logger, err = zap.NewDevelopment(); err != nil {
					return fmt.Errorf("building logger: %w", err)
				}
			}
			defer logger.Sync()

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			h, err := connect(ctx, c, logger)
			if err != nil {
				return err
			}
			defer h.Close()

			out, err := h.Call(ctx, op, arg)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			b, err := json.MarshalIndent(out, "", "  ")
			if err != nil {
				return fmt.Errorf("encoding result: %w", err)
			}
			fmt.Fprintln(stdout, string(b))
			return nil
		},
	}
}

// parseArg decodes the optional JSON argument, which must be an object.
func parseArg(s string) (ipc.Object, error) {
	if s == "" {
		return ipc.Object{}, nil
	}
	var arg ipc.Object
	if err := json.Unmarshal([]byte(s), &arg); err != nil {
		return nil, fmt.Errorf("JSON_ARG must be a JSON object: %w", err)
	}
	if arg == nil {
		return nil, fmt.Errorf("JSON_ARG must be a JSON object, got %s", s)
	}
	return arg, nil
}

func connect(ctx context.Context, c *cli.Context, logger *zap.Logger) (*host.Host, error) {
	hostOpts := []host.Option{host.WithLogger(logger), host.WithPassthrough(os.Stderr)}

	if u := c.String("bridge"); u != "" {
		client := bridge.NewClient(u, bridge.WithClientLogger(logger))
		if err := client.WaitForServer(ctx); err != nil {
			return nil, fmt.Errorf("waiting for bridge: %w", err)
		}
		return client.Dial(ctx, hostOpts...)
	}

	path := c.String("worker")
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("getting working directory: %w", err)
		}
		path, err = files.FindUp(defaultWorker, wd)
		if err != nil {
			return nil, fmt.Errorf("finding worker: %w", err)
		}
	}
	hostOpts = append(hostOpts, host.WithArgs(c.StringSlice("worker-arg")...))
	// the worker must outlive the call's deadline long enough to be stopped cleanly
	return host.Start(context.WithoutCancel(ctx), path, hostOpts...)
}

func main() {
	if err := newApp(os.Stdout).Run(os.Args); err != nil {
		log.Fatal(err)
	}
}
