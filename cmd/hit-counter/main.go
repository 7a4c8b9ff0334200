package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/pnvasko/hit-counter/common"
	"github.com/pnvasko/hit-counter/host"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
)

func main() {
	app := &cli.App{
		Name:  "hit-counter",
		Usage: "counts hits per path and relays events to a downstream function",
		Commands: []*cli.Command{
			lambdaCommand,
			serveCommand,
			invokeCommand,
		},
		Action: lambdaCommand.Action,
	}

	if err := app.Run(os.Args); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

var lambdaCommand = &cli.Command{
	Name:  "lambda",
	Usage: "run inside the AWS Lambda runtime",
	Action: func(c *cli.Context) error {
		ctx := c.Context
		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		rt.logger.Ctx(ctx).Info("start lambda runtime...")
		host.StartLambda(ctx, rt.handler, rt.telemetry, rt.logger)
		return nil
	},
}

var serveCommand = &cli.Command{
	Name:  "serve",
	Usage: "serve invocations as NATS requests",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "subject",
			Usage:   "subject the handler listens on",
			Value:   "hit_counter.handle",
			EnvVars: []string{"HIT_COUNTER_SUBJECT"},
		},
		&cli.StringFlag{
			Name:    "queue",
			Usage:   "queue group shared by handler replicas",
			Value:   "hit-counter",
			EnvVars: []string{"HIT_COUNTER_QUEUE"},
		},
		&cli.IntFlag{
			Name:    "pool-size",
			Usage:   "number of worker pools",
			Value:   host.DefaultPoolSize,
			EnvVars: []string{"HIT_COUNTER_POOL_SIZE"},
		},
		&cli.IntFlag{
			Name:    "pool-size-per-pool",
			Usage:   "workers per pool",
			Value:   host.DefaultPoolSizePerPool,
			EnvVars: []string{"HIT_COUNTER_POOL_SIZE_PER_POOL"},
		},
	},
	Action: func(c *cli.Context) error {
		ctx, cancel := context.WithCancel(c.Context)
		defer cancel()

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		if err := rt.connectNats(); err != nil {
			return err
		}

		responder, err := host.NewNatsResponder(ctx, rt.nc, c.String("subject"), rt.handler, rt.tracer, rt.logger,
			host.WithQueueGroup(c.String("queue")),
			host.WithPoolSize(c.Int("pool-size")),
			host.WithPoolSizePerPool(c.Int("pool-size-per-pool")),
		)
		if err != nil {
			return err
		}

		runGroup, err := common.NewRunGroup(common.WithStopTimeout(shutdownTimeout))
		if err != nil {
			return err
		}

		err = runGroup.Add("NatsResponder", func() error {
			rt.logger.Ctx(ctx).Sugar().Debugf("started %s.", responder.Name())
			return responder.Run()
		}, func(err error) {
			rt.logger.Ctx(ctx).Sugar().Debugf("responder.interrupt")
			if err != nil {
				rt.logger.Ctx(ctx).Error("responder error:", zap.Error(err))
			}
			closeCtx, closeCancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer closeCancel()
			if err := responder.Close(closeCtx); err != nil {
				rt.logger.Ctx(ctx).Error("responder close error", zap.Error(err))
			}
			rt.logger.Ctx(ctx).Info("responder stopped",
				zap.Uint64("handled", responder.Handled()),
				zap.Uint64("failed", responder.Failed()),
			)
		})
		if err != nil {
			return err
		}

		rt.logger.Ctx(ctx).Info("start hit counter nats host...")
		return runGroup.Run(ctx)
	},
}

var invokeCommand = &cli.Command{
	Name:  "invoke",
	Usage: "run one invocation with an event from a file or stdin",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:    "event",
			Aliases: []string{"e"},
			Usage:   "path to the event JSON, - for stdin",
			Value:   "-",
		},
	},
	Action: func(c *cli.Context) error {
		ctx := c.Context
		raw, err := readEvent(c.String("event"), c.App.Reader)
		if err != nil {
			return err
		}

		rt, err := newRuntime(ctx)
		if err != nil {
			return err
		}
		defer rt.close()

		out, err := rt.handler.Handle(ctx, json.RawMessage(raw))
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(c.App.Writer, string(out))
		return err
	},
}

func readEvent(path string, stdin io.Reader) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read event: %w", err)
	}
	return raw, nil
}
