// Package main provides the scheduled sync entry point for creatorsync.
// Inside AWS Lambda it handles scheduled events; elsewhere it is a local CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/peteski22/creatorsync/internal/app"
	"github.com/peteski22/creatorsync/internal/config"
)

const usage = `Usage: creatorsync <command> [flags]

Commands:
  init                       Create a sample config file
  auth --creator ID          Authorize a creator with the platform
  run  --creator ID [flags]  Sync one creator now

Run 'creatorsync <command> -h' for command flags.
`

// lambdaEnvVar is set by the Lambda runtime in every function environment.
const lambdaEnvVar = "AWS_LAMBDA_FUNCTION_NAME"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if os.Getenv(lambdaEnvVar) != "" {
		startLambda(logger)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runCLI(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// runCLI dispatches a local command.
func runCLI(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		_, _ = fmt.Fprint(out, usage)
		return errors.New("no command given")
	}

	switch args[0] {
	case "init":
		return runInit(out)
	case "auth":
		return runAuth(ctx, args[1:], out)
	case "run":
		return runSync(ctx, args[1:], out)
	case "help", "-h", "--help":
		_, _ = fmt.Fprint(out, usage)
		return nil
	default:
		_, _ = fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", args[0])
	}
}

// startLambda builds the application from the environment and serves scheduled events.
func startLambda(logger *slog.Logger) {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("loading config", "error", err)
		os.Exit(1)
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("building application", "error", err)
		os.Exit(1)
	}

	lambda.StartWithOptions(
		newScheduledHandler(a.Runner, a.Datastore, logger).Handle,
		lambda.WithEnableSIGTERM(func() {
			_ = a.Runner.Shutdown(context.Background())
			_ = a.Close()
		}),
	)
}
