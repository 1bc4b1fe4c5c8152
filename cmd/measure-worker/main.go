// Command measure-worker is the subprocess side of the out-of-process
// engine. It speaks the JSON-line protocol on stdin/stdout and executes the
// task trees it receives; structured log records travel back to the parent
// over the same channel.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/veltis/measure/model/task"
	"github.com/veltis/measure/service/engine"
	"github.com/veltis/measure/service/ipc"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// stdout belongs to the protocol; local diagnostics go to stderr
	encoder := zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	logger := zap.New(zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), zapcore.InfoLevel))
	defer func() { _ = logger.Sync() }()

	channel := ipc.NewPipeChannel(os.Stdin, os.Stdout, nil)
	defer func() { _ = channel.Close() }()

	worker := &engine.Worker{
		Channel:  channel,
		Registry: task.NewRegistry(),
		Logger:   logger,
	}
	if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker loop failed", zap.Error(err))
		os.Exit(1)
	}
}
