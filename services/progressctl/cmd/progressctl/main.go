package main

import (
	"context"
	"os"

	"go.uber.org/zap"

	"github.com/example/course-platform/internal/platform/config"
	"github.com/example/course-platform/internal/platform/logging"
	"github.com/example/course-platform/internal/platform/run"
	"github.com/example/course-platform/services/progressctl/internal/commands"
)

func main() {
	log, err := logging.New(config.String("LOG_LEVEL", "warn"))
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	runner := commands.NewRunner(commands.RunnerOpts{Logger: log, Output: os.Stdout})
	if err := runner.App().Run(context.Background(), os.Args); err != nil {
		log.Error("progressctl failed", zap.Error(err))
		_ = log.Sync()
		run.Exit(1)
	}
}
