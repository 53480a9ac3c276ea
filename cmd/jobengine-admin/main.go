// Command jobengine-admin inspects and manipulates jobs from the command line.
package main

import (
	"context"
	"os"

	"github.com/target/jobengine/internal/bootstrap"
)

func main() {
	cfg, err := bootstrap.LoadConfig()
	logger, closeLog := bootstrap.InitLogger(cfg.Log)
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	a := newApp(&cfg, logger, os.Stdout)
	runErr := newRootCmd(a).ExecuteContext(context.Background())
	a.close()
	_ = closeLog()
	if runErr != nil {
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}
