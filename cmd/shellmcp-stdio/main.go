package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/pflag"

	"github.com/sameehj/shellmcp/internal/app"
	"github.com/sameehj/shellmcp/pkg/config"
	"github.com/sameehj/shellmcp/pkg/env"
	"github.com/sameehj/shellmcp/pkg/runtime/logging"
)

var (
	cfgFile string
	workDir string
	timeout string
)

func main() {
	pflag.StringVar(&cfgFile, "config", "", "config file (default: ~/.shellmcp/config.yaml)")
	pflag.StringVar(&workDir, "workdir", "", "default working directory for commands")
	pflag.StringVar(&timeout, "timeout", "", "per-command timeout, e.g. 30s")
	pflag.Parse()

	if wd, err := os.Getwd(); err == nil {
		if _, err := env.LoadFromDir(wd); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	cfg, err := config.LoadConfig(config.ResolvePath(cfgFile))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if workDir != "" {
		cfg.Exec.WorkingDirectory = workDir
	}
	if timeout != "" {
		cfg.Exec.Timeout = timeout
	}

	a, err := app.New(cfg, logging.New(cfg.LogLevel, cfg.LogFormat))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := app.SignalContext(context.Background(), a.Logger)
	defer cancel()
	if err := a.ServeStdio(ctx); err != nil {
		a.Logger.Error("server_failed", "error", err)
		os.Exit(1)
	}
}
