package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/soocke/ccd-inspect-go/app"
	"github.com/soocke/ccd-inspect-go/config"
)

func main() {
	var (
		cfgPath = flag.String("config", "config.yaml", "path to the YAML configuration file")
		debug   = flag.Bool("debug", false, "enable debug logging and runtime stats")
	)
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		logger := NewLogger(ParseLevel(cfg.LogLevel))
		logger.Error("configuration not loaded", "path", *cfgPath, "error", err)
		os.Exit(1)
	}
	if *debug {
		cfg.Debug = true
		cfg.LogLevel = "debug"
	}
	logger := NewLogger(ParseLevel(cfg.LogLevel))

	c, err := app.BuildContainer(cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("inspection service starting",
		"config", *cfgPath,
		"ccd1", cfg.CCD1.Type,
		"ccd2", cfg.CCD2.Type,
		"template", cfg.CurrentTemplate)
	if err := app.NewApp(c).Run(ctx); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
}
