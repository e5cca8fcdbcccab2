// Package main provides the safetyd daemon: it samples the
// observatory's environmental stations, evaluates per-project safety
// and serves the verdicts over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/obswx/safetyd/internal/app"
	"github.com/obswx/safetyd/internal/log"
	"github.com/obswx/safetyd/pkg/config"
)

var version = "dev"

func main() {
	cfgFile := flag.String("config", "safety.toml", "Path to the configuration file")
	debug := flag.Bool("debug", false, "Turn on debugging output")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("safetyd %s (%s/%s)\n", version, runtime.GOOS, runtime.GOARCH)
		os.Exit(0)
	}

	cfg, err := config.Load(*cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	if err := log.Init(*debug || cfg.Logging.Debug, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	application, err := app.New(cfg)
	if err != nil {
		log.Errorf("startup failed: %v", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		log.Errorf("application error: %v", err)
		os.Exit(1)
	}
}
