package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-live-preview/internal/config"
	"go-live-preview/internal/host"
	"go-live-preview/internal/logging"

	"github.com/neovim/go-client/nvim/plugin"
	"github.com/tliron/commonlog"
)

// Neovim starts this binary as a remote plugin host. Configuration comes
// from the environment and an optional TOML file; stdout carries RPC.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "go-live-preview: %v\n", err)
		os.Exit(2)
	}

	if err := logging.Configure(cfg.Logging.Verbosity, cfg.Logging.FilePath); err != nil {
		fmt.Fprintf(os.Stderr, "go-live-preview: %v\n", err)
		os.Exit(2)
	}
	logging.RedirectStandardLog("go-live-preview.rpc")
	log := commonlog.GetLogger("go-live-preview")
	if cfg.File != "" {
		log.Infof("loaded config from %s", cfg.File)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	plugin.Main(func(p *plugin.Plugin) error {
		log.Noticef("registering handlers")
		return host.Register(ctx, p, cfg)
	})
}
