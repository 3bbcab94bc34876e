package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"media-proxy-go/internal/bot"
	"media-proxy-go/internal/client"
	"media-proxy-go/internal/config"
	"media-proxy-go/internal/logging"
	"media-proxy-go/internal/netguard"
	"media-proxy-go/internal/resolver"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	// .env is optional; values already in the environment win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	var cli config.BotCLI
	kctx := kong.Parse(&cli,
		kong.Name("media-bot"),
		kong.Description("Chat front end that answers share links with direct media URLs."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	cfg, err := config.LoadBot(&cli)
	kctx.FatalIfErrorf(err)

	// Console replies go to stdout, so logs go to stderr.
	logger := logging.New(cfg.Log, os.Stderr)
	cfg.WarnPermissions(logger)

	// Through a proxy the proxy enforces the address policy; it may itself
	// run on loopback, so only direct fetches get the dial guard.
	var guard *netguard.Classifier
	if cfg.Resolver.ProxyBase == "" {
		guard = netguard.NewClassifier(logger)
	}
	fetcher := client.NewUpstreamClient(cfg.ResolverUpstream(), logger, nil, guard)
	responder := bot.NewResponder(resolver.New(cfg, fetcher, logger), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("bot started",
		"version", version,
		"proxy_base", cfg.Resolver.ProxyBase,
		"console", cli.Console,
	)

	if cli.Console {
		if err := bot.RunConsole(ctx, os.Stdin, os.Stdout, responder); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("bot stopped", "err", err)
			os.Exit(1)
		}
		logger.Info("bot stopped")
		return
	}

	tg, err := bot.NewTelegram(cfg.Telegram, responder, logger)
	if err != nil {
		logger.Error("bot stopped", "err", err)
		os.Exit(1)
	}
	tg.Run(ctx)
	logger.Info("bot stopped")
}
