package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/tracyhatemice/mailwatch/internal/config"
	"github.com/tracyhatemice/mailwatch/internal/dedup"
	"github.com/tracyhatemice/mailwatch/internal/feature"
	"github.com/tracyhatemice/mailwatch/internal/filter"
	"github.com/tracyhatemice/mailwatch/internal/forwarder"
	"github.com/tracyhatemice/mailwatch/internal/mailbox"
	"github.com/tracyhatemice/mailwatch/internal/notify"
	"github.com/tracyhatemice/mailwatch/internal/receiver"
	"github.com/tracyhatemice/mailwatch/internal/webhook"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info("mailwatch starting")

	sink, err := notify.NewDiscord(cfg.Discord.Token, cfg.Discord.ChannelID, logger)
	if err != nil {
		logger.Error("failed to create discord sink", "error", err)
		os.Exit(1)
	}
	if err := sink.Init(); err != nil {
		logger.Error("discord login failed", "error", err)
		os.Exit(1)
	}

	monitor := newMonitor(cfg, logger)
	fwd := forwarder.New(monitor, sink, dedup.NewTracker(0), logger)
	orders := webhook.NewServer(cfg.Webhook.Addr(), cfg.Discord.OrderChannelID, sink, logger)

	features := feature.NewManager(logger)
	features.Add(fwd)
	features.Add(orders)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := features.InitAll(ctx); err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}

	qualifier := filter.New(cfg.Filter.Keywords, cfg.Filter.Domains)

	var wg sync.WaitGroup
	for _, acct := range cfg.FilteredAccounts {
		recv := receiver.NewPOP3(
			acct.Host, acct.Port,
			acct.Username, acct.Password,
			acct.UseTLS, logger,
		)
		poller := forwarder.NewFilteredPoller(acct, recv, qualifier, sink, dedup.NewTracker(0), logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			poller.Run(ctx)
		}()
	}

	logger.Info("mailwatch running")
	<-ctx.Done()
	logger.Info("shutting down...")

	// Force exit on second signal.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	wg.Wait()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	features.ShutdownAll(shutdownCtx)

	if err := sink.Close(); err != nil {
		logger.Warn("discord close failed", "error", err)
	}
	logger.Info("mailwatch stopped")
}

func newMonitor(cfg *config.Config, logger *slog.Logger) *mailbox.Monitor {
	base := mailbox.Config{
		Host:      cfg.IMAP.Host,
		Port:      cfg.IMAP.Port,
		Username:  cfg.IMAP.Username,
		Password:  cfg.IMAP.Password,
		UseTLS:    cfg.IMAP.UseTLS,
		Keepalive: cfg.IMAP.KeepaliveInterval(),
	}

	inboxCfg := base
	inboxCfg.Mailbox = cfg.IMAP.GetInbox()
	sentCfg := base
	sentCfg.Mailbox = cfg.IMAP.GetSentMailbox()

	inbox := mailbox.NewInboxWatcher(mailbox.NewConn(inboxCfg, mailbox.DialIMAP, logger), logger)
	sent := mailbox.NewSentWatcher(mailbox.NewConn(sentCfg, mailbox.DialIMAP, logger), logger)
	return mailbox.NewMonitor(inbox, sent, logger)
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
