package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ashureev/wschat/internal/cache"
	"github.com/ashureev/wschat/internal/connection"
	"github.com/ashureev/wschat/internal/console"
	"github.com/ashureev/wschat/internal/event"
)

func runChat(cmd *cobra.Command, _ []string) error {
	cfg := loadedCfg
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	renderer := console.NewRenderer(cmd.OutOrStdout(), console.DefaultLogCapacity)
	renderer.SetQuietLogs(quietLogs || cfg.QuietLogs)
	renderer.PrintHistory(a.cache.Messages())

	mgr := connection.NewManager(connection.Options{
		ServerURL:            cfg.ServerURL,
		ClientID:             a.clientID,
		MaxReconnectAttempts: cfg.Connection.MaxReconnectAttempts,
		ReconnectBaseDelay:   cfg.Connection.ReconnectBaseDelay,
		HeartbeatInterval:    cfg.Connection.HeartbeatInterval,
		HandshakeTimeout:     cfg.Connection.HandshakeTimeout,
		Cache:                a.cache,
		Bus:                  event.NewBus(renderer),
	})

	// The flusher outlives the REPL so it can perform the final flush after
	// the connection is closed.
	flushCtx, stopFlush := context.WithCancel(context.Background())
	flusher := cache.NewFlusher(a.cache, cfg.Cache.FlushInterval, nil)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		flusher.Run(flushCtx)
	}()

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-hup:
				flusher.Hidden()
			case <-flushCtx.Done():
				return
			}
		}
	}()

	mgr.Connect()
	replErr := console.NewREPL(mgr, a.cache, renderer).Run(ctx, cmd.InOrStdin())

	mgr.Close()
	mgr.Wait()
	signal.Stop(hup)
	stopFlush()
	wg.Wait()
	return replErr
}
