package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ashureev/wschat/internal/cache"
	"github.com/ashureev/wschat/internal/config"
	"github.com/ashureev/wschat/internal/identity"
	"github.com/ashureev/wschat/internal/store"
)

// app holds the local state every command needs.
type app struct {
	storage  store.Storage
	clientID string
	cache    *cache.Store
}

// openApp opens storage, resolves the client id and loads the message cache.
func openApp(ctx context.Context, cfg *config.Config) (*app, error) {
	storage, err := store.Open(cfg.StorageOptions())
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Ping(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("storage health check: %w", err)
	}
	slog.Debug("Storage opened", "backend", cfg.Storage.Backend)

	keys := store.NamespacedKeys(cfg.Namespace)
	clientID, err := identity.Resolve(ctx, storage, keys.ClientID)
	if err != nil {
		_ = storage.Close()
		return nil, err
	}

	c := cache.New(storage, cache.Options{
		Keys:     keys,
		ClientID: clientID,
		MaxSize:  cfg.Cache.MaxSize,
		Logger:   slog.Default(),
	})
	if err := c.Load(ctx); err != nil {
		slog.Warn("Failed to load message cache, starting empty", "error", err)
	}

	return &app{storage: storage, clientID: clientID, cache: c}, nil
}

func (a *app) Close() {
	if err := a.storage.Close(); err != nil {
		slog.Error("Failed to close storage", "error", err)
	}
}
