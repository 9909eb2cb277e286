// Copyright 2024-2026 Aiku AI

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/aiku/tavern-bridge/pkg/bridge"
	"github.com/aiku/tavern-bridge/pkg/config"
	"github.com/aiku/tavern-bridge/pkg/source/fchat"
	"github.com/aiku/tavern-bridge/pkg/source/mattermost"
	"github.com/aiku/tavern-bridge/pkg/tavern"
)

const shutdownTimeout = 5 * time.Second

// eventSource produces chat events until its context ends.
type eventSource interface {
	Run(ctx context.Context, handler bridge.EventHandler) error
}

// runtime is the wired bridge.
type runtime struct {
	adapter *bridge.Adapter
	source  eventSource
	store   tavern.Store
}

func newRuntime(cfg *config.Config, log zerolog.Logger) (*runtime, error) {
	owner := &tavern.Owner{}

	var client *tavern.Client
	if cfg.Storage.Mode != config.StorageLocal {
		var err error
		client, err = tavern.NewClient(cfg.Tavern.BaseURL, tavern.Flavor(cfg.Tavern.APIFlavor),
			tavern.WithTimeout(cfg.TavernTimeout()),
			tavern.WithLogger(log))
		if err != nil {
			return nil, fmt.Errorf("create tavern client: %w", err)
		}
	}

	var (
		store       tavern.Store
		provisioner tavern.Provisioner
	)
	switch cfg.Storage.Mode {
	case config.StorageRemote:
		store = tavern.NewRemoteStore(client)
		provisioner = tavern.NopProvisioner{}
	case config.StorageLocal:
		store = tavern.NewLocalStore(cfg.Storage.DataDir, log)
		provisioner = tavern.NewLocalProvisioner(cfg.Storage.DataDir, cfg.Bridge.Creator)
	case config.StorageHybrid:
		store = tavern.NewRemoteStore(client)
		provisioner = tavern.NewLocalProvisioner(cfg.Storage.DataDir, cfg.Bridge.Creator)
	default:
		return nil, fmt.Errorf("unknown storage mode %q", cfg.Storage.Mode)
	}

	adapterOpts := []bridge.Option{
		bridge.WithNameStyle(bridge.NameStyle(cfg.Bridge.NameStyle)),
		bridge.WithBBCode(cfg.Bridge.ConvertBBCode),
	}
	if cfg.Tavern.Login.Enabled && client != nil {
		adapterOpts = append(adapterOpts, bridge.WithLogin(client, cfg.Tavern.Login.Handle, cfg.Tavern.Login.Password))
	}
	adapter := bridge.NewAdapter(
		owner,
		tavern.NewGate(provisioner, owner, log),
		tavern.NewSynchronizer(store, owner, log),
		log,
		adapterOpts...,
	)

	var source eventSource
	switch cfg.Source.Type {
	case config.SourceFChat:
		source = fchat.NewClient(fchat.Config{
			TicketURL:      cfg.FChat.TicketURL,
			ServerURL:      cfg.FChat.ServerURL,
			Account:        cfg.FChat.Account,
			Password:       cfg.FChat.Password,
			Character:      cfg.FChat.Character,
			ClientName:     cfg.FChat.ClientName,
			ClientVersion:  cfg.FChat.ClientVersion,
			ReconnectDelay: cfg.FChatReconnectDelay(),
		}, log)
	case config.SourceMattermost:
		source = mattermost.NewClient(mattermost.Config{
			ServerURL: cfg.Mattermost.ServerURL,
			Token:     cfg.Mattermost.Token,
			BotPrefix: cfg.Mattermost.BotPrefix,
		}, log)
	default:
		return nil, fmt.Errorf("unknown source type %q", cfg.Source.Type)
	}

	return &runtime{adapter: adapter, source: source, store: store}, nil
}

// runBridge runs the event source and the status API until ctx ends or one
// of them fails.
func runBridge(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	rt, err := newRuntime(cfg, log)
	if err != nil {
		return err
	}
	return rt.run(ctx, cfg.Bridge.StatusAddr, log)
}

func (rt *runtime) run(ctx context.Context, statusAddr string, log zerolog.Logger) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return rt.source.Run(ctx, rt.adapter)
	})

	if statusAddr != "" {
		srv := &http.Server{
			Addr:              statusAddr,
			Handler:           bridge.NewStatusMux(rt.adapter),
			ReadHeaderTimeout: 10 * time.Second,
		}
		g.Go(func() error {
			log.Info().Str("addr", statusAddr).Msg("Status API listening")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	return g.Wait()
}
