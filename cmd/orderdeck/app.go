package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/rs/cors"
	"golang.org/x/sync/errgroup"

	"github.com/orderdeck/orderdeck/cmd/orderdeck/internal/config"
	"github.com/orderdeck/orderdeck/feed"
	"github.com/orderdeck/orderdeck/gateway"
	"github.com/orderdeck/orderdeck/internal/api"
	"github.com/orderdeck/orderdeck/internal/origin"
	"github.com/orderdeck/orderdeck/reconcile"
	"github.com/orderdeck/orderdeck/store"
)

// App wires the daemon together: feed in, reconciliation in the middle,
// store and HTTP surface out.
type App struct {
	Config config.AppConfig
	Logger *slog.Logger

	Store      *store.Store
	Journal    *store.SQLiteJournal
	Stream     *api.StreamController
	Gateway    *gateway.Client
	Reconciler *reconcile.Client
	Heartbeats *reconcile.HeartbeatRegistry
	Feed       *feed.Feed
	Server     *http.Server
}

// NewApp builds every component but starts nothing.
func NewApp(cfg config.AppConfig, logger *slog.Logger) (*App, error) {
	tokens := func() string { return cfg.APIToken }

	streamController := api.NewStreamController(api.WithStreamLogger(logger))

	storeOpts := []store.StoreOption{
		store.WithPublisher(streamController),
		store.WithLogger(logger),
	}

	var journal *store.SQLiteJournal
	if cfg.StoragePath != "" {
		var err error
		journal, err = store.OpenJournal(cfg.StoragePath, logger.WithGroup("journal"))
		if err != nil {
			return nil, fmt.Errorf("journal init failed: %w", err)
		}
		storeOpts = append(storeOpts, store.WithJournal(journal))
	}

	orderStore := store.New(storeOpts...)

	if journal != nil {
		if err := restoreFromJournal(orderStore, journal, logger); err != nil {
			journal.Close()
			return nil, err
		}
	}

	gatewayClient := gateway.NewClient(cfg.GatewayURL,
		gateway.WithTokenProvider(tokens),
		gateway.WithLogger(logger.WithGroup("gateway")),
	)

	heartbeats := reconcile.NewHeartbeatRegistry()
	reconciler := reconcile.NewClient(orderStore, gatewayClient,
		reconcile.WithTokenProvider(tokens),
		reconcile.WithRefreshDebounce(cfg.RefreshDebounce),
		reconcile.WithPollInterval(cfg.PollInterval),
		reconcile.WithHeartbeats(heartbeats),
		reconcile.WithLogger(logger.WithGroup("reconcile")),
		reconcile.WithAuthFailureHandler(func(err error) {
			logger.Warn("gateway rejected the session token, pausing until it changes",
				slog.String("error", err.Error()))
		}),
	)

	eventFeed := feed.New(cfg.FeedURL,
		feed.WithTokenProvider(tokens),
		feed.WithLogger(logger.WithGroup("feed")),
	)

	handler := api.NewHandler(orderStore, streamController,
		api.WithGateway(gatewayClient),
		api.WithStatusSource(reconciler),
		api.WithHeartbeats(heartbeats),
		api.WithLogger(logger.WithGroup("api")),
	)

	allowedOrigins := origin.BuildAllowedOrigins(cfg.HTTPListen, cfg.PublicOrigin)
	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders: []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("/api/", corsMiddleware.Handler(handler.Routes()))

	return &App{
		Config:     cfg,
		Logger:     logger,
		Store:      orderStore,
		Journal:    journal,
		Stream:     streamController,
		Gateway:    gatewayClient,
		Reconciler: reconciler,
		Heartbeats: heartbeats,
		Feed:       eventFeed,
		Server:     &http.Server{Addr: cfg.HTTPListen, Handler: mux},
	}, nil
}

// restoreFromJournal seeds the store from the last journaled snapshot plus
// any deltas recorded after it.
func restoreFromJournal(orderStore *store.Store, journal *store.SQLiteJournal, logger *slog.Logger) error {
	ctx := context.Background()

	orders, receivedAt, ok, err := journal.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("journal restore failed: %w", err)
	}
	if ok {
		orderStore.Restore(orders, receivedAt)
	}

	deltas, err := journal.DeltasSince(ctx)
	if err != nil {
		return fmt.Errorf("journal replay failed: %w", err)
	}
	orderStore.RestoreDeltas(deltas)

	if ok || len(deltas) > 0 {
		logger.Info("restored order state from journal",
			slog.Int("orders", orderStore.Len()),
			slog.Int("deltas", len(deltas)),
			slog.String("receivedAt", receivedAt))
	}
	return nil
}

// Run starts everything and blocks until ctx is cancelled or a component
// fails.
func (a *App) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Server.Addr, err)
	}
	a.Logger.Info("HTTP API listening",
		slog.String("addr", listener.Addr().String()),
		slog.String("public_origin", a.Config.PublicOrigin))

	a.Reconciler.Start(ctx)
	defer a.Reconciler.Stop()

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		if err := a.Server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.Server.Shutdown(shutdownCtx)
	})

	group.Go(func() error {
		err := a.Feed.Run(groupCtx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	group.Go(func() error {
		consumeEnvelopes(groupCtx, a.Feed.Events(), a.Reconciler)
		return nil
	})

	err = group.Wait()

	if a.Journal != nil {
		if closeErr := a.Journal.Close(); closeErr != nil {
			a.Logger.Warn("could not close journal", slog.String("error", closeErr.Error()))
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
