package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/antoniostano/wagate/internal/config"
	"github.com/antoniostano/wagate/internal/dispatch"
	"github.com/antoniostano/wagate/internal/event"
	"github.com/antoniostano/wagate/internal/httpapi"
	"github.com/antoniostano/wagate/internal/observability"
	"github.com/antoniostano/wagate/internal/registry"
	"github.com/antoniostano/wagate/internal/store"
	"github.com/antoniostano/wagate/internal/waclient"
	"github.com/antoniostano/wagate/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	ctx := context.Background()
	sessionStore, err := store.NewStore(ctx, cfg.SessionsDir, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("session store init failed: %v", err)
	}
	defer sessionStore.Close()

	factory, mode, err := waclient.NewFactory(waclient.FactoryConfig{
		Mode:        cfg.ClientMode,
		BridgeURL:   cfg.BridgeURL,
		BridgeToken: cfg.BridgeToken,
	})
	if err != nil {
		log.Fatalf("client factory init failed: %v", err)
	}
	log.Printf("client mode: %s", mode)

	filter := event.NewFilter(cfg.DisabledCallbacks)
	if len(cfg.DisabledCallbacks) > 0 {
		log.Printf("suppressed callbacks: %v", cfg.DisabledCallbacks)
	}

	hubs := ws.NewManager(ws.Options{
		PingInterval: cfg.WSPingInterval,
		PongWait:     cfg.WSPongWait,
	}, metrics)

	webhooks := dispatch.NewWebhookDispatcher(cfg.WebhookSecret, cfg.WebhookTimeout, metrics)

	reg := registry.New(registry.Options{
		DefaultWebhookURL: cfg.DefaultWebhookURL,
		ReadyTimeout:      cfg.ReadyTimeout,
		ReadyPollInterval: cfg.ReadyPollInterval,
		AutoMarkSeen:      cfg.AutoMarkSeen,
	}, factory, sessionStore, hubs, webhooks, filter, metrics)

	runCtx, runCancel := context.WithCancel(ctx)
	defer runCancel()

	if cfg.RestoreOnStart {
		if _, err := reg.RestoreAll(runCtx); err != nil {
			// Partial restore failures are already logged per identity;
			// startup continues with whatever came back.
			log.Printf("restore finished with errors: %v", err)
		}
	}

	reg.StartSweeper(runCtx, cfg.SweepInterval)

	api := httpapi.New(cfg, reg, hubs, metrics)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}
	hubs.CloseAll()

	log.Printf("shutdown complete")
}
