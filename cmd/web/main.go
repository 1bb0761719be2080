package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/sessions"
	"github.com/joho/godotenv"

	"terrabia-web/core"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	cfg := core.Load()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger, logCloser, err := core.SetupLogging(cfg, "web.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect redis")
	}
	defer redisClient.Close()

	siteMap, err := core.LoadSiteMap(cfg.SiteMapFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load site map")
	}

	// Gorilla cookie store holding the browser id and CSRF token.
	store := sessions.NewCookieStore([]byte(cfg.SessionKey))

	validator := core.NewValidator()
	gateways := core.NewGatewayFactory(cfg.APIBaseURL, cfg.APITimeout, nil, logger)
	registry := core.NewSessionRegistry(ctx,
		core.NewBrowserSessionFactory(redisClient, gateways, validator, cfg.StorageTTL, logger),
		cfg.SessionIdle, cfg.APITimeout, logger)
	go registry.Run(ctx, time.Minute)

	srv := core.NewServer(cfg, registry, siteMap, validator, logger)
	router, err := core.NewRouter(cfg, store, srv)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build router")
	}

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("backend", cfg.APIBaseURL).Msg("starting web server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
