package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"merchant-verification/internal/config"
	"merchant-verification/internal/factory"
	"merchant-verification/internal/observability/metrics"
	"merchant-verification/internal/util"
)

func main() {
	cfg := config.LoadConfig()
	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)
	defer util.Sync()

	if err := cfg.Validate(); err != nil {
		util.Fatal("Invalid configuration", util.ErrorField(err))
	}

	metrics.MustRegister(cfg.ServiceName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	f, err := factory.NewFactory(ctx, cfg)
	if err != nil {
		util.Fatal("Failed to initialize factory", util.ErrorField(err))
	}
	defer f.Close()

	router, err := f.Router()
	if err != nil {
		util.Fatal("Failed to build router", util.ErrorField(err))
	}

	server := &http.Server{
		Addr:         cfg.GetServerAddress(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	servers := []*http.Server{server}
	if cfg.Server.EnableTLS {
		server.Addr = fmt.Sprintf(":%d", cfg.Server.TLSPort)
		server.TLSConfig = f.TLSManager().GetTLSConfig()

		if acme := f.TLSManager().GetAutocertManager(); acme != nil {
			// Plain HTTP only answers ACME challenges and redirects.
			challenge := &http.Server{
				Addr:              cfg.GetServerAddress(),
				Handler:           acme.HTTPHandler(nil),
				ReadHeaderTimeout: 10 * time.Second,
			}
			servers = append(servers, challenge)
			go serve(challenge, false)
		}
	} else {
		util.Warn("Starting HTTP server - TLS is disabled",
			util.String("environment", cfg.Environment),
			util.Int("port", cfg.Server.Port))
	}

	go serve(server, cfg.Server.EnableTLS)

	util.Info("Server started successfully",
		util.String("environment", cfg.Environment),
		util.String("store_backend", cfg.StoreBackend),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.String("address", server.Addr))

	<-ctx.Done()
	util.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			util.Error("Failed to shutdown server gracefully", util.String("address", srv.Addr), util.ErrorField(err))
		}
	}
	util.Info("Server shutdown completed")
}

func serve(server *http.Server, useTLS bool) {
	var err error
	if useTLS {
		// Certificates come from TLSConfig.GetCertificate.
		err = server.ListenAndServeTLS("", "")
	} else {
		err = server.ListenAndServe()
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		util.Fatal("Server stopped unexpectedly", util.String("address", server.Addr), util.ErrorField(err))
	}
}
