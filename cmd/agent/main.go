package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"time"

	"consentis/internal/auth"
	"consentis/internal/auth/profile"
	"consentis/internal/chain"
	"consentis/internal/consent"
	"consentis/internal/decrypt"
	"consentis/internal/platform/config"
	"consentis/internal/platform/logger"
	"consentis/internal/platform/metrics"
	"consentis/internal/platform/tracer"
	"consentis/internal/policy"
	"consentis/internal/records"
	"consentis/internal/session"
	"consentis/internal/threshold"
	httptransport "consentis/internal/transport/http"
	"consentis/internal/upload"
	"consentis/internal/wallet"
	"consentis/pkg/domain"
)

// main wires high-level dependencies, exposes the HTTP router, and keeps the
// agent lifecycle small. Business logic lives in the internal packages.
func main() {
	cfg := config.FromEnv()
	log := logger.NewWithLevel(cfg.LogLevel)
	m := metrics.New()
	tr := newTracer(cfg.Tracing)

	log.Info("initializing consentis agent",
		"addr", cfg.Addr,
		"backend", cfg.BackendURL,
		"chain", cfg.ChainName,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	w, err := wallet.NewLocal()
	if err != nil {
		log.Error("wallet init failed", "error", err)
		os.Exit(1)
	}
	// The dev wallet is in-process and connects immediately; the connect
	// event stays buffered until the coordinator starts consuming.
	w.Connect()
	addr, _ := w.Address()
	log.Info("wallet ready", "address", addr)

	sessions := session.NewStore(
		session.NewFileStorage(cfg.SessionDir, session.StorageName),
		session.WithLogger(log),
	)
	if err := sessions.Hydrate(ctx); err != nil {
		log.Error("session hydration failed", "error", err)
		os.Exit(1)
	}

	registry, contract := newRegistry(cfg, w, log)

	gate := profile.NewGate(profile.NewHTTPStore(cfg.BackendURL), sessions, profile.WithLogger(log))
	coordinator := auth.NewCoordinator(w, sessions, gate, auth.WithLogger(log))
	go coordinator.Run(ctx)

	manager := threshold.NewManager(
		threshold.NewHTTPConnector(cfg.ThresholdURL),
		threshold.WithLogger(log),
		threshold.WithMetrics(m),
	)

	recordsClient := records.NewClient(cfg.BackendURL)
	gateway := records.NewGateway(cfg.GatewayURL)
	consents := consent.NewClient(registry,
		consent.WithLogger(log),
		consent.WithMetrics(m),
		consent.WithTracer(tr),
	)

	uploads := upload.NewPipeline(w,
		policy.NewBuilder(contract, cfg.ChainName),
		manager, recordsClient, consents,
		upload.WithLogger(log),
		upload.WithMetrics(m),
		upload.WithTracer(tr),
	)
	decrypts := decrypt.NewPipeline(w, gateway, manager,
		decrypt.WithLogger(log),
		decrypt.WithMetrics(m),
		decrypt.WithTracer(tr),
		decrypt.WithProofTTL(cfg.ProofTTL),
	)

	handler := httptransport.NewHandler(coordinator, gate, sessions, uploads, decrypts, consents, recordsClient, log)
	router := httptransport.NewRouter(handler, log, m)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Info("starting agent api", "addr", cfg.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down agent gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	_ = manager.Disconnect(shutdownCtx)

	log.Info("agent stopped")
}

// newTracer selects the span backend. "otel" uses the global OpenTelemetry
// provider; anything else traces to nowhere.
func newTracer(mode string) tracer.Tracer {
	if mode == "otel" {
		return tracer.NewOTel()
	}
	return tracer.NewNoop()
}

// newRegistry selects the chain binding. Without a contract address the
// agent runs against an in-memory registry, which is only useful for local
// development.
func newRegistry(cfg config.Agent, w wallet.Wallet, log *slog.Logger) (chain.Registry, domain.Address) {
	contract, err := domain.ParseAddress(cfg.ContractAddress)
	if err != nil {
		log.Warn("no valid contract address configured, using in-memory registry", "error", err)
		contract = domain.Address("")
		addr, _ := w.Address()
		return chain.NewMemoryRegistry(addr), contract
	}
	return chain.NewRPCClient(cfg.ChainRPCURL, contract, w,
		chain.WithPollInterval(cfg.ConfirmInterval)), contract
}
