// Package app wires configuration, storage, domain services, gateways, and
// the HTTP server into a running process.
package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/freshmart-checkout/internal/domain/credit"
	"github.com/xenking/freshmart-checkout/internal/domain/order"
	"github.com/xenking/freshmart-checkout/internal/domain/payment"
	"github.com/xenking/freshmart-checkout/internal/domain/refund"
	"github.com/xenking/freshmart-checkout/internal/gateway"
	"github.com/xenking/freshmart-checkout/internal/handler"
	"github.com/xenking/freshmart-checkout/internal/storage/postgres"
	"github.com/xenking/freshmart-checkout/pkg/health"
	"github.com/xenking/freshmart-checkout/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the application.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.DatabasePing(pool))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Repositories.
	orderRepo := postgres.NewOrderRepository(pool)
	pendingRepo := postgres.NewPendingPaymentRepository(pool)
	creditLedger := postgres.NewCreditLedger(pool)

	// Gateways. Store credit is always available; the external providers are
	// registered only when their credentials are configured.
	registry, err := buildGateways(cfg)
	if err != nil {
		return errors.Wrap(err, "build gateways")
	}

	// Domain services.
	orderService := order.NewService(orderRepo)
	creditService := credit.NewService(creditLedger)
	reconciler := payment.NewReconciler(pendingRepo, orderService, registry, lg.Named("payment"))
	refundService := refund.NewService(orderRepo, creditService, registry, lg.Named("refund"))

	// HTTP routes.
	h := handler.NewHandler(orderService, creditService, reconciler, refundService)
	api := chi.NewRouter()
	api.Route("/api", h.Routes)

	mux := http.NewServeMux()
	mux.HandleFunc("/livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("/readyz", healthSvc.ReadyEndpoint)
	mux.Handle("/api/", otelhttp.NewHandler(api, "freshmart-api",
		otelhttp.WithTracerProvider(m.TracerProvider()),
		otelhttp.WithMeterProvider(m.MeterProvider()),
	))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "X-User-ID"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.RateLimitWithCleanup(ctx, httpmiddleware.RateLimitConfig{
				Max:    cfg.RateLimit.Max,
				Window: cfg.RateLimit.Window,
			}),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.LogRequests(),
		),
	}

	// Graceful shutdown: wait for context cancellation, drain, then stop.
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			lg.Error("Server shutdown error", zap.Error(err))
		}
		healthSvc.Stop()
		close(shutdownDone)
	}()

	lg.Info("Server listening", zap.String("addr", cfg.Addr))
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "server")
	}
	<-shutdownDone
	return nil
}

func buildGateways(cfg *Config) (*gateway.Registry, error) {
	gateways := []gateway.Gateway{gateway.StoreCredit{}}

	if cfg.Hosted.SecretKey != "" {
		hosted, err := gateway.NewHosted(gateway.HostedConfig{
			BaseURL:    cfg.Hosted.BaseURL,
			SecretKey:  cfg.Hosted.SecretKey,
			SuccessURL: cfg.Hosted.SuccessURL,
			CancelURL:  cfg.Hosted.CancelURL,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, hosted)
	}

	if cfg.NetsQR.APIKey != "" {
		nets, err := gateway.NewNetsQR(gateway.NetsQRConfig{
			BaseURL:   cfg.NetsQR.BaseURL,
			APIKey:    cfg.NetsQR.APIKey,
			ProjectID: cfg.NetsQR.ProjectID,
			TxnID:     cfg.NetsQR.TxnID,
		})
		if err != nil {
			return nil, err
		}
		gateways = append(gateways, nets)
	}

	return gateway.NewRegistry(gateways...), nil
}
