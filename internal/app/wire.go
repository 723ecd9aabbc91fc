package app

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicflow/platform/internal/auth"
	"github.com/civicflow/platform/internal/guard"
	"github.com/civicflow/platform/internal/handler"
	"github.com/civicflow/platform/internal/infra"
	"github.com/civicflow/platform/internal/ledger"
	"github.com/civicflow/platform/internal/projection"
	"github.com/civicflow/platform/internal/provider"
	"github.com/civicflow/platform/internal/repository"
	"github.com/civicflow/platform/internal/service"
	"github.com/civicflow/platform/internal/workflow"
	"github.com/go-chi/chi/v5"
)

// callbackInflightTTL bounds how long a crashed callback can hold its
// gateway payment id.
const callbackInflightTTL = 30 * time.Second

// Repositories bundles the repositories shared by every service.
type Repositories struct {
	Applications    repository.ApplicationRepository
	Fees            repository.FeeRepository
	Payments        repository.PaymentRepository
	Refunds         repository.RefundRepository
	Audit           repository.AuditRepository
	Outbox          repository.OutboxRepository
	ServiceVersions repository.ServiceVersionRepository
	Properties      repository.PropertyRepository
}

// PostgresRepositories returns the pgx-backed repositories.
func PostgresRepositories() Repositories {
	return Repositories{
		Applications:    repository.NewApplicationRepository(),
		Fees:            repository.NewFeeRepository(),
		Payments:        repository.NewPaymentRepository(),
		Refunds:         repository.NewRefundRepository(),
		Audit:           repository.NewAuditRepository(),
		Outbox:          repository.NewOutboxRepository(),
		ServiceVersions: repository.NewServiceVersionRepository(),
		Properties:      repository.NewPropertyRepository(),
	}
}

// ServiceDeps holds everything NewServices needs.
type ServiceDeps struct {
	DB          repository.TxBeginner
	Repos       Repositories
	Gateways    *provider.Registry
	IDs         *infra.IDGenerator
	Projections projection.Store
	Currency    string
	Logger      *slog.Logger
}

// Services is the assembled service layer, shared by the API and the worker.
type Services struct {
	Applications *service.ApplicationService
	Payments     *service.PaymentService
	Refunds      *service.RefundService
	Registry     *workflow.Registry
	Executor     *workflow.Executor
	Engine       *ledger.Engine
}

// NewServices wires the workflow engine, the ledger and the services on top.
func NewServices(deps ServiceDeps) *Services {
	repos := deps.Repos
	logger := deps.Logger

	projections := deps.Projections
	if projections == nil {
		projections = projection.NewInMemoryStore()
	}

	registry := workflow.NewRegistry(deps.DB, repos.ServiceVersions)
	executor := workflow.NewExecutor(deps.DB, repos.Applications, repos.Audit, repos.Outbox, registry, logger)
	engine := ledger.NewEngine(ledger.Deps{
		Applications: repos.Applications,
		Fees:         repos.Fees,
		Payments:     repos.Payments,
		Refunds:      repos.Refunds,
		Audit:        repos.Audit,
		Outbox:       repos.Outbox,
		Gateways:     deps.Gateways,
		Receipts:     deps.IDs,
		Schedules:    registry,
		Currency:     deps.Currency,
	})

	return &Services{
		Applications: service.NewApplicationService(deps.DB, deps.DB, repos.Applications, repos.Audit,
			repos.Outbox, repos.Properties, registry, executor, deps.IDs, logger),
		Payments: service.NewPaymentService(deps.DB, deps.DB, repos.Payments, engine, executor, projections, logger),
		Refunds:  service.NewRefundService(deps.DB, engine, logger),
		Registry: registry,
		Executor: executor,
		Engine:   engine,
	}
}

// NewGateways builds the configured payment gateway. The stub is kept
// registered next to Razorpay so sandbox orders recorded before a switch
// can still be settled.
func NewGateways(cfg *infra.Config, logger *slog.Logger) (*provider.Registry, error) {
	stub := provider.NewStubGateway(cfg.GatewaySigningSecret(), cfg.SignatureEnforced())

	switch cfg.PaymentGatewayProvider {
	case provider.StubName:
		return provider.NewRegistry(stub), nil
	case provider.RazorpayName:
		rp, err := provider.NewRazorpayGateway(provider.RazorpayConfig{
			BaseURL:    cfg.GatewayBaseURL,
			KeyID:      cfg.GatewayKeyID,
			KeySecret:  cfg.GatewayKeySecret,
			Secret:     cfg.GatewaySigningSecret(),
			Enforced:   cfg.SignatureEnforced(),
			Timeout:    cfg.GatewayTimeout,
			MaxRetries: cfg.GatewayMaxRetries,
			Breaker:    guard.NewCircuitBreaker(cfg.GatewayBreakerThreshold, cfg.GatewayBreakerCooldown),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("razorpay gateway: %w", err)
		}
		if cfg.IsProduction() {
			return provider.NewRegistry(rp), nil
		}
		return provider.NewRegistry(rp, stub), nil
	default:
		return nil, fmt.Errorf("unknown payment gateway provider %q", cfg.PaymentGatewayProvider)
	}
}

// RouterDeps holds all dependencies needed by NewRouter.
type RouterDeps struct {
	Services          *Services
	Gateways          *provider.Registry
	JWTMgr            *auth.JWTManager
	Health            handler.Pinger
	CORSOrigins       []string
	WebhookRateLimit  int
	WebhookRateWindow time.Duration
	Logger            *slog.Logger
}

// NewRouter assembles the chi.Router with all routes and middleware.
func NewRouter(deps RouterDeps) chi.Router {
	svc := deps.Services
	jwtMgr := deps.JWTMgr
	logger := deps.Logger

	// Webhook guards
	limiter := guard.NewRateLimiter(deps.WebhookRateLimit, deps.WebhookRateWindow)
	inflight := guard.NewIdempotencyGuard(callbackInflightTTL)

	// Handlers
	appHandler := handler.NewApplicationHandler(svc.Applications)
	paymentHandler := handler.NewPaymentHandler(svc.Payments, svc.Applications)
	refundHandler := handler.NewRefundHandler(svc.Refunds)
	webhookHandler := handler.NewWebhookHandler(svc.Payments, deps.Gateways, limiter, inflight, logger)

	origins := strings.Join(deps.CORSOrigins, ",")
	if origins == "" {
		origins = "*"
	}

	r := chi.NewRouter()

	// Global middleware (order matters)
	r.Use(handler.Recovery(logger))
	r.Use(handler.RequestID)
	r.Use(handler.RequestLogger(logger))
	r.Use(handler.CORSWithOrigins(origins))
	r.Use(handler.JSONContentType)

	// Health (no auth)
	r.Get("/health", handler.HealthHandler(deps.Health))

	// Gateway callbacks (no auth; signed by the gateway)
	r.Post("/webhooks/payments/{provider}", webhookHandler.HandlePaymentCallback)

	// Citizen and officer routes
	r.Group(func(r chi.Router) {
		r.Use(auth.Authenticate(jwtMgr))

		r.Post("/applications", appHandler.Create)
		r.Get("/applications/{arn}", appHandler.Get)
		r.Patch("/applications/{arn}/data", appHandler.UpdateData)
		r.Post("/applications/{arn}/submit", appHandler.Submit)
		r.Post("/applications/{arn}/query-response", appHandler.RespondToQuery)
		r.Get("/applications/{arn}/audit", appHandler.ListAudit)

		r.Get("/demands/{id}", paymentHandler.GetDemand)
		r.Get("/demands/{id}/summary", paymentHandler.GetDemandSummary)
		r.Post("/demands/{id}/payments", paymentHandler.RecordPayment)

		r.Post("/payments/{id}/verify", paymentHandler.VerifyPayment)
	})

	// Officer routes
	r.Group(func(r chi.Router) {
		r.Use(auth.AuthenticateOfficer(jwtMgr))

		r.With(auth.RequireRole(auth.AllOfficerRoles()...)).
			Post("/applications/{arn}/transitions", appHandler.ExecuteTransition)

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.FeeRoles()...))
			r.Post("/applications/{arn}/fees", paymentHandler.AssessFees)
			r.Post("/applications/{arn}/fees/from-schedule", paymentHandler.AssessFromSchedule)
			r.Post("/applications/{arn}/demands", paymentHandler.CreateDemand)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(auth.RefundRoles()...))
			r.Post("/payments/{id}/refunds", refundHandler.Create)
			r.Post("/refunds/{id}/approve", refundHandler.Approve)
			r.Post("/refunds/{id}/reject", refundHandler.Reject)
			r.Post("/refunds/{id}/process", refundHandler.Process)
		})
	})

	return r
}
