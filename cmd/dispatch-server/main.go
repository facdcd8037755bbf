package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/dispatchd/dispatch-backend/internal/auth/cookie"
	authhandler "github.com/dispatchd/dispatch-backend/internal/auth/handler"
	"github.com/dispatchd/dispatch-backend/internal/auth/jwt"
	"github.com/dispatchd/dispatch-backend/internal/auth/middleware"
	authrepo "github.com/dispatchd/dispatch-backend/internal/auth/repository"
	authservice "github.com/dispatchd/dispatch-backend/internal/auth/service"
	companyhandler "github.com/dispatchd/dispatch-backend/internal/company/handler"
	companyrepo "github.com/dispatchd/dispatch-backend/internal/company/repository"
	companyservice "github.com/dispatchd/dispatch-backend/internal/company/service"
	fleethandler "github.com/dispatchd/dispatch-backend/internal/fleet/handler"
	fleetrepo "github.com/dispatchd/dispatch-backend/internal/fleet/repository"
	fleetservice "github.com/dispatchd/dispatch-backend/internal/fleet/service"
	userhandler "github.com/dispatchd/dispatch-backend/internal/user/handler"
	userrepo "github.com/dispatchd/dispatch-backend/internal/user/repository"
	userservice "github.com/dispatchd/dispatch-backend/internal/user/service"
	"github.com/dispatchd/dispatch-backend/pkg/config"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/httputil"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
)

const serviceName = "dispatch-server"

// refreshTokenRetention is how long revoked and expired refresh token rows
// are kept for the reuse-detection audit trail before cleanup removes them.
const refreshTokenRetention = 30 * 24 * time.Hour

func main() {
	// Load configuration
	cfg, err := config.LoadWithValidation()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting dispatch server")

	// Connect to database
	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.Migrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate database")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// The restricted role must exist before the first request transaction
	// tries to SET LOCAL ROLE to it.
	if err := db.EnsureRLSRole(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ensure RLS role")
	}

	// Connect to RabbitMQ
	rmq, err := messaging.New(&cfg.RabbitMQ, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
	}
	defer rmq.Close()

	if err := rmq.DeclareExchange(messaging.Exchange); err != nil {
		log.Fatal().Err(err).Msg("failed to declare exchange")
	}
	if err := rmq.DeclareDeadLetterQueue(serviceName); err != nil {
		log.Fatal().Err(err).Msg("failed to declare dead letter queue")
	}
	publisher := messaging.NewPublisher(rmq, messaging.Exchange, serviceName, log)

	// Repositories
	actors := authrepo.NewActorRepository(db)
	refreshTokens := authrepo.NewRefreshTokenRepository(db)
	companies := companyrepo.NewCompanyRepository(db)
	branches := companyrepo.NewBranchRepository(db)
	roles := companyrepo.NewRoleRepository(db)
	balances := companyrepo.NewBalanceRepository(db)
	webUsers := userrepo.NewWebUserRepository(db)
	mobileUsers := userrepo.NewMobileUserRepository(db)
	invites := userrepo.NewInviteRepository(db)
	drivers := fleetrepo.NewDriverRepository(db)
	vehicles := fleetrepo.NewVehicleRepository(db)
	missions := fleetrepo.NewMissionRepository(db)
	routes := fleetrepo.NewRouteRepository(db)

	// Services
	tokens := jwt.NewManager(&cfg.JWT)
	cookies := cookie.NewWriter(&cfg.Cookie, cfg.Server.IsProduction())
	authSvc := authservice.NewAuthService(db, actors, refreshTokens, tokens, &cfg.JWT, log)
	registerSvc := authservice.NewRegisterService(authSvc, invites, mobileUsers, publisher)
	registrationSvc := companyservice.NewRegistrationService(db, companies, branches, roles, balances, webUsers, publisher, log)
	tenantSvc := companyservice.NewTenantService(db, companies, branches, roles)
	balanceSvc := companyservice.NewBalanceService(db, balances, publisher, log)
	fleetSvc := fleetservice.NewFleetService(drivers, vehicles, missions, balanceSvc, publisher, log)
	plannerSvc := fleetservice.NewPlannerService(routes, missions, vehicles, &cfg.Routing, publisher, log)
	webUserSvc := userservice.NewWebUserService(db, webUsers, roles)
	mobileUserSvc := userservice.NewMobileUserService(mobileUsers, roles)
	inviteSvc := userservice.NewInviteService(invites, drivers)

	if err := registrationSvc.SeedSuperAdmin(ctx, &cfg.Seed); err != nil {
		log.Fatal().Err(err).Msg("failed to seed superadmin")
	}

	// Event consumer. Handlers run inside a tenant transaction rebuilt from
	// the envelope's actor snapshot.
	consumer := messaging.NewConsumer(rmq, db, "dispatch.server", log)
	consumer.RegisterHandler(messaging.EventBalanceExhausted, func(ctx context.Context, event *messaging.Event) error {
		var payload struct {
			CompanyID   string `json:"companyId"`
			BalanceType string `json:"balanceType"`
		}
		if err := event.Decode(&payload); err != nil {
			return err
		}
		log.Warn().
			Str("company_id", payload.CompanyID).
			Str("balance_type", payload.BalanceType).
			Msg("company hit its balance limit")
		return nil
	})
	consumer.RegisterHandler(messaging.EventCompanyRegistered, func(ctx context.Context, event *messaging.Event) error {
		// Lazily create the balance row so the first billable action does
		// not pay the insert.
		var payload struct {
			ID string `json:"id"`
		}
		if err := event.Decode(&payload); err != nil {
			return err
		}
		return balanceSvc.EnsureForCompany(ctx, payload.ID)
	})
	if err := consumer.Subscribe(messaging.Exchange, "balance.#", "company.#"); err != nil {
		log.Fatal().Err(err).Msg("failed to subscribe consumer")
	}
	if err := consumer.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start consumer")
	}

	// Periodic refresh token cleanup
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := refreshTokens.DeleteExpired(ctx, refreshTokenRetention)
				if err != nil {
					log.Error().Err(err).Msg("refresh token cleanup failed")
					continue
				}
				log.Info().Int64("deleted", n).Msg("refresh token cleanup done")
			}
		}
	}()

	// Handlers
	pipeline := middleware.NewPipeline(db, tokens, actors, cookies, log)
	authH := authhandler.NewHandler(authSvc, registerSvc, cookies)
	companyH := companyhandler.NewHandler(registrationSvc, tenantSvc, balanceSvc)
	fleetH := fleethandler.NewHandler(fleetSvc, plannerSvc)
	userH := userhandler.NewHandler(webUserSvc, mobileUserSvc, inviteSvc)

	// Credential endpoints get a tight per-IP limit; everything else is
	// bounded by the pool-checkout timeout.
	credentialRateLimit := httputil.RateLimit(5, 10)

	// Create router
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.JSON(w, http.StatusOK, map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
			"rabbitmq": rmq.Health(),
		})
	})

	// API routes, all behind the auth pipeline. The pipeline passes
	// anonymous requests through untouched; the per-route guards decide who
	// gets in.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(pipeline.Handler)

		authH.Routes(r, credentialRateLimit)
		companyH.Routes(r, credentialRateLimit)
		fleetH.Routes(r)
		userH.Routes(r)
	})

	// Create server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Start server
	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down server")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}
