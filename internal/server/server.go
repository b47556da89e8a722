// Package server exposes the HTTP surface: entitlement queries, admin grant
// management, ledger reads and the provider webhook endpoint.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pairwell/entitlements/internal/catalog"
	"github.com/pairwell/entitlements/internal/config"
	entitlementdomain "github.com/pairwell/entitlements/internal/entitlement/domain"
	grantdomain "github.com/pairwell/entitlements/internal/grant/domain"
	"github.com/pairwell/entitlements/internal/observability"
	obsmiddleware "github.com/pairwell/entitlements/internal/observability/logger"
	obstracing "github.com/pairwell/entitlements/internal/observability/tracing"
	"github.com/pairwell/entitlements/internal/profileflag"
	subscriptiondomain "github.com/pairwell/entitlements/internal/subscription/domain"
	webhookdomain "github.com/pairwell/entitlements/internal/webhook/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(registerRoutes),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug: obsCfg.Debug(),
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config) *gin.Engine {
	return NewEngine(obsCfg)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	catalog         *catalog.Holder
	entitlementSvc  entitlementdomain.Service
	grantSvc        grantdomain.Service
	subscriptionSvc subscriptiondomain.Service
	webhookSvc      webhookdomain.Service
	flags           *profileflag.Recomputer
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Catalog         *catalog.Holder
	EntitlementSvc  entitlementdomain.Service
	GrantSvc        grantdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	WebhookSvc      webhookdomain.Service
	Flags           *profileflag.Recomputer
}

func NewServer(p ServerParams) *Server {
	return &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		catalog:         p.Catalog,
		entitlementSvc:  p.EntitlementSvc,
		grantSvc:        p.GrantSvc,
		subscriptionSvc: p.SubscriptionSvc,
		webhookSvc:      p.WebhookSvc,
		flags:           p.Flags,
	}
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func registerRoutes(s *Server) {
	s.registerAPIRoutes()
}

func (s *Server) registerAPIRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Catalog --------
	v1.GET("/features", s.ListFeatures)
	v1.GET("/plans", s.ListPlans)

	// -------- Entitlements --------
	users := v1.Group("/users/:user_id")
	users.GET("/entitlements", s.GetUserEntitlements)
	users.GET("/entitlements/:feature_key", s.GetUserEntitlement)
	users.GET("/premium", s.GetUserPremiumFlag)

	// -------- Grants --------
	users.GET("/grants", s.ListGrants)
	users.POST("/grants", s.CreateGrant)
	users.DELETE("/grants/:feature_key", s.RevokeGrant)

	// -------- Subscriptions --------
	users.GET("/subscription", s.GetCurrentSubscription)
	v1.GET("/subscriptions", s.ListSubscriptions)

	// -------- Provider Webhooks --------
	v1.POST("/webhooks/:provider", s.HandleProviderWebhook)
}
