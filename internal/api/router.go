package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/qs3c/premium_server/config"
	"github.com/qs3c/premium_server/internal/api/handler"
	"github.com/qs3c/premium_server/internal/api/middleware"
	"github.com/qs3c/premium_server/internal/model"
)

type Router struct {
	premiumHandler     *handler.PremiumHandler
	transactionHandler *handler.TransactionHandler
	adminHandler       *handler.AdminHandler
	websocketHandler   *handler.WebSocketHandler
	registry           *prometheus.Registry
	cfg                *config.Config
}

func NewRouter(
	premiumHandler *handler.PremiumHandler,
	transactionHandler *handler.TransactionHandler,
	adminHandler *handler.AdminHandler,
	websocketHandler *handler.WebSocketHandler,
	registry *prometheus.Registry,
	cfg *config.Config,
) *Router {
	return &Router{
		premiumHandler:     premiumHandler,
		transactionHandler: transactionHandler,
		adminHandler:       adminHandler,
		websocketHandler:   websocketHandler,
		registry:           registry,
		cfg:                cfg,
	}
}

func (r *Router) Setup() *gin.Engine {
	if r.cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(middleware.CORS(r.cfg.CORS))

	if r.registry != nil {
		engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))
	}

	auth := middleware.Auth(r.cfg.JWT.Secret, r.cfg.Premium.IsAdmin)
	proofLimit := middleware.RateLimit(middleware.NewActorLimiter(
		r.cfg.RateLimit.ProofPerMinute, r.cfg.RateLimit.ProofBurst))

	api := engine.Group("/api/v1")
	{
		// WebSocket
		api.GET("/ws", r.websocketHandler.Handle)

		// 公开接口 - 套餐
		api.GET("/premium/plans", r.premiumHandler.Plans)

		premium := api.Group("/premium")
		premium.Use(auth)
		{
			premium.GET("/status", r.premiumHandler.Status)

			guilds := premium.Group("/guilds/:guild_id")
			{
				guilds.POST("/activate", r.premiumHandler.Activate)
				guilds.POST("/deactivate", r.premiumHandler.Deactivate)
				guilds.POST("/transfer", r.premiumHandler.Transfer)
				guilds.GET("/backup", r.premiumHandler.Backup)
			}

			txns := premium.Group("/transactions")
			{
				txns.POST("", r.transactionHandler.Create)
				txns.GET("", r.transactionHandler.ListMine)
				txns.GET("/:txn_id", r.transactionHandler.Get)
				txns.POST("/:txn_id/proof", proofLimit, r.transactionHandler.SubmitProof)
				txns.POST("/:txn_id/proof/upload", proofLimit, r.transactionHandler.UploadProof)
			}
		}

		admin := api.Group("/admin/premium")
		admin.Use(auth, middleware.RequireAdmin())
		{
			for path, kind := range map[string]model.SubjectKind{
				"/users/:id":  model.SubjectUser,
				"/guilds/:id": model.SubjectGuild,
			} {
				admin.GET(path, r.adminHandler.Get(kind))
				admin.POST(path+"/grant", r.adminHandler.Grant(kind))
				admin.POST(path+"/revoke", r.adminHandler.Revoke(kind))
			}

			admin.GET("/transactions", r.adminHandler.ListTransactions)
			admin.POST("/transactions/:txn_id/verify", r.adminHandler.Verify)
			admin.POST("/transactions/:txn_id/deny", r.adminHandler.Deny)
			admin.POST("/sweep", r.adminHandler.Sweep)
		}
	}

	return engine
}
