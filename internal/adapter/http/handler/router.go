package handler

import (
	"meterpay/internal/adapter/http/middleware"
	redisStore "meterpay/internal/adapter/storage/redis"
	"meterpay/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	Engine         ports.TransactionEngine
	WalletSvc      ports.WalletService
	MeterSvc       ports.MeterService
	DebtSvc        ports.DebtService
	ReportingSvc   ports.ReportingService
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Audit logging (after response)
	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	// Health check (deep: verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Swagger documentation
	swagger := r.Group("/swagger")
	{
		swagger.GET("", SwaggerUI)
		swagger.GET("/spec", SwaggerSpec)
	}

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	txHandler := NewTransactionHandler(deps.Engine, deps.ReportingSvc)
	walletHandler := NewWalletHandler(deps.WalletSvc)
	meterHandler := NewMeterHandler(deps.MeterSvc)
	debtHandler := NewDebtHandler(deps.DebtSvc)
	dashboardHandler := NewDashboardHandler(deps.ReportingSvc)

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("", rl("transactions"), txHandler.Submit)
		transactions.GET("", rl("dashboard"), dashboardHandler.ListTransactions)
		transactions.GET("/:id", rl("dashboard"), txHandler.Get)
	}

	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.GET("/balance", rl("dashboard"), walletHandler.GetBalance)
		wallets.POST("/topup", rl("wallets_topup"), walletHandler.Topup)
	}

	meters := v1.Group("/meters", jwtAuth)
	{
		meters.POST("", rl("meters"), meterHandler.Register)
		meters.GET("", rl("dashboard"), meterHandler.List)
		meters.DELETE("/:id", rl("meters"), meterHandler.Deactivate)
	}

	debts := v1.Group("/debts", jwtAuth)
	{
		debts.POST("", rl("debts"), debtHandler.Record)
		debts.GET("", rl("dashboard"), debtHandler.List)
		debts.GET("/:id", rl("dashboard"), debtHandler.Get)
	}

	dashboard := v1.Group("/dashboard", jwtAuth)
	{
		dashboard.GET("/stats", rl("dashboard"), dashboardHandler.GetStats)
	}

	return r
}
