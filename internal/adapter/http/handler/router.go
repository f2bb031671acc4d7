package handler

import (
	"sentimatrix-automation/internal/adapter/http/middleware"
	"sentimatrix-automation/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	ScheduleSvc    ports.ScheduleService
	WebhookSvc     ports.WebhookService
	TokenSvc       ports.TokenService
	RateLimitStore middleware.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Gatherer       prometheus.Gatherer // nil = no metrics endpoint
	MetricsPath    string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Gatherer != nil {
		path := deps.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.GET(path, Metrics(deps.Gatherer))
	}

	rules := middleware.DefaultRateLimitRules()
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

	v1 := r.Group("/api/v1", middleware.JWTAuth(deps.TokenSvc, deps.Logger))

	sh := NewScheduleHandler(deps.ScheduleSvc)
	schedules := v1.Group("/schedules")
	{
		schedules.GET("", rl("read"), sh.List)
		schedules.POST("", rl("write"), sh.Create)

		project := schedules.Group("/project/:project_id")
		project.GET("", rl("read"), sh.Get)
		project.PUT("", rl("write"), sh.Update)
		project.DELETE("", rl("write"), sh.Delete)
		project.POST("/toggle", rl("write"), sh.Toggle)
		project.POST("/run-now", rl("run_now"), sh.RunNow)
		project.GET("/history", rl("read"), sh.History)
	}

	wh := NewWebhookHandler(deps.WebhookSvc)
	v1.GET("/webhook-events", rl("read"), wh.Events)
	webhooks := v1.Group("/webhooks")
	{
		webhooks.GET("", rl("read"), wh.List)
		webhooks.POST("", rl("write"), wh.Create)
		webhooks.GET("/:id", rl("read"), wh.Get)
		webhooks.PUT("/:id", rl("write"), wh.Update)
		webhooks.DELETE("/:id", rl("write"), wh.Delete)
		webhooks.POST("/:id/toggle", rl("write"), wh.Toggle)
		webhooks.POST("/:id/test", rl("test"), wh.Test)
		webhooks.GET("/:id/deliveries", rl("read"), wh.ListDeliveries)
		webhooks.GET("/:id/deliveries/:delivery_id", rl("read"), wh.GetDelivery)
		webhooks.POST("/:id/deliveries/:delivery_id/retry", rl("write"), wh.RetryDelivery)
	}

	return r
}
