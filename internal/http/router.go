// Package httpapi wires the dashboard's HTTP transport (Gin) to the ticket
// engine, middleware and route handlers.
//
// The dashboard holds no ticket state of its own: every request goes through
// services.TicketService against the database it shares with the bot.
//
// @title       Support Desk Dashboard API
// @version     1.0
// @description Operator API over the shared ticket store.
// @BasePath    /api
package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-desk/internal/config"
	"github.com/tbourn/go-support-desk/internal/http/docs"
	"github.com/tbourn/go-support-desk/internal/http/handlers"
	"github.com/tbourn/go-support-desk/internal/http/middleware"
	"github.com/tbourn/go-support-desk/internal/services"
)

// maxBodyBytes caps request bodies; replies are a few KiB at most.
const maxBodyBytes = 1 << 20

var (
	corsMethods = []string{http.MethodGet, http.MethodPost, http.MethodOptions}
	corsHeaders = []string{
		"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match",
		middleware.HeaderOperatorID, middleware.HeaderIdempotencyKey,
	}
	corsExpose = []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
)

// RegisterRoutes attaches the middleware chain and every dashboard endpoint
// to r.
//
// Middleware order matters:
//  1. OpenTelemetry
//  2. RequestID
//  3. AccessLog (installs the request-scoped logger)
//  4. Recovery (after the logger so panics carry the request id)
//  5. Body size limit and gzip
//  6. Metrics
//  7. Operator, then the idempotency validator (replays bypass the limiter)
//  8. Rate limiter, keyed by operator or client IP
//  9. CORS and security headers
func RegisterRoutes(r *gin.Engine, db *gorm.DB, cfg config.Config) {
	r.HandleMethodNotAllowed = true

	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))
	r.Use(middleware.RequestID())
	r.Use(middleware.AccessLog(middleware.RedactOptions{
		MaskHeaders: []string{"X-API-Key"},
	}))
	r.Use(middleware.Recovery())
	r.Use(limitBody(maxBodyBytes))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/metrics"})))

	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	tickets := services.NewTicketService(db)
	tickets.MaxTextRunes = cfg.MaxTextRunes
	h := handlers.New(tickets, db, cfg.IdempotencyTTL)

	r.Use(middleware.Operator())
	r.Use(middleware.IdempotencyValidator(middleware.IdempotencyOptions{MaxLen: 200}, h.IdempotencyLookup()))
	r.Use(middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByOperatorOrIP()).Handler())

	r.Use(corsMiddleware(cfg.CORS.AllowedOrigins)...)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      true,
		EnablePolicy: true,
	}))

	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = cfg.APIBasePath
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := groupWithPrefix(r, cfg.APIBasePath)
	{
		api.GET("/tickets", h.ListTickets)
		api.GET("/tickets/:id", h.GetTicket)
		api.GET("/tickets/:id/messages", h.GetTicketMessages)
		api.POST("/tickets/:id/reply", h.ReplyTicket)
		api.POST("/tickets/:id/close", h.CloseTicket)

		api.GET("/stats", h.GetStats)
		api.GET("/categories", h.ListCategories)
	}
}

// corsMiddleware allows every origin when none are configured, otherwise
// echoes allowlisted origins. ACAO is set even without a preflight so simple
// GETs from the dashboard page work.
func corsMiddleware(origins []string) []gin.HandlerFunc {
	if len(origins) == 0 {
		return []gin.HandlerFunc{
			func(c *gin.Context) {
				c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
				c.Next()
			},
			cors.New(cors.Config{
				AllowAllOrigins: true,
				AllowMethods:    corsMethods,
				AllowHeaders:    corsHeaders,
				ExposeHeaders:   corsExpose,
				MaxAge:          12 * time.Hour,
			}),
		}
	}

	allowed := make(map[string]struct{}, len(origins))
	for _, o := range origins {
		allowed[o] = struct{}{}
	}
	return []gin.HandlerFunc{
		func(c *gin.Context) {
			if origin := c.GetHeader("Origin"); origin != "" {
				if _, ok := allowed[origin]; ok {
					h := c.Writer.Header()
					h.Set("Access-Control-Allow-Origin", origin)
					h.Add("Vary", "Origin")
				}
			}
			c.Next()
		},
		cors.New(cors.Config{
			AllowOrigins:  origins,
			AllowMethods:  corsMethods,
			AllowHeaders:  corsHeaders,
			ExposeHeaders: corsExpose,
			MaxAge:        12 * time.Hour,
		}),
	}
}

// limitBody caps the request body at maxBytes; reads past it fail.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
