package http

import (
	"log/slog"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRouter creates and configures the Gin router.
func SetupRouter(svc RemapService, logger *slog.Logger) *gin.Engine {
	router := gin.Default()

	// Setup CORS middleware.
	corsConfig := cors.DefaultConfig()

	// Get allowed origins from environment variable.
	// Default to allow all origins if not specified.
	allowedOrigins := os.Getenv("CORS_ALLOWED_ORIGINS")
	if allowedOrigins != "" {
		corsConfig.AllowOrigins = strings.Split(allowedOrigins, ",")
	} else {
		corsConfig.AllowAllOrigins = true
	}

	router.Use(cors.New(corsConfig))

	handler := NewHandler(svc, logger)

	// API v1 routes.
	v1 := router.Group("/v1")
	table := v1.Group("/table")
	table.GET("", handler.GetTable)
	table.GET("/targets/:id", handler.GetTarget)

	runs := v1.Group("/runs")
	runs.POST("", handler.CreateRun)
	runs.GET("/last", handler.GetLastRun)

	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
