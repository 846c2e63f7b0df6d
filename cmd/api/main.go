package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"videoattend/internal/attendance"
	"videoattend/internal/auth"
	"videoattend/internal/config"
	"videoattend/internal/httpmiddleware"
	"videoattend/internal/interval"
	"videoattend/internal/lock"
	"videoattend/internal/material"
	"videoattend/internal/queue"
	"videoattend/internal/report"
	"videoattend/internal/roster"
	"videoattend/internal/store"
	"videoattend/internal/watch"
)

func main() {
	cfg := config.Load()

	// Set Gin mode based on environment
	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var events queue.Queue
	var locker lock.Locker
	if cfg.QueueBackend == "memory" {
		events = queue.NewInMemory(64)
		locker = lock.NewMemory()
	} else {
		events = queue.NewRedisQueue(redisClient.Client, "videoattend:events")
		locker = lock.NewRedis(redisClient.Client, 10*time.Second)
	}

	materials := material.NewCached(
		material.New(cfg.MaterialServiceURL, cfg.CollaboratorSkip),
		redisClient, cfg.MaterialCacheTTL,
	)
	rosterClient := roster.New(cfg.RosterServiceURL, cfg.CollaboratorSkip)

	sessions := watch.NewRepository(db.Client)
	ledger := attendance.NewRepository(db.Client)
	svc := watch.NewService(sessions, ledger, materials, locker, events, cfg.SessionIdleTimeout, cfg.LedgerWriteRetries)
	reporter := report.NewReporter(ledger, rosterClient)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := db.Client.PingContext(c.Request.Context()) == nil
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	authed := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	ingest := authed.Group("", auth.RequireRole(auth.RoleStudent))
	ingest.Use(httpmiddleware.NewSimpleTokenBucket(cfg.RateLimitPerMin, cfg.RateLimitPerMin).GinMiddleware())

	ingest.POST("/progress", func(c *gin.Context) {
		var req struct {
			MaterialID      string  `json:"material_id" binding:"required"`
			WatchedFrom     float64 `json:"watched_from"`
			WatchedTo       float64 `json:"watched_to" binding:"required"`
			ClientTimestamp int64   `json:"client_timestamp"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		studentID := auth.FromContext(c).Subject
		var observedAt time.Time
		if req.ClientTimestamp > 0 {
			observedAt = time.Unix(req.ClientTimestamp, 0)
		}

		res, err := svc.Report(c.Request.Context(), studentID, req.MaterialID,
			interval.Span{Start: req.WatchedFrom, End: req.WatchedTo}, observedAt)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, res)
	})

	ingest.POST("/progress/end", func(c *gin.Context) {
		var req struct {
			MaterialID string `json:"material_id" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		studentID := auth.FromContext(c).Subject
		if err := svc.End(c.Request.Context(), studentID, req.MaterialID); err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	staff := authed.Group("", auth.RequireRole(auth.RoleLecturer, auth.RoleAdmin))

	staff.GET("/courses/:id/attendance", func(c *gin.Context) {
		week := 0
		if v := c.Query("week"); v != "" {
			parsed, err := strconv.Atoi(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "week must be a number"})
				return
			}
			week = parsed
		}
		rep, err := reporter.WeeklyReport(c.Request.Context(), c.Param("id"), week)
		if err != nil {
			c.JSON(statusFor(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	staff.POST("/courses/:id/attendance/manual", func(c *gin.Context) {
		var req struct {
			StudentID  string `json:"student_id" binding:"required"`
			MaterialID string `json:"material_id" binding:"required"`
			Date       string `json:"date" binding:"required"`
			Week       int    `json:"week" binding:"required"`
			Status     string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if _, err := time.Parse("2006-01-02", req.Date); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "date must be YYYY-MM-DD"})
			return
		}

		rec := attendance.Record{
			StudentID:  req.StudentID,
			MaterialID: req.MaterialID,
			CourseID:   c.Param("id"),
			Date:       req.Date,
			Week:       req.Week,
			Status:     req.Status,
			Type:       attendance.TypeManual,
			Actor:      auth.FromContext(c).Subject,
		}
		if err := ledger.RecordManual(c.Request.Context(), rec); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.Status(http.StatusNoContent)
	})

	// Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("Starting server on :%s", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	// Give outstanding requests 10 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// statusFor maps service errors onto HTTP statuses. Retryable store errors
// tell the client to resend its next progress report.
func statusFor(err error) int {
	switch {
	case errors.Is(err, interval.ErrInvalidSpan),
		errors.Is(err, material.ErrUnknownMaterial),
		errors.Is(err, report.ErrInvalidWeek):
		return http.StatusBadRequest
	case errors.Is(err, watch.ErrStoreBusy):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// CORS middleware for browser requests
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		c.Header("Access-Control-Allow-Origin", origin)
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Security headers middleware
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-XSS-Protection", "1; mode=block")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")

		if gin.Mode() == gin.ReleaseMode {
			c.Header("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		c.Next()
	}
}
