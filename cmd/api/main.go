package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"classtrack/internal/analytics"
	"classtrack/internal/apperrors"
	"classtrack/internal/attendance"
	"classtrack/internal/auth"
	"classtrack/internal/config"
	"classtrack/internal/dates"
	"classtrack/internal/httpmiddleware"
	"classtrack/internal/override"
	"classtrack/internal/queue"
	"classtrack/internal/store"
	"classtrack/internal/stream"
	"classtrack/internal/timetable"
)

func main() {
	cfg := config.Load()

	if cfg.Env == "production" || cfg.Env == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		log.Fatalf("http server failed: %v", err)
	}
}

func runHTTP(cfg config.App) error {
	var (
		db         *store.DB
		streamRepo stream.Repository
		ttRepo     timetable.Repository
		ovRepo     override.Repository
		attRepo    attendance.Repository
	)
	if cfg.StoreBackend == "memory" {
		streamRepo = stream.NewMemoryRepository()
		ttRepo = timetable.NewMemoryRepository()
		ovRepo = override.NewMemoryRepository()
		attRepo = attendance.NewMemoryRepository()
	} else {
		var err error
		db, err = store.NewDB(cfg.DatabaseURL)
		if db == nil {
			log.Fatalf("db open failed: %v", err)
		}
		if err != nil {
			log.Printf("warning: db not reachable: %v", err)
		} else if err := store.Migrate(db.Client); err != nil {
			log.Printf("warning: migrate failed: %v", err)
		}
		streamRepo = stream.NewPostgresRepository(db.Client)
		ttRepo = timetable.NewPostgresRepository(db.Client)
		ovRepo = override.NewPostgresRepository(db.Client)
		attRepo = attendance.NewPostgresRepository(db.Client)
	}
	defer func() {
		if db != nil {
			_ = db.Close()
		}
	}()

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, cfg.PreseedQueueKey)
	}

	streams := stream.NewService(streamRepo)
	timetables := timetable.NewService(ttRepo, streams)
	overrides := override.NewService(ovRepo, streams)
	ledger := attendance.NewLedger(attRepo, ttRepo, ovRepo, streamRepo, streams)
	engine := analytics.NewEngine(ttRepo, ovRepo, attRepo, streams)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.LoggerWithConfig(gin.LoggerConfig{
		SkipPaths: []string{"/healthz", "/metrics"},
	}))
	r.Use(corsMiddleware())
	r.Use(securityHeaders())
	r.Use(httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin, cfg.RateLimitPerMin).Middleware())

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	r.GET("/healthz", func(c *gin.Context) {
		redisHealthy := redisClient.Healthy(c.Request.Context())
		dbHealthy := cfg.StoreBackend == "memory" || db.Healthy(c.Request.Context())
		status := http.StatusOK
		if !redisHealthy || !dbHealthy {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"status": "ok", "redis": redisHealthy, "db": dbHealthy})
	})

	r.POST("/v1/auth/token", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role == "" {
			req.Role = auth.RoleStudent
		}
		tokens, err := auth.Issue(req.UserID, req.Role, cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
			return
		}
		c.JSON(http.StatusCreated, gin.H{
			"access_token":  tokens.AccessToken,
			"refresh_token": tokens.RefreshToken,
			"expires_at":    tokens.AccessExp.Unix(),
		})
	})

	api := r.Group("/v1", auth.UserAuth(cfg.JWTSigningKey, cfg.JWTIssuer))

	api.POST("/streams", func(c *gin.Context) {
		var req struct {
			Name string `json:"name" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s, err := streams.Create(c.Request.Context(), req.Name, auth.UserID(c))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, s)
	})

	api.POST("/streams/:id/members", func(c *gin.Context) {
		var req struct {
			UserID string `json:"user_id" binding:"required"`
			Role   string `json:"role"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Role == "" {
			req.Role = stream.RoleStudent
		}
		if err := streams.AddMember(c.Request.Context(), auth.UserID(c), c.Param("id"), req.UserID, req.Role); err != nil {
			respondErr(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	})

	api.GET("/streams/:id/members", func(c *gin.Context) {
		members, err := streams.Members(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"members": members})
	})

	api.POST("/streams/:id/timetables", func(c *gin.Context) {
		var req struct {
			ValidFrom string            `json:"valid_from" binding:"required"`
			Entries   []timetable.Entry `json:"entries" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		validFrom, err := dates.ParseDay(req.ValidFrom)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "valid_from must be YYYY-MM-DD"})
			return
		}
		tt, err := timetables.Create(c.Request.Context(), auth.UserID(c), c.Param("id"), timetable.NewTimetable{
			ValidFrom: validFrom,
			Entries:   req.Entries,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, tt)
	})

	api.GET("/streams/:id/timetable", func(c *gin.Context) {
		date, ok := dayQuery(c, "date", dates.Today())
		if !ok {
			return
		}
		tt, err := timetables.Active(c.Request.Context(), auth.UserID(c), c.Param("id"), date)
		if err != nil {
			respondErr(c, err)
			return
		}
		if tt == nil {
			c.JSON(http.StatusOK, gin.H{"active": false})
			return
		}
		c.JSON(http.StatusOK, gin.H{"active": true, "timetable": tt})
	})

	api.GET("/streams/:id/schedule", func(c *gin.Context) {
		from, ok := dayQuery(c, "from", dates.Today())
		if !ok {
			return
		}
		to, ok := dayQuery(c, "to", from.AddDate(0, 0, 6))
		if !ok {
			return
		}
		entries, err := timetables.Schedule(c.Request.Context(), auth.UserID(c), c.Param("id"), from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": entries})
	})

	api.GET("/streams/:id/week", func(c *gin.Context) {
		start, ok := dayQuery(c, "start", dates.Today())
		if !ok {
			return
		}
		view, err := ledger.WeeklyView(c.Request.Context(), auth.UserID(c), c.Param("id"), start)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"week_start": dates.FormatDay(start), "slots": view})
	})

	api.GET("/streams/:id/overrides", func(c *gin.Context) {
		from, ok := dayQuery(c, "from", dates.Today())
		if !ok {
			return
		}
		to, ok := dayQuery(c, "to", from.AddDate(0, 0, 6))
		if !ok {
			return
		}
		ovs, err := overrides.ListRange(c.Request.Context(), auth.UserID(c), c.Param("id"), from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"overrides": ovs})
	})

	api.PUT("/streams/:id/overrides", func(c *gin.Context) {
		var req struct {
			ClassDate   string                `json:"class_date" binding:"required"`
			Subject     string                `json:"subject_name" binding:"required"`
			EntryIndex  int                   `json:"entry_index"`
			Type        override.Type         `json:"override_type" binding:"required"`
			Replacement *override.Replacement `json:"replacement"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		classDate, err := dates.ParseDay(req.ClassDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_date must be YYYY-MM-DD"})
			return
		}
		ov, err := overrides.Upsert(c.Request.Context(), auth.UserID(c), c.Param("id"), override.Override{
			ClassDate:   classDate,
			Subject:     req.Subject,
			EntryIndex:  req.EntryIndex,
			Type:        req.Type,
			Replacement: req.Replacement,
		})
		if err != nil {
			respondErr(c, err)
			return
		}

		// REPLACED/ADDED pre-seed a MISSED record per member right away so
		// held counts are correct before anyone opens the page. A failed
		// batch goes to the retry queue; the worker re-runs it idempotently.
		var seeded attendance.PreSeedResult
		if ov.Type == override.TypeReplaced || ov.Type == override.TypeAdded {
			seeded, err = ledger.PreSeedOverride(c.Request.Context(), ov)
			if err != nil || seeded.Failed > 0 {
				if err != nil {
					log.Printf("preseed for override %s failed: %v", ov.ID, err)
				}
				body, _ := json.Marshal(ov)
				if perr := q.Publish(c.Request.Context(), queue.Message{Type: queue.TypePreseed, Body: body}); perr != nil {
					log.Printf("queue publish failed: %v", perr)
				}
			}
		}

		c.JSON(http.StatusOK, gin.H{"override": ov, "preseed": seeded})
	})

	api.POST("/streams/:id/marks", func(c *gin.Context) {
		var req struct {
			Subject      string `json:"subject_name" binding:"required"`
			ClassDate    string `json:"class_date" binding:"required"`
			SubjectIndex int    `json:"subject_index"`
			Status       string `json:"status" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		classDate, err := dates.ParseDay(req.ClassDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "class_date must be YYYY-MM-DD"})
			return
		}
		rec, err := ledger.Mark(c.Request.Context(), auth.UserID(c), c.Param("id"),
			req.Subject, classDate, req.SubjectIndex, req.Status)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, rec)
	})

	api.POST("/streams/:id/bulk", func(c *gin.Context) {
		var req struct {
			Subject    string `json:"subject_name" binding:"required"`
			Attended   int    `json:"attended"`
			Held       int    `json:"held"`
			RangeStart string `json:"range_start" binding:"required"`
			RangeEnd   string `json:"range_end" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		from, err := dates.ParseDay(req.RangeStart)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "range_start must be YYYY-MM-DD"})
			return
		}
		to, err := dates.ParseDay(req.RangeEnd)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "range_end must be YYYY-MM-DD"})
			return
		}
		be, err := ledger.AddBulk(c.Request.Context(), auth.UserID(c), c.Param("id"),
			req.Subject, req.Attended, req.Held, from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusCreated, be)
	})

	api.GET("/streams/:id/bulk", func(c *gin.Context) {
		list, err := ledger.Bulk(c.Request.Context(), auth.UserID(c), c.Param("id"))
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"entries": list})
	})

	api.GET("/streams/:id/stats", func(c *gin.Context) {
		var from, to *time.Time
		if v := c.Query("from"); v != "" {
			d, err := dates.ParseDay(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "from must be YYYY-MM-DD"})
				return
			}
			from = &d
		}
		if v := c.Query("to"); v != "" {
			d, err := dates.ParseDay(v)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "to must be YYYY-MM-DD"})
				return
			}
			to = &d
		}
		stats, err := engine.StreamStats(c.Request.Context(), auth.UserID(c), c.Param("id"), c.Query("user"), from, to)
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	})

	api.POST("/streams/:id/projection", func(c *gin.Context) {
		var req struct {
			TargetPercent  float64 `json:"target_percent" binding:"required"`
			TargetDate     string  `json:"target_date" binding:"required"`
			Subject        string  `json:"subject_name"`
			ManualAttended *int    `json:"manual_attended"`
			ManualHeld     *int    `json:"manual_held"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		targetDate, err := dates.ParseDay(req.TargetDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_date must be YYYY-MM-DD"})
			return
		}
		proj, err := engine.Project(c.Request.Context(), auth.UserID(c), c.Param("id"), analytics.ProjectionInput{
			TargetPercent:  req.TargetPercent,
			TargetDate:     targetDate,
			Subject:        req.Subject,
			ManualAttended: req.ManualAttended,
			ManualHeld:     req.ManualHeld,
		})
		if err != nil {
			respondErr(c, err)
			return
		}
		c.JSON(http.StatusOK, proj)
	})

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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced shutdown: %v", err)
	}

	log.Println("Server exited")
	return nil
}

// respondErr maps the engine's error taxonomy to HTTP statuses.
func respondErr(c *gin.Context, err error) {
	var ve *apperrors.ValidationError
	switch {
	case errors.As(err, &ve):
		c.JSON(http.StatusBadRequest, gin.H{"error": ve.Msg, "fields": ve.Fields})
	case apperrors.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case apperrors.IsForbidden(err):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		log.Printf("internal error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

func dayQuery(c *gin.Context, name string, fallback time.Time) (time.Time, bool) {
	v := c.Query(name)
	if v == "" {
		return fallback, true
	}
	d, err := dates.ParseDay(v)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be YYYY-MM-DD"})
		return time.Time{}, false
	}
	return d, true
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
