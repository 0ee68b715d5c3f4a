package main

import (
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"fedibot/config"
	"fedibot/internal/middleware"
	"fedibot/internal/redis"
	"fedibot/internal/repository"
	"fedibot/pkg/logger"

	"github.com/gin-gonic/gin"
)

func main() {
	cfg := config.LoadConfig()

	zlog := logger.New(cfg.AppMode)
	defer zlog.Logger.Sync()
	logger.SetGlobalLogger(zlog)

	client := redis.NewClient(redis.Config{
		Addr:     fmt.Sprintf("%s:%s", cfg.RedisHost, cfg.RedisPort),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	store := redis.NewStore(client)

	var opts []repository.KVOption
	if cfg.VoteTTLDays > 0 {
		opts = append(opts, repository.WithVoteTTL(time.Duration(cfg.VoteTTLDays)*24*time.Hour))
	}
	repo := repository.NewKVRepository(store, cfg.BotIdentifier, opts...)

	limiter := redis.NewRateLimiter(client, redis.DefaultRateLimitConfig())

	if cfg.AppMode != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestIDMiddleware())
	r.Use(middleware.LoggingMiddleware(zlog))
	r.Use(middleware.RateLimitMiddleware(limiter))

	r.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "down", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/stats", func(c *gin.Context) {
		ctx := c.Request.Context()
		messages, err := repo.CountMessages(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		followers, err := repo.CountFollowers(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"identifier": cfg.BotIdentifier,
			"messages":   messages,
			"followers":  followers,
		})
	})

	r.GET("/messages", func(c *gin.Context) {
		limit, offset, err := parseListWindow(c.DefaultQuery("limit", "20"), c.DefaultQuery("offset", "0"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		records, err := repo.Messages(c.Request.Context(), repository.MessageQuery{
			Order:  repository.NewestFirst,
			Offset: offset,
			Limit:  limit,
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		items := make([]gin.H, 0, len(records))
		for _, rec := range records {
			items = append(items, gin.H{"id": rec.ID.String(), "activity": rec.Activity})
		}
		c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
	})

	r.POST("/ratelimits/reset", func(c *gin.Context) {
		origin := c.Query("origin")
		if origin == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "origin query parameter is required"})
			return
		}
		if err := limiter.ResetOrigin(c.Request.Context(), origin); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "origin": origin})
	})

	zlog.Infof("Starting admin server on port %s", cfg.AppPort)
	if err := r.Run(fmt.Sprintf(":%s", cfg.AppPort)); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}

// parseListWindow validates the limit/offset query parameters of list
// endpoints. Both must be non-negative integers.
func parseListWindow(limitStr, offsetStr string) (limit, offset int, err error) {
	limit, err = strconv.Atoi(limitStr)
	if err != nil || limit < 0 {
		return 0, 0, fmt.Errorf("limit must be a non-negative integer")
	}
	offset, err = strconv.Atoi(offsetStr)
	if err != nil || offset < 0 {
		return 0, 0, fmt.Errorf("offset must be a non-negative integer")
	}
	return limit, offset, nil
}
