// Package httpapi exposes a read-only status surface over HTTP: health,
// queue contents and the audit trail. It never mutates trading state.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sentinel/internal/executor"
	"sentinel/internal/logger"
	"sentinel/internal/queue"
	"sentinel/internal/resilience"
)

type Server struct {
	addr   string
	router *gin.Engine
}

// ServerConfig describes the collaborators the status API reads from.
type ServerConfig struct {
	Addr      string
	Orders    *queue.Queue
	Audit     *resilience.ErrorLogger
	Ledger    *executor.Ledger
	StartedAt time.Time
}

func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Orders == nil {
		return nil, errors.New("http server requires the order queue")
	}
	if cfg.Addr == "" {
		cfg.Addr = ":9991"
	}
	if cfg.StartedAt.IsZero() {
		cfg.StartedAt = time.Now().UTC()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	api.GET("/status", statusHandler(cfg))
	api.GET("/orders", ordersHandler(cfg.Orders))
	api.GET("/orders/:id", orderHandler(cfg.Orders))
	api.GET("/audit", auditHandler(cfg.Audit))

	return &Server{addr: cfg.Addr, router: router}, nil
}

func statusHandler(cfg ServerConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		body := gin.H{
			"status":     "ok",
			"uptime":     time.Since(cfg.StartedAt).Round(time.Second).String(),
			"started_at": cfg.StartedAt,
			"orders":     len(cfg.Orders.History()),
		}
		if cfg.Ledger != nil {
			body["cooldowns"] = cfg.Ledger.Cooldowns()
		}
		c.JSON(http.StatusOK, body)
	}
}

func ordersHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		orders := q.History()
		sort.Slice(orders, func(i, j int) bool {
			return orders[i].CreatedAt.After(orders[j].CreatedAt)
		})
		c.JSON(http.StatusOK, gin.H{"orders": orders})
	}
}

func orderHandler(q *queue.Queue) gin.HandlerFunc {
	return func(c *gin.Context) {
		order, ok := q.Get(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusOK, order)
	}
}

func auditHandler(audit *resilience.ErrorLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		if audit == nil {
			c.JSON(http.StatusOK, gin.H{"events": []resilience.Record{}})
			return
		}
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		c.JSON(http.StatusOK, gin.H{"events": audit.Recent(limit)})
	}
}

func requestLogger() gin.HandlerFunc {
	log := logger.Named("http")
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method
		path := c.Request.URL.Path
		c.Next()
		log.Debug("request",
			"method", method,
			"path", path,
			"status", c.Writer.Status(),
			"ip", c.ClientIP(),
			"dur", time.Since(start).String(),
		)
	}
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	if s == nil {
		return ""
	}
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}
	srv := &http.Server{Addr: s.addr, Handler: s.router}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}
