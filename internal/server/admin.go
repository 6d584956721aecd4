package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/danmuck/ghostwire/internal/auth"
	"github.com/danmuck/ghostwire/internal/observability"
	"github.com/danmuck/ghostwire/internal/replication"
)

const version = "0.1.0"

// observerView is one /observers entry.
type observerView struct {
	User uint64 `json:"user"`
	replication.Summary
}

// Router builds the admin API.
func (s *Server) Router() *gin.Engine {
	observability.RegisterMetrics()
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(observability.RequestLogger(observability.HTTPLogger(s.cfg.Name)))
	r.Use(observability.RequestMetricsMiddleware(s.cfg.Name))
	r.Use(observability.RequestTracing())
	r.Use(cors.New(cors.Config{
		AllowOrigins: normalizeOrigins(s.cfg.CorsOrigins),
		AllowMethods: []string{"GET"},
		AllowHeaders: []string{"Origin", "Content-Type", "Authorization"},
		MaxAge:       12 * time.Hour,
	}))
	_ = r.SetTrustedProxies([]string{"127.0.0.1", "::1"})

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(s.appeared).String(),
			"service": s.cfg.Name,
			"version": version,
		})
	})
	r.GET("/ready", func(c *gin.Context) {
		status := http.StatusOK
		if !s.running.Load() {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":     s.running.Load(),
			"tick":      s.Tick(),
			"observers": s.Sessions(),
		})
	})
	if s.cfg.MetricsEnabled {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	guarded := r.Group("/")
	if s.cfg.AdminToken != "" {
		guarded.Use(requireToken(auth.StaticToken{Token: s.cfg.AdminToken}))
	}
	guarded.GET("/observers", func(c *gin.Context) {
		users := s.Users()
		views := make([]observerView, 0, len(users))
		for _, sum := range s.rep.Summaries() {
			views = append(views, observerView{User: users[sum.ID], Summary: sum})
		}
		c.JSON(http.StatusOK, gin.H{
			"tick":      s.Tick(),
			"ghosts":    s.rep.Ghosts(),
			"observers": views,
		})
	})
	return r
}

func requireToken(v auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := auth.CheckHeader(v, c.GetHeader("Authorization")); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Next()
	}
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return []string{"http://localhost:3000"}
	}
	return out
}
