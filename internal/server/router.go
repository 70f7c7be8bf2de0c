package server

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

const requestIDHeader = "X-Request-ID"

// SetupRouter creates and configures the Gin router. gatherer serves
// /metrics and may be nil to skip the endpoint.
func SetupRouter(api *API, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(requestID())
	r.Use(requestLogger())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", requestIDHeader}
	corsConfig.ExposeHeaders = []string{requestIDHeader}
	r.Use(cors.New(corsConfig))

	session := r.Group("/session/:id")
	{
		session.POST("/play", api.Play)
		session.POST("/play-now", api.PlayNow)
		session.POST("/skip", api.Skip)
		session.POST("/previous", api.Previous)
		session.POST("/pause", api.Pause)
		session.POST("/resume", api.Resume)
		session.POST("/stop", api.Stop)
		session.POST("/leave", api.Leave)
		session.POST("/jump", api.Jump)
		session.POST("/shuffle", api.Shuffle)
		session.POST("/repeat", api.Repeat)
		session.POST("/volume", api.Volume)
		session.POST("/clear", api.Clear)

		session.GET("/status", api.Status)
		session.GET("/position", api.Position)
		session.GET("/jump-options", api.JumpOptions)
		session.GET("/history", api.History)
	}

	r.GET("/events", api.Events)

	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		ev := log.Debug()
		if c.Writer.Status() >= http.StatusInternalServerError {
			ev = log.Warn()
		}
		ev.Str("component", "http").
			Str("request_id", c.GetString("request_id")).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("Request served")
	}
}
