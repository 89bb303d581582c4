package routes

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/yoockh/yoointerview/internal/api/handlers"
	"github.com/yoockh/yoointerview/internal/api/middleware"
	"github.com/yoockh/yoointerview/internal/metrics"
	"github.com/yoockh/yoointerview/internal/models"
)

type Deps struct {
	Interview  *handlers.InterviewHandler
	Evaluation *handlers.EvaluationHandler
	Audit      *handlers.AuditHandler
	WS         *handlers.WSHandler

	Auth           middleware.AuthConfig
	AllowedOrigins []string
	Logger         *logrus.Logger
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-Id"},
		ExposeHeaders: []string{"Retry-After", "X-Request-Id"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}

func RegisterRoutes(r *gin.Engine, d Deps) {
	r.Use(cors.New(corsConfig(d.AllowedOrigins)))
	r.Use(metrics.Middleware())
	if d.Logger != nil {
		r.Use(middleware.RequestLogger(d.Logger))
	}

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(200, gin.H{"message": "pong"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// room token auth, checked by the handler
	r.GET("/ws/session/:session_id", d.WS.SessionWS)

	auth := r.Group("/")
	auth.Use(middleware.JWTAuth(d.Auth))

	auth.POST("/sessions", middleware.RequireStaff(), d.Interview.Create)

	s := auth.Group("/session/:session_id")
	s.GET("", d.Interview.Get)
	s.GET("/questions", d.Interview.Questions)
	s.POST("/begin", d.Interview.Begin)
	s.POST("/answers", d.Interview.SubmitAnswer)
	s.GET("/results", d.Interview.Results)
	s.POST("/abandon", middleware.RequireStaff(), d.Interview.Abandon)

	admin := auth.Group("/admin", middleware.RequireStaff())
	admin.GET("/sessions/stuck", d.Evaluation.Stuck)
	admin.POST("/sessions/:session_id/dispatch", d.Evaluation.Redispatch)
	admin.GET("/sessions/:session_id/events", d.Audit.SessionEvents)
	admin.GET("/events/:type", d.Audit.EventsByType)

	internal := auth.Group("/internal", middleware.RequireRole(models.RoleService))
	internal.POST("/evaluations/:session_id", d.Evaluation.Callback)
}
