package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wraps the Gin engine with the gateway handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates the gateway router.
func NewRouter(handler *Handler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	r := &Router{
		engine:  engine,
		handler: handler,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.handler.HealthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/auth/token", r.handler.IssueToken)
		v1.GET("/status", r.handler.Status)

		// Read surface consumed by the dashboard.
		v1.GET("/sessions", r.handler.ListSessions)
		v1.GET("/sessions/:sessionId", r.handler.GetSession)
		v1.GET("/sessions/:sessionId/transfers", r.handler.ListTransfers)
		v1.GET("/sessions/:sessionId/state", r.handler.GetState)
		v1.GET("/history", r.handler.History)

		// Mutating surface, token-protected.
		protected := v1.Group("")
		protected.Use(r.handler.AuthMiddleware())
		{
			protected.POST("/sessions", r.handler.CreateSession)
			protected.POST("/sessions/:sessionId/transfers", r.handler.SendTransfer)
			protected.POST("/sessions/:sessionId/settle", r.handler.InitiateSettlement)
			protected.POST("/sessions/:sessionId/confirm", r.handler.ConfirmSettlement)
		}
	}
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}
