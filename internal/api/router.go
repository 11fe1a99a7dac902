package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arnabghosh/chat-queue/internal/api/handlers"
	"github.com/arnabghosh/chat-queue/internal/api/middleware"
	"github.com/arnabghosh/chat-queue/internal/deadletter"
)

// Router manages API routing and handlers
type Router struct {
	engine            *gin.Engine
	gatherer          prometheus.Gatherer
	queueHandler      *handlers.QueueHandler
	deadLetterHandler *handlers.DeadLetterHandler
}

// NewRouter creates a new API router with all handlers initialized.
// gatherer backs /metrics; nil uses the default Prometheus registry.
func NewRouter(queue handlers.QueueService, deadLetters deadletter.Repository, gatherer prometheus.Gatherer) *Router {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	router := &Router{
		engine:            gin.New(),
		gatherer:          gatherer,
		queueHandler:      handlers.NewQueueHandler(queue),
		deadLetterHandler: handlers.NewDeadLetterHandler(deadLetters),
	}

	router.setupMiddleware()
	router.setupRoutes()

	return router
}

// setupMiddleware configures global middleware
func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.LoggingMiddleware())
	r.engine.Use(middleware.ErrorHandlerMiddleware())

	// Recovery middleware (catch panics)
	r.engine.Use(gin.Recovery())
}

// setupRoutes configures all API routes
func (r *Router) setupRoutes() {
	r.engine.GET("/health", r.queueHandler.Health)
	r.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{})))

	v1 := r.engine.Group("/api/v1")
	{
		queues := v1.Group("/queues")
		{
			queues.GET("/stats", r.queueHandler.AllStats)
			queues.GET("/:name/stats", r.queueHandler.Stats)
			queues.GET("/:name/size", r.queueHandler.Size)
			queues.GET("/:name/peek", r.queueHandler.Peek)
			queues.POST("/:name/messages", r.queueHandler.Enqueue)
			queues.POST("/:name/dequeue", r.queueHandler.Dequeue)
			queues.DELETE("/:name/messages", r.queueHandler.Purge)
			queues.DELETE("/:name", r.queueHandler.Delete)
		}

		v1.GET("/deadletters", r.deadLetterHandler.List)
	}
}

// Engine returns the underlying Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
