package api

import (
	"time"

	"crm-reminders/internal/common/auth"
	"crm-reminders/internal/common/errors"
	"crm-reminders/internal/common/logger"
	"crm-reminders/internal/common/observability"

	"github.com/gin-gonic/gin"
)

// NewRouter wires the reminder routes. validator may be nil when auth is
// disabled; obs may be nil in tests.
func NewRouter(h *Handler, validator auth.TokenValidator, obs *observability.Observability, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(log, obs))

	group := r.Group("/reminders")
	if validator != nil {
		group.Use(auth.Middleware(validator, errors.NewErrorHandler(log)))
	}

	group.POST("", h.Create)
	group.GET("/customer/:customerId", h.ListByCustomer)
	group.GET("/:id", h.Get)
	group.PUT("/:id", h.Update)
	group.DELETE("/:id", h.Delete)

	return r
}

func requestLogger(log logger.Logger, obs *observability.Observability) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		elapsed := time.Since(start)

		if obs != nil {
			obs.RecordRequest(c.Request.Context(), c.Request.Method, route, c.Writer.Status(), elapsed)
		}
		log.Debug("request handled", map[string]interface{}{
			"method":     c.Request.Method,
			"route":      route,
			"status":     c.Writer.Status(),
			"durationMs": elapsed.Milliseconds(),
		})
	}
}
