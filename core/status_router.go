package core

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// ConsumerStateReporter is the minimal surface the status router needs
// from the Adaptive Consumer, kept as an interface so this package does
// not import the queue package (avoiding an import cycle: queue already
// imports core for the wire types).
type ConsumerStateReporter interface {
	StateString() string
}

// NewStatusRouter builds the worker's small status/metrics HTTP surface:
// liveness, the current heartbeat, and queue depth. It intentionally does
// not carry any of the teacher's admin/problem/session routes, which
// belonged to the HTTP API gateway this worker does not implement.
func NewStatusRouter(consumer ConsumerStateReporter, metrics *MetricsService, workerID string, startedAt time.Time) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) {
		state := "unknown"
		if consumer != nil {
			state = consumer.StateString()
		}
		if state == "Closed" {
			respondError(c, http.StatusServiceUnavailable, "CONSUMER_CLOSED", "consumer is closed")
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "consumer_state": state})
	})

	r.GET("/metrics/worker", func(c *gin.Context) {
		hb, err := metrics.WorkerByID(c.Request.Context(), workerID)
		if err != nil {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "no heartbeat recorded yet")
			return
		}
		c.JSON(http.StatusOK, hb)
	})

	r.GET("/metrics/queue", func(c *gin.Context) {
		qm, err := metrics.Queue(c.Request.Context())
		if err != nil {
			respondError(c, http.StatusBadGateway, "QUEUE_UNAVAILABLE", err.Error())
			return
		}
		c.JSON(http.StatusOK, qm)
	})

	r.GET("/status", func(c *gin.Context) {
		st, err := CollectSystemStatus(c.Request.Context(), metrics, startedAt)
		if err != nil {
			respondError(c, http.StatusInternalServerError, "STATUS_ERROR", err.Error())
			return
		}
		c.JSON(http.StatusOK, st)
	})

	return r
}
