package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	fvm "github.com/go-sok/go-fvm"
)

// newRouter serves read-only JSON views of the running engine.
func newRouter(engine *fvm.FreshnessEngine, metrics *fvm.InMemoryMetrics, tracer *fvm.SignalTracer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/state", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"role":            engine.Role().String(),
			"initialized":     engine.IsInitialized(),
			"state":           engine.State().String(),
			"freshness_value": engine.FreshnessValue(),
			"valid":           engine.IsFreshnessValueValid(),
			"time_since_init": engine.TimeSinceInit(),
		})
	})

	r.GET("/diagnostics", func(c *gin.Context) {
		c.JSON(http.StatusOK, engine.Diagnostics().Report())
	})

	r.GET("/metrics", func(c *gin.Context) {
		if metrics == nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "metrics collection is not in-memory"})
			return
		}
		c.JSON(http.StatusOK, metrics.Snapshot())
	})

	r.GET("/trace", func(c *gin.Context) {
		if tracer == nil || !tracer.IsEnabled() {
			c.JSON(http.StatusNotFound, gin.H{"error": "signal tracing is disabled"})
			return
		}
		limit := 0
		if n, ok := c.GetQuery("limit"); ok {
			v, err := strconv.Atoi(n)
			if err != nil || v < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = v
		}
		c.JSON(http.StatusOK, gin.H{"signals": tracer.Recent(limit)})
	})

	return r
}
