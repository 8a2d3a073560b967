package common

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthStatus is the payload returned by the health endpoints.
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// HealthCheck reports basic process liveness.
func HealthCheck(service, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, HealthStatus{
			Status:    "ok",
			Service:   service,
			Version:   version,
			Timestamp: time.Now().UTC(),
		})
	}
}

// ReadinessProbe runs the given dependency checks and reports 503 when any
// of them fails.
func ReadinessProbe(service, version string, checks map[string]func() error) gin.HandlerFunc {
	return func(c *gin.Context) {
		results := make(map[string]string, len(checks))
		healthy := true

		for name, check := range checks {
			if err := check(); err != nil {
				results[name] = err.Error()
				healthy = false
			} else {
				results[name] = "ok"
			}
		}

		status := HealthStatus{
			Status:    "ready",
			Service:   service,
			Version:   version,
			Timestamp: time.Now().UTC(),
			Checks:    results,
		}

		if !healthy {
			status.Status = "degraded"
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	}
}
