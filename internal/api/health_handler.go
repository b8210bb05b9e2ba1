package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/fanmail/internal/pkg/httputil"
	"github.com/ignite/fanmail/internal/pkg/logger"
	"github.com/ignite/fanmail/internal/queue"
	"github.com/redis/go-redis/v9"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthChecker reports on the database, Redis and the send queue. Any of
// them can be nil; nil ones report "not configured".
type HealthChecker struct {
	db        Pinger
	redis     *redis.Client
	queue     queue.Store
	maxReady  int64
	startTime time.Time
}

// NewHealthChecker creates a HealthChecker. A ready queue deeper than
// maxReady reports degraded; zero disables that check.
func NewHealthChecker(db Pinger, rdb *redis.Client, q queue.Store, maxReady int64) *HealthChecker {
	return &HealthChecker{db: db, redis: rdb, queue: q, maxReady: maxReady, startTime: time.Now()}
}

const (
	healthVersion = "1.0.0"
	notConfigured = "not configured"
)

// HandleHealth always answers 200; the body carries the status.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	httputil.OK(w, HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: healthVersion,
		Uptime:  time.Since(hc.startTime).Round(time.Second).String(),
		Checks:  checks,
	})
}

// HandleLiveness answers 200 while the process runs.
//
//	GET /health/live
func (hc *HealthChecker) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, map[string]string{
		"status": "alive",
		"uptime": time.Since(hc.startTime).Round(time.Second).String(),
	})
}

// HandleReadiness answers 503 when a configured critical dependency is down.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)
	status := http.StatusOK
	if overall == "unhealthy" {
		status = http.StatusServiceUnavailable
	}
	httputil.JSON(w, status, map[string]any{
		"ready":  overall != "unhealthy",
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	ch := make(chan result, 3)
	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"queue", hc.checkQueue(ctx)} }()

	checks := make(map[string]ComponentCheck, 3)
	for i := 0; i < 3; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

func timed(ctx context.Context, timeout, slow time.Duration, name string, ping func(context.Context) error) ComponentCheck {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	err := ping(ctx)
	latency := time.Since(start)
	if err != nil {
		logger.Warn("health check failed", "component", name, "error", err)
		return ComponentCheck{Status: "down", Latency: latency.String(), Message: "ping failed"}
	}
	if latency > slow {
		return ComponentCheck{Status: "degraded", Latency: latency.String(), Message: fmt.Sprintf("slow response (%s)", latency)}
	}
	return ComponentCheck{Status: "up", Latency: latency.String(), Message: "connected"}
}

func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}
	return timed(ctx, 3*time.Second, time.Second, "database", hc.db.PingContext)
}

func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redis == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}
	return timed(ctx, 2*time.Second, 500*time.Millisecond, "redis", func(ctx context.Context) error {
		return hc.redis.Ping(ctx).Err()
	})
}

func (hc *HealthChecker) checkQueue(ctx context.Context) ComponentCheck {
	if hc.queue == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	d, err := hc.queue.Depth(ctx)
	if err != nil {
		logger.Warn("health check failed", "component", "queue", "error", err)
		return ComponentCheck{Status: "down", Message: "depth unavailable"}
	}
	msg := fmt.Sprintf("%d ready, %d delayed, %d processing", d.Ready, d.Delayed, d.Processing)
	if hc.maxReady > 0 && d.Ready > hc.maxReady {
		return ComponentCheck{Status: "degraded", Message: "high queue depth: " + msg}
	}
	return ComponentCheck{Status: "up", Message: msg}
}

// determineOverallStatus: a configured database, Redis or queue that is down
// makes the service unhealthy; any degraded check makes it degraded.
func determineOverallStatus(checks map[string]ComponentCheck) string {
	overall := "healthy"
	for _, c := range checks {
		switch {
		case c.Status == "down" && c.Message != notConfigured:
			return "unhealthy"
		case c.Status == "degraded":
			overall = "degraded"
		}
	}
	return overall
}
