package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/charlesng35/schoolx/internal/app/maintenance"
)

const (
	defaultProbeTimeout   = 2 * time.Second
	defaultMaintenanceAge = 26 * time.Hour
)

// Database pings the database handle.
func Database(db *gorm.DB, timeout time.Duration) Check {
	return NewCheck("database", func(ctx context.Context) ProbeResult {
		start := time.Now()
		if db == nil {
			return ProbeResult{Status: StatusDown, Details: "database not configured"}
		}

		sqlDB, err := db.DB()
		if err != nil {
			return ResultFromError("database", err, time.Since(start))
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return ResultFromError("database", sqlDB.PingContext(probeCtx), time.Since(start))
	})
}

// RedisPinger is the part of a Redis client the probe needs.
type RedisPinger interface {
	Ping(ctx context.Context) error
}

type redisClient struct {
	client goredis.UniversalClient
}

func (r redisClient) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// RedisClient adapts a go-redis client to RedisPinger.
func RedisClient(client goredis.UniversalClient) RedisPinger {
	if client == nil {
		return nil
	}
	return redisClient{client: client}
}

// Redis probes the cache and relay connection. When Redis is disabled the probe reports up.
// A nil client while enabled means the server fell back to the database cache, which is degraded.
func Redis(client RedisPinger, enabled bool, timeout time.Duration) Check {
	return NewCheck("redis", func(ctx context.Context) ProbeResult {
		start := time.Now()
		if !enabled {
			return ProbeResult{Status: StatusUp, Details: "redis disabled"}
		}
		if client == nil {
			return ProbeResult{Status: StatusDegraded, Details: "redis unavailable; using database cache"}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout))
		defer cancel()
		return ResultFromError("redis", client.Ping(probeCtx), time.Since(start))
	})
}

// RealtimeObserver exposes the hub state the realtime probe reports.
type RealtimeObserver interface {
	ActiveConnections() int64
}

// Realtime reports whether the websocket hub is running and how many clients are connected.
func Realtime(observer RealtimeObserver, enabled bool) Check {
	return NewCheck("realtime", func(context.Context) ProbeResult {
		if !enabled {
			return ProbeResult{Status: StatusUp, Details: "realtime disabled"}
		}
		if observer == nil {
			return ProbeResult{Status: StatusDegraded, Details: "realtime hub unavailable"}
		}
		active := observer.ActiveConnections()
		if active < 0 {
			return ProbeResult{Status: StatusDegraded, Details: "negative connection count"}
		}
		return ProbeResult{Status: StatusUp, Details: fmt.Sprintf("%d connections", active)}
	})
}

// JobReporter exposes background job history.
type JobReporter interface {
	Runs() []maintenance.JobRun
}

// Maintenance reports failing or stale background jobs. A job that keeps failing is down;
// a job whose last run is older than maxAge is degraded.
func Maintenance(reporter JobReporter, maxAge time.Duration) Check {
	if maxAge <= 0 {
		maxAge = defaultMaintenanceAge
	}

	return NewCheck("maintenance", func(context.Context) ProbeResult {
		if reporter == nil {
			return ProbeResult{Status: StatusUp, Details: "no scheduler"}
		}
		runs := reporter.Runs()
		if len(runs) == 0 {
			return ProbeResult{Status: StatusUp, Details: "no jobs have run yet"}
		}

		now := time.Now()
		status := StatusUp
		var problems []string
		for _, run := range runs {
			if run.ConsecutiveFailures > 0 {
				status = worstStatus(status, StatusDown)
				problems = append(problems, fmt.Sprintf("%s: %d consecutive failures (%s)", run.Job, run.ConsecutiveFailures, run.LastError))
			}
			if !run.LastRunAt.IsZero() && now.Sub(run.LastRunAt) > maxAge {
				status = worstStatus(status, StatusDegraded)
				problems = append(problems, run.Job+": stale run "+run.LastRunAt.UTC().Format(time.RFC3339))
			}
		}
		return ProbeResult{Status: status, Details: strings.Join(problems, "; ")}
	})
}

func worstStatus(current, candidate ProbeStatus) ProbeStatus {
	if current == StatusDown || candidate == StatusDown {
		return StatusDown
	}
	if current == StatusDegraded || candidate == StatusDegraded {
		return StatusDegraded
	}
	return StatusUp
}

func chooseTimeout(provided time.Duration) time.Duration {
	if provided <= 0 {
		return defaultProbeTimeout
	}
	return provided
}
