package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

const healthTimeout = 5 * time.Second

type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

// Health is the /health/db body. TenantSchemas counts pharmacy_* schemas;
// zero means no tenant has been provisioned and every API call will fail.
type Health struct {
	Status        string     `json:"status"`
	Error         string     `json:"error,omitempty"`
	TenantSchemas int        `json:"tenant_schemas"`
	Pool          *PoolStats `json:"pool,omitempty"`
}

// HealthCheck probes the database and fills in a Health report.
type HealthCheck func(ctx context.Context) (*Health, error)

// PoolHealthCheck pings the pool and counts tenant schemas.
func PoolHealthCheck(pool *pgxpool.Pool) HealthCheck {
	return func(ctx context.Context) (*Health, error) {
		stat := pool.Stat()
		h := &Health{Pool: &PoolStats{
			TotalConns:      stat.TotalConns(),
			IdleConns:       stat.IdleConns(),
			AcquiredConns:   stat.AcquiredConns(),
			MaxConns:        stat.MaxConns(),
			AcquireDuration: stat.AcquireDuration().String(),
		}}
		if err := pool.Ping(ctx); err != nil {
			return h, err
		}
		tenants, err := ListTenants(ctx, pool)
		if err != nil {
			return h, err
		}
		h.TenantSchemas = len(tenants)
		return h, nil
	}
}

func HealthHandler(pool *pgxpool.Pool) echo.HandlerFunc {
	return healthHandler(PoolHealthCheck(pool))
}

func healthHandler(check HealthCheck) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		h, err := check(ctx)
		if h == nil {
			h = &Health{}
		}
		if err != nil {
			h.Status = "unhealthy"
			h.Error = err.Error()
			return c.JSON(http.StatusServiceUnavailable, h)
		}
		h.Status = "healthy"
		if h.TenantSchemas == 0 {
			h.Status = "degraded"
		}
		return c.JSON(http.StatusOK, h)
	}
}
