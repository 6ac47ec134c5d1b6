package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/technosupport/ts-streamgw/internal/gateway"
)

type HealthHandler struct {
	Gateway *gateway.Client
	Redis   *redis.Client
	DB      *sql.DB
}

func NewHealthHandler(gw *gateway.Client, r *redis.Client, db *sql.DB) *HealthHandler {
	return &HealthHandler{Gateway: gw, Redis: r, DB: db}
}

// Healthz reports component status. The gateway being down degrades
// the report but still returns 200; the service itself is alive and
// will resync when the gateway returns.
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	components := map[string]string{}

	if err := h.Gateway.Probe(ctx); err != nil {
		components["gateway"] = "down"
	} else {
		components["gateway"] = "ok"
	}

	if h.Redis != nil {
		if err := h.Redis.Ping(ctx).Err(); err != nil {
			components["redis"] = "down"
		} else {
			components["redis"] = "ok"
		}
	}

	if h.DB != nil {
		if err := h.DB.PingContext(ctx); err != nil {
			components["database"] = "down"
		} else {
			components["database"] = "ok"
		}
	}

	status := "ok"
	for _, v := range components {
		if v != "ok" {
			status = "degraded"
			break
		}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"components": components,
	})
}
