package handlers

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/tbourn/wellness-sync/internal/gateway"
)

// ReadyResponse reports per-dependency readiness.
type ReadyResponse struct {
	Status string            `json:"status" example:"ready"`
	Checks map[string]string `json:"checks"`
}

// Ready godoc
// @ID          ready
// @Summary     Readiness probe
// @Description Probes the local database and every configured inference service concurrently.
// @Tags        Health
// @Produce     json
// @Success     200  {object}  handlers.ReadyResponse
// @Failure     503  {object}  handlers.ReadyResponse
// @Router      /ready [get]
func (h *Handlers) Ready(c *gin.Context) {
	ctx := c.Request.Context()
	if h.ReadyTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.ReadyTimeout)
		defer cancel()
	}

	var (
		mu      sync.Mutex
		g       errgroup.Group
		healthy = true
		checks  = map[string]string{}
	)
	record := func(name string, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			healthy = false
			checks[name] = "unavailable"
			return
		}
		checks[name] = "ok"
	}

	if h.Idem != nil {
		g.Go(func() error {
			sqlDB, err := h.Idem.DB()
			if err == nil {
				err = sqlDB.PingContext(ctx)
			}
			record("database", err)
			return nil
		})
	}
	if h.health != nil {
		for _, k := range gateway.Kinds {
			if !h.health.Enabled(k) {
				continue
			}
			g.Go(func() error {
				record(string(k), h.health.Health(ctx, k))
				return nil
			})
		}
	}
	_ = g.Wait()

	if !healthy {
		c.JSON(http.StatusServiceUnavailable, ReadyResponse{Status: "unavailable", Checks: checks})
		return
	}
	ok(c, http.StatusOK, ReadyResponse{Status: "ready", Checks: checks})
}
