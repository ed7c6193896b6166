package handlers

import (
	"github.com/fasthttp/router"

	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
)

type HealthService interface {
	Get() error
}

type HealthHandler struct {
	svc HealthService
}

func RegisterHealthRoutes(e *router.Group, h *HealthHandler) {
	e.GET("/health", h.GetHealth)
}

func NewHealthHandler(svc HealthService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) GetHealth(ctx *xhttp.RequestCtx) {
	if h.svc != nil {
		if err := h.svc.Get(); err != nil {
			writeFailure(ctx, 503, "unhealthy")
			return
		}
	}
	writeSuccess(ctx, 200, map[string]string{"status": "ok"})
}
