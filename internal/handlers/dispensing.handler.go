package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"

	"github.com/fasthttp/router"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
)

type DispensingService interface {
	Calculate(ctx context.Context, p model.CalculateRequest) (*services.Calculation, error)
	Status(ctx context.Context, sessionID string) (*services.SessionStatus, error)
	ActiveSession(ctx context.Context, deviceID string) (*services.SessionStatus, error)
	Dispense(ctx context.Context, sessionID string) (*model.DispensingOperation, error)
	History(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error)
}

type DispensingHandler struct {
	svc DispensingService
}

func NewDispensingHandler(svc DispensingService) *DispensingHandler {
	return &DispensingHandler{svc: svc}
}

func RegisterDispensingRoutes(e *router.Group, h *DispensingHandler) {
	e.POST("/dispensing/calculate", h.Calculate)
	e.GET("/dispensing/status/{sessionId}", h.Status)
	e.GET("/dispensing/active/{deviceId}", h.ActiveSession)
	e.POST("/dispensing/{sessionId}/dispense", h.Dispense)
	e.GET("/dispensing/history/{deviceId}", h.History)
}

type calculateRequest struct {
	DeviceID   string  `json:"device_id"`
	TankNumber int     `json:"tank_number"`
	Volume     float64 `json:"volume"`
}

type historyResponse struct {
	Items []*model.DispensingOperation `json:"items"`
	Total int64                        `json:"total"`
}

func (h *DispensingHandler) Calculate(ctx *xhttp.RequestCtx) {
	var req calculateRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	calc, err := h.svc.Calculate(ctx, model.CalculateRequest{
		DeviceID:   req.DeviceID,
		TankNumber: req.TankNumber,
		Volume:     req.Volume,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, calc)
}

func (h *DispensingHandler) Status(ctx *xhttp.RequestCtx) {
	status, err := h.svc.Status(ctx, param(ctx, "sessionId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, status)
}

func (h *DispensingHandler) ActiveSession(ctx *xhttp.RequestCtx) {
	status, err := h.svc.ActiveSession(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, status)
}

func (h *DispensingHandler) Dispense(ctx *xhttp.RequestCtx) {
	op, err := h.svc.Dispense(ctx, param(ctx, "sessionId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}

	writeSuccess(ctx, 200, map[string]any{
		"session_id":     param(ctx, "sessionId"),
		"device_id":      op.DeviceID,
		"tank_number":    op.TankNumber,
		"volume":         op.Volume,
		"amount":         op.TotalCost,
		"receipt_number": op.ReceiptNumber,
	})
}

func (h *DispensingHandler) History(ctx *xhttp.RequestCtx) {
	f := model.DispensingFilter{DeviceID: param(ctx, "deviceId")}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}

	items, total, err := h.svc.History(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, historyResponse{Items: items, Total: total})
}

/* ------------------------------ Helpers ------------------------------ */

// envelope is the response shape of every internal-facing endpoint. The
// payment-network endpoints use their own flat wire contract instead.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func readJSON(ctx *xhttp.RequestCtx, dst any) error {
	return json.Unmarshal(ctx.PostBody(), dst)
}

func writeJSON(ctx *xhttp.RequestCtx, status int, v any) {
	b, _ := json.Marshal(v)
	ctx.Response.Header.Set("Content-Type", "application/json; charset=utf-8")
	ctx.Response.SetStatusCode(status)
	ctx.Response.SetBodyRaw(b)
}

func writeSuccess(ctx *xhttp.RequestCtx, status int, data any) {
	writeJSON(ctx, status, envelope{Success: true, Data: data})
}

func writeFailure(ctx *xhttp.RequestCtx, status int, msg string) {
	writeJSON(ctx, status, envelope{Success: false, Message: msg})
}

// writeServiceError maps service sentinels to HTTP statuses. Unknown errors
// become an opaque 500; the detail lands in the request log, not the body.
func writeServiceError(ctx *xhttp.RequestCtx, err error) {
	var ve model.ValidationError
	if errors.As(err, &ve) {
		writeFailure(ctx, 400, ve.Error())
		return
	}

	switch {
	case errors.Is(err, services.ErrDeviceNotFound),
		errors.Is(err, services.ErrChemicalNotFound),
		errors.Is(err, services.ErrSessionNotFound),
		errors.Is(err, services.ErrTransactionNotFound),
		errors.Is(err, services.ErrBalanceNotFound):
		writeFailure(ctx, 404, err.Error())
	case errors.Is(err, services.ErrDeviceExists):
		writeFailure(ctx, 409, err.Error())
	case errors.Is(err, services.ErrInvalidStage),
		errors.Is(err, services.ErrAlreadyDispensed),
		errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrInvalidAmount):
		writeFailure(ctx, 400, err.Error())
	default:
		logger.Error("Request failed", "path", string(ctx.Path()), "error", err)
		writeFailure(ctx, 500, "internal server error")
	}
}

func query(ctx *xhttp.RequestCtx, key string) string {
	return string(ctx.QueryArgs().Peek(key))
}

func param(ctx *xhttp.RequestCtx, name string) string {
	v, _ := ctx.UserValue(name).(string)
	return v
}
