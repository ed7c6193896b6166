package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
)

type BalanceService interface {
	Get(ctx context.Context, deviceID string) (*model.Balance, error)
	TopUp(ctx context.Context, deviceID string, amount float64) (*model.Balance, error)
	Decrease(ctx context.Context, deviceID string, amount float64) (*model.Balance, error)
	Transactions(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error)
}

// BalanceHandler is the legacy balance-mode surface; it stays mounted in
// direct mode for reporting.
type BalanceHandler struct {
	svc BalanceService
}

func NewBalanceHandler(svc BalanceService) *BalanceHandler {
	return &BalanceHandler{svc: svc}
}

func RegisterBalanceRoutes(e *router.Group, h *BalanceHandler) {
	e.GET("/balance/{deviceId}", h.Get)
	e.POST("/balance/{deviceId}/topup", h.TopUp)
	e.POST("/balance/{deviceId}/decrease", h.Decrease)
	e.GET("/balance/{deviceId}/transactions", h.Transactions)
}

type amountRequest struct {
	Amount float64 `json:"amount"`
}

type transactionListResponse struct {
	Items []*model.Transaction `json:"items"`
	Total int64                `json:"total"`
}

func (h *BalanceHandler) Get(ctx *xhttp.RequestCtx) {
	bal, err := h.svc.Get(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, bal)
}

func (h *BalanceHandler) TopUp(ctx *xhttp.RequestCtx) {
	var req amountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	bal, err := h.svc.TopUp(ctx, param(ctx, "deviceId"), req.Amount)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, bal)
}

func (h *BalanceHandler) Decrease(ctx *xhttp.RequestCtx) {
	var req amountRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	bal, err := h.svc.Decrease(ctx, param(ctx, "deviceId"), req.Amount)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, bal)
}

func (h *BalanceHandler) Transactions(ctx *xhttp.RequestCtx) {
	f := repository.TransactionFilter{DeviceID: param(ctx, "deviceId")}
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

	items, total, err := h.svc.Transactions(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, transactionListResponse{Items: items, Total: total})
}
