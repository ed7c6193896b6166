package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/fasthttp/router"

	"github.com/ecotrend/dispensing-gateway/internal/kaspi"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
)

type KaspiService interface {
	GenerateQR(ctx context.Context, sessionID string) (*services.QRCode, error)
	Check(ctx context.Context, p model.CheckRequest) *model.PaymentResponse
	Pay(ctx context.Context, p model.PayRequest) *model.PaymentResponse
	PaymentStatus(ctx context.Context, deviceID string) (*kaspi.PaymentStatus, error)
	Mode() model.PaymentMode
}

// KaspiHandler serves both surfaces of the payment integration: the
// QR endpoint consumed by the mobile client and the check/pay webhooks
// called by the payment network itself.
type KaspiHandler struct {
	svc KaspiService
}

func NewKaspiHandler(svc KaspiService) *KaspiHandler {
	return &KaspiHandler{svc: svc}
}

func RegisterKaspiRoutes(e *router.Group, h *KaspiHandler) {
	e.GET("/kaspi/generate-qr/{sessionId}", h.GenerateQR)
	e.GET("/kaspi/check", h.Check)
	e.GET("/kaspi/pay", h.Pay)
	e.GET("/kaspi/status", h.Status)
	e.GET("/kaspi/payment-status/{deviceId}", h.PaymentStatus)
}

func (h *KaspiHandler) GenerateQR(ctx *xhttp.RequestCtx) {
	qr, err := h.svc.GenerateQR(ctx, param(ctx, "sessionId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, qr)
}

// Check and Pay speak the network's wire contract: HTTP 200 always,
// failures ride in the result field.
func (h *KaspiHandler) Check(ctx *xhttp.RequestCtx) {
	logger.Info("Check payment request", "txn_id", query(ctx, "txn_id"), "account", query(ctx, "account"), "sum", query(ctx, "sum"))

	sum, err := strconv.ParseFloat(query(ctx, "sum"), 64)
	if err != nil {
		writeJSON(ctx, 200, &model.PaymentResponse{
			TxnID:   query(ctx, "txn_id"),
			Result:  model.ResultFailure,
			Comment: "Invalid sum",
		})
		return
	}

	resp := h.svc.Check(ctx, model.CheckRequest{
		TxnID:   query(ctx, "txn_id"),
		Account: query(ctx, "account"),
		Sum:     sum,
	})
	writeJSON(ctx, 200, resp)
}

func (h *KaspiHandler) Pay(ctx *xhttp.RequestCtx) {
	logger.Info("Process payment request", "txn_id", query(ctx, "txn_id"), "account", query(ctx, "account"), "sum", query(ctx, "sum"))

	sum, err := strconv.ParseFloat(query(ctx, "sum"), 64)
	if err != nil {
		writeJSON(ctx, 200, &model.PaymentResponse{
			TxnID:   query(ctx, "txn_id"),
			Result:  model.ResultFailure,
			Comment: "Invalid sum",
		})
		return
	}

	resp := h.svc.Pay(ctx, model.PayRequest{
		TxnID:   query(ctx, "txn_id"),
		TxnDate: query(ctx, "txn_date"),
		Account: query(ctx, "account"),
		Sum:     sum,
	})
	writeJSON(ctx, 200, resp)
}

func (h *KaspiHandler) Status(ctx *xhttp.RequestCtx) {
	writeSuccess(ctx, 200, map[string]any{
		"status":    "operational",
		"mode":      h.svc.Mode(),
		"timestamp": time.Now().Format(time.RFC3339),
	})
}

func (h *KaspiHandler) PaymentStatus(ctx *xhttp.RequestCtx) {
	status, err := h.svc.PaymentStatus(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeFailure(ctx, 502, "payment network unavailable")
		return
	}
	writeSuccess(ctx, 200, status)
}
