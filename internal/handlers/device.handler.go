package handlers

import (
	"context"
	"strconv"
	"time"

	"github.com/fasthttp/router"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
	xhttp "github.com/ecotrend/dispensing-gateway/pkg/http"
)

type DeviceService interface {
	Register(ctx context.Context, p model.DeviceRegisterRequest) (*model.Device, error)
	Get(ctx context.Context, deviceID string) (*model.Device, error)
	Update(ctx context.Context, deviceID string, p model.DeviceUpdateRequest) (*model.Device, error)
	List(ctx context.Context, f model.DeviceFilter) ([]*model.Device, int64, error)
	Chemicals(ctx context.Context, deviceID string) ([]*model.Chemical, error)
	UpsertChemical(ctx context.Context, p model.ChemicalUpsertRequest) (*model.Chemical, error)
	SyncTelemetry(ctx context.Context, deviceID string) (*telemetry.Snapshot, error)
}

type DeviceHandler struct {
	svc DeviceService
}

func NewDeviceHandler(svc DeviceService) *DeviceHandler {
	return &DeviceHandler{svc: svc}
}

func RegisterDeviceRoutes(e *router.Group, h *DeviceHandler) {
	e.POST("/devices/register", h.Register)
	e.GET("/devices", h.List)
	e.GET("/devices/{deviceId}", h.Get)
	e.PUT("/devices/{deviceId}", h.Update)
	e.POST("/devices/{deviceId}/sync", h.Sync)
	e.GET("/devices/{deviceId}/chemicals", h.Chemicals)
	e.PUT("/devices/{deviceId}/chemicals/{tankNumber}", h.UpsertChemical)
}

type registerDeviceRequest struct {
	DeviceID string `json:"device_id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type updateDeviceRequest struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

type upsertChemicalRequest struct {
	Name              string     `json:"name"`
	Price             float64    `json:"price"`
	BatchNumber       string     `json:"batch_number"`
	ManufacturingDate *time.Time `json:"manufacturing_date"`
	ExpirationDate    *time.Time `json:"expiration_date"`
}

type deviceListResponse struct {
	Items []*model.Device `json:"items"`
	Total int64           `json:"total"`
}

func (h *DeviceHandler) Register(ctx *xhttp.RequestCtx) {
	var req registerDeviceRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	device, err := h.svc.Register(ctx, model.DeviceRegisterRequest{
		DeviceID: req.DeviceID,
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 201, device)
}

func (h *DeviceHandler) List(ctx *xhttp.RequestCtx) {
	var f model.DeviceFilter
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

	items, total, err := h.svc.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, deviceListResponse{Items: items, Total: total})
}

func (h *DeviceHandler) Get(ctx *xhttp.RequestCtx) {
	device, err := h.svc.Get(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, device)
}

func (h *DeviceHandler) Update(ctx *xhttp.RequestCtx) {
	var req updateDeviceRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	device, err := h.svc.Update(ctx, param(ctx, "deviceId"), model.DeviceUpdateRequest{
		Name:     req.Name,
		Location: req.Location,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, device)
}

func (h *DeviceHandler) Sync(ctx *xhttp.RequestCtx) {
	snapshot, err := h.svc.SyncTelemetry(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, snapshot)
}

func (h *DeviceHandler) Chemicals(ctx *xhttp.RequestCtx) {
	chemicals, err := h.svc.Chemicals(ctx, param(ctx, "deviceId"))
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, chemicals)
}

func (h *DeviceHandler) UpsertChemical(ctx *xhttp.RequestCtx) {
	tank, err := strconv.Atoi(param(ctx, "tankNumber"))
	if err != nil {
		writeFailure(ctx, 400, "invalid tank number")
		return
	}

	var req upsertChemicalRequest
	if err := readJSON(ctx, &req); err != nil {
		writeFailure(ctx, 400, "invalid JSON: "+err.Error())
		return
	}

	chem, err := h.svc.UpsertChemical(ctx, model.ChemicalUpsertRequest{
		DeviceID:          param(ctx, "deviceId"),
		TankNumber:        tank,
		Name:              req.Name,
		Price:             req.Price,
		BatchNumber:       req.BatchNumber,
		ManufacturingDate: req.ManufacturingDate,
		ExpirationDate:    req.ExpirationDate,
	})
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeSuccess(ctx, 200, chem)
}
