package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/services"
)

type MockDispensingService struct {
	mock.Mock
}

func (m *MockDispensingService) Calculate(ctx context.Context, p model.CalculateRequest) (*services.Calculation, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.Calculation), args.Error(1)
}

func (m *MockDispensingService) Status(ctx context.Context, sessionID string) (*services.SessionStatus, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionStatus), args.Error(1)
}

func (m *MockDispensingService) ActiveSession(ctx context.Context, deviceID string) (*services.SessionStatus, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SessionStatus), args.Error(1)
}

func (m *MockDispensingService) Dispense(ctx context.Context, sessionID string) (*model.DispensingOperation, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DispensingOperation), args.Error(1)
}

func (m *MockDispensingService) History(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.DispensingOperation), args.Get(1).(int64), args.Error(2)
}

func TestDispensingHandler_Calculate(t *testing.T) {
	t.Run("successful calculation", func(t *testing.T) {
		svc := new(MockDispensingService)
		handler := NewDispensingHandler(svc)

		body, _ := json.Marshal(calculateRequest{DeviceID: "DEVICE-001", TankNumber: 1, Volume: 500})

		svc.On("Calculate", mock.Anything, model.CalculateRequest{DeviceID: "DEVICE-001", TankNumber: 1, Volume: 500}).
			Return(&services.Calculation{SessionID: "session-1", DeviceID: "DEVICE-001", TankNumber: 1, Volume: 500, TotalCost: 50}, nil)

		ctx := setupTestContext("POST", "/api/v1/dispensing/calculate", body)
		handler.Calculate(ctx)

		assert.Equal(t, 200, ctx.Response.StatusCode())

		var resp envelope
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.True(t, resp.Success)
	})

	t.Run("validation failure maps to 400", func(t *testing.T) {
		svc := new(MockDispensingService)
		handler := NewDispensingHandler(svc)

		body, _ := json.Marshal(calculateRequest{DeviceID: "DEVICE-001", TankNumber: 1, Volume: 0})

		svc.On("Calculate", mock.Anything, mock.AnythingOfType("model.CalculateRequest")).
			Return(nil, model.CalculateRequest{DeviceID: "DEVICE-001", TankNumber: 1}.Validate())

		ctx := setupTestContext("POST", "/api/v1/dispensing/calculate", body)
		handler.Calculate(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())
	})

	t.Run("wrong stage maps to 400", func(t *testing.T) {
		svc := new(MockDispensingService)
		handler := NewDispensingHandler(svc)

		svc.On("Dispense", mock.Anything, "session-1").Return(nil, services.ErrInvalidStage)

		ctx := setupTestContext("POST", "/api/v1/dispensing/session-1/dispense", nil)
		ctx.SetUserValue("sessionId", "session-1")
		handler.Dispense(ctx)

		assert.Equal(t, 400, ctx.Response.StatusCode())

		var resp envelope
		require.NoError(t, json.Unmarshal(ctx.Response.Body(), &resp))
		assert.False(t, resp.Success)
	})

	t.Run("unknown session maps to 404", func(t *testing.T) {
		svc := new(MockDispensingService)
		handler := NewDispensingHandler(svc)

		svc.On("Status", mock.Anything, "missing").Return(nil, services.ErrSessionNotFound)

		ctx := setupTestContext("GET", "/api/v1/dispensing/status/missing", nil)
		ctx.SetUserValue("sessionId", "missing")
		handler.Status(ctx)

		assert.Equal(t, 404, ctx.Response.StatusCode())
	})
}
