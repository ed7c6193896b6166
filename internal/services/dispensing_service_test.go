package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
)

type dispensingMocks struct {
	deviceRepo      *MockDeviceRepository
	chemicalRepo    *MockChemicalRepository
	flowRepo        *MockFlowStateRepository
	transactionRepo *MockTransactionRepository
	dispensingRepo  *MockDispensingRepository
}

func newDispensingService() (*DispensingService, *dispensingMocks) {
	deps := &dispensingMocks{
		deviceRepo:      new(MockDeviceRepository),
		chemicalRepo:    new(MockChemicalRepository),
		flowRepo:        new(MockFlowStateRepository),
		transactionRepo: new(MockTransactionRepository),
		dispensingRepo:  new(MockDispensingRepository),
	}
	service := NewDispensingService(deps.deviceRepo, deps.chemicalRepo, deps.flowRepo, deps.transactionRepo, deps.dispensingRepo)
	return service, deps
}

func TestDispensingService_Calculate(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
	deps.chemicalRepo.On("FindByDeviceAndTank", ctx, "DEVICE-001", 1).
		Return(&model.Chemical{ID: 1, DeviceID: "DEVICE-001", TankNumber: 1, Name: "Test Chemical", Price: 100}, nil)
	deps.flowRepo.On("Create", ctx, mock.AnythingOfType("*model.FlowState")).
		Return(&model.FlowState{}, nil)

	calc, err := service.Calculate(ctx, model.CalculateRequest{DeviceID: "DEVICE-001", TankNumber: 1, Volume: 500})
	require.NoError(t, err)
	assert.Equal(t, float64(50), calc.TotalCost)
	assert.Equal(t, "Test Chemical", calc.ChemicalName)
	assert.NotEmpty(t, calc.SessionID)

	created := deps.flowRepo.Calls[0].Arguments.Get(1).(*model.FlowState)
	assert.Equal(t, model.StageCalculated, created.Stage)
	assert.Equal(t, float64(50), created.Amount)
}

func TestDispensingService_Calculate_RoundsToCents(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
	deps.chemicalRepo.On("FindByDeviceAndTank", ctx, "DEVICE-001", 2).
		Return(&model.Chemical{ID: 2, TankNumber: 2, Name: "Acid", Price: 99.99}, nil)
	deps.flowRepo.On("Create", ctx, mock.AnythingOfType("*model.FlowState")).
		Return(&model.FlowState{}, nil)

	calc, err := service.Calculate(ctx, model.CalculateRequest{DeviceID: "DEVICE-001", TankNumber: 2, Volume: 333})
	require.NoError(t, err)
	// 99.99 * 0.333 = 33.29667
	assert.Equal(t, 33.3, calc.TotalCost)
}

func TestDispensingService_Calculate_InvalidVolume(t *testing.T) {
	service, deps := newDispensingService()

	_, err := service.Calculate(context.Background(), model.CalculateRequest{DeviceID: "DEVICE-001", TankNumber: 1, Volume: 0})
	assert.Error(t, err)
	deps.flowRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDispensingService_Calculate_UnknownDevice(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "GHOST").Return(nil, repository.ErrDeviceNotFound)

	_, err := service.Calculate(ctx, model.CalculateRequest{DeviceID: "GHOST", TankNumber: 1, Volume: 500})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestDispensingService_Status_ProjectsStage(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	fs := awaitingSession()
	fs.Stage = model.StageCalculated
	fs.TransactionID = ""

	deps.flowRepo.On("FindBySessionID", ctx, "session-1").Return(fs, nil)

	status, err := service.Status(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "calculated", status.Stage)
	assert.Equal(t, "ready_for_payment", status.Status)
	assert.False(t, status.Dispensed)
}

func TestDispensingService_Dispense(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	fs := awaitingSession()
	fs.Stage = model.StagePaymentCompleted

	deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	deps.flowRepo.On("FindBySessionIDForUpdate", ctx, "session-1").Return(fs, nil)
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-100").
		Return(&model.Transaction{ID: 7, TxnID: "TXN-100", DeviceID: "DEVICE-001", Amount: 50}, nil)
	deps.chemicalRepo.On("FindByID", ctx, int64(1)).
		Return(&model.Chemical{ID: 1, Name: "Test Chemical", Price: 100}, nil)
	deps.dispensingRepo.On("Create", ctx, mock.AnythingOfType("*model.DispensingOperation")).
		Return(&model.DispensingOperation{ID: 1, DeviceID: "DEVICE-001", Volume: 500, TotalCost: 50, ReceiptNumber: "R-DEVICE-001-1"}, nil)
	deps.transactionRepo.On("MarkDispensed", ctx, int64(7)).Return(nil)
	deps.flowRepo.On("TransitionStage", ctx, "session-1", model.StagePaymentCompleted, model.StageCompleted).Return(nil)

	op, err := service.Dispense(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, float64(500), op.Volume)
	assert.Equal(t, float64(50), op.TotalCost)
	assert.NotEmpty(t, op.ReceiptNumber)

	created := deps.dispensingRepo.Calls[0].Arguments.Get(1).(*model.DispensingOperation)
	assert.Equal(t, "Test Chemical", created.ChemicalName)
	assert.Contains(t, created.ReceiptNumber, "R-DEVICE-001-")
}

func TestDispensingService_Dispense_WrongStage(t *testing.T) {
	for _, stage := range []model.Stage{model.StageCalculated, model.StageAwaitingPayment, model.StageCompleted} {
		t.Run(string(stage), func(t *testing.T) {
			service, deps := newDispensingService()
			ctx := context.Background()

			fs := awaitingSession()
			fs.Stage = stage

			deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
			deps.flowRepo.On("FindBySessionIDForUpdate", ctx, "session-1").Return(fs, nil)

			_, err := service.Dispense(ctx, "session-1")
			assert.ErrorIs(t, err, ErrInvalidStage)
			deps.dispensingRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			deps.transactionRepo.AssertNotCalled(t, "MarkDispensed", mock.Anything, mock.Anything)
		})
	}
}

func TestDispensingService_Dispense_AlreadyDispensed(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	fs := awaitingSession()
	fs.Stage = model.StagePaymentCompleted

	deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	deps.flowRepo.On("FindBySessionIDForUpdate", ctx, "session-1").Return(fs, nil)
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-100").
		Return(&model.Transaction{ID: 7, TxnID: "TXN-100", Dispensed: true}, nil)

	_, err := service.Dispense(ctx, "session-1")
	assert.ErrorIs(t, err, ErrAlreadyDispensed)
	deps.dispensingRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestDispensingService_History_UnknownDevice(t *testing.T) {
	service, deps := newDispensingService()
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "GHOST").Return(nil, repository.ErrDeviceNotFound)

	_, _, err := service.History(ctx, model.DispensingFilter{DeviceID: "GHOST"})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}
