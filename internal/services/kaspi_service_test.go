package services

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ecotrend/dispensing-gateway/internal/kaspi"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
)

func newTestKaspiService(mode model.PaymentMode, deps *kaspiMocks) *KaspiService {
	client := kaspi.NewClient(kaspi.ClientConfig{
		QRBaseURL:   "https://pay.kaspi.kz/pay",
		ServiceName: "EcoTrend",
	})
	return NewKaspiService(
		deps.deviceRepo,
		deps.chemicalRepo,
		deps.flowRepo,
		deps.transactionRepo,
		deps.balanceRepo,
		deps.status,
		deps.publisher,
		nil,
		client,
		mode,
	)
}

type kaspiMocks struct {
	deviceRepo      *MockDeviceRepository
	chemicalRepo    *MockChemicalRepository
	flowRepo        *MockFlowStateRepository
	transactionRepo *MockTransactionRepository
	balanceRepo     *MockBalanceRepository
	status          *stubStatusChecker
	publisher       *stubPublisher
}

func newKaspiMocks() *kaspiMocks {
	return &kaspiMocks{
		deviceRepo:      new(MockDeviceRepository),
		chemicalRepo:    new(MockChemicalRepository),
		flowRepo:        new(MockFlowStateRepository),
		transactionRepo: new(MockTransactionRepository),
		balanceRepo:     new(MockBalanceRepository),
		status:          &stubStatusChecker{active: true},
		publisher:       &stubPublisher{},
	}
}

type stubStatusChecker struct {
	active bool
}

func (s *stubStatusChecker) IsActive(deviceID string) bool { return s.active }

type stubPublisher struct {
	published []model.DispenseCommand
	err       error
}

func (s *stubPublisher) Publish(ctx context.Context, cmd model.DispenseCommand) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	s.published = append(s.published, cmd)
	return "1-0", nil
}

func awaitingSession() *model.FlowState {
	return &model.FlowState{
		ID:            1,
		SessionID:     "session-1",
		DeviceID:      "DEVICE-001",
		Stage:         model.StageAwaitingPayment,
		ChemicalID:    1,
		TankNumber:    1,
		Volume:        500,
		Amount:        50,
		TransactionID: "TXN-100",
	}
}

func deviceFixture() *model.Device {
	return &model.Device{ID: 1, DeviceID: "DEVICE-001", Name: "Test Device"}
}

func chemicalsFixture() []*model.Chemical {
	return []*model.Chemical{
		{ID: 1, DeviceID: "DEVICE-001", TankNumber: 1, Name: "Test Chemical", Price: 100},
	}
}

func TestKaspiService_GenerateQR(t *testing.T) {
	deps := newKaspiMocks()
	service := newTestKaspiService(model.PaymentModeDirect, deps)
	ctx := context.Background()

	fs := awaitingSession()
	fs.Stage = model.StageCalculated
	fs.TransactionID = ""

	deps.flowRepo.On("FindBySessionID", ctx, "session-1").Return(fs, nil)
	deps.flowRepo.On("AttachPayment", ctx, "session-1", mock.AnythingOfType("string")).Return(nil)

	qr, err := service.GenerateQR(ctx, "session-1")
	require.NoError(t, err)
	assert.Equal(t, "session-1", qr.SessionID)
	assert.Equal(t, "DEVICE-001", qr.DeviceID)
	assert.Equal(t, float64(50), qr.Amount)
	assert.NotEmpty(t, qr.TxnID)
	assert.Contains(t, qr.QRCodeURL, "account=DEVICE-001")
	assert.Contains(t, qr.QRCodeURL, "amount=50.00")
}

func TestKaspiService_GenerateQR_WrongStage(t *testing.T) {
	deps := newKaspiMocks()
	service := newTestKaspiService(model.PaymentModeDirect, deps)
	ctx := context.Background()

	deps.flowRepo.On("FindBySessionID", ctx, "session-1").Return(awaitingSession(), nil)

	_, err := service.GenerateQR(ctx, "session-1")
	assert.ErrorIs(t, err, ErrInvalidStage)
	deps.flowRepo.AssertNotCalled(t, "AttachPayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestKaspiService_Check_Waterfall(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown device", func(t *testing.T) {
		deps := newKaspiMocks()
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "GHOST").Return(nil, repository.ErrDeviceNotFound)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "GHOST", Sum: 50})
		assert.Equal(t, model.ResultDeviceNotFound, resp.Result)
		assert.Equal(t, "Device not found", resp.Comment)
	})

	t.Run("inactive device", func(t *testing.T) {
		deps := newKaspiMocks()
		deps.status.active = false
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50})
		assert.Equal(t, model.ResultFailure, resp.Result)
		assert.Equal(t, "Device is not active", resp.Comment)
	})

	t.Run("no chemicals", func(t *testing.T) {
		deps := newKaspiMocks()
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
		deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return([]*model.Chemical{}, nil)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50})
		assert.Equal(t, model.ResultFailure, resp.Result)
		assert.Equal(t, "No chemicals available", resp.Comment)
	})

	t.Run("no awaiting session", func(t *testing.T) {
		deps := newKaspiMocks()
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
		deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
		deps.flowRepo.On("FindAwaitingPayment", ctx, "TXN-100").Return(nil, repository.ErrSessionNotFound)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50})
		assert.Equal(t, model.ResultFailure, resp.Result)
	})

	t.Run("amount outside tolerance", func(t *testing.T) {
		deps := newKaspiMocks()
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
		deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
		deps.flowRepo.On("FindAwaitingPayment", ctx, "TXN-100").Return(awaitingSession(), nil)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50.02})
		assert.Equal(t, model.ResultFailure, resp.Result)
		assert.Equal(t, "Amount mismatch", resp.Comment)
	})

	t.Run("amount within tolerance passes", func(t *testing.T) {
		deps := newKaspiMocks()
		service := newTestKaspiService(model.PaymentModeDirect, deps)

		deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
		deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
		deps.flowRepo.On("FindAwaitingPayment", ctx, "TXN-100").Return(awaitingSession(), nil)

		resp := service.Check(ctx, model.CheckRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50.005})
		assert.Equal(t, model.ResultSuccess, resp.Result)
		assert.Equal(t, "Payment check successful", resp.Comment)
		require.NotNil(t, resp.Fields)
		assert.Equal(t, "DEVICE-001", resp.Fields["field1"].Text)
		assert.Equal(t, "1", resp.Fields["field2"].Text)
	})
}

func TestKaspiService_Pay_Direct(t *testing.T) {
	deps := newKaspiMocks()
	service := newTestKaspiService(model.PaymentModeDirect, deps)
	ctx := context.Background()

	fs := awaitingSession()

	deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
	deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
	deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-100").Return(nil, repository.ErrTransactionNotFound)
	deps.flowRepo.On("FindAwaitingPayment", ctx, "TXN-100").Return(fs, nil)
	deps.transactionRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(&model.Transaction{ID: 7, TxnID: "TXN-100", PrvTxnID: "PRV-1", DeviceID: "DEVICE-001", Amount: 50}, nil)
	deps.flowRepo.On("TransitionStage", ctx, "session-1", model.StageAwaitingPayment, model.StagePaymentCompleted).Return(nil)

	resp := service.Pay(ctx, model.PayRequest{TxnID: "TXN-100", TxnDate: "20260413000000", Account: "DEVICE-001", Sum: 50})
	assert.Equal(t, model.ResultSuccess, resp.Result)
	assert.Equal(t, "PRV-1", resp.PrvTxn)
	assert.Equal(t, "50.00", resp.Sum)
	assert.Equal(t, "Payment successful", resp.Comment)

	// Command pushed strictly after the transaction closed.
	require.Len(t, deps.publisher.published, 1)
	assert.Equal(t, "session-1", deps.publisher.published[0].SessionID)
	assert.Equal(t, 1, deps.publisher.published[0].TankNumber)
	assert.Equal(t, float64(500), deps.publisher.published[0].Volume)
}

func TestKaspiService_Pay_ReplayMirrorsStoredOutcome(t *testing.T) {
	deps := newKaspiMocks()
	service := newTestKaspiService(model.PaymentModeDirect, deps)
	ctx := context.Background()

	// Device state after settlement must not matter: the recorded txn wins
	// before any eligibility check runs.
	deps.status.active = false
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-100").
		Return(&model.Transaction{ID: 7, TxnID: "TXN-100", PrvTxnID: "PRV-1", DeviceID: "DEVICE-001", Amount: 50, Status: 0}, nil)

	resp := service.Pay(ctx, model.PayRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50})
	assert.Equal(t, model.ResultSuccess, resp.Result)
	assert.Equal(t, "PRV-1", resp.PrvTxn)
	assert.Equal(t, "50.00", resp.Sum)
	assert.Equal(t, "Transaction already processed", resp.Comment)

	// Replay produces no second mutation and no second dispense command.
	deps.deviceRepo.AssertNotCalled(t, "FindByDeviceID", mock.Anything, mock.Anything)
	deps.chemicalRepo.AssertNotCalled(t, "ListByDevice", mock.Anything, mock.Anything)
	deps.transactionRepo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	deps.flowRepo.AssertNotCalled(t, "TransitionStage", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	assert.Empty(t, deps.publisher.published)
}

func TestKaspiService_Pay_PublisherFailureDoesNotFailPayment(t *testing.T) {
	deps := newKaspiMocks()
	deps.publisher.err = assert.AnError
	service := newTestKaspiService(model.PaymentModeDirect, deps)
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
	deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
	deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-100").Return(nil, repository.ErrTransactionNotFound)
	deps.flowRepo.On("FindAwaitingPayment", ctx, "TXN-100").Return(awaitingSession(), nil)
	deps.transactionRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(&model.Transaction{ID: 7, TxnID: "TXN-100", PrvTxnID: "PRV-1", Amount: 50}, nil)
	deps.flowRepo.On("TransitionStage", ctx, "session-1", model.StageAwaitingPayment, model.StagePaymentCompleted).Return(nil)

	resp := service.Pay(ctx, model.PayRequest{TxnID: "TXN-100", Account: "DEVICE-001", Sum: 50})
	assert.Equal(t, model.ResultSuccess, resp.Result)
}

func TestKaspiService_Pay_BalanceMode(t *testing.T) {
	deps := newKaspiMocks()
	service := newTestKaspiService(model.PaymentModeBalance, deps)
	ctx := context.Background()

	deps.deviceRepo.On("FindByDeviceID", ctx, "DEVICE-001").Return(deviceFixture(), nil)
	deps.chemicalRepo.On("ListByDevice", ctx, "DEVICE-001").Return(chemicalsFixture(), nil)
	deps.flowRepo.On("WithinTransaction", ctx, mock.AnythingOfType("func(context.Context) error")).Return(nil)
	deps.transactionRepo.On("FindByTxnID", ctx, "TXN-200").Return(nil, repository.ErrTransactionNotFound)
	deps.transactionRepo.On("Create", ctx, mock.AnythingOfType("*model.Transaction")).
		Return(&model.Transaction{ID: 8, TxnID: "TXN-200", PrvTxnID: "PRV-2", DeviceID: "DEVICE-001", Amount: 500}, nil)
	deps.balanceRepo.On("Credit", ctx, "DEVICE-001", float64(500)).Return(nil)
	deps.balanceRepo.On("Get", ctx, "DEVICE-001").Return(&model.Balance{DeviceID: "DEVICE-001", Balance: 500}, nil)

	resp := service.Pay(ctx, model.PayRequest{TxnID: "TXN-200", Account: "DEVICE-001", Sum: 500})
	assert.Equal(t, model.ResultSuccess, resp.Result)
	assert.Equal(t, "500.00", resp.Sum)

	deps.balanceRepo.AssertCalled(t, "Credit", ctx, "DEVICE-001", float64(500))
	// No session machinery in legacy mode.
	deps.flowRepo.AssertNotCalled(t, "FindAwaitingPayment", mock.Anything, mock.Anything)
	assert.Empty(t, deps.publisher.published)
}
