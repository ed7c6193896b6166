package services

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
)

type MockDeviceRepository struct {
	mock.Mock
}

func (m *MockDeviceRepository) Create(ctx context.Context, device *model.Device) (*model.Device, error) {
	args := m.Called(ctx, device)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) Update(ctx context.Context, deviceID string, p model.DeviceUpdateRequest) (*model.Device, error) {
	args := m.Called(ctx, deviceID, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Device), args.Error(1)
}

func (m *MockDeviceRepository) List(ctx context.Context, f model.DeviceFilter) ([]*model.Device, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Device), args.Get(1).(int64), args.Error(2)
}

func (m *MockDeviceRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockChemicalRepository struct {
	mock.Mock
}

func (m *MockChemicalRepository) Create(ctx context.Context, chem *model.Chemical) (*model.Chemical, error) {
	args := m.Called(ctx, chem)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chemical), args.Error(1)
}

func (m *MockChemicalRepository) FindByID(ctx context.Context, id int64) (*model.Chemical, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chemical), args.Error(1)
}

func (m *MockChemicalRepository) FindByDeviceAndTank(ctx context.Context, deviceID string, tankNumber int) (*model.Chemical, error) {
	args := m.Called(ctx, deviceID, tankNumber)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chemical), args.Error(1)
}

func (m *MockChemicalRepository) ListByDevice(ctx context.Context, deviceID string) ([]*model.Chemical, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*model.Chemical), args.Error(1)
}

func (m *MockChemicalRepository) Upsert(ctx context.Context, p model.ChemicalUpsertRequest) (*model.Chemical, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Chemical), args.Error(1)
}

type MockFlowStateRepository struct {
	mock.Mock
}

func (m *MockFlowStateRepository) Create(ctx context.Context, fs *model.FlowState) (*model.FlowState, error) {
	args := m.Called(ctx, fs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FlowState), args.Error(1)
}

func (m *MockFlowStateRepository) FindBySessionID(ctx context.Context, sessionID string) (*model.FlowState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FlowState), args.Error(1)
}

func (m *MockFlowStateRepository) FindBySessionIDForUpdate(ctx context.Context, sessionID string) (*model.FlowState, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FlowState), args.Error(1)
}

func (m *MockFlowStateRepository) FindAwaitingPayment(ctx context.Context, txnID string) (*model.FlowState, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FlowState), args.Error(1)
}

func (m *MockFlowStateRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*model.FlowState, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.FlowState), args.Error(1)
}

func (m *MockFlowStateRepository) AttachPayment(ctx context.Context, sessionID, txnID string) error {
	args := m.Called(ctx, sessionID, txnID)
	return args.Error(0)
}

func (m *MockFlowStateRepository) TransitionStage(ctx context.Context, sessionID string, from, to model.Stage) error {
	args := m.Called(ctx, sessionID, from, to)
	return args.Error(0)
}

func (m *MockFlowStateRepository) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	args := m.Called(ctx, fn)
	if args.Error(0) != nil {
		return args.Error(0)
	}
	return fn(ctx)
}

type MockTransactionRepository struct {
	mock.Mock
}

func (m *MockTransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	args := m.Called(ctx, txn)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) FindByTxnID(ctx context.Context, txnID string) (*model.Transaction, error) {
	args := m.Called(ctx, txnID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Transaction), args.Error(1)
}

func (m *MockTransactionRepository) MarkDispensed(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTransactionRepository) ListByDevice(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.Transaction), args.Get(1).(int64), args.Error(2)
}

type MockBalanceRepository struct {
	mock.Mock
}

func (m *MockBalanceRepository) Create(ctx context.Context, deviceID string, initial float64) (*model.Balance, error) {
	args := m.Called(ctx, deviceID, initial)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Balance), args.Error(1)
}

func (m *MockBalanceRepository) Get(ctx context.Context, deviceID string) (*model.Balance, error) {
	args := m.Called(ctx, deviceID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Balance), args.Error(1)
}

func (m *MockBalanceRepository) Credit(ctx context.Context, deviceID string, amount float64) error {
	args := m.Called(ctx, deviceID, amount)
	return args.Error(0)
}

func (m *MockBalanceRepository) Debit(ctx context.Context, deviceID string, amount float64) error {
	args := m.Called(ctx, deviceID, amount)
	return args.Error(0)
}

type MockDispensingRepository struct {
	mock.Mock
}

func (m *MockDispensingRepository) Create(ctx context.Context, op *model.DispensingOperation) (*model.DispensingOperation, error) {
	args := m.Called(ctx, op)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.DispensingOperation), args.Error(1)
}

func (m *MockDispensingRepository) ListByDevice(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error) {
	args := m.Called(ctx, f)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*model.DispensingOperation), args.Get(1).(int64), args.Error(2)
}
