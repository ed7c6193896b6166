package e2e

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotrend/dispensing-gateway/internal/commands"
	"github.com/ecotrend/dispensing-gateway/internal/kaspi"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
	"github.com/ecotrend/dispensing-gateway/test/fixtures"
	"github.com/ecotrend/dispensing-gateway/test/helpers"
)

type TestEnvironment struct {
	DB                *pg.DB
	Redis             *miniredis.Miniredis
	RedisAdapter      redis.RedisAdapter
	Bridge            *telemetry.Bridge
	Queue             *commands.Queue
	DeviceRepo        *repository.DeviceRepository
	ChemicalRepo      *repository.ChemicalRepository
	FlowRepo          *repository.FlowStateRepository
	TransactionRepo   *repository.TransactionRepository
	BalanceRepo       *repository.BalanceRepository
	DispensingRepo    *repository.DispensingRepository
	DeviceService     *services.DeviceService
	DispensingService *services.DispensingService
	BalanceService    *services.BalanceService
	KaspiService      *services.KaspiService
}

func setupE2EEnvironment(t *testing.T, mode model.PaymentMode) *TestEnvironment {
	pgDB := helpers.SetupTestDB(t)
	mr, redisAdapter := helpers.SetupTestRedis(t)

	bridge := telemetry.NewBridge(redisAdapter)

	q, err := commands.NewQueue(redisAdapter, commands.QueueConfig{
		Name:              "test:dispense",
		ConsumerGroup:     "test-agents",
		ConsumerName:      "test-agent",
		MaxRetries:        3,
		VisibilityTimeout: 5 * time.Second,
		PollInterval:      100 * time.Millisecond,
		BatchSize:         10,
		MaxLen:            1000,
		EnableDLQ:         true,
	})
	require.NoError(t, err)

	deviceRepo := repository.NewDeviceRepository(pgDB)
	chemicalRepo := repository.NewChemicalRepository(pgDB)
	flowRepo := repository.NewFlowStateRepository(pgDB)
	transactionRepo := repository.NewTransactionRepository(pgDB)
	balanceRepo := repository.NewBalanceRepository(pgDB)
	dispensingRepo := repository.NewDispensingRepository(pgDB)

	kaspiClient := kaspi.NewClient(kaspi.ClientConfig{
		QRBaseURL:   "https://pay.kaspi.kz/payment",
		ServiceName: "EcoTrend",
	})

	deviceService := services.NewDeviceService(deviceRepo, chemicalRepo, balanceRepo, bridge)
	dispensingService := services.NewDispensingService(deviceRepo, chemicalRepo, flowRepo, transactionRepo, dispensingRepo)
	balanceService := services.NewBalanceService(balanceRepo, transactionRepo, bridge)
	kaspiService := services.NewKaspiService(
		deviceRepo, chemicalRepo, flowRepo, transactionRepo, balanceRepo,
		bridge, q, bridge, kaspiClient, mode,
	)

	return &TestEnvironment{
		DB:                pgDB,
		Redis:             mr,
		RedisAdapter:      redisAdapter,
		Bridge:            bridge,
		Queue:             q,
		DeviceRepo:        deviceRepo,
		ChemicalRepo:      chemicalRepo,
		FlowRepo:          flowRepo,
		TransactionRepo:   transactionRepo,
		BalanceRepo:       balanceRepo,
		DispensingRepo:    dispensingRepo,
		DeviceService:     deviceService,
		DispensingService: dispensingService,
		BalanceService:    balanceService,
		KaspiService:      kaspiService,
	}
}

func (env *TestEnvironment) Cleanup() {
	// Stop queue first (gracefully drain commands)
	if env.Queue != nil {
		_ = env.Queue.Stop(5 * time.Second)
	}
	// Give time for any in-flight operations to complete
	time.Sleep(100 * time.Millisecond)
	// Then close Redis
	if env.Redis != nil {
		env.Redis.Close()
	}
}

func registerDevice(t *testing.T, env *TestEnvironment, deviceID string) {
	_, err := env.DeviceService.Register(context.Background(), model.DeviceRegisterRequest{
		DeviceID: deviceID,
		Name:     "Car Wash " + deviceID,
		Location: "Test Lot",
	})
	require.NoError(t, err)
}

func TestE2E_DirectPaymentFlow(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-001")

	// Registration seeds seven default tanks and a zero balance
	chemicals, err := env.DeviceService.Chemicals(ctx, "DEVICE-001")
	require.NoError(t, err)
	require.Len(t, chemicals, 7)

	// Calculate: default price 100/l, 500ml pour
	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-001",
		TankNumber: 2,
		Volume:     500,
	})
	require.NoError(t, err)
	assert.Equal(t, 50.0, calc.TotalCost)
	require.NotEmpty(t, calc.SessionID)

	// QR generation moves the session to awaiting_payment and mints the txn ref
	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)
	assert.NotEmpty(t, qr.TxnID)
	assert.Contains(t, qr.QRCodeURL, "account=DEVICE-001")
	assert.Contains(t, qr.QRCodeURL, "amount=50.00")

	// Network probes eligibility
	checkResp := env.KaspiService.Check(ctx, fixtures.CheckRequestFor(qr.TxnID, "DEVICE-001", 50))
	require.Equal(t, model.ResultSuccess, checkResp.Result)

	// Network applies the payment
	payResp := env.KaspiService.Pay(ctx, fixtures.PayRequestFor(qr.TxnID, "DEVICE-001", 50))
	require.Equal(t, model.ResultSuccess, payResp.Result)
	assert.NotEmpty(t, payResp.PrvTxn)
	assert.Equal(t, "50.00", payResp.Sum)

	// The dispense command landed on the stream after commit
	stats, err := env.Queue.GetStats()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.TotalCommands, int64(1))

	// Session is ready to pour
	status, err := env.DispensingService.Status(ctx, calc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(model.StagePaymentCompleted), status.Stage)

	// Dispense settles the session
	op, err := env.DispensingService.Dispense(ctx, calc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "DEVICE-001", op.DeviceID)
	assert.Equal(t, 50.0, op.TotalCost)
	assert.Contains(t, op.ReceiptNumber, "R-DEVICE-001-")

	status, err = env.DispensingService.Status(ctx, calc.SessionID)
	require.NoError(t, err)
	assert.Equal(t, string(model.StageCompleted), status.Stage)

	// History shows the pour
	history, total, err := env.DispensingService.History(ctx, fixtures.DispensingFilterFor("DEVICE-001"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)
	require.Len(t, history, 1)
	assert.Equal(t, op.ReceiptNumber, history[0].ReceiptNumber)
}

func TestE2E_DuplicatePayIsReplayed(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-002")

	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-002",
		TankNumber: 1,
		Volume:     250,
	})
	require.NoError(t, err)

	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)

	pay := model.PayRequest{
		TxnID:   qr.TxnID,
		TxnDate: "20260831120000",
		Account: "DEVICE-002",
		Sum:     calc.TotalCost,
	}

	first := env.KaspiService.Pay(ctx, pay)
	require.Equal(t, model.ResultSuccess, first.Result)

	// Replay mirrors the stored outcome without touching state again
	second := env.KaspiService.Pay(ctx, pay)
	require.Equal(t, model.ResultSuccess, second.Result)
	assert.Equal(t, first.PrvTxn, second.PrvTxn)
	assert.Equal(t, "Transaction already processed", second.Comment)

	var count int64
	env.DB.Read(ctx).Model(&repository.TransactionEntity{}).Where("txn_id = ?", qr.TxnID).Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestE2E_ReplayAfterDeviceDeactivated(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-009")

	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-009",
		TankNumber: 1,
		Volume:     250,
	})
	require.NoError(t, err)

	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)

	pay := fixtures.PayRequestFor(qr.TxnID, "DEVICE-009", calc.TotalCost)
	first := env.KaspiService.Pay(ctx, pay)
	require.Equal(t, model.ResultSuccess, first.Result)
	require.NotEmpty(t, first.PrvTxn)

	// The device going dark after settlement must not turn a redelivery of
	// the same txn into a failure; the money already moved.
	env.Bridge.SetStatus("DEVICE-009", telemetry.StatusInactive)

	second := env.KaspiService.Pay(ctx, pay)
	assert.Equal(t, model.ResultSuccess, second.Result)
	assert.Equal(t, first.PrvTxn, second.PrvTxn)
	assert.Equal(t, first.Sum, second.Sum)

	// A fresh payment against the inactive device still declines
	calc2, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-009",
		TankNumber: 1,
		Volume:     250,
	})
	require.NoError(t, err)
	qr2, err := env.KaspiService.GenerateQR(ctx, calc2.SessionID)
	require.NoError(t, err)
	fresh := env.KaspiService.Pay(ctx, fixtures.PayRequestFor(qr2.TxnID, "DEVICE-009", calc2.TotalCost))
	assert.Equal(t, model.ResultFailure, fresh.Result)
}

func TestE2E_CheckRejectsAmountMismatch(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-003")

	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-003",
		TankNumber: 3,
		Volume:     1000,
	})
	require.NoError(t, err)

	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)

	resp := env.KaspiService.Check(ctx, model.CheckRequest{
		TxnID:   qr.TxnID,
		Account: "DEVICE-003",
		Sum:     calc.TotalCost + 1,
	})
	assert.Equal(t, model.ResultFailure, resp.Result)
	assert.Equal(t, "Amount mismatch", resp.Comment)

	// Inside tolerance still passes
	resp = env.KaspiService.Check(ctx, model.CheckRequest{
		TxnID:   qr.TxnID,
		Account: "DEVICE-003",
		Sum:     calc.TotalCost + 0.005,
	})
	assert.Equal(t, model.ResultSuccess, resp.Result)
}

func TestE2E_CheckUnknownDevice(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	resp := env.KaspiService.Check(context.Background(), model.CheckRequest{
		TxnID:   "123456",
		Account: "GHOST",
		Sum:     10,
	})
	assert.Equal(t, model.ResultDeviceNotFound, resp.Result)
	assert.Equal(t, "Device not found", resp.Comment)
}

func TestE2E_InactiveDeviceDeclined(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-004")
	env.Bridge.SetStatus("DEVICE-004", telemetry.StatusInactive)

	resp := env.KaspiService.Check(ctx, model.CheckRequest{
		TxnID:   "123456",
		Account: "DEVICE-004",
		Sum:     10,
	})
	assert.Equal(t, model.ResultFailure, resp.Result)
	assert.Equal(t, "Device is not active", resp.Comment)
}

func TestE2E_DispenseTwiceRejected(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-005")

	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-005",
		TankNumber: 1,
		Volume:     500,
	})
	require.NoError(t, err)

	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)

	payResp := env.KaspiService.Pay(ctx, model.PayRequest{
		TxnID:   qr.TxnID,
		TxnDate: "20260831120000",
		Account: "DEVICE-005",
		Sum:     calc.TotalCost,
	})
	require.Equal(t, model.ResultSuccess, payResp.Result)

	_, err = env.DispensingService.Dispense(ctx, calc.SessionID)
	require.NoError(t, err)

	_, err = env.DispensingService.Dispense(ctx, calc.SessionID)
	assert.ErrorIs(t, err, services.ErrInvalidStage)

	var count int64
	env.DB.Read(ctx).Model(&repository.DispensingOperationEntity{}).Where("device_id = ?", "DEVICE-005").Count(&count)
	assert.Equal(t, int64(1), count)
}

func TestE2E_BalanceModeCreditsAndMirrors(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeBalance)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-006")

	payResp := env.KaspiService.Pay(ctx, model.PayRequest{
		TxnID:   "777000111",
		TxnDate: "20260831120000",
		Account: "DEVICE-006",
		Sum:     300,
	})
	require.Equal(t, model.ResultSuccess, payResp.Result)

	bal, err := env.BalanceService.Get(ctx, "DEVICE-006")
	require.NoError(t, err)
	assert.Equal(t, 300.0, bal.Balance)

	// The settled balance is mirrored into the realtime store
	snap := env.Bridge.Fetch("DEVICE-006")
	assert.Equal(t, 300.0, snap.Balance)

	// Spending decreases and re-mirrors
	bal, err = env.BalanceService.Decrease(ctx, "DEVICE-006", 120)
	require.NoError(t, err)
	assert.Equal(t, 180.0, bal.Balance)

	snap = env.Bridge.Fetch("DEVICE-006")
	assert.Equal(t, 180.0, snap.Balance)
}

func TestE2E_DuplicateDeviceRegistration(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-007")

	_, err := env.DeviceService.Register(ctx, model.DeviceRegisterRequest{
		DeviceID: "DEVICE-007",
		Name:     "Second registration",
	})
	assert.ErrorIs(t, err, services.ErrDeviceExists)

	// The original device and its tanks are untouched
	chemicals, err := env.DeviceService.Chemicals(ctx, "DEVICE-007")
	require.NoError(t, err)
	assert.Len(t, chemicals, 7)
}

func TestE2E_CommandConsumption(t *testing.T) {
	env := setupE2EEnvironment(t, model.PaymentModeDirect)
	defer env.Cleanup()

	ctx := context.Background()
	registerDevice(t, env, "DEVICE-008")

	calc, err := env.DispensingService.Calculate(ctx, model.CalculateRequest{
		DeviceID:   "DEVICE-008",
		TankNumber: 4,
		Volume:     750,
	})
	require.NoError(t, err)

	qr, err := env.KaspiService.GenerateQR(ctx, calc.SessionID)
	require.NoError(t, err)

	received := make(chan model.DispenseCommand, 1)
	handler := func(ctx context.Context, d *commands.Delivery) error {
		received <- d.Command
		return nil
	}
	require.NoError(t, env.Queue.Consume(handler))

	payResp := env.KaspiService.Pay(ctx, model.PayRequest{
		TxnID:   qr.TxnID,
		TxnDate: "20260831120000",
		Account: "DEVICE-008",
		Sum:     calc.TotalCost,
	})
	require.Equal(t, model.ResultSuccess, payResp.Result)

	select {
	case cmd := <-received:
		assert.Equal(t, calc.SessionID, cmd.SessionID)
		assert.Equal(t, "DEVICE-008", cmd.DeviceID)
		assert.Equal(t, 4, cmd.TankNumber)
		assert.Equal(t, 750.0, cmd.Volume)
	case <-time.After(3 * time.Second):
		t.Fatal("dispense command not consumed within timeout")
	}
}
