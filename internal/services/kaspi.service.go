package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/kaspi"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/prom"
)

// DeviceStatusChecker reports whether a device is accepting payments.
// The production implementation reads the telemetry mirror and treats an
// unreachable mirror as active; tests inject a stub.
type DeviceStatusChecker interface {
	IsActive(deviceID string) bool
}

// CommandPublisher pushes a dispense command toward the physical device.
type CommandPublisher interface {
	Publish(ctx context.Context, cmd model.DispenseCommand) (string, error)
}

// BalanceMirror reflects a settled balance into the telemetry store.
type BalanceMirror interface {
	MirrorBalance(deviceID string, balance float64)
}

type KaspiService struct {
	deviceRepo      DeviceRepository
	chemicalRepo    ChemicalRepository
	flowRepo        FlowStateRepository
	transactionRepo TransactionRepository
	balanceRepo     BalanceRepository
	statusChecker   DeviceStatusChecker
	publisher       CommandPublisher
	mirror          BalanceMirror
	client          *kaspi.Client
	mode            model.PaymentMode
}

func NewKaspiService(
	deviceRepo DeviceRepository,
	chemicalRepo ChemicalRepository,
	flowRepo FlowStateRepository,
	transactionRepo TransactionRepository,
	balanceRepo BalanceRepository,
	statusChecker DeviceStatusChecker,
	publisher CommandPublisher,
	mirror BalanceMirror,
	client *kaspi.Client,
	mode model.PaymentMode,
) *KaspiService {
	if mode != model.PaymentModeBalance {
		mode = model.PaymentModeDirect
	}
	return &KaspiService{
		deviceRepo:      deviceRepo,
		chemicalRepo:    chemicalRepo,
		flowRepo:        flowRepo,
		transactionRepo: transactionRepo,
		balanceRepo:     balanceRepo,
		statusChecker:   statusChecker,
		publisher:       publisher,
		mirror:          mirror,
		client:          client,
		mode:            mode,
	}
}

func (s *KaspiService) Mode() model.PaymentMode { return s.mode }

// QRCode is the payment reference handed to the mobile client.
type QRCode struct {
	SessionID string  `json:"session_id"`
	DeviceID  string  `json:"device_id"`
	Amount    float64 `json:"amount"`
	TxnID     string  `json:"txn_id"`
	QRCodeURL string  `json:"qr_code_url"`
}

// GenerateQR moves a calculated session to awaiting_payment, minting the
// transaction id the network will echo back on check and pay.
func (s *KaspiService) GenerateQR(ctx context.Context, sessionID string) (*QRCode, error) {
	fs, err := s.flowRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	if fs.Stage != model.StageCalculated {
		return nil, ErrInvalidStage
	}

	txnID := newTxnRef()
	if err := s.flowRepo.AttachPayment(ctx, sessionID, txnID); err != nil {
		if errors.Is(err, repository.ErrStageConflict) {
			return nil, ErrInvalidStage
		}
		return nil, fmt.Errorf("attach payment: %w", err)
	}

	return &QRCode{
		SessionID: fs.SessionID,
		DeviceID:  fs.DeviceID,
		Amount:    fs.Amount,
		TxnID:     txnID,
		QRCodeURL: s.client.QRLink(fs.DeviceID, fs.Amount),
	}, nil
}

// Check is the network's read-only eligibility probe. It always produces a
// response; failures travel in the result code.
func (s *KaspiService) Check(ctx context.Context, p model.CheckRequest) *model.PaymentResponse {
	if _, err := s.deviceRepo.FindByDeviceID(ctx, p.Account); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return failResponse(p.TxnID, model.ResultDeviceNotFound, "Device not found")
		}
		logger.Error("Check payment device lookup failed", "txn_id", p.TxnID, "error", err)
		return failResponse(p.TxnID, model.ResultFailure, "Internal server error")
	}

	if !s.statusChecker.IsActive(p.Account) {
		return failResponse(p.TxnID, model.ResultFailure, "Device is not active")
	}

	chemicals, err := s.chemicalRepo.ListByDevice(ctx, p.Account)
	if err != nil {
		logger.Error("Check payment chemical lookup failed", "txn_id", p.TxnID, "error", err)
		return failResponse(p.TxnID, model.ResultFailure, "Internal server error")
	}
	if len(chemicals) == 0 {
		return failResponse(p.TxnID, model.ResultFailure, "No chemicals available")
	}

	if s.mode == model.PaymentModeDirect {
		fs, err := s.flowRepo.FindAwaitingPayment(ctx, p.TxnID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return failResponse(p.TxnID, model.ResultFailure, "No payment session awaiting this transaction")
			}
			logger.Error("Check payment session lookup failed", "txn_id", p.TxnID, "error", err)
			return failResponse(p.TxnID, model.ResultFailure, "Internal server error")
		}
		if !amountMatches(p.Sum, fs.Amount) {
			return failResponse(p.TxnID, model.ResultFailure, "Amount mismatch")
		}
	}

	fields := model.PaymentFields{}
	fields.Add("device_id", p.Account)
	fields.Add("available_chemicals", strconv.Itoa(len(chemicals)))

	return &model.PaymentResponse{
		TxnID:   p.TxnID,
		Result:  model.ResultSuccess,
		Comment: "Payment check successful",
		Fields:  fields,
	}
}

// Pay applies a payment at most once. A replayed txn_id mirrors the stored
// outcome; a fresh one creates the ledger row and advances the session (or
// credits the balance in legacy mode) in one transaction.
func (s *KaspiService) Pay(ctx context.Context, p model.PayRequest) *model.PaymentResponse {
	start := time.Now()

	// Replay short-circuit comes before any eligibility check: once a txn_id
	// is recorded the outcome is fixed, even if the device has since gone
	// inactive or lost its chemicals. The in-transaction lookup below covers
	// the concurrent-duplicate race.
	if existing, err := s.transactionRepo.FindByTxnID(ctx, p.TxnID); err == nil {
		logger.Info("Duplicate payment attempt detected", "txn_id", p.TxnID)
		return s.observePayment(start, replayResponse(existing))
	} else if !errors.Is(err, repository.ErrTransactionNotFound) {
		logger.Error("Process payment transaction lookup failed", "txn_id", p.TxnID, "error", err)
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "Internal server error"))
	}

	if _, err := s.deviceRepo.FindByDeviceID(ctx, p.Account); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return s.observePayment(start, failResponse(p.TxnID, model.ResultDeviceNotFound, "Device not found"))
		}
		logger.Error("Process payment device lookup failed", "txn_id", p.TxnID, "error", err)
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "Internal server error"))
	}

	// Telemetry-backed check, issued before the transaction so a stalled
	// mirror never holds a database transaction open.
	if !s.statusChecker.IsActive(p.Account) {
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "Device is not active"))
	}

	chemicals, err := s.chemicalRepo.ListByDevice(ctx, p.Account)
	if err != nil {
		logger.Error("Process payment chemical lookup failed", "txn_id", p.TxnID, "error", err)
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "Internal server error"))
	}
	if len(chemicals) == 0 {
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "No chemicals available"))
	}

	var (
		resp    *model.PaymentResponse
		applied *model.FlowState
	)

	err = s.flowRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		existing, err := s.transactionRepo.FindByTxnID(ctx, p.TxnID)
		if err == nil {
			logger.Info("Duplicate payment attempt detected", "txn_id", p.TxnID)
			resp = replayResponse(existing)
			return nil
		}
		if !errors.Is(err, repository.ErrTransactionNotFound) {
			return fmt.Errorf("find transaction: %w", err)
		}

		if s.mode == model.PaymentModeDirect {
			resp, applied, err = s.payDirect(ctx, p)
		} else {
			resp, err = s.payBalance(ctx, p)
		}
		return err
	})
	if err != nil {
		logger.Error("Process payment failed", "txn_id", p.TxnID, "error", err)
		return s.observePayment(start, failResponse(p.TxnID, model.ResultFailure, "Internal server error"))
	}

	// Side effects run strictly after commit; the relational store is the
	// source of truth and a lost push is recoverable.
	if applied != nil {
		s.pushDispenseCommand(ctx, applied)
	}
	if s.mode == model.PaymentModeBalance && resp.Result == model.ResultSuccess && s.mirror != nil {
		if bal, err := s.balanceRepo.Get(ctx, p.Account); err == nil {
			s.mirror.MirrorBalance(p.Account, bal.Balance)
		}
	}

	return s.observePayment(start, resp)
}

// observePayment records the processing outcome. Settlement duration is only
// meaningful for accepted payments.
func (s *KaspiService) observePayment(start time.Time, resp *model.PaymentResponse) *model.PaymentResponse {
	prom.IncPaymentProcessed(strconv.Itoa(resp.Result))
	if resp.Result == model.ResultSuccess {
		prom.AddPaymentSettlementDuration(time.Since(start).Seconds(), string(s.mode))
	}
	return resp
}

func (s *KaspiService) payDirect(ctx context.Context, p model.PayRequest) (*model.PaymentResponse, *model.FlowState, error) {
	fs, err := s.flowRepo.FindAwaitingPayment(ctx, p.TxnID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return failResponse(p.TxnID, model.ResultFailure, "No payment session awaiting this transaction"), nil, nil
		}
		return nil, nil, fmt.Errorf("find session: %w", err)
	}

	if !amountMatches(p.Sum, fs.Amount) {
		return failResponse(p.TxnID, model.ResultFailure, "Amount mismatch"), nil, nil
	}

	txn := &model.Transaction{
		TxnID:    p.TxnID,
		PrvTxnID: newTxnRef(),
		DeviceID: p.Account,
		Amount:   fs.Amount,
		TxnDate:  p.TxnDate,
		Status:   model.ResultSuccess,
	}
	created, err := s.transactionRepo.Create(ctx, txn)
	if err != nil {
		return nil, nil, fmt.Errorf("create transaction: %w", err)
	}

	if err := s.flowRepo.TransitionStage(ctx, fs.SessionID, model.StageAwaitingPayment, model.StagePaymentCompleted); err != nil {
		return nil, nil, fmt.Errorf("advance stage: %w", err)
	}

	fields := model.PaymentFields{}
	fields.Add("device_id", p.Account)
	fields.Add("session_id", fs.SessionID)
	fields.Add("transaction_date", time.Now().Format(time.RFC3339))

	return &model.PaymentResponse{
		TxnID:   p.TxnID,
		PrvTxn:  created.PrvTxnID,
		Result:  model.ResultSuccess,
		Sum:     fmt.Sprintf("%.2f", created.Amount),
		Comment: "Payment successful",
		Fields:  fields,
	}, fs, nil
}

func (s *KaspiService) payBalance(ctx context.Context, p model.PayRequest) (*model.PaymentResponse, error) {
	txn := &model.Transaction{
		TxnID:    p.TxnID,
		PrvTxnID: newTxnRef(),
		DeviceID: p.Account,
		Amount:   p.Sum,
		TxnDate:  p.TxnDate,
		Status:   model.ResultSuccess,
	}
	created, err := s.transactionRepo.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	if err := s.balanceRepo.Credit(ctx, p.Account, p.Sum); err != nil {
		return nil, fmt.Errorf("credit balance: %w", err)
	}

	fields := model.PaymentFields{}
	fields.Add("device_id", p.Account)
	fields.Add("balance_added", strconv.FormatFloat(p.Sum, 'f', -1, 64))
	fields.Add("transaction_date", time.Now().Format(time.RFC3339))

	return &model.PaymentResponse{
		TxnID:   p.TxnID,
		PrvTxn:  created.PrvTxnID,
		Result:  model.ResultSuccess,
		Sum:     fmt.Sprintf("%.2f", created.Amount),
		Comment: "Payment successful",
		Fields:  fields,
	}, nil
}

func (s *KaspiService) pushDispenseCommand(ctx context.Context, fs *model.FlowState) {
	if s.publisher == nil {
		return
	}
	_, err := s.publisher.Publish(ctx, model.DispenseCommand{
		SessionID:  fs.SessionID,
		DeviceID:   fs.DeviceID,
		TankNumber: fs.TankNumber,
		Volume:     fs.Volume,
		Amount:     fs.Amount,
	})
	if err != nil {
		logger.Warn("Failed to push dispense command", "session_id", fs.SessionID, "device_id", fs.DeviceID, "error", err)
	}
}

// PaymentStatus proxies the network's settlement probe for a device.
func (s *KaspiService) PaymentStatus(ctx context.Context, deviceID string) (*kaspi.PaymentStatus, error) {
	return s.client.PaymentStatus(ctx, deviceID)
}

func replayResponse(txn *model.Transaction) *model.PaymentResponse {
	return &model.PaymentResponse{
		TxnID:   txn.TxnID,
		PrvTxn:  txn.PrvTxnID,
		Result:  txn.Status,
		Sum:     fmt.Sprintf("%.2f", txn.Amount),
		Comment: "Transaction already processed",
	}
}

func failResponse(txnID string, result int, comment string) *model.PaymentResponse {
	return &model.PaymentResponse{
		TxnID:   txnID,
		Result:  result,
		Comment: comment,
	}
}

func amountMatches(sum, amount float64) bool {
	return math.Abs(sum-amount) <= model.AmountTolerance
}

// newTxnRef mints a provider-side reference: millisecond timestamp plus a
// four digit random suffix.
func newTxnRef() string {
	return fmt.Sprintf("%d%04d", time.Now().UnixMilli(), rand.Intn(10000))
}
