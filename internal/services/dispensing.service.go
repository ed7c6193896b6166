package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
)

var (
	ErrDeviceNotFound      = errors.New("device not found")
	ErrChemicalNotFound    = errors.New("chemical not found")
	ErrSessionNotFound     = errors.New("session not found")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrInvalidStage        = errors.New("operation not allowed in current stage")
	ErrAlreadyDispensed    = errors.New("transaction already dispensed")
)

type FlowStateRepository interface {
	Create(ctx context.Context, fs *model.FlowState) (*model.FlowState, error)
	FindBySessionID(ctx context.Context, sessionID string) (*model.FlowState, error)
	FindBySessionIDForUpdate(ctx context.Context, sessionID string) (*model.FlowState, error)
	FindAwaitingPayment(ctx context.Context, txnID string) (*model.FlowState, error)
	FindActiveByDevice(ctx context.Context, deviceID string) (*model.FlowState, error)
	AttachPayment(ctx context.Context, sessionID, txnID string) error
	TransitionStage(ctx context.Context, sessionID string, from, to model.Stage) error
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	FindByTxnID(ctx context.Context, txnID string) (*model.Transaction, error)
	MarkDispensed(ctx context.Context, id int64) error
	ListByDevice(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error)
}

type DispensingRepository interface {
	Create(ctx context.Context, op *model.DispensingOperation) (*model.DispensingOperation, error)
	ListByDevice(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error)
}

type DispensingService struct {
	deviceRepo      DeviceRepository
	chemicalRepo    ChemicalRepository
	flowRepo        FlowStateRepository
	transactionRepo TransactionRepository
	dispensingRepo  DispensingRepository
}

func NewDispensingService(deviceRepo DeviceRepository, chemicalRepo ChemicalRepository, flowRepo FlowStateRepository, transactionRepo TransactionRepository, dispensingRepo DispensingRepository) *DispensingService {
	return &DispensingService{
		deviceRepo:      deviceRepo,
		chemicalRepo:    chemicalRepo,
		flowRepo:        flowRepo,
		transactionRepo: transactionRepo,
		dispensingRepo:  dispensingRepo,
	}
}

// Calculation is the priced quote for one intended pour.
type Calculation struct {
	SessionID     string  `json:"session_id"`
	DeviceID      string  `json:"device_id"`
	TankNumber    int     `json:"tank_number"`
	ChemicalName  string  `json:"chemical_name"`
	PricePerLiter float64 `json:"price_per_liter"`
	Volume        float64 `json:"volume"`
	TotalCost     float64 `json:"total_cost"`
}

// SessionStatus projects a session's stage plus denormalized payment detail.
type SessionStatus struct {
	SessionID  string  `json:"session_id"`
	DeviceID   string  `json:"device_id"`
	Stage      string  `json:"stage"`
	Status     string  `json:"status"`
	TankNumber int     `json:"tank_number"`
	Volume     float64 `json:"volume"`
	Amount     float64 `json:"amount"`
	TxnID      string  `json:"txn_id,omitempty"`
	PrvTxnID   string  `json:"prv_txn_id,omitempty"`
	Dispensed  bool    `json:"dispensed"`
}

// Calculate prices a pour and mints a new session in the calculated stage.
func (s *DispensingService) Calculate(ctx context.Context, p model.CalculateRequest) (*Calculation, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	if _, err := s.deviceRepo.FindByDeviceID(ctx, p.DeviceID); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("find device: %w", err)
	}

	chem, err := s.chemicalRepo.FindByDeviceAndTank(ctx, p.DeviceID, p.TankNumber)
	if err != nil {
		if errors.Is(err, repository.ErrChemicalNotFound) {
			return nil, ErrChemicalNotFound
		}
		return nil, fmt.Errorf("find chemical: %w", err)
	}

	cost := round2(chem.Price * p.Volume / 1000)

	fs := &model.FlowState{
		SessionID:  uuid.New().String(),
		DeviceID:   p.DeviceID,
		Stage:      model.StageCalculated,
		ChemicalID: chem.ID,
		TankNumber: p.TankNumber,
		Volume:     p.Volume,
		Amount:     cost,
	}
	if _, err := s.flowRepo.Create(ctx, fs); err != nil {
		return nil, fmt.Errorf("create flow state: %w", err)
	}

	return &Calculation{
		SessionID:     fs.SessionID,
		DeviceID:      fs.DeviceID,
		TankNumber:    fs.TankNumber,
		ChemicalName:  chem.Name,
		PricePerLiter: chem.Price,
		Volume:        fs.Volume,
		TotalCost:     cost,
	}, nil
}

// Status is a pure read; it never advances the session.
func (s *DispensingService) Status(ctx context.Context, sessionID string) (*SessionStatus, error) {
	fs, err := s.flowRepo.FindBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find session: %w", err)
	}

	status := &SessionStatus{
		SessionID:  fs.SessionID,
		DeviceID:   fs.DeviceID,
		Stage:      string(fs.Stage),
		Status:     fs.Stage.StatusLabel(),
		TankNumber: fs.TankNumber,
		Volume:     fs.Volume,
		Amount:     fs.Amount,
		TxnID:      fs.TransactionID,
	}

	if fs.TransactionID != "" {
		txn, err := s.transactionRepo.FindByTxnID(ctx, fs.TransactionID)
		if err == nil {
			status.PrvTxnID = txn.PrvTxnID
			status.Dispensed = txn.Dispensed
		} else if !errors.Is(err, repository.ErrTransactionNotFound) {
			return nil, fmt.Errorf("find transaction: %w", err)
		}
	}

	return status, nil
}

// ActiveSession returns the device's most recent non-completed session
// inside the active window.
func (s *DispensingService) ActiveSession(ctx context.Context, deviceID string) (*SessionStatus, error) {
	fs, err := s.flowRepo.FindActiveByDevice(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("find active session: %w", err)
	}
	return s.Status(ctx, fs.SessionID)
}

// Dispense finalizes a paid session: record the pour, mark the ledger row
// dispensed and advance the stage, all in one transaction.
func (s *DispensingService) Dispense(ctx context.Context, sessionID string) (*model.DispensingOperation, error) {
	var op *model.DispensingOperation

	err := s.flowRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		fs, err := s.flowRepo.FindBySessionIDForUpdate(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return ErrSessionNotFound
			}
			return fmt.Errorf("find session: %w", err)
		}

		if fs.Stage != model.StagePaymentCompleted {
			return ErrInvalidStage
		}

		txn, err := s.transactionRepo.FindByTxnID(ctx, fs.TransactionID)
		if err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return ErrTransactionNotFound
			}
			return fmt.Errorf("find transaction: %w", err)
		}
		if txn.Dispensed {
			return ErrAlreadyDispensed
		}

		chem, err := s.chemicalRepo.FindByID(ctx, fs.ChemicalID)
		if err != nil {
			if errors.Is(err, repository.ErrChemicalNotFound) {
				return ErrChemicalNotFound
			}
			return fmt.Errorf("find chemical: %w", err)
		}

		created, err := s.dispensingRepo.Create(ctx, &model.DispensingOperation{
			TransactionID: &txn.ID,
			DeviceID:      fs.DeviceID,
			TankNumber:    fs.TankNumber,
			ChemicalName:  chem.Name,
			PricePerLiter: chem.Price,
			Volume:        fs.Volume,
			TotalCost:     fs.Amount,
			Status:        "completed",
			ReceiptNumber: fmt.Sprintf("R-%s-%d", fs.DeviceID, time.Now().Unix()),
		})
		if err != nil {
			return fmt.Errorf("create dispensing operation: %w", err)
		}

		if err := s.transactionRepo.MarkDispensed(ctx, txn.ID); err != nil {
			if errors.Is(err, repository.ErrTransactionNotFound) {
				return ErrAlreadyDispensed
			}
			return fmt.Errorf("mark dispensed: %w", err)
		}

		if err := s.flowRepo.TransitionStage(ctx, sessionID, model.StagePaymentCompleted, model.StageCompleted); err != nil {
			if errors.Is(err, repository.ErrStageConflict) {
				return ErrInvalidStage
			}
			return fmt.Errorf("advance stage: %w", err)
		}

		op = created
		return nil
	})
	if err != nil {
		return nil, err
	}

	return op, nil
}

// History lists completed pours for a device, newest first.
func (s *DispensingService) History(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error) {
	if _, err := s.deviceRepo.FindByDeviceID(ctx, f.DeviceID); err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, 0, ErrDeviceNotFound
		}
		return nil, 0, fmt.Errorf("find device: %w", err)
	}
	return s.dispensingRepo.ListByDevice(ctx, f)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
