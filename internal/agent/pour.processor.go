package agent

import (
	"context"
	"errors"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/commands"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/prom"
)

// Dispenser settles a paid session: records the pour, marks the payment
// dispensed and moves the flow state to its terminal stage.
type Dispenser interface {
	Dispense(ctx context.Context, sessionID string) (*model.DispensingOperation, error)
}

// DeviceStatusWriter reflects what the device is doing into the realtime
// telemetry mirror.
type DeviceStatusWriter interface {
	SetStatus(deviceID, status string)
}

type PourProcessor struct {
	dispenser   Dispenser
	status      DeviceStatusWriter
	idempotency *IdempotencyService
}

func NewPourProcessor(dispenser Dispenser, status DeviceStatusWriter, idempotency *IdempotencyService) *PourProcessor {
	return &PourProcessor{
		dispenser:   dispenser,
		status:      status,
		idempotency: idempotency,
	}
}

func (p *PourProcessor) GetType() string {
	return "pour"
}

// Process executes one dispense command with idempotency guarantees.
func (p *PourProcessor) Process(ctx context.Context, d *commands.Delivery) error {
	cmd := d.Command
	sessionID := cmd.SessionID
	if sessionID == "" {
		logger.Error("Dispense command has no session id", "stream_id", d.ID)
		return nil // ACK - malformed command never succeeds on retry
	}

	// Step 1: acquire the pour lock
	pourCtx, err := p.idempotency.AcquirePourLock(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrAlreadyCompleted) {
			// Already poured for this session - ACK to remove from queue
			logger.Info("Session already dispensed, skipping", "session_id", sessionID)
			return nil
		}
		if errors.Is(err, ErrRetriesExhausted) {
			// Give up on this command - ACK so it moves to the DLQ
			logger.Error("Dispense retries exhausted", "session_id", sessionID)
			prom.IncDispenseCommand("exhausted")
			return nil
		}
		if errors.Is(err, ErrLockAcquireFailed) {
			// Another agent is pouring - NACK to retry later
			logger.Info("Pour lock held by another agent, will retry", "session_id", sessionID)
			return errors.New("pour lock held by another agent")
		}
		logger.Error("Failed to acquire pour lock", "session_id", sessionID, "error", err)
		return err
	}

	defer func() {
		if pourCtx.lockAcquired {
			p.idempotency.ReleaseLock(ctx, pourCtx)
		}
	}()

	logger.Info("Dispensing",
		"session_id", sessionID,
		"device_id", cmd.DeviceID,
		"tank_number", cmd.TankNumber,
		"volume", cmd.Volume,
		"retry_count", pourCtx.RetryCount,
		"is_retry", pourCtx.IsRetry)

	// Step 2: run the pour
	p.status.SetStatus(cmd.DeviceID, telemetry.StatusDispensing)
	op, err := p.dispenser.Dispense(ctx, sessionID)
	p.status.SetStatus(cmd.DeviceID, telemetry.StatusActive)

	if err != nil {
		if errors.Is(err, services.ErrAlreadyDispensed) || errors.Is(err, services.ErrInvalidStage) {
			// The database already shows this session settled; record the
			// marker so later redeliveries short-circuit, and ACK.
			logger.Info("Session settled elsewhere, acking", "session_id", sessionID, "error", err)
			if markErr := p.idempotency.MarkCompleted(ctx, pourCtx); markErr != nil {
				logger.Error("Failed to mark session dispensed", "session_id", sessionID, "error", markErr)
			}
			return nil
		}
		if errors.Is(err, services.ErrSessionNotFound) {
			// Nothing to pour and nothing will appear on retry - ACK
			logger.Error("Dispense command for unknown session", "session_id", sessionID)
			prom.IncDispenseCommand("unknown_session")
			return nil
		}

		// Transient failure - mark and NACK so the command is redelivered
		logger.Error("Dispense failed", "session_id", sessionID, "error", err)
		prom.IncDispenseCommand("failed")
		if markErr := p.idempotency.MarkFailure(ctx, pourCtx, err); markErr != nil {
			logger.Error("Failed to mark dispense failure", "session_id", sessionID, "error", markErr)
		}
		return err
	}

	// Step 3: success
	prom.IncDispenseCommand("completed")
	prom.AddDispenseCompletionDuration(time.Since(d.Timestamp).Seconds())

	logger.Info("Dispense completed",
		"session_id", sessionID,
		"device_id", op.DeviceID,
		"receipt_number", op.ReceiptNumber,
		"retry_count", pourCtx.RetryCount)

	if markErr := p.idempotency.MarkCompleted(ctx, pourCtx); markErr != nil {
		logger.Error("Failed to mark session dispensed", "session_id", sessionID, "error", markErr)
		// Continue - the pour itself succeeded
	}

	return nil // ACK command
}
