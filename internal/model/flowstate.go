package model

import "time"

// Stage is the position of a dispensing session in its lifecycle.
type Stage string

const (
	StageCalculated       Stage = "calculated"
	StageAwaitingPayment  Stage = "awaiting_payment"
	StagePaymentCompleted Stage = "payment_completed"
	// StageDispensing appears in status projections for compatibility with
	// older device firmware, but no transition in the direct-payment flow
	// ever produces it.
	StageDispensing Stage = "dispensing"
	StageCompleted  Stage = "completed"
)

// ActiveSessionWindow bounds how old a non-completed session may be and
// still count as active.
const ActiveSessionWindow = 24 * time.Hour

// FlowState is one dispensing session: a single intended purchase-and-dispense
// event. Rows are never deleted; they double as an audit trail.
type FlowState struct {
	ID            int64     `json:"id"             db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	SessionID     string    `json:"session_id"     db:"session_id"     gorm:"column:session_id;not null;unique"`
	DeviceID      string    `json:"device_id"      db:"device_id"      gorm:"column:device_id;not null;index"`
	Stage         Stage     `json:"stage"          db:"stage"          gorm:"column:stage;not null"`
	ChemicalID    int64     `json:"chemical_id"    db:"chemical_id"    gorm:"column:chemical_id;not null"`
	TankNumber    int       `json:"tank_number"    db:"tank_number"    gorm:"column:tank_number;not null"`
	Volume        float64   `json:"volume"         db:"volume"         gorm:"column:volume;not null"` // milliliters
	Amount        float64   `json:"amount"         db:"amount"         gorm:"column:amount;not null"`
	TransactionID string    `json:"transaction_id" db:"transaction_id" gorm:"column:transaction_id;index"` // external txn_id, set at QR time
	CreatedAt     time.Time `json:"created_at"     db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `json:"updated_at"     db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (FlowState) TableName() string { return "flow_states" }

// CalculateRequest is the input for a cost calculation.
type CalculateRequest struct {
	DeviceID   string
	TankNumber int
	Volume     float64 // milliliters
}

func (p CalculateRequest) Validate() error {
	if p.DeviceID == "" {
		return validationError("device_id is required")
	}
	if p.TankNumber < 1 || p.TankNumber > MaxTankNumber {
		return validationError("tank_number must be between 1 and 7")
	}
	if p.Volume <= 0 {
		return validationError("volume must be greater than zero")
	}
	return nil
}

// StatusLabel projects a stage to the client-facing status string.
func (s Stage) StatusLabel() string {
	switch s {
	case StageCalculated:
		return "ready_for_payment"
	case StageAwaitingPayment:
		return "awaiting_payment"
	case StagePaymentCompleted:
		return "payment_completed"
	case StageDispensing:
		return "dispensing"
	case StageCompleted:
		return "completed"
	default:
		return "unknown"
	}
}
