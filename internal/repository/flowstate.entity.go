package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type FlowStateEntity struct {
	ID            int64     `db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	SessionID     string    `db:"session_id"     gorm:"column:session_id;not null;unique"`
	DeviceID      string    `db:"device_id"      gorm:"column:device_id;not null;index"`
	Stage         string    `db:"stage"          gorm:"column:stage;not null"`
	ChemicalID    int64     `db:"chemical_id"    gorm:"column:chemical_id;not null"`
	TankNumber    int       `db:"tank_number"    gorm:"column:tank_number;not null"`
	Volume        float64   `db:"volume"         gorm:"column:volume;not null"`
	Amount        float64   `db:"amount"         gorm:"column:amount;not null"`
	TransactionID string    `db:"transaction_id" gorm:"column:transaction_id;index"`
	CreatedAt     time.Time `db:"created_at"     gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time `db:"updated_at"     gorm:"column:updated_at;autoUpdateTime"`
}

func (FlowStateEntity) TableName() string {
	return "flow_states"
}

func toFlowStateEntity(m *model.FlowState) *FlowStateEntity {
	if m == nil {
		return nil
	}
	return &FlowStateEntity{
		ID:            m.ID,
		SessionID:     m.SessionID,
		DeviceID:      m.DeviceID,
		Stage:         string(m.Stage),
		ChemicalID:    m.ChemicalID,
		TankNumber:    m.TankNumber,
		Volume:        m.Volume,
		Amount:        m.Amount,
		TransactionID: m.TransactionID,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func toFlowStateModel(e *FlowStateEntity) *model.FlowState {
	if e == nil {
		return nil
	}
	return &model.FlowState{
		ID:            e.ID,
		SessionID:     e.SessionID,
		DeviceID:      e.DeviceID,
		Stage:         model.Stage(e.Stage),
		ChemicalID:    e.ChemicalID,
		TankNumber:    e.TankNumber,
		Volume:        e.Volume,
		Amount:        e.Amount,
		TransactionID: e.TransactionID,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
}
