package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type DispensingOperationEntity struct {
	ID            int64     `db:"id"              gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID *int64    `db:"transaction_id"  gorm:"column:transaction_id;index"`
	DeviceID      string    `db:"device_id"       gorm:"column:device_id;not null;index"`
	TankNumber    int       `db:"tank_number"     gorm:"column:tank_number;not null"`
	ChemicalName  string    `db:"chemical_name"   gorm:"column:chemical_name;not null"`
	PricePerLiter float64   `db:"price_per_liter" gorm:"column:price_per_liter;not null"`
	Volume        float64   `db:"volume"          gorm:"column:volume;not null"`
	TotalCost     float64   `db:"total_cost"      gorm:"column:total_cost;not null"`
	Status        string    `db:"status"          gorm:"column:status;not null;default:completed"`
	ReceiptNumber string    `db:"receipt_number"  gorm:"column:receipt_number;not null"`
	CreatedAt     time.Time `db:"created_at"      gorm:"column:created_at;autoCreateTime"`
}

func (DispensingOperationEntity) TableName() string {
	return "dispensing_operations"
}

func toDispensingEntity(m *model.DispensingOperation) *DispensingOperationEntity {
	if m == nil {
		return nil
	}
	return &DispensingOperationEntity{
		ID:            m.ID,
		TransactionID: m.TransactionID,
		DeviceID:      m.DeviceID,
		TankNumber:    m.TankNumber,
		ChemicalName:  m.ChemicalName,
		PricePerLiter: m.PricePerLiter,
		Volume:        m.Volume,
		TotalCost:     m.TotalCost,
		Status:        m.Status,
		ReceiptNumber: m.ReceiptNumber,
		CreatedAt:     m.CreatedAt,
	}
}

func toDispensingModel(e *DispensingOperationEntity) *model.DispensingOperation {
	if e == nil {
		return nil
	}
	return &model.DispensingOperation{
		ID:            e.ID,
		TransactionID: e.TransactionID,
		DeviceID:      e.DeviceID,
		TankNumber:    e.TankNumber,
		ChemicalName:  e.ChemicalName,
		PricePerLiter: e.PricePerLiter,
		Volume:        e.Volume,
		TotalCost:     e.TotalCost,
		Status:        e.Status,
		ReceiptNumber: e.ReceiptNumber,
		CreatedAt:     e.CreatedAt,
	}
}

func toDispensingModels(entities []*DispensingOperationEntity) []*model.DispensingOperation {
	if entities == nil {
		return nil
	}
	models := make([]*model.DispensingOperation, len(entities))
	for i, e := range entities {
		models[i] = toDispensingModel(e)
	}
	return models
}
