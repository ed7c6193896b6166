package model

import "time"

// DispensingOperation is the immutable record of one completed pour.
type DispensingOperation struct {
	ID            int64     `json:"id"             db:"id"             gorm:"primaryKey;autoIncrement;column:id"`
	TransactionID *int64    `json:"transaction_id" db:"transaction_id" gorm:"column:transaction_id;index"`
	DeviceID      string    `json:"device_id"      db:"device_id"      gorm:"column:device_id;not null;index"`
	TankNumber    int       `json:"tank_number"    db:"tank_number"    gorm:"column:tank_number;not null"`
	ChemicalName  string    `json:"chemical_name"  db:"chemical_name"  gorm:"column:chemical_name;not null"`
	PricePerLiter float64   `json:"price_per_liter" db:"price_per_liter" gorm:"column:price_per_liter;not null"`
	Volume        float64   `json:"volume"         db:"volume"         gorm:"column:volume;not null"` // milliliters
	TotalCost     float64   `json:"total_cost"     db:"total_cost"     gorm:"column:total_cost;not null"`
	Status        string    `json:"status"         db:"status"         gorm:"column:status;not null;default:completed"`
	ReceiptNumber string    `json:"receipt_number" db:"receipt_number" gorm:"column:receipt_number;not null"`
	CreatedAt     time.Time `json:"created_at"     db:"created_at"     gorm:"column:created_at;autoCreateTime"`
}

func (DispensingOperation) TableName() string { return "dispensing_operations" }

// DispensingFilter controls history queries.
type DispensingFilter struct {
	DeviceID string
	Limit    int // default 10
	Offset   int
}

// DispenseCommand is the payload pushed to a physical device after a payment
// commits.
type DispenseCommand struct {
	SessionID  string  `json:"session_id"`
	DeviceID   string  `json:"device_id"`
	TankNumber int     `json:"tank_number"`
	Volume     float64 `json:"volume"`
	Amount     float64 `json:"amount"`
}
