package model

import "time"

// MaxTankNumber is the number of reservoirs a dispensing unit carries.
const MaxTankNumber = 7

type Chemical struct {
	ID                int64      `json:"id"                 db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID          string     `json:"device_id"          db:"device_id"          gorm:"column:device_id;not null;uniqueIndex:ux_device_tank"`
	TankNumber        int        `json:"tank_number"        db:"tank_number"        gorm:"column:tank_number;not null;uniqueIndex:ux_device_tank"`
	Name              string     `json:"name"               db:"name"               gorm:"column:name;not null"`
	Price             float64    `json:"price"              db:"price"              gorm:"column:price;not null"` // per liter
	BatchNumber       string     `json:"batch_number"       db:"batch_number"       gorm:"column:batch_number"`
	ManufacturingDate *time.Time `json:"manufacturing_date" db:"manufacturing_date" gorm:"column:manufacturing_date"`
	ExpirationDate    *time.Time `json:"expiration_date"    db:"expiration_date"    gorm:"column:expiration_date"`
	UpdatedAt         time.Time  `json:"updated_at"         db:"updated_at"         gorm:"column:updated_at;autoUpdateTime"`
}

func (Chemical) TableName() string { return "chemicals" }

// ChemicalUpsertRequest is the input for the update-or-create path used by
// manual updates and telemetry reconciliation.
type ChemicalUpsertRequest struct {
	DeviceID          string
	TankNumber        int
	Name              string
	Price             float64
	BatchNumber       string
	ManufacturingDate *time.Time
	ExpirationDate    *time.Time
}

func (p ChemicalUpsertRequest) Validate() error {
	if p.DeviceID == "" {
		return validationError("device_id is required")
	}
	if p.TankNumber < 1 || p.TankNumber > MaxTankNumber {
		return validationError("tank_number must be between 1 and 7")
	}
	if p.Name == "" {
		return validationError("name is required")
	}
	if p.Price < 0 {
		return validationError("price must not be negative")
	}
	return nil
}
