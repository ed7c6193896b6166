package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type BalanceEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID  string    `db:"device_id"  gorm:"column:device_id;not null;unique"`
	Balance   float64   `db:"balance"    gorm:"column:balance;not null;default:0"`
	UpdatedAt time.Time `db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (BalanceEntity) TableName() string {
	return "balances"
}

func toBalanceModel(e *BalanceEntity) *model.Balance {
	if e == nil {
		return nil
	}
	return &model.Balance{
		ID:        e.ID,
		DeviceID:  e.DeviceID,
		Balance:   e.Balance,
		UpdatedAt: e.UpdatedAt,
	}
}
