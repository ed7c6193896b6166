package model

import "time"

type Balance struct {
	ID        int64     `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID  string    `json:"device_id"  db:"device_id"  gorm:"column:device_id;not null;unique"`
	Balance   float64   `json:"balance"    db:"balance"    gorm:"column:balance;not null;default:0"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" gorm:"column:updated_at;autoUpdateTime"`
}

func (Balance) TableName() string { return "balances" }
