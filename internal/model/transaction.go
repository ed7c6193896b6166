package model

import "time"

// Transaction is one ledger row per distinct external payment. The unique
// txn_id is the idempotency anchor for the whole payment protocol.
type Transaction struct {
	ID        int64     `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	TxnID     string    `json:"txn_id"     db:"txn_id"     gorm:"column:txn_id;not null;unique"`
	PrvTxnID  string    `json:"prv_txn_id" db:"prv_txn_id" gorm:"column:prv_txn_id;not null"`
	DeviceID  string    `json:"device_id"  db:"device_id"  gorm:"column:device_id;not null;index"`
	Amount    float64   `json:"amount"     db:"amount"     gorm:"column:amount;not null"`
	TxnDate   string    `json:"txn_date"   db:"txn_date"   gorm:"column:txn_date"` // provider format yyyyMMddHHmmss
	Status    int       `json:"status"     db:"status"     gorm:"column:status;not null;default:0"` // result code, 0 = success
	Dispensed bool      `json:"dispensed"  db:"dispensed"  gorm:"column:dispensed;not null;default:false"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Transaction) TableName() string { return "transactions" }
