package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type TransactionEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	TxnID     string    `db:"txn_id"     gorm:"column:txn_id;not null;unique"`
	PrvTxnID  string    `db:"prv_txn_id" gorm:"column:prv_txn_id;not null"`
	DeviceID  string    `db:"device_id"  gorm:"column:device_id;not null;index"`
	Amount    float64   `db:"amount"     gorm:"column:amount;not null"`
	TxnDate   string    `db:"txn_date"   gorm:"column:txn_date"`
	Status    int       `db:"status"     gorm:"column:status;not null;default:0"`
	Dispensed bool      `db:"dispensed"  gorm:"column:dispensed;not null;default:false"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		ID:        m.ID,
		TxnID:     m.TxnID,
		PrvTxnID:  m.PrvTxnID,
		DeviceID:  m.DeviceID,
		Amount:    m.Amount,
		TxnDate:   m.TxnDate,
		Status:    m.Status,
		Dispensed: m.Dispensed,
		CreatedAt: m.CreatedAt,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:        e.ID,
		TxnID:     e.TxnID,
		PrvTxnID:  e.PrvTxnID,
		DeviceID:  e.DeviceID,
		Amount:    e.Amount,
		TxnDate:   e.TxnDate,
		Status:    e.Status,
		Dispensed: e.Dispensed,
		CreatedAt: e.CreatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
