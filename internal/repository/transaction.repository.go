package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	// ErrDuplicateTxn means the txn_id uniqueness constraint fired. The
	// constraint, not the preceding read, is what guarantees at-most-once.
	ErrDuplicateTxn = errors.New("transaction already recorded")
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDuplicateTxn
		}
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) FindByTxnID(ctx context.Context, txnID string) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("txn_id = ?", txnID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrTransactionNotFound
		}
		return nil, err
	}
	return toTransactionModel(&entity), nil
}

// MarkDispensed flips the dispensed flag exactly once; a second call for the
// same transaction reports ErrTransactionNotFound via the guard clause.
func (r *TransactionRepository) MarkDispensed(ctx context.Context, id int64) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND dispensed = ?", id, false).
		Update("dispensed", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

type TransactionFilter struct {
	DeviceID string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

func (r *TransactionRepository) ListByDevice(ctx context.Context, f TransactionFilter) ([]*model.Transaction, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&TransactionEntity{}).
		Where("device_id = ?", f.DeviceID)

	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 10
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*TransactionEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toTransactionModels(entities), total, nil
}
