package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrConcurrentUpdate    = errors.New("concurrent update detected")
	ErrMaxRetriesExceeded  = errors.New("max retries exceeded")
)

type BalanceRepository struct {
	*pg.DB
}

func NewBalanceRepository(db *pg.DB) *BalanceRepository {
	return &BalanceRepository{
		db,
	}
}

func (r *BalanceRepository) Create(ctx context.Context, deviceID string, initial float64) (*model.Balance, error) {
	entity := &BalanceEntity{
		DeviceID: deviceID,
		Balance:  initial,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toBalanceModel(entity), nil
}

func (r *BalanceRepository) Get(ctx context.Context, deviceID string) (*model.Balance, error) {
	var entity BalanceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, err
	}
	return toBalanceModel(&entity), nil
}

// Credit performs atomic balance addition with automatic retry using
// SELECT FOR UPDATE. Used when a payment tops up a device.
func (r *BalanceRepository) Credit(ctx context.Context, deviceID string, amount float64) error {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := r.creditAttempt(ctx, deviceID, amount)

		if err == nil {
			return nil
		}

		// Don't retry on permanent errors
		if errors.Is(err, ErrBalanceNotFound) {
			return err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *BalanceRepository) creditAttempt(ctx context.Context, deviceID string, amount float64) error {
	var entity BalanceEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ?", deviceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBalanceNotFound
		}
		return err
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&BalanceEntity{}).
		Where("device_id = ?", deviceID).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance + ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrBalanceNotFound
	}

	return nil
}

// Debit performs atomic check-then-write deduction. The balance never goes
// below zero; an oversized deduction fails and leaves the row unchanged.
func (r *BalanceRepository) Debit(ctx context.Context, deviceID string, amount float64) error {
	const maxRetries = 3
	const baseDelay = 2 * time.Millisecond

	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := r.debitAttempt(ctx, deviceID, amount)

		if err == nil {
			return nil
		}

		// Don't retry on permanent errors
		if errors.Is(err, ErrBalanceNotFound) ||
			errors.Is(err, ErrInsufficientBalance) {
			return err
		}

		if attempt < maxRetries {
			delay := baseDelay * time.Duration(1<<attempt)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
				continue
			}
		}
	}

	return fmt.Errorf("%w: failed after %d attempts", ErrMaxRetriesExceeded, maxRetries+1)
}

func (r *BalanceRepository) debitAttempt(ctx context.Context, deviceID string, amount float64) error {
	var entity BalanceEntity

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("device_id = ?", deviceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrBalanceNotFound
		}
		return err
	}

	if entity.Balance < amount {
		return ErrInsufficientBalance
	}

	result := r.Write(ctx).WithContext(ctx).
		Model(&BalanceEntity{}).
		Where("device_id = ? AND balance >= ?", deviceID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrConcurrentUpdate
	}

	return nil
}
