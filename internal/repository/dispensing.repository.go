package repository

import (
	"context"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
)

type DispensingRepository struct {
	*pg.DB
}

func NewDispensingRepository(db *pg.DB) *DispensingRepository {
	return &DispensingRepository{
		db,
	}
}

func (r *DispensingRepository) Create(ctx context.Context, op *model.DispensingOperation) (*model.DispensingOperation, error) {
	entity := toDispensingEntity(op)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toDispensingModel(entity), nil
}

func (r *DispensingRepository) ListByDevice(ctx context.Context, f model.DispensingFilter) ([]*model.DispensingOperation, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DispensingOperationEntity{}).
		Where("device_id = ?", f.DeviceID)

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

	var entities []*DispensingOperationEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDispensingModels(entities), total, nil
}
