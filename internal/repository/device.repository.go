package repository

import (
	"context"
	"errors"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrDeviceNotFound = errors.New("device not found")
	ErrDeviceExists   = errors.New("device already exists")
)

type DeviceRepository struct {
	*pg.DB
}

func NewDeviceRepository(db *pg.DB) *DeviceRepository {
	return &DeviceRepository{
		db,
	}
}

func (r *DeviceRepository) Create(ctx context.Context, device *model.Device) (*model.Device, error) {
	entity := toDeviceEntity(device)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrDeviceExists
		}
		return nil, err
	}

	return toDeviceModel(entity), nil
}

func (r *DeviceRepository) FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error) {
	var entity DeviceEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, err
	}
	return toDeviceModel(&entity), nil
}

func (r *DeviceRepository) Update(ctx context.Context, deviceID string, p model.DeviceUpdateRequest) (*model.Device, error) {
	updates := map[string]interface{}{}
	if p.Name != nil {
		updates["name"] = *p.Name
	}
	if p.Location != nil {
		updates["location"] = *p.Location
	}

	if len(updates) > 0 {
		result := r.Write(ctx).WithContext(ctx).
			Model(&DeviceEntity{}).
			Where("device_id = ?", deviceID).
			Updates(updates)
		if result.Error != nil {
			return nil, result.Error
		}
		if result.RowsAffected == 0 {
			return nil, ErrDeviceNotFound
		}
	}

	return r.FindByDeviceID(ctx, deviceID)
}

func (r *DeviceRepository) List(ctx context.Context, f model.DeviceFilter) ([]*model.Device, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&DeviceEntity{})

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var entities []*DeviceEntity
	if err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}

	return toDeviceModels(entities), total, nil
}
