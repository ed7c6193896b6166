package repository

import (
	"context"
	"errors"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"gorm.io/gorm"
)

var (
	ErrChemicalNotFound = errors.New("chemical not found")
)

type ChemicalRepository struct {
	*pg.DB
}

func NewChemicalRepository(db *pg.DB) *ChemicalRepository {
	return &ChemicalRepository{
		db,
	}
}

func (r *ChemicalRepository) Create(ctx context.Context, chem *model.Chemical) (*model.Chemical, error) {
	entity := toChemicalEntity(chem)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toChemicalModel(entity), nil
}

func (r *ChemicalRepository) FindByDeviceAndTank(ctx context.Context, deviceID string, tankNumber int) (*model.Chemical, error) {
	var entity ChemicalEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ? AND tank_number = ?", deviceID, tankNumber).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChemicalNotFound
		}
		return nil, err
	}
	return toChemicalModel(&entity), nil
}

func (r *ChemicalRepository) FindByID(ctx context.Context, id int64) (*model.Chemical, error) {
	var entity ChemicalEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("id = ?", id).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrChemicalNotFound
		}
		return nil, err
	}
	return toChemicalModel(&entity), nil
}

func (r *ChemicalRepository) ListByDevice(ctx context.Context, deviceID string) ([]*model.Chemical, error) {
	var entities []*ChemicalEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ?", deviceID).
		Order("tank_number ASC").
		Find(&entities).
		Error
	if err != nil {
		return nil, err
	}
	return toChemicalModels(entities), nil
}

// Upsert updates the chemical of (device, tank) or creates it when missing.
// Used by telemetry reconciliation and manual tank updates.
func (r *ChemicalRepository) Upsert(ctx context.Context, p model.ChemicalUpsertRequest) (*model.Chemical, error) {
	var entity ChemicalEntity
	err := r.Write(ctx).WithContext(ctx).
		Where("device_id = ? AND tank_number = ?", p.DeviceID, p.TankNumber).
		First(&entity).
		Error

	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		entity = ChemicalEntity{
			DeviceID:          p.DeviceID,
			TankNumber:        p.TankNumber,
			Name:              p.Name,
			Price:             p.Price,
			BatchNumber:       p.BatchNumber,
			ManufacturingDate: p.ManufacturingDate,
			ExpirationDate:    p.ExpirationDate,
		}
		if err := r.Write(ctx).WithContext(ctx).Create(&entity).Error; err != nil {
			return nil, err
		}
		return toChemicalModel(&entity), nil
	}

	updates := map[string]interface{}{
		"name":               p.Name,
		"price":              p.Price,
		"batch_number":       p.BatchNumber,
		"manufacturing_date": p.ManufacturingDate,
		"expiration_date":    p.ExpirationDate,
	}
	if err := r.Write(ctx).WithContext(ctx).
		Model(&ChemicalEntity{}).
		Where("id = ?", entity.ID).
		Updates(updates).Error; err != nil {
		return nil, err
	}

	return r.FindByID(ctx, entity.ID)
}
