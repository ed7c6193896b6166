package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type ChemicalEntity struct {
	ID                int64      `db:"id"                 gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID          string     `db:"device_id"          gorm:"column:device_id;not null;uniqueIndex:ux_device_tank"`
	TankNumber        int        `db:"tank_number"        gorm:"column:tank_number;not null;uniqueIndex:ux_device_tank"`
	Name              string     `db:"name"               gorm:"column:name;not null"`
	Price             float64    `db:"price"              gorm:"column:price;not null"`
	BatchNumber       string     `db:"batch_number"       gorm:"column:batch_number"`
	ManufacturingDate *time.Time `db:"manufacturing_date" gorm:"column:manufacturing_date"`
	ExpirationDate    *time.Time `db:"expiration_date"    gorm:"column:expiration_date"`
	UpdatedAt         time.Time  `db:"updated_at"         gorm:"column:updated_at;autoUpdateTime"`
}

func (ChemicalEntity) TableName() string {
	return "chemicals"
}

func toChemicalEntity(m *model.Chemical) *ChemicalEntity {
	if m == nil {
		return nil
	}
	return &ChemicalEntity{
		ID:                m.ID,
		DeviceID:          m.DeviceID,
		TankNumber:        m.TankNumber,
		Name:              m.Name,
		Price:             m.Price,
		BatchNumber:       m.BatchNumber,
		ManufacturingDate: m.ManufacturingDate,
		ExpirationDate:    m.ExpirationDate,
		UpdatedAt:         m.UpdatedAt,
	}
}

func toChemicalModel(e *ChemicalEntity) *model.Chemical {
	if e == nil {
		return nil
	}
	return &model.Chemical{
		ID:                e.ID,
		DeviceID:          e.DeviceID,
		TankNumber:        e.TankNumber,
		Name:              e.Name,
		Price:             e.Price,
		BatchNumber:       e.BatchNumber,
		ManufacturingDate: e.ManufacturingDate,
		ExpirationDate:    e.ExpirationDate,
		UpdatedAt:         e.UpdatedAt,
	}
}

func toChemicalModels(entities []*ChemicalEntity) []*model.Chemical {
	if entities == nil {
		return nil
	}
	models := make([]*model.Chemical, len(entities))
	for i, e := range entities {
		models[i] = toChemicalModel(e)
	}
	return models
}
