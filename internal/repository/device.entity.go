package repository

import (
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
)

type DeviceEntity struct {
	ID        int64     `db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID  string    `db:"device_id"  gorm:"column:device_id;not null;unique"`
	Name      string    `db:"name"       gorm:"column:name;not null"`
	Location  string    `db:"location"   gorm:"column:location"`
	CreatedAt time.Time `db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (DeviceEntity) TableName() string {
	return "devices"
}

func toDeviceEntity(m *model.Device) *DeviceEntity {
	if m == nil {
		return nil
	}
	return &DeviceEntity{
		ID:        m.ID,
		DeviceID:  m.DeviceID,
		Name:      m.Name,
		Location:  m.Location,
		CreatedAt: m.CreatedAt,
	}
}

func toDeviceModel(e *DeviceEntity) *model.Device {
	if e == nil {
		return nil
	}
	return &model.Device{
		ID:        e.ID,
		DeviceID:  e.DeviceID,
		Name:      e.Name,
		Location:  e.Location,
		CreatedAt: e.CreatedAt,
	}
}

func toDeviceModels(entities []*DeviceEntity) []*model.Device {
	if entities == nil {
		return nil
	}
	models := make([]*model.Device, len(entities))
	for i, e := range entities {
		models[i] = toDeviceModel(e)
	}
	return models
}
