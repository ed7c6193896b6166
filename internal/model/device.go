package model

import "time"

type Device struct {
	ID        int64     `json:"id"         db:"id"         gorm:"primaryKey;autoIncrement;column:id"`
	DeviceID  string    `json:"device_id"  db:"device_id"  gorm:"column:device_id;not null;unique"`
	Name      string    `json:"name"       db:"name"       gorm:"column:name;not null"`
	Location  string    `json:"location"   db:"location"   gorm:"column:location"`
	CreatedAt time.Time `json:"created_at" db:"created_at" gorm:"column:created_at;autoCreateTime"`
}

func (Device) TableName() string { return "devices" }

// DeviceRegisterRequest is the input for registering a device.
type DeviceRegisterRequest struct {
	DeviceID string
	Name     string
	Location string
}

func (p DeviceRegisterRequest) Validate() error {
	if p.DeviceID == "" {
		return validationError("device_id is required")
	}
	if p.Name == "" {
		return validationError("name is required")
	}
	return nil
}

// DeviceUpdateRequest carries the mutable device fields. Nil means unchanged.
type DeviceUpdateRequest struct {
	Name     *string
	Location *string
}

// DeviceFilter controls List queries.
type DeviceFilter struct {
	Limit  int // default 50
	Offset int
}
