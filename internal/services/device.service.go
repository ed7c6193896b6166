package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
	"github.com/ecotrend/dispensing-gateway/pkg/logger"
)

var ErrDeviceExists = errors.New("device already registered")

const (
	defaultChemicalPrice = 100
	defaultChemicalName  = "Default Chemical %d"
)

type DeviceRepository interface {
	Create(ctx context.Context, device *model.Device) (*model.Device, error)
	FindByDeviceID(ctx context.Context, deviceID string) (*model.Device, error)
	Update(ctx context.Context, deviceID string, p model.DeviceUpdateRequest) (*model.Device, error)
	List(ctx context.Context, f model.DeviceFilter) ([]*model.Device, int64, error)
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type ChemicalRepository interface {
	Create(ctx context.Context, chem *model.Chemical) (*model.Chemical, error)
	FindByID(ctx context.Context, id int64) (*model.Chemical, error)
	FindByDeviceAndTank(ctx context.Context, deviceID string, tankNumber int) (*model.Chemical, error)
	ListByDevice(ctx context.Context, deviceID string) ([]*model.Chemical, error)
	Upsert(ctx context.Context, p model.ChemicalUpsertRequest) (*model.Chemical, error)
}

// TelemetryBridge is the outward-facing mirror of device state. Every
// method is best-effort; implementations never return errors.
type TelemetryBridge interface {
	Fetch(deviceID string) *telemetry.Snapshot
	SeedDevice(deviceID string, containers map[int]telemetry.Container)
	MirrorBalance(deviceID string, balance float64)
}

type DeviceService struct {
	deviceRepo   DeviceRepository
	chemicalRepo ChemicalRepository
	balanceRepo  BalanceRepository
	bridge       TelemetryBridge
}

func NewDeviceService(deviceRepo DeviceRepository, chemicalRepo ChemicalRepository, balanceRepo BalanceRepository, bridge TelemetryBridge) *DeviceService {
	return &DeviceService{
		deviceRepo:   deviceRepo,
		chemicalRepo: chemicalRepo,
		balanceRepo:  balanceRepo,
		bridge:       bridge,
	}
}

// Register creates the device together with its zero balance and a default
// chemical per tank, atomically. A duplicate device id creates nothing.
func (s *DeviceService) Register(ctx context.Context, p model.DeviceRegisterRequest) (*model.Device, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var created *model.Device
	err := s.deviceRepo.WithinTransaction(ctx, func(ctx context.Context) error {
		device, err := s.deviceRepo.Create(ctx, &model.Device{
			DeviceID: p.DeviceID,
			Name:     p.Name,
			Location: p.Location,
		})
		if err != nil {
			if errors.Is(err, repository.ErrDeviceExists) {
				return ErrDeviceExists
			}
			return fmt.Errorf("create device: %w", err)
		}

		if _, err := s.balanceRepo.Create(ctx, p.DeviceID, 0); err != nil {
			return fmt.Errorf("create balance: %w", err)
		}

		for tank := 1; tank <= model.MaxTankNumber; tank++ {
			_, err := s.chemicalRepo.Create(ctx, &model.Chemical{
				DeviceID:   p.DeviceID,
				TankNumber: tank,
				Name:       fmt.Sprintf(defaultChemicalName, tank),
				Price:      defaultChemicalPrice,
			})
			if err != nil {
				return fmt.Errorf("create default chemical for tank %d: %w", tank, err)
			}
		}

		created = device
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.seedTelemetry(ctx, created.DeviceID)

	return created, nil
}

// seedTelemetry mirrors the fresh device outward. Runs after the commit;
// a mirror failure only costs a warning.
func (s *DeviceService) seedTelemetry(ctx context.Context, deviceID string) {
	if s.bridge == nil {
		return
	}

	chemicals, err := s.chemicalRepo.ListByDevice(ctx, deviceID)
	if err != nil {
		logger.Warn("Telemetry seed skipped", "device_id", deviceID, "error", err)
		return
	}

	containers := make(map[int]telemetry.Container, len(chemicals))
	for _, chem := range chemicals {
		containers[chem.TankNumber] = telemetry.Container{
			Name:        chem.Name,
			Price:       chem.Price,
			BatchNumber: chem.BatchNumber,
		}
	}
	s.bridge.SeedDevice(deviceID, containers)
}

func (s *DeviceService) Get(ctx context.Context, deviceID string) (*model.Device, error) {
	device, err := s.deviceRepo.FindByDeviceID(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("find device: %w", err)
	}
	return device, nil
}

func (s *DeviceService) Update(ctx context.Context, deviceID string, p model.DeviceUpdateRequest) (*model.Device, error) {
	device, err := s.deviceRepo.Update(ctx, deviceID, p)
	if err != nil {
		if errors.Is(err, repository.ErrDeviceNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("update device: %w", err)
	}
	return device, nil
}

func (s *DeviceService) List(ctx context.Context, f model.DeviceFilter) ([]*model.Device, int64, error) {
	return s.deviceRepo.List(ctx, f)
}

func (s *DeviceService) Chemicals(ctx context.Context, deviceID string) ([]*model.Chemical, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return nil, err
	}
	return s.chemicalRepo.ListByDevice(ctx, deviceID)
}

func (s *DeviceService) UpsertChemical(ctx context.Context, p model.ChemicalUpsertRequest) (*model.Chemical, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if _, err := s.Get(ctx, p.DeviceID); err != nil {
		return nil, err
	}
	return s.chemicalRepo.Upsert(ctx, p)
}

// SyncTelemetry reconciles the telemetry mirror with the entity store:
// container metadata flows inward as chemical upserts, the settled balance
// flows outward. The relational store stays authoritative for money.
func (s *DeviceService) SyncTelemetry(ctx context.Context, deviceID string) (*telemetry.Snapshot, error) {
	if _, err := s.Get(ctx, deviceID); err != nil {
		return nil, err
	}

	snapshot := s.bridge.Fetch(deviceID)

	for tank, container := range snapshot.Containers {
		if tank < 1 || tank > model.MaxTankNumber || container.Name == "" {
			continue
		}
		_, err := s.chemicalRepo.Upsert(ctx, model.ChemicalUpsertRequest{
			DeviceID:    deviceID,
			TankNumber:  tank,
			Name:        container.Name,
			Price:       container.Price,
			BatchNumber: container.BatchNumber,
		})
		if err != nil {
			logger.Warn("Telemetry chemical reconcile failed", "device_id", deviceID, "tank", tank, "error", err)
		}
	}

	if bal, err := s.balanceRepo.Get(ctx, deviceID); err == nil {
		s.bridge.MirrorBalance(deviceID, bal.Balance)
		snapshot.Balance = bal.Balance
	}

	return snapshot, nil
}
