package telemetry

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
)

// Device status values mirrored from the realtime store.
const (
	StatusActive     = "active"
	StatusInactive   = "inactive"
	StatusDispensing = "dispensing"
)

// Container is one tank mirror entry.
type Container struct {
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
	BatchNumber string  `json:"batch_number,omitempty"`
}

// Snapshot is the device mirror held in the realtime store.
type Snapshot struct {
	DeviceID   string
	Status     string
	Balance    float64
	Containers map[int]Container // keyed by tank number
}

// DefaultSnapshot is what every read falls back to when the realtime store
// is unreachable. The payment path must keep working without it.
func DefaultSnapshot(deviceID string) *Snapshot {
	return &Snapshot{
		DeviceID:   deviceID,
		Status:     StatusActive,
		Balance:    0,
		Containers: map[int]Container{},
	}
}

// Bridge mirrors device state to and from the external realtime store. Every
// operation is best-effort: failures are logged at warn level and converted
// to safe defaults, never propagated to the payment path.
type Bridge struct {
	redis redis.RedisAdapter
}

func NewBridge(redisAdapter redis.RedisAdapter) *Bridge {
	return &Bridge{redis: redisAdapter}
}

func infoKey(deviceID string) string       { return "telemetry:" + deviceID + ":info" }
func containersKey(deviceID string) string { return "telemetry:" + deviceID + ":containers" }
func balanceKey(deviceID string) string    { return "telemetry:" + deviceID + ":balance" }

// Fetch reads the full device mirror. Missing or unreachable data yields the
// default snapshot.
func (b *Bridge) Fetch(deviceID string) *Snapshot {
	snap := DefaultSnapshot(deviceID)

	info, err := b.redis.HGetAll(infoKey(deviceID))
	if err != nil {
		logger.Warn("telemetry: failed to read device info, using defaults",
			"device_id", deviceID, "error", err)
		return snap
	}
	if status, ok := info["status"]; ok && status != "" {
		snap.Status = status
	}

	raw, err := b.redis.Get(balanceKey(deviceID))
	if err != nil && err != redis.NilError {
		logger.Warn("telemetry: failed to read balance mirror",
			"device_id", deviceID, "error", err)
	} else if len(raw) > 0 {
		if v, perr := strconv.ParseFloat(string(raw), 64); perr == nil {
			snap.Balance = v
		}
	}

	containers, err := b.redis.HGetAll(containersKey(deviceID))
	if err != nil {
		logger.Warn("telemetry: failed to read containers mirror",
			"device_id", deviceID, "error", err)
		return snap
	}
	for field, value := range containers {
		tank, perr := parseTankField(field)
		if perr != nil {
			logger.Warn("telemetry: skipping malformed container field",
				"device_id", deviceID, "field", field)
			continue
		}
		var c Container
		if uerr := json.Unmarshal([]byte(value), &c); uerr != nil {
			logger.Warn("telemetry: skipping malformed container payload",
				"device_id", deviceID, "field", field, "error", uerr)
			continue
		}
		snap.Containers[tank] = c
	}

	return snap
}

// IsActive reports whether the realtime store considers the device active.
// Unknown or unreachable devices default to active so payments keep flowing.
func (b *Bridge) IsActive(deviceID string) bool {
	return b.Fetch(deviceID).Status != StatusInactive
}

// MirrorBalance pushes the authoritative relational balance into the
// realtime store.
func (b *Bridge) MirrorBalance(deviceID string, balance float64) {
	value := strconv.FormatFloat(balance, 'f', 2, 64)
	if err := b.redis.Set(balanceKey(deviceID), []byte(value), 0); err != nil {
		logger.Warn("telemetry: failed to mirror balance",
			"device_id", deviceID, "balance", value, "error", err)
	}
}

// SeedDevice writes the initial mirror for a freshly registered device.
func (b *Bridge) SeedDevice(deviceID string, containers map[int]Container) {
	if err := b.redis.HSet(infoKey(deviceID), "status", StatusActive); err != nil {
		logger.Warn("telemetry: failed to seed device info",
			"device_id", deviceID, "error", err)
		return
	}
	for tank, c := range containers {
		payload, err := json.Marshal(c)
		if err != nil {
			continue
		}
		if err := b.redis.HSet(containersKey(deviceID), tankField(tank), string(payload)); err != nil {
			logger.Warn("telemetry: failed to seed container",
				"device_id", deviceID, "tank", tank, "error", err)
		}
	}
	b.MirrorBalance(deviceID, 0)
}

// SetStatus updates the mirrored device status. Used by the device agent.
func (b *Bridge) SetStatus(deviceID, status string) {
	if err := b.redis.HSet(infoKey(deviceID), "status", status); err != nil {
		logger.Warn("telemetry: failed to set device status",
			"device_id", deviceID, "status", status, "error", err)
	}
}

func tankField(tank int) string {
	return fmt.Sprintf("tank%d", tank)
}

func parseTankField(field string) (int, error) {
	var tank int
	if _, err := fmt.Sscanf(field, "tank%d", &tank); err != nil {
		return 0, err
	}
	return tank, nil
}
