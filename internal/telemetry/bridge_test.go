package telemetry

import (
	"encoding/json"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBridge(t *testing.T) (*miniredis.Miniredis, *Bridge) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	// Use unique connection name per test to avoid global adapter caching issues
	connName := t.Name() + "-" + mr.Addr()
	adapter, err := redis.NewRedisAdapter(connName, "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, NewBridge(adapter)
}

func TestBridge_Fetch(t *testing.T) {
	mr, bridge := setupTestBridge(t)
	defer mr.Close()

	t.Run("unknown device falls back to defaults", func(t *testing.T) {
		snap := bridge.Fetch("DEVICE-404")
		assert.Equal(t, StatusActive, snap.Status)
		assert.Equal(t, 0.0, snap.Balance)
		assert.Empty(t, snap.Containers)
	})

	t.Run("reads mirrored state", func(t *testing.T) {
		mr.HSet("telemetry:DEVICE-001:info", "status", StatusInactive)
		mr.Set("telemetry:DEVICE-001:balance", "340.50")
		payload, _ := json.Marshal(Container{Name: "Detergent", Price: 100})
		mr.HSet("telemetry:DEVICE-001:containers", "tank1", string(payload))

		snap := bridge.Fetch("DEVICE-001")
		assert.Equal(t, StatusInactive, snap.Status)
		assert.Equal(t, 340.50, snap.Balance)
		require.Contains(t, snap.Containers, 1)
		assert.Equal(t, "Detergent", snap.Containers[1].Name)
	})

	t.Run("malformed container payload is skipped", func(t *testing.T) {
		mr.HSet("telemetry:DEVICE-002:containers", "tank1", "{not json")
		snap := bridge.Fetch("DEVICE-002")
		assert.Empty(t, snap.Containers)
	})
}

func TestBridge_IsActive(t *testing.T) {
	mr, bridge := setupTestBridge(t)
	defer mr.Close()

	t.Run("default is active", func(t *testing.T) {
		assert.True(t, bridge.IsActive("DEVICE-404"))
	})

	t.Run("inactive mirror", func(t *testing.T) {
		bridge.SetStatus("DEVICE-001", StatusInactive)
		assert.False(t, bridge.IsActive("DEVICE-001"))
	})
}

func TestBridge_SeedAndMirror(t *testing.T) {
	mr, bridge := setupTestBridge(t)
	defer mr.Close()

	bridge.SeedDevice("DEVICE-001", map[int]Container{
		1: {Name: "Detergent", Price: 100},
		2: {Name: "Softener", Price: 80},
	})
	bridge.MirrorBalance("DEVICE-001", 500)

	snap := bridge.Fetch("DEVICE-001")
	assert.Equal(t, StatusActive, snap.Status)
	assert.Equal(t, 500.0, snap.Balance)
	assert.Len(t, snap.Containers, 2)
}
