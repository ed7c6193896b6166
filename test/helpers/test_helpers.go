package helpers

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func SetupTestDB(t *testing.T) *pg.DB {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{TranslateError: true})
	require.NoError(t, err)

	err = db.AutoMigrate(
		&repository.DeviceEntity{},
		&repository.ChemicalEntity{},
		&repository.BalanceEntity{},
		&repository.FlowStateEntity{},
		&repository.TransactionEntity{},
		&repository.DispensingOperationEntity{},
	)
	require.NoError(t, err)

	pgDB := &pg.DB{}
	pgDBValue := reflect.ValueOf(pgDB).Elem()

	readField := pgDBValue.FieldByName("read")
	writeField := pgDBValue.FieldByName("write")

	readField = reflect.NewAt(readField.Type(), readField.Addr().UnsafePointer()).Elem()
	writeField = reflect.NewAt(writeField.Type(), writeField.Addr().UnsafePointer()).Elem()

	readField.Set(reflect.ValueOf(db))
	writeField.Set(reflect.ValueOf(db))

	return pgDB
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	mr, err := miniredis.Run()
	require.NoError(t, err)

	adapter, err := redis.NewRedisAdapter(fmt.Sprintf("test-%d", time.Now().UnixNano()), "", &goredis.UniversalOptions{
		Addrs: []string{mr.Addr()},
	})
	require.NoError(t, err)

	return mr, adapter
}

func CreateTestDevice(t *testing.T, db *pg.DB, deviceID, name string) *repository.DeviceEntity {
	ctx := context.Background()
	device := &repository.DeviceEntity{
		DeviceID: deviceID,
		Name:     name,
		Location: "test location",
	}
	err := db.Write(ctx).Create(device).Error
	require.NoError(t, err)
	return device
}

func CreateTestChemical(t *testing.T, db *pg.DB, deviceID string, tank int, name string, price float64) *repository.ChemicalEntity {
	ctx := context.Background()
	chemical := &repository.ChemicalEntity{
		DeviceID:   deviceID,
		TankNumber: tank,
		Name:       name,
		Price:      price,
	}
	err := db.Write(ctx).Create(chemical).Error
	require.NoError(t, err)
	return chemical
}

func CreateTestFlowState(t *testing.T, db *pg.DB, sessionID, deviceID, stage string, amount float64) *repository.FlowStateEntity {
	ctx := context.Background()
	state := &repository.FlowStateEntity{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Stage:      stage,
		ChemicalID: 1,
		TankNumber: 1,
		Volume:     500,
		Amount:     amount,
	}
	err := db.Write(ctx).Create(state).Error
	require.NoError(t, err)
	return state
}

func CreateTestTransaction(t *testing.T, db *pg.DB, txnID, deviceID string, amount float64) *repository.TransactionEntity {
	ctx := context.Background()
	txn := &repository.TransactionEntity{
		TxnID:    txnID,
		PrvTxnID: RandomTxnRef(),
		DeviceID: deviceID,
		Amount:   amount,
		TxnDate:  time.Now().Format("20060102150405"),
	}
	err := db.Write(ctx).Create(txn).Error
	require.NoError(t, err)
	return txn
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func RandomTxnRef() string {
	return fmt.Sprintf("%d", time.Now().UnixNano()/1e6)
}

func Ptr[T any](v T) *T {
	return &v
}
