package repository

import (
	"context"
	"testing"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCalculatedSession(t *testing.T, repo *FlowStateRepository, sessionID, deviceID string) *model.FlowState {
	t.Helper()
	fs, err := repo.Create(context.Background(), &model.FlowState{
		SessionID:  sessionID,
		DeviceID:   deviceID,
		Stage:      model.StageCalculated,
		ChemicalID: 1,
		TankNumber: 1,
		Volume:     500,
		Amount:     50.00,
	})
	require.NoError(t, err)
	return fs
}

func TestFlowStateRepository_AttachPayment(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewFlowStateRepository(db)
	ctx := context.Background()

	t.Run("attaches txn and advances to awaiting_payment", func(t *testing.T) {
		newCalculatedSession(t, repo, "S-1", "DEVICE-001")

		err := repo.AttachPayment(ctx, "S-1", "TXN-1")
		require.NoError(t, err)

		fs, err := repo.FindBySessionID(ctx, "S-1")
		require.NoError(t, err)
		assert.Equal(t, model.StageAwaitingPayment, fs.Stage)
		assert.Equal(t, "TXN-1", fs.TransactionID)
	})

	t.Run("second attach conflicts", func(t *testing.T) {
		err := repo.AttachPayment(ctx, "S-1", "TXN-2")
		assert.ErrorIs(t, err, ErrStageConflict)
	})

	t.Run("unknown session conflicts", func(t *testing.T) {
		err := repo.AttachPayment(ctx, "S-404", "TXN-3")
		assert.ErrorIs(t, err, ErrStageConflict)
	})
}

func TestFlowStateRepository_FindAwaitingPayment(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewFlowStateRepository(db)
	ctx := context.Background()

	newCalculatedSession(t, repo, "S-10", "DEVICE-002")
	require.NoError(t, repo.AttachPayment(ctx, "S-10", "TXN-10"))

	t.Run("resolves session from txn id", func(t *testing.T) {
		fs, err := repo.FindAwaitingPayment(ctx, "TXN-10")
		require.NoError(t, err)
		assert.Equal(t, "S-10", fs.SessionID)
	})

	t.Run("completed session is not awaiting payment", func(t *testing.T) {
		require.NoError(t, repo.TransitionStage(ctx, "S-10", model.StageAwaitingPayment, model.StagePaymentCompleted))

		_, err := repo.FindAwaitingPayment(ctx, "TXN-10")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})
}

func TestFlowStateRepository_TransitionStage(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewFlowStateRepository(db)
	ctx := context.Background()

	newCalculatedSession(t, repo, "S-20", "DEVICE-003")

	t.Run("guarded transition from wrong stage fails", func(t *testing.T) {
		err := repo.TransitionStage(ctx, "S-20", model.StagePaymentCompleted, model.StageCompleted)
		assert.ErrorIs(t, err, ErrStageConflict)

		fs, err := repo.FindBySessionID(ctx, "S-20")
		require.NoError(t, err)
		assert.Equal(t, model.StageCalculated, fs.Stage)
	})
}

func TestFlowStateRepository_FindActiveByDevice(t *testing.T) {
	db := setupTestDB(t).DB
	repo := NewFlowStateRepository(db)
	ctx := context.Background()

	t.Run("no sessions", func(t *testing.T) {
		_, err := repo.FindActiveByDevice(ctx, "DEVICE-004")
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("returns most recent non-completed session", func(t *testing.T) {
		newCalculatedSession(t, repo, "S-30", "DEVICE-004")
		time.Sleep(10 * time.Millisecond)
		newCalculatedSession(t, repo, "S-31", "DEVICE-004")

		fs, err := repo.FindActiveByDevice(ctx, "DEVICE-004")
		require.NoError(t, err)
		assert.Equal(t, "S-31", fs.SessionID)
	})

	t.Run("completed sessions are filtered out", func(t *testing.T) {
		require.NoError(t, repo.AttachPayment(ctx, "S-31", "TXN-31"))
		require.NoError(t, repo.TransitionStage(ctx, "S-31", model.StageAwaitingPayment, model.StagePaymentCompleted))
		require.NoError(t, repo.TransitionStage(ctx, "S-31", model.StagePaymentCompleted, model.StageCompleted))

		fs, err := repo.FindActiveByDevice(ctx, "DEVICE-004")
		require.NoError(t, err)
		assert.Equal(t, "S-30", fs.SessionID)
	})
}
