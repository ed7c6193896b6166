package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecotrend/dispensing-gateway/internal/commands"
	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/services"
	"github.com/ecotrend/dispensing-gateway/internal/telemetry"
)

type stubDispenser struct {
	calls []string
	op    *model.DispensingOperation
	err   error
}

func (s *stubDispenser) Dispense(ctx context.Context, sessionID string) (*model.DispensingOperation, error) {
	s.calls = append(s.calls, sessionID)
	if s.err != nil {
		return nil, s.err
	}
	return s.op, nil
}

type stubStatusWriter struct {
	statuses []string
}

func (s *stubStatusWriter) SetStatus(deviceID, status string) {
	s.statuses = append(s.statuses, status)
}

func testDelivery() *commands.Delivery {
	return &commands.Delivery{
		ID: "1-0",
		Command: model.DispenseCommand{
			SessionID:  "session-1001",
			DeviceID:   "DEVICE-001",
			TankNumber: 3,
			Volume:     500,
			Amount:     50,
		},
		Timestamp: time.Now(),
	}
}

func newTestProcessor(dispenser *stubDispenser, status *stubStatusWriter) (*PourProcessor, *IdempotencyService) {
	idem := NewIdempotencyService(newMockRedisAdapter(), DefaultIdempotencyConfig())
	return NewPourProcessor(dispenser, status, idem), idem
}

func TestPourProcessor_Process_Success(t *testing.T) {
	dispenser := &stubDispenser{op: &model.DispensingOperation{
		DeviceID:      "DEVICE-001",
		ReceiptNumber: "R-DEVICE-001-1700000000",
	}}
	status := &stubStatusWriter{}
	processor, idem := newTestProcessor(dispenser, status)

	err := processor.Process(context.Background(), testDelivery())
	require.NoError(t, err)

	assert.Equal(t, []string{"session-1001"}, dispenser.calls)
	assert.Equal(t, []string{telemetry.StatusDispensing, telemetry.StatusActive}, status.statuses)

	completed, err := idem.IsCompleted(context.Background(), "session-1001")
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestPourProcessor_Process_DuplicateDelivery(t *testing.T) {
	dispenser := &stubDispenser{op: &model.DispensingOperation{DeviceID: "DEVICE-001"}}
	processor, _ := newTestProcessor(dispenser, &stubStatusWriter{})

	require.NoError(t, processor.Process(context.Background(), testDelivery()))
	require.NoError(t, processor.Process(context.Background(), testDelivery()))

	// Second delivery short-circuits on the completion marker
	assert.Len(t, dispenser.calls, 1)
}

func TestPourProcessor_Process_SettledElsewhereAcks(t *testing.T) {
	dispenser := &stubDispenser{err: services.ErrAlreadyDispensed}
	processor, idem := newTestProcessor(dispenser, &stubStatusWriter{})

	err := processor.Process(context.Background(), testDelivery())
	require.NoError(t, err)

	completed, err := idem.IsCompleted(context.Background(), "session-1001")
	require.NoError(t, err)
	assert.True(t, completed)
}

func TestPourProcessor_Process_UnknownSessionAcks(t *testing.T) {
	dispenser := &stubDispenser{err: services.ErrSessionNotFound}
	processor, _ := newTestProcessor(dispenser, &stubStatusWriter{})

	// Retrying an unknown session can never succeed, so the command is acked
	err := processor.Process(context.Background(), testDelivery())
	assert.NoError(t, err)
}

func TestPourProcessor_Process_TransientFailureRetries(t *testing.T) {
	dispenser := &stubDispenser{err: errors.New("device unreachable")}
	processor, idem := newTestProcessor(dispenser, &stubStatusWriter{})

	err := processor.Process(context.Background(), testDelivery())
	require.Error(t, err)

	count, err := idem.GetRetryCount(context.Background(), "session-1001")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	completed, err := idem.IsCompleted(context.Background(), "session-1001")
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestPourProcessor_Process_EmptySessionAcked(t *testing.T) {
	dispenser := &stubDispenser{}
	processor, _ := newTestProcessor(dispenser, &stubStatusWriter{})

	d := testDelivery()
	d.Command.SessionID = ""

	err := processor.Process(context.Background(), d)
	assert.NoError(t, err)
	assert.Empty(t, dispenser.calls)
}
