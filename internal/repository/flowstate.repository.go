package repository

import (
	"context"
	"errors"
	"time"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrStageConflict   = errors.New("flow state changed concurrently")
)

type FlowStateRepository struct {
	*pg.DB
}

func NewFlowStateRepository(db *pg.DB) *FlowStateRepository {
	return &FlowStateRepository{
		db,
	}
}

func (r *FlowStateRepository) Create(ctx context.Context, fs *model.FlowState) (*model.FlowState, error) {
	entity := toFlowStateEntity(fs)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toFlowStateModel(entity), nil
}

func (r *FlowStateRepository) FindBySessionID(ctx context.Context, sessionID string) (*model.FlowState, error) {
	var entity FlowStateEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return toFlowStateModel(&entity), nil
}

// FindBySessionIDForUpdate locks the session row for the remainder of the
// surrounding transaction. Callers must be inside WithinTransaction.
func (r *FlowStateRepository) FindBySessionIDForUpdate(ctx context.Context, sessionID string) (*model.FlowState, error) {
	var entity FlowStateEntity
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ?", sessionID).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return toFlowStateModel(&entity), nil
}

// FindAwaitingPayment resolves the session a webhook call refers to purely
// from the network transaction id attached at QR time.
func (r *FlowStateRepository) FindAwaitingPayment(ctx context.Context, txnID string) (*model.FlowState, error) {
	var entity FlowStateEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("transaction_id = ? AND stage = ?", txnID, string(model.StageAwaitingPayment)).
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return toFlowStateModel(&entity), nil
}

// AttachPayment moves a calculated session to awaiting_payment and records
// the network transaction id. The stage guard in the WHERE clause makes the
// transition safe under concurrent QR requests.
func (r *FlowStateRepository) AttachPayment(ctx context.Context, sessionID, txnID string) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&FlowStateEntity{}).
		Where("session_id = ? AND stage = ?", sessionID, string(model.StageCalculated)).
		Updates(map[string]interface{}{
			"stage":          string(model.StageAwaitingPayment),
			"transaction_id": txnID,
			"updated_at":     time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// TransitionStage advances a session from one stage to another. Fails with
// ErrStageConflict when the session is no longer at the expected stage.
func (r *FlowStateRepository) TransitionStage(ctx context.Context, sessionID string, from, to model.Stage) error {
	result := r.Write(ctx).WithContext(ctx).
		Model(&FlowStateEntity{}).
		Where("session_id = ? AND stage = ?", sessionID, string(from)).
		Updates(map[string]interface{}{
			"stage":      string(to),
			"updated_at": time.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return ErrStageConflict
	}
	return nil
}

// FindActiveByDevice returns the most recent non-completed session inside
// the 24h activity window, or ErrSessionNotFound.
func (r *FlowStateRepository) FindActiveByDevice(ctx context.Context, deviceID string) (*model.FlowState, error) {
	cutoff := time.Now().Add(-model.ActiveSessionWindow)

	var entity FlowStateEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("device_id = ? AND stage <> ? AND created_at > ?", deviceID, string(model.StageCompleted), cutoff).
		Order("created_at DESC").
		First(&entity).
		Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, err
	}
	return toFlowStateModel(&entity), nil
}
