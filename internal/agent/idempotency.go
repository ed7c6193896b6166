package agent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ecotrend/dispensing-gateway/pkg/logger"
	"github.com/ecotrend/dispensing-gateway/pkg/redis"
)

var (
	ErrAlreadyCompleted  = errors.New("dispense command already completed")
	ErrLockAcquireFailed = errors.New("failed to acquire dispense lock")
	ErrRetriesExhausted  = errors.New("dispense retries exhausted")
)

type IdempotencyConfig struct {
	LockTTL time.Duration

	CompletedTTL time.Duration

	MaxRetries int

	RetryKeyPrefix string

	LockKeyPrefix string

	CompletedKeyPrefix string
}

func DefaultIdempotencyConfig() IdempotencyConfig {
	return IdempotencyConfig{
		LockTTL:            30 * time.Second,
		CompletedTTL:       24 * time.Hour,
		MaxRetries:         3,
		RetryKeyPrefix:     "dispense:retry:",
		LockKeyPrefix:      "dispense:lock:",
		CompletedKeyPrefix: "dispense:done:",
	}
}

// IdempotencyService guards the pour itself. A session id is locked while an
// agent works on it and carries a long-term completion marker afterwards, so
// a reclaimed or duplicated command can never make a device pour twice.
type IdempotencyService struct {
	redis  redis.RedisAdapter
	config IdempotencyConfig
}

func NewIdempotencyService(redisAdapter redis.RedisAdapter, config IdempotencyConfig) *IdempotencyService {
	return &IdempotencyService{
		redis:  redisAdapter,
		config: config,
	}
}

type PourContext struct {
	SessionID    string
	RetryCount   int
	IsRetry      bool
	lockAcquired bool
	service      *IdempotencyService
}

func (s *IdempotencyService) AcquirePourLock(ctx context.Context, sessionID string) (*PourContext, error) {
	// Step 1: long-term completion marker
	completedKey := s.config.CompletedKeyPrefix + sessionID
	exists, err := s.redis.Exist(completedKey)
	if err != nil {
		logger.Warn("Failed to check completion marker", "session_id", sessionID, "error", err)
		// Continue even if check fails; the flow-state stage catches duplicates too
	} else if exists > 0 {
		logger.Info("Session already dispensed, skipping", "session_id", sessionID)
		return nil, ErrAlreadyCompleted
	}

	// Step 2: current retry count
	retryKey := s.config.RetryKeyPrefix + sessionID
	retryCountBytes, err := s.redis.Get(retryKey)
	retryCount := 0
	if err == nil && len(retryCountBytes) > 0 {
		fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	}

	// Step 3: retries exhausted
	if retryCount >= s.config.MaxRetries {
		logger.Error("Dispense retries exhausted", "session_id", sessionID, "retry_count", retryCount)
		return nil, fmt.Errorf("%w: session_id=%s, retries=%d", ErrRetriesExhausted, sessionID, retryCount)
	}

	// Step 4: short-term lock so two agents cannot pour the same session
	lockKey := s.config.LockKeyPrefix + sessionID
	lockValue := []byte(fmt.Sprintf("%d", time.Now().UnixNano()))

	acquired, err := s.redis.SetNX(lockKey, lockValue, s.config.LockTTL)
	if err != nil {
		logger.Error("Failed to acquire dispense lock", "session_id", sessionID, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrLockAcquireFailed, err)
	}

	if !acquired {
		logger.Info("Dispense lock held by another agent", "session_id", sessionID)
		return nil, ErrLockAcquireFailed
	}

	logger.Info("Dispense lock acquired",
		"session_id", sessionID,
		"retry_count", retryCount,
		"lock_ttl", s.config.LockTTL)

	return &PourContext{
		SessionID:    sessionID,
		RetryCount:   retryCount,
		IsRetry:      retryCount > 0,
		lockAcquired: true,
		service:      s,
	}, nil
}

func (s *IdempotencyService) MarkCompleted(ctx context.Context, pc *PourContext) error {
	sessionID := pc.SessionID

	completedKey := s.config.CompletedKeyPrefix + sessionID
	err := s.redis.Set(completedKey, []byte("1"), s.config.CompletedTTL)
	if err != nil {
		logger.Error("Failed to mark session as dispensed", "session_id", sessionID, "error", err)
		return fmt.Errorf("failed to mark as dispensed: %w", err)
	}

	s.cleanup(ctx, pc)

	logger.Info("Session marked as dispensed",
		"session_id", sessionID,
		"retry_count", pc.RetryCount)

	return nil
}

func (s *IdempotencyService) MarkFailure(ctx context.Context, pc *PourContext, reason error) error {
	sessionID := pc.SessionID

	retryKey := s.config.RetryKeyPrefix + sessionID
	newRetryCount := pc.RetryCount + 1
	retryValue := []byte(fmt.Sprintf("%d", newRetryCount))

	// Keep the counter around across redeliveries
	err := s.redis.Set(retryKey, retryValue, s.config.CompletedTTL)
	if err != nil {
		logger.Error("Failed to increment retry counter", "session_id", sessionID, "error", err)
	}

	lockKey := s.config.LockKeyPrefix + sessionID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to remove dispense lock", "session_id", sessionID, "error", err)
	}

	logger.Warn("Dispense failed, will retry",
		"session_id", sessionID,
		"retry_count", newRetryCount,
		"max_retries", s.config.MaxRetries,
		"reason", reason)

	return nil
}

func (s *IdempotencyService) ReleaseLock(ctx context.Context, pc *PourContext) error {
	if pc == nil || !pc.lockAcquired {
		return nil
	}

	lockKey := s.config.LockKeyPrefix + pc.SessionID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to release dispense lock", "session_id", pc.SessionID, "error", err)
		return err
	}

	pc.lockAcquired = false
	logger.Debug("Dispense lock released", "session_id", pc.SessionID)
	return nil
}

func (s *IdempotencyService) cleanup(ctx context.Context, pc *PourContext) {
	sessionID := pc.SessionID

	lockKey := s.config.LockKeyPrefix + sessionID
	if err := s.redis.Del(lockKey); err != nil {
		logger.Warn("Failed to cleanup dispense lock", "session_id", sessionID, "error", err)
	}

	retryKey := s.config.RetryKeyPrefix + sessionID
	if err := s.redis.Del(retryKey); err != nil {
		logger.Warn("Failed to cleanup retry counter", "session_id", sessionID, "error", err)
	}

	pc.lockAcquired = false
}

func (s *IdempotencyService) GetRetryCount(ctx context.Context, sessionID string) (int, error) {
	retryKey := s.config.RetryKeyPrefix + sessionID
	retryCountBytes, err := s.redis.Get(retryKey)
	if err != nil {
		if err == redis.NilError {
			return 0, nil
		}
		return 0, err
	}

	retryCount := 0
	fmt.Sscanf(string(retryCountBytes), "%d", &retryCount)
	return retryCount, nil
}

func (s *IdempotencyService) IsCompleted(ctx context.Context, sessionID string) (bool, error) {
	completedKey := s.config.CompletedKeyPrefix + sessionID
	exists, err := s.redis.Exist(completedKey)
	if err != nil {
		return false, err
	}
	return exists > 0, nil
}
