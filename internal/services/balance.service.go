package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ecotrend/dispensing-gateway/internal/model"
	"github.com/ecotrend/dispensing-gateway/internal/repository"
)

var (
	ErrBalanceNotFound     = errors.New("balance not found")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
)

type BalanceRepository interface {
	Create(ctx context.Context, deviceID string, initial float64) (*model.Balance, error)
	Get(ctx context.Context, deviceID string) (*model.Balance, error)
	Credit(ctx context.Context, deviceID string, amount float64) error
	Debit(ctx context.Context, deviceID string, amount float64) error
}

// BalanceService serves the legacy balance-mode surface. In direct mode the
// endpoints stay available for reporting but money moves through sessions.
type BalanceService struct {
	balanceRepo     BalanceRepository
	transactionRepo TransactionRepository
	mirror          BalanceMirror
}

func NewBalanceService(balanceRepo BalanceRepository, transactionRepo TransactionRepository, mirror BalanceMirror) *BalanceService {
	return &BalanceService{
		balanceRepo:     balanceRepo,
		transactionRepo: transactionRepo,
		mirror:          mirror,
	}
}

func (s *BalanceService) Get(ctx context.Context, deviceID string) (*model.Balance, error) {
	bal, err := s.balanceRepo.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("get balance: %w", err)
	}
	return bal, nil
}

func (s *BalanceService) TopUp(ctx context.Context, deviceID string, amount float64) (*model.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.balanceRepo.Credit(ctx, deviceID, amount); err != nil {
		if errors.Is(err, repository.ErrBalanceNotFound) {
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("credit balance: %w", err)
	}
	return s.reflect(ctx, deviceID)
}

// Decrease withdraws from the balance; the stored balance can never go
// negative, an over-withdrawal changes nothing.
func (s *BalanceService) Decrease(ctx context.Context, deviceID string, amount float64) (*model.Balance, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.balanceRepo.Debit(ctx, deviceID, amount); err != nil {
		switch {
		case errors.Is(err, repository.ErrInsufficientBalance):
			return nil, ErrInsufficientBalance
		case errors.Is(err, repository.ErrBalanceNotFound):
			return nil, ErrBalanceNotFound
		}
		return nil, fmt.Errorf("debit balance: %w", err)
	}
	return s.reflect(ctx, deviceID)
}

func (s *BalanceService) reflect(ctx context.Context, deviceID string) (*model.Balance, error) {
	bal, err := s.balanceRepo.Get(ctx, deviceID)
	if err != nil {
		return nil, fmt.Errorf("get balance: %w", err)
	}
	if s.mirror != nil {
		s.mirror.MirrorBalance(deviceID, bal.Balance)
	}
	return bal, nil
}

func (s *BalanceService) Transactions(ctx context.Context, f repository.TransactionFilter) ([]*model.Transaction, int64, error) {
	return s.transactionRepo.ListByDevice(ctx, f)
}
