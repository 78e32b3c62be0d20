package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/poolbet/poolbet/internal/domain"
)

// AccountService exposes balances and ledger history, plus the one write the
// ledger accepts outside settlement transactions: deposits from the issuing
// authority.
type AccountService struct {
	ledger domain.LedgerStore
	audit  domain.AuditStore
	logger *slog.Logger
}

// NewAccountService creates an AccountService.
func NewAccountService(ledger domain.LedgerStore, audit domain.AuditStore, logger *slog.Logger) *AccountService {
	return &AccountService{ledger: ledger, audit: audit, logger: logger}
}

// Deposit grants amount to an account.
func (s *AccountService) Deposit(ctx context.Context, accountID string, amount int64) (domain.LedgerEntry, error) {
	if amount <= 0 {
		return domain.LedgerEntry{}, fmt.Errorf("account_service: deposit %d: %w", amount, domain.ErrInvalidAmount)
	}

	entry := domain.LedgerEntry{
		ID:            uuid.NewString(),
		AccountID:     accountID,
		Amount:        amount,
		Reason:        domain.LedgerReasonDeposit,
		CorrelationID: uuid.NewString(),
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.ledger.Deposit(ctx, entry); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("account_service: deposit to %q: %w", accountID, err)
	}

	if auditErr := s.audit.Log(ctx, "deposit", map[string]any{
		"account_id": accountID,
		"amount":     amount,
		"entry_id":   entry.ID,
	}); auditErr != nil {
		s.logger.WarnContext(ctx, "account_service: audit log failed",
			slog.String("account_id", accountID),
			slog.String("error", auditErr.Error()),
		)
	}

	s.logger.InfoContext(ctx, "account_service: deposit",
		slog.String("account_id", accountID),
		slog.Int64("amount", amount),
	)
	return entry, nil
}

// Balance returns an account's balance, the sum of its ledger entries.
func (s *AccountService) Balance(ctx context.Context, accountID string) (int64, error) {
	balance, err := s.ledger.Balance(ctx, accountID)
	if err != nil {
		return 0, fmt.Errorf("account_service: balance of %q: %w", accountID, err)
	}
	return balance, nil
}

// History returns an account's ledger entries, newest first.
func (s *AccountService) History(ctx context.Context, accountID string, opts domain.ListOpts) ([]domain.LedgerEntry, error) {
	entries, err := s.ledger.List(ctx, accountID, opts)
	if err != nil {
		return nil, fmt.Errorf("account_service: history of %q: %w", accountID, err)
	}
	return entries, nil
}
