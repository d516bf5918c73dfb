package accounts

import (
	"context"
	"log/slog"
	"time"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListAutoChargeCandidates(ctx context.Context) ([]Account, error)
	SetTabBlocked(ctx context.Context, id int64, blocked bool) error
	AcceptTerms(ctx context.Context, id int64, at time.Time) error
	SetStripeCustomer(ctx context.Context, id int64, customerID string) error
}

// Service coordinates account operations.
type Service struct {
	repo   RepositoryPort
	logger *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get returns one account.
func (s *Service) Get(ctx context.Context, id int64) (Account, error) {
	return s.repo.GetAccount(ctx, id)
}

// ListAutoChargeCandidates returns accounts eligible for batch billing.
func (s *Service) ListAutoChargeCandidates(ctx context.Context) ([]Account, error) {
	return s.repo.ListAutoChargeCandidates(ctx)
}

// Block sets the tab-blocked flag. Idempotent.
func (s *Service) Block(ctx context.Context, id int64) error {
	if err := s.repo.SetTabBlocked(ctx, id, true); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.Info("tab blocked", slog.Int64("account_id", id))
	}
	return nil
}

// Unblock clears the tab-blocked flag. Staff action; nothing in the
// settlement or billing paths calls this.
func (s *Service) Unblock(ctx context.Context, id int64) error {
	return s.repo.SetTabBlocked(ctx, id, false)
}

// AcceptTerms records acceptance of the tab terms.
func (s *Service) AcceptTerms(ctx context.Context, id int64) error {
	return s.repo.AcceptTerms(ctx, id, time.Now().UTC())
}

// LinkStripeCustomer associates a gateway customer reference.
func (s *Service) LinkStripeCustomer(ctx context.Context, id int64, customerID string) error {
	return s.repo.SetStripeCustomer(ctx, id, customerID)
}
