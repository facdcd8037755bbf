package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/dispatchd/dispatch-backend/internal/company/domain"
	"github.com/dispatchd/dispatch-backend/internal/company/repository"
	"github.com/dispatchd/dispatch-backend/pkg/database"
	"github.com/dispatchd/dispatch-backend/pkg/errors"
	"github.com/dispatchd/dispatch-backend/pkg/logger"
	"github.com/dispatchd/dispatch-backend/pkg/messaging"
	"github.com/dispatchd/dispatch-backend/pkg/reqctx"
)

// BalanceService enforces the consumable company balance and manages top-ups.
type BalanceService struct {
	db       *database.DB
	balances *repository.BalanceRepository
	events   *messaging.Publisher
	logger   *logger.Logger
}

// NewBalanceService creates the balance service.
func NewBalanceService(db *database.DB, balances *repository.BalanceRepository, events *messaging.Publisher, log *logger.Logger) *BalanceService {
	return &BalanceService{db: db, balances: balances, events: events, logger: log}
}

// EnsureForCompany creates the default balance row if it is missing.
func (s *BalanceService) EnsureForCompany(ctx context.Context, companyID string) error {
	return s.balances.EnsureRow(ctx, s.db.Ext(ctx), companyID)
}

// Get returns the company's balance, lazily creating the default row.
func (s *BalanceService) Get(ctx context.Context, companyID string) (*domain.CompanyBalance, error) {
	if err := s.balances.EnsureRow(ctx, s.db.Ext(ctx), companyID); err != nil {
		return nil, err
	}
	return s.balances.Get(ctx, companyID)
}

// Consume charges the company for the action inside the ambient request
// transaction. Actions the current balance type does not meter pass for free;
// an exhausted balance surfaces as the structured BALANCE_EXCEEDED conflict
// and, because it is a 4xx, rolls the whole request back including the
// decrement itself.
func (s *BalanceService) Consume(ctx context.Context, companyID string, action domain.BalanceAction) error {
	if err := s.balances.EnsureRow(ctx, s.db.Ext(ctx), companyID); err != nil {
		return err
	}

	balanceType, err := s.balances.CurrentType(ctx, companyID)
	if err != nil {
		return err
	}
	if !balanceType.Gates(action) {
		return nil
	}

	var ok bool
	switch action {
	case domain.ActionMissionCreate:
		ok, err = s.balances.ConsumeMission(ctx, companyID)
	case domain.ActionVehicleCreate:
		ok, err = s.balances.ConsumeVehicleMonth(ctx, companyID)
	default:
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn().
			Str("company_id", companyID).
			Str("balance_type", string(balanceType)).
			Str("action", string(action)).
			Msg("balance exhausted")

		// The rejection rolls the request back, but the broker is not
		// transactional, so the event still goes out.
		if s.events != nil {
			if pubErr := s.events.Publish(ctx, messaging.EventBalanceExhausted, map[string]string{
				"companyId":   companyID,
				"balanceType": string(balanceType),
				"action":      string(action),
			}); pubErr != nil {
				s.logger.Warn().Err(pubErr).Msg("event publish failed")
			}
		}
		return errors.BalanceExceeded(string(balanceType))
	}
	return nil
}

// PurchaseInput carries an admin balance mutation.
type PurchaseInput struct {
	Type     domain.BalanceType `json:"type" validate:"required,oneof=per_missions per_vehicles_per_month"`
	Quantity int                `json:"quantity" validate:"required,gt=0"`
}

// Purchase applies a top-up or a plan switch and appends the audit row. A
// per_missions purchase adds to total and remaining; switching to
// per_vehicles_per_month replaces the counters with a fresh monthly
// allowance.
func (s *BalanceService) Purchase(ctx context.Context, companyID string, in *PurchaseInput) (*domain.CompanyBalance, error) {
	if err := s.balances.EnsureRow(ctx, s.db.Ext(ctx), companyID); err != nil {
		return nil, err
	}

	var (
		balance *domain.CompanyBalance
		err     error
	)
	switch in.Type {
	case domain.BalancePerMissions:
		balance, err = s.balances.TopUpMissions(ctx, companyID, in.Quantity)
	case domain.BalancePerVehiclesPerMonth:
		balance, err = s.balances.SetMonthlyVehicleLimit(ctx, companyID, in.Quantity)
	default:
		return nil, errors.BadRequest("unknown balance type")
	}
	if err != nil {
		return nil, err
	}

	purchase := &domain.BalancePurchase{
		ID:                uuid.New().String(),
		CompanyID:         companyID,
		Type:              in.Type,
		Quantity:          in.Quantity,
		TotalAfter:        balance.Total,
		RemainingAfter:    balance.Remaining,
		MonthlyLimitAfter: balance.MonthlyLimit,
		PeriodStartAfter:  balance.PeriodStart,
	}
	if rc := reqctx.From(ctx); rc != nil && rc.UserID != "" {
		purchase.CreatedByID = &rc.UserID
	}
	if err := s.balances.RecordPurchase(ctx, purchase); err != nil {
		return nil, err
	}

	s.logger.Info().
		Str("company_id", companyID).
		Str("balance_type", string(in.Type)).
		Int("quantity", in.Quantity).
		Msg("balance purchase recorded")
	return balance, nil
}

// Purchases returns the company's balance audit trail.
func (s *BalanceService) Purchases(ctx context.Context, companyID string) ([]*domain.BalancePurchase, error) {
	return s.balances.ListPurchases(ctx, companyID)
}
