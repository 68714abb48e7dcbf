package referral

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/notify"
)

const listLimit = 100

type Service struct {
	ledger   *ledger.Service
	repo     Repository
	notifier notify.Notifier
}

func NewService(l *ledger.Service, repo Repository, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{ledger: l, repo: repo, notifier: notifier}
}

// Process pays both sides of a referral. All steps commit together; a
// repeat call for the same new user changes nothing and reports
// AlreadyProcessed.
func (s *Service) Process(ctx context.Context, newUserID, referrerID string, referrerBonus, refereeBonus decimal.Decimal) (*Result, error) {
	switch {
	case newUserID == "" || referrerID == "":
		return nil, ledger.Invalid("new user id and referrer id are required")
	case newUserID == referrerID:
		return nil, fmt.Errorf("%w: %v", ledger.ErrValidation, ErrSelfReferral)
	case referrerBonus.IsNegative() || refereeBonus.IsNegative():
		return nil, ledger.Invalid("referral bonuses must not be negative")
	}

	res := &Result{}
	err := s.ledger.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		*res = Result{}
		accts, err := s.ledger.LockAccounts(ctx, tx, newUserID, referrerID)
		if err != nil {
			return err
		}

		paid, err := s.ledger.HasTransactionTx(ctx, tx, newUserID, ledger.KindSignupBonus)
		if err != nil {
			return err
		}
		linked, err := s.repo.Exists(ctx, tx, newUserID)
		if err != nil {
			return err
		}
		if paid || linked {
			res.AlreadyProcessed = true
			return nil
		}
		if accts[newUserID].ReferredBy != nil {
			return ErrAlreadyReferred
		}

		if referrerBonus.IsPositive() {
			res.ReferrerTransaction, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
				UserID:      referrerID,
				Kind:        ledger.KindReferralBonus,
				Amount:      referrerBonus,
				Description: "Referral bonus for inviting " + newUserID,
				ReferenceID: newUserID,
			})
			if err != nil {
				return fmt.Errorf("credit referrer: %w", err)
			}
		}

		referrer, err := s.ledger.Repo().GetAccountForUpdate(ctx, tx, referrerID)
		if err != nil {
			return fmt.Errorf("increment referral count: %w", err)
		}
		if err := s.ledger.Repo().IncrementReferralCount(ctx, tx, referrer, s.ledger.Now()); err != nil {
			return fmt.Errorf("increment referral count: %w", err)
		}

		if err := s.ledger.Repo().LinkReferrer(ctx, tx, accts[newUserID], referrerID, s.ledger.Now()); err != nil {
			return fmt.Errorf("link referee: %w", err)
		}
		if err := s.repo.Create(ctx, tx, &Referral{
			RefereeID:     newUserID,
			ReferrerID:    referrerID,
			ReferrerBonus: referrerBonus,
			RefereeBonus:  refereeBonus,
			CreatedAt:     s.ledger.Now(),
		}); err != nil {
			return fmt.Errorf("link referee: %w", err)
		}

		if refereeBonus.IsPositive() {
			res.RefereeTransaction, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
				UserID:      newUserID,
				Kind:        ledger.KindSignupBonus,
				Amount:      refereeBonus,
				Description: "Signup bonus for joining with a referral",
				ReferenceID: newUserID,
			})
			if err != nil {
				return fmt.Errorf("credit referee: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if res.AlreadyProcessed {
		logger.L.Info("referral already processed", zap.String("referee_id", newUserID))
		return res, nil
	}

	s.ledger.Recorded(res.ReferrerTransaction, res.RefereeTransaction)
	s.notifier.Notify(referrerID, notify.KindReferral,
		fmt.Sprintf("A friend joined with your link, +%s", referrerBonus.StringFixed(2)))
	logger.L.Info("referral processed",
		zap.String("referee_id", newUserID),
		zap.String("referrer_id", referrerID))
	return res, nil
}

func (s *Service) ListReferrals(ctx context.Context, referrerID string) ([]Referral, error) {
	if referrerID == "" {
		return nil, ledger.Invalid("referrer id is required")
	}
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.ListByReferrer(ctx, referrerID, listLimit)
}

// Earnings is the total referral_bonus credited to referrerID.
func (s *Service) Earnings(ctx context.Context, referrerID string) (decimal.Decimal, error) {
	if referrerID == "" {
		return decimal.Zero, ledger.Invalid("referrer id is required")
	}
	return s.ledger.Total(ctx, referrerID, ledger.KindReferralBonus)
}

func (s *Service) Summary(ctx context.Context, referrerID string) (*Summary, error) {
	acct, err := s.ledger.GetAccount(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	refs, err := s.ListReferrals(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	earned, err := s.Earnings(ctx, referrerID)
	if err != nil {
		return nil, err
	}
	return &Summary{
		ReferrerID: referrerID,
		Count:      acct.ReferralCount,
		Earnings:   earned,
		Referrals:  refs,
	}, nil
}
