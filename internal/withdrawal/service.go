package withdrawal

import (
	"context"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/config"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/notify"
)

const (
	HistoryLimit = 20
	PendingLimit = 100
	TopLimit     = 10
)

type Service struct {
	ledger   *ledger.Service
	repo     Repository
	economy  *config.Holder
	notifier notify.Notifier
}

func NewService(l *ledger.Service, repo Repository, economy *config.Holder, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{ledger: l, repo: repo, economy: economy, notifier: notifier}
}

// MaxAccountRefLength is the width of the account_ref column.
const MaxAccountRefLength = 255

// Request debits amount right away and files a pending request.
func (s *Service) Request(ctx context.Context, userID, method, accountRef string, amount decimal.Decimal) (*Request, error) {
	if userID == "" || accountRef == "" {
		return nil, ledger.Invalid("user id and account are required")
	}
	if utf8.RuneCountInString(accountRef) > MaxAccountRefLength {
		return nil, ledger.Invalid("account longer than %d characters", MaxAccountRefLength)
	}
	if !amount.IsPositive() || !amount.Equal(amount.Round(2)) {
		return nil, ledger.Invalid("amount %s must be positive with at most two decimal places", amount)
	}
	econ := s.economy.Current()
	m, ok := econ.Method(method)
	if !ok {
		return nil, fmt.Errorf("%w: %w: %q", ledger.ErrValidation, ErrMethodUnavailable, method)
	}
	if amount.LessThan(econ.Withdrawal.Min) {
		return nil, fmt.Errorf("%w: minimum is %s", ErrBelowMinimum, econ.Withdrawal.Min.StringFixed(2))
	}
	if amount.GreaterThan(econ.Withdrawal.Max) {
		return nil, fmt.Errorf("%w: maximum is %s", ErrAboveMaximum, econ.Withdrawal.Max.StringFixed(2))
	}

	var req *Request
	var debit *ledger.Transaction
	err := s.ledger.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		id := uuid.New().String()
		var err error
		debit, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
			UserID:      userID,
			Kind:        ledger.KindWithdrawalRequest,
			Amount:      amount.Neg(),
			Description: fmt.Sprintf("Withdrawal via %s", m.Name),
			ReferenceID: id,
		})
		if err != nil {
			return err
		}
		req = &Request{
			RequestID:     id,
			UserID:        userID,
			Method:        m.ID,
			AccountRef:    accountRef,
			Amount:        amount,
			Status:        StatusPending,
			TransactionID: debit.TransactionID,
			CreatedAt:     s.ledger.Now(),
		}
		return s.repo.Create(ctx, tx, req)
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Recorded(debit)
	s.notifier.Notify(userID, notify.KindWithdrawal,
		fmt.Sprintf("Withdrawal of %s requested, awaiting approval", amount.StringFixed(2)))
	logger.L.Info("withdrawal requested",
		zap.String("request_id", req.RequestID),
		zap.String("user_id", userID),
		zap.String("amount", amount.StringFixed(2)))
	return req, nil
}

// Approve finalises a pending request. Funds were taken at request time.
func (s *Service) Approve(ctx context.Context, requestID, adminID string) (*Request, error) {
	return s.resolve(ctx, requestID, StatusApproved, adminID, "")
}

// Reject finalises a pending request and refunds it exactly once. The
// refund is applied even if the user has been blocked since.
func (s *Service) Reject(ctx context.Context, requestID, adminID, note string) (*Request, error) {
	return s.resolve(ctx, requestID, StatusRejected, adminID, note)
}

func (s *Service) Resolve(ctx context.Context, requestID string, d Decision) (*Request, error) {
	switch d.Action {
	case ActionApprove:
		return s.Approve(ctx, requestID, d.AdminID)
	case ActionReject:
		return s.Reject(ctx, requestID, d.AdminID, d.Note)
	}
	return nil, ledger.Invalid("unknown action %q", d.Action)
}

func (s *Service) resolve(ctx context.Context, requestID string, to Status, adminID, note string) (*Request, error) {
	if requestID == "" || adminID == "" {
		return nil, ledger.Invalid("request id and admin id are required")
	}
	var req *Request
	var refund *ledger.Transaction
	err := s.ledger.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		refund = nil
		ok, err := s.repo.Transition(ctx, tx, requestID, to, adminID, note, s.ledger.Now())
		if err != nil {
			return err
		}
		req, err = s.repo.Get(ctx, tx, requestID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: request is %s", ErrInvalidTransition, req.Status)
		}
		if to != StatusRejected {
			return nil
		}
		refund, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
			UserID:      req.UserID,
			Kind:        ledger.KindWithdrawalRefund,
			Amount:      req.Amount,
			Description: "Refund for rejected withdrawal",
			ReferenceID: req.RequestID,
		})
		if errors.Is(err, ledger.ErrDuplicate) {
			return fmt.Errorf("%w: refund already issued", ErrInvalidTransition)
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Recorded(refund)

	text := fmt.Sprintf("Withdrawal of %s approved", req.Amount.StringFixed(2))
	if to == StatusRejected {
		text = fmt.Sprintf("Withdrawal of %s rejected, funds returned", req.Amount.StringFixed(2))
	}
	s.notifier.Notify(req.UserID, notify.KindWithdrawal, text)
	logger.L.Info("withdrawal resolved",
		zap.String("request_id", requestID),
		zap.String("status", string(to)),
		zap.String("admin_id", adminID))
	return req, nil
}

func (s *Service) Get(ctx context.Context, requestID string) (*Request, error) {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.Get(ctx, nil, requestID)
}

// ListByUser returns the user's most recent requests.
func (s *Service) ListByUser(ctx context.Context, userID string) ([]Request, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.ListByUser(ctx, userID, HistoryLimit)
}

// ListPending returns the review queue, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]Request, error) {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.ListByStatus(ctx, StatusPending, PendingLimit)
}

func (s *Service) TopWithdrawers(ctx context.Context) ([]TopWithdrawer, error) {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.TopWithdrawers(ctx, TopLimit)
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.Stats(ctx)
}
