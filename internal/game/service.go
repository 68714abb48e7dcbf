package game

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/config"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/prize"
	"reward_ledger/internal/window"
)

var ErrTableNotFound = ledger.NotFound("prize table")

type Outcome struct {
	Allowed     bool                `json:"allowed"`
	Remaining   int                 `json:"remaining"`
	Prize       *prize.Entry        `json:"prize,omitempty"`
	Transaction *ledger.Transaction `json:"-"`
}

type Service struct {
	ledger  *ledger.Service
	windows *window.Tracker
	economy *config.Holder
	src     prize.UniformSource
}

func NewService(l *ledger.Service, w *window.Tracker, economy *config.Holder) *Service {
	return &Service{ledger: l, windows: w, economy: economy, src: prize.DefaultSource}
}

// WithSource swaps the random source, for deterministic draws.
func (s *Service) WithSource(src prize.UniformSource) *Service {
	s.src = src
	return s
}

func (s *Service) table(tableID string) (prize.Table, error) {
	if tableID == "" {
		tableID = config.DefaultPrizeTable
	}
	t, ok := s.economy.Current().PrizeTables[tableID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTableNotFound, tableID)
	}
	return t, nil
}

// Draw resolves one outcome of a configured table without touching any
// balance.
func (s *Service) Draw(tableID string) (prize.Entry, error) {
	t, err := s.table(tableID)
	if err != nil {
		return prize.Entry{}, err
	}
	return prize.Draw(t, s.src)
}

// Spin uses one of the user's daily spins, draws from the table and
// credits the prize. The spin is only counted if the credit commits.
func (s *Service) Spin(ctx context.Context, userID, tableID string) (*Outcome, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	t, err := s.table(tableID)
	if err != nil {
		return nil, err
	}
	limit := s.economy.Current().Limits.SpinsPerDay

	var out *Outcome
	err = s.ledger.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		out = &Outcome{}
		acct, err := s.ledger.Repo().GetAccountForUpdate(ctx, tx, userID)
		if err != nil {
			return err
		}
		if acct.Blocked {
			return ledger.ErrUserBlocked
		}

		res, err := s.windows.ConsumeTx(ctx, tx, userID, window.FeatureSpin, limit)
		if err != nil {
			return err
		}
		out.Allowed = res.Allowed
		out.Remaining = res.Remaining
		if !res.Allowed {
			return nil
		}

		entry, err := prize.Draw(t, s.src)
		if err != nil {
			return err
		}
		out.Prize = &entry
		if entry.NoWin() {
			return nil
		}
		out.Transaction, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
			UserID:      userID,
			Kind:        ledger.KindSpinWin,
			Amount:      entry.Amount,
			Description: fmt.Sprintf("Spin wheel prize #%d", entry.ID),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.ledger.Recorded(out.Transaction)
	if out.Prize != nil {
		logger.L.Info("spin resolved",
			zap.String("user_id", userID),
			zap.Int("prize_id", out.Prize.ID),
			zap.Int("remaining", out.Remaining))
	}
	return out, nil
}
