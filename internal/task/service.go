package task

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/config"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/notify"
	"reward_ledger/internal/window"
)

// ErrAdLimitReached is returned when the user has used up today's ad views.
var ErrAdLimitReached = errors.New("daily ad view limit reached")

type Service struct {
	ledger   *ledger.Service
	windows  *window.Tracker
	repo     Repository
	economy  *config.Holder
	notifier notify.Notifier
}

func NewService(l *ledger.Service, w *window.Tracker, repo Repository, economy *config.Holder, notifier notify.Notifier) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{ledger: l, windows: w, repo: repo, economy: economy, notifier: notifier}
}

type Result struct {
	TaskID      string              `json:"task_id"`
	Transaction *ledger.Transaction `json:"-"`
	Completion  *Completion         `json:"-"`
}

func (s *Service) definition(ctx context.Context, taskID string) (*Definition, error) {
	if taskID == "" {
		return nil, ledger.Invalid("task id is required")
	}
	d, err := s.repo.GetDefinition(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !d.Active {
		return nil, ErrTaskInactive
	}
	return d, nil
}

// Start opens the verification countdown for today. Starting an already
// started task returns the existing claim.
func (s *Service) Start(ctx context.Context, userID, taskID string) (*Claim, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()

	if _, err := s.ledger.GetAccount(ctx, userID); err != nil {
		return nil, err
	}
	d, err := s.definition(ctx, taskID)
	if err != nil {
		return nil, err
	}
	day := s.windows.DayKey()
	done, err := s.repo.IsCompleted(ctx, nil, userID, taskID, day)
	if err != nil {
		return nil, err
	}
	if done {
		return nil, ErrAlreadyCompletedToday
	}

	now := s.ledger.Now()
	c := &Claim{
		UserID:      userID,
		TaskID:      taskID,
		DateKey:     day,
		StartedAt:   now,
		ClaimableAt: now.Add(d.Delay()),
	}
	if err := s.repo.CreateClaim(ctx, c); err != nil {
		return nil, err
	}
	return s.repo.GetClaim(ctx, userID, taskID, day)
}

func (s *Service) Status(ctx context.Context, userID, taskID string) (*Status, error) {
	if userID == "" || taskID == "" {
		return nil, ledger.Invalid("user id and task id are required")
	}
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()

	if _, err := s.repo.GetDefinition(ctx, taskID); err != nil {
		return nil, err
	}
	day := s.windows.DayKey()
	st := &Status{TaskID: taskID, State: StateNotStarted}
	done, err := s.repo.IsCompleted(ctx, nil, userID, taskID, day)
	if err != nil {
		return nil, err
	}
	if done {
		st.State = StateCompleted
		return st, nil
	}
	c, err := s.repo.GetClaim(ctx, userID, taskID, day)
	if err != nil {
		return nil, err
	}
	if c == nil {
		return st, nil
	}
	at := c.ClaimableAt
	st.ClaimableAt = &at
	if s.ledger.Now().Before(c.ClaimableAt) {
		st.State = StatePending
	} else {
		st.State = StateClaimable
	}
	return st, nil
}

// Complete pays the task reward once per user, task and day. The countdown
// started by Start is not enforced here.
func (s *Service) Complete(ctx context.Context, userID, taskID string) (*Result, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	if taskID == LoginTaskID {
		return s.ClaimLoginBonus(ctx, userID)
	}
	lookupCtx, cancel := s.ledger.Context(ctx)
	d, err := s.definition(lookupCtx, taskID)
	cancel()
	if err != nil {
		return nil, err
	}
	adLimit := s.economy.Current().Limits.AdViewsPerDay

	res, err := s.complete(ctx, userID, d, ledger.KindTaskComplete, func(ctx context.Context, tx *gorm.DB) error {
		if d.Type != TypeAd {
			return nil
		}
		w, err := s.windows.ConsumeTx(ctx, tx, userID, window.FeatureAdViews, adLimit)
		if err != nil {
			return err
		}
		if !w.Allowed {
			return ErrAdLimitReached
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.Notify(userID, notify.KindTask,
		fmt.Sprintf("Task %q completed, +%s", d.Title, d.Reward.StringFixed(2)))
	return res, nil
}

// ClaimLoginBonus pays the daily login bonus at most once per day.
func (s *Service) ClaimLoginBonus(ctx context.Context, userID string) (*Result, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	d := s.loginTask()
	if !d.Active {
		return nil, ErrTaskInactive
	}
	return s.complete(ctx, userID, d, ledger.KindLoginBonus, func(ctx context.Context, tx *gorm.DB) error {
		w, err := s.windows.ConsumeTx(ctx, tx, userID, window.FeatureLoginBonus, 1)
		if err != nil {
			return err
		}
		if !w.Allowed {
			return ErrAlreadyCompletedToday
		}
		return nil
	})
}

func (s *Service) loginTask() *Definition {
	reward := s.economy.Current().Bonuses.Login
	return &Definition{
		TaskID: LoginTaskID,
		Type:   TypeLogin,
		Title:  "Daily login bonus",
		Reward: reward,
		Active: reward.IsPositive(),
	}
}

// complete records the reward and the dedup row in one transaction. guard
// runs first and can veto the completion.
func (s *Service) complete(ctx context.Context, userID string, d *Definition, kind ledger.Kind, guard func(ctx context.Context, tx *gorm.DB) error) (*Result, error) {
	day := s.windows.DayKey()
	res := &Result{TaskID: d.TaskID}
	err := s.ledger.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		done, err := s.repo.IsCompleted(ctx, tx, userID, d.TaskID, day)
		if err != nil {
			return err
		}
		if done {
			return ErrAlreadyCompletedToday
		}
		if err := guard(ctx, tx); err != nil {
			return err
		}

		var t *ledger.Transaction
		if d.Reward.IsPositive() {
			t, err = s.ledger.RecordTx(ctx, tx, ledger.Entry{
				UserID:      userID,
				Kind:        kind,
				Amount:      d.Reward,
				Description: d.Title,
				ReferenceID: fmt.Sprintf("%s:%s:%s", userID, d.TaskID, day),
			})
			if err != nil {
				if errors.Is(err, ledger.ErrDuplicate) {
					return ErrAlreadyCompletedToday
				}
				return err
			}
		} else if _, err := s.ledger.Repo().GetAccountForUpdate(ctx, tx, userID); err != nil {
			return err
		}

		c := &Completion{
			UserID:      userID,
			TaskID:      d.TaskID,
			DateKey:     day,
			CompletedAt: s.ledger.Now(),
		}
		if t != nil {
			c.TransactionID = t.TransactionID
		}
		if err := s.repo.CreateCompletion(ctx, tx, c); err != nil {
			return err
		}
		res.Transaction = t
		res.Completion = c
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrAlreadyCompletedToday) {
			logger.L.Debug("duplicate task completion rejected",
				zap.String("user_id", userID), zap.String("task_id", d.TaskID))
		}
		return nil, err
	}
	s.ledger.Recorded(res.Transaction)
	return res, nil
}

func (s *Service) ListAvailable(ctx context.Context, userID string) ([]Available, error) {
	if userID == "" {
		return nil, ledger.Invalid("user id is required")
	}
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()

	defs, err := s.repo.ListActive(ctx)
	if err != nil {
		return nil, err
	}
	done, err := s.repo.CompletedTaskIDs(ctx, userID, s.windows.DayKey())
	if err != nil {
		return nil, err
	}
	out := make([]Available, 0, len(defs))
	for _, d := range defs {
		out = append(out, Available{
			TaskID:                   d.TaskID,
			Type:                     d.Type,
			Title:                    d.Title,
			URL:                      d.URL,
			Reward:                   d.Reward,
			VerificationDelaySeconds: d.VerificationDelaySeconds,
			Completed:                done[d.TaskID],
		})
	}
	return out, nil
}

// SeedDefinitions writes the configured tasks to the store, updating
// existing rows in place.
func (s *Service) SeedDefinitions(ctx context.Context) error {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()

	now := s.ledger.Now()
	for _, t := range s.economy.Current().Tasks {
		delay := t.VerificationDelaySeconds
		if delay == 0 {
			delay = int(DefaultVerificationDelay / time.Second)
		}
		d := &Definition{
			TaskID:                   t.ID,
			Type:                     Type(t.Type),
			Title:                    t.Title,
			URL:                      t.URL,
			Reward:                   t.Reward,
			VerificationDelaySeconds: delay,
			Active:                   t.Active,
			CreatedAt:                now,
			UpdatedAt:                now,
		}
		if err := s.repo.UpsertDefinition(ctx, d); err != nil {
			return err
		}
	}
	logger.L.Info("task definitions seeded", zap.Int("count", len(s.economy.Current().Tasks)))
	return nil
}

// PurgeStaleClaims drops countdown records started before now-retention.
func (s *Service) PurgeStaleClaims(ctx context.Context, retention time.Duration) (int64, error) {
	ctx, cancel := s.ledger.Context(ctx)
	defer cancel()
	return s.repo.DeleteClaimsBefore(ctx, s.ledger.Now().Add(-retention))
}
