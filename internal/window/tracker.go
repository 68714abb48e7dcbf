package window

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
)

// Tracker enforces per-user daily caps. A day runs from midnight to
// midnight in the tracker's location.
type Tracker struct {
	db       *gorm.DB
	repo     Repository
	accounts ledger.Repository
	loc      *time.Location
	timeout  time.Duration
	now      func() time.Time
}

func NewTracker(db *gorm.DB, repo Repository, accounts ledger.Repository, loc *time.Location, timeout time.Duration) *Tracker {
	if loc == nil {
		loc = time.UTC
	}
	return &Tracker{db: db, repo: repo, accounts: accounts, loc: loc, timeout: timeout, now: time.Now}
}

func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// DayKey is today's window date.
func (t *Tracker) DayKey() string {
	return t.now().In(t.loc).Format(DayLayout)
}

// NextReset is the instant the current window ends.
func (t *Tracker) NextReset() time.Time {
	now := t.now().In(t.loc)
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, t.loc)
}

// Consume takes one use of featureKey for an existing user. The account row
// is locked for the transaction so uses by one user are serialized.
func (t *Tracker) Consume(ctx context.Context, userID, featureKey string, limit int) (Result, error) {
	if err := validate(userID, featureKey); err != nil {
		return Result{}, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	var res Result
	err := t.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := t.accounts.GetAccountForUpdate(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		res, err = t.ConsumeTx(ctx, tx, userID, featureKey, limit)
		return err
	})
	if err != nil {
		return Result{}, ledger.StoreError(err)
	}
	return res, nil
}

// ConsumeTx takes one use of featureKey inside the caller's transaction.
// When the cap is reached nothing is written and Allowed is false.
func (t *Tracker) ConsumeTx(ctx context.Context, tx *gorm.DB, userID, featureKey string, limit int) (Result, error) {
	if err := validate(userID, featureKey); err != nil {
		return Result{}, err
	}
	day := t.DayKey()
	if limit <= 0 {
		return Result{Allowed: false, Limit: limit}, nil
	}

	now := t.now()
	ok, err := t.repo.Increment(ctx, tx, userID, featureKey, day, limit, now)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		c, err := t.repo.Get(ctx, tx, userID, featureKey)
		if err != nil {
			return Result{}, err
		}
		if c == nil {
			ok, err = t.repo.Insert(ctx, tx, userID, featureKey, day, now)
			if err != nil {
				return Result{}, err
			}
			if !ok {
				// Lost the insert race; the row exists now.
				ok, err = t.repo.Increment(ctx, tx, userID, featureKey, day, limit, now)
				if err != nil {
					return Result{}, err
				}
			}
		}
	}

	c, err := t.repo.Get(ctx, tx, userID, featureKey)
	if err != nil {
		return Result{}, err
	}
	res := result(c, day, limit)
	res.Allowed = ok
	if !ok {
		logger.L.Debug("daily limit reached",
			zap.String("user_id", userID),
			zap.String("feature", featureKey),
			zap.Int("limit", limit))
	}
	return res, nil
}

// Peek reports the window state without consuming a use.
func (t *Tracker) Peek(ctx context.Context, userID, featureKey string, limit int) (Result, error) {
	if err := validate(userID, featureKey); err != nil {
		return Result{}, err
	}
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}
	c, err := t.repo.Get(ctx, nil, userID, featureKey)
	if err != nil {
		return Result{}, err
	}
	res := result(c, t.DayKey(), limit)
	res.Allowed = res.Remaining > 0
	return res, nil
}

func result(c *Counter, day string, limit int) Result {
	used := 0
	if c != nil && c.WindowDate == day {
		used = c.Count
	}
	remaining := limit - used
	if remaining < 0 {
		remaining = 0
	}
	return Result{Used: used, Remaining: remaining, Limit: limit}
}

func validate(userID, featureKey string) error {
	if userID == "" {
		return ledger.Invalid("user id is required")
	}
	if featureKey == "" {
		return ledger.Invalid("feature key is required")
	}
	return nil
}
