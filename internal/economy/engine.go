// Package economy ties the ledger services together behind one facade used
// by the transport layer.
package economy

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/config"
	"reward_ledger/internal/game"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/logger"
	"reward_ledger/internal/metrics"
	"reward_ledger/internal/notify"
	"reward_ledger/internal/prize"
	"reward_ledger/internal/referral"
	"reward_ledger/internal/task"
	"reward_ledger/internal/window"
	"reward_ledger/internal/withdrawal"
)

type Options struct {
	Location     *time.Location
	StoreTimeout time.Duration
	Notifier     notify.Notifier
	// Clock and Source default to the wall clock and math/rand.
	Clock  func() time.Time
	Source prize.UniformSource
}

type Engine struct {
	Ledger      *ledger.Service
	Windows     *window.Tracker
	Games       *game.Service
	Tasks       *task.Service
	Referrals   *referral.Service
	Withdrawals *withdrawal.Service

	economy *config.Holder
}

func New(db *gorm.DB, economy *config.Holder, opts Options) *Engine {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}

	l := ledger.NewService(db, ledger.NewRepositoryImpl(db), opts.StoreTimeout)
	l.OnRecord = metrics.ObserveTransaction
	w := window.NewTracker(db, window.NewRepositoryImpl(db), l.Repo(), opts.Location, opts.StoreTimeout)
	if opts.Clock != nil {
		l.WithClock(opts.Clock)
		w.WithClock(opts.Clock)
	}
	g := game.NewService(l, w, economy)
	if opts.Source != nil {
		g.WithSource(opts.Source)
	}

	return &Engine{
		Ledger:      l,
		Windows:     w,
		Games:       g,
		Tasks:       task.NewService(l, w, task.NewRepositoryImpl(db), economy, notifier),
		Referrals:   referral.NewService(l, referral.NewRepositoryImpl(db), notifier),
		Withdrawals: withdrawal.NewService(l, withdrawal.NewRepositoryImpl(db), economy, notifier),
		economy:     economy,
	}
}

func (e *Engine) Economy() *config.Economy { return e.economy.Current() }

type Balance struct {
	UserID        string                              `json:"user_id"`
	Balance       decimal.Decimal                     `json:"balance"`
	Earnings      map[ledger.Category]decimal.Decimal `json:"earnings"`
	ReferralCount int                                 `json:"referral_count"`
	Blocked       bool                                `json:"blocked"`
	SpinsLeft     int                                 `json:"spins_left"`
}

func (e *Engine) GetBalance(ctx context.Context, userID string) (*Balance, error) {
	acct, err := e.Ledger.GetAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	spins, err := e.Windows.Peek(ctx, userID, window.FeatureSpin, e.Economy().Limits.SpinsPerDay)
	if err != nil {
		return nil, err
	}
	return &Balance{
		UserID:        acct.UserID,
		Balance:       acct.Balance,
		Earnings:      acct.Earnings(),
		ReferralCount: acct.ReferralCount,
		Blocked:       acct.Blocked,
		SpinsLeft:     spins.Remaining,
	}, nil
}

// RecordEarning credits or debits a user directly. Kind-specific flows
// (spins, tasks, withdrawals) should go through their own methods.
func (e *Engine) RecordEarning(ctx context.Context, userID string, kind ledger.Kind, amount decimal.Decimal, description string) (*ledger.Transaction, error) {
	return e.Ledger.Record(ctx, userID, kind, amount, description)
}

func (e *Engine) DrawPrize(tableID string) (prize.Entry, error) {
	return e.Games.Draw(tableID)
}

func (e *Engine) Spin(ctx context.Context, userID, tableID string) (*game.Outcome, error) {
	return e.Games.Spin(ctx, userID, tableID)
}

func (e *Engine) ClaimDailyFeature(ctx context.Context, userID, featureKey string, limit int) (window.Result, error) {
	return e.Windows.Consume(ctx, userID, featureKey, limit)
}

func (e *Engine) StartTask(ctx context.Context, userID, taskID string) (*task.Claim, error) {
	return e.Tasks.Start(ctx, userID, taskID)
}

func (e *Engine) TaskStatus(ctx context.Context, userID, taskID string) (*task.Status, error) {
	return e.Tasks.Status(ctx, userID, taskID)
}

func (e *Engine) CompleteTask(ctx context.Context, userID, taskID string) (*task.Result, error) {
	return e.Tasks.Complete(ctx, userID, taskID)
}

func (e *Engine) ListTasks(ctx context.Context, userID string) ([]task.Available, error) {
	return e.Tasks.ListAvailable(ctx, userID)
}

func (e *Engine) ClaimLoginBonus(ctx context.Context, userID string) (*task.Result, error) {
	return e.Tasks.ClaimLoginBonus(ctx, userID)
}

func (e *Engine) RequestWithdrawal(ctx context.Context, userID, method, accountRef string, amount decimal.Decimal) (*withdrawal.Request, error) {
	return e.Withdrawals.Request(ctx, userID, method, accountRef, amount)
}

func (e *Engine) ResolveWithdrawal(ctx context.Context, requestID string, d withdrawal.Decision) (*withdrawal.Request, error) {
	return e.Withdrawals.Resolve(ctx, requestID, d)
}

func (e *Engine) ProcessReferral(ctx context.Context, newUserID, referrerID string) (*referral.Result, error) {
	b := e.Economy().Bonuses
	return e.Referrals.Process(ctx, newUserID, referrerID, b.Referrer, b.Referee)
}

type Onboarding struct {
	Account      *ledger.Account  `json:"-"`
	Created      bool             `json:"created"`
	NeedsWelcome bool             `json:"needs_welcome"`
	Referral     *referral.Result `json:"referral,omitempty"`
}

// Onboard runs on every authenticated app open. A referral code is honoured
// while the account is unreferred and the welcome screen is still pending,
// so a client retrying after a failed cascade gets its referral applied.
// An unknown or blocked referrer is logged and ignored.
func (e *Engine) Onboard(ctx context.Context, userID, referralCode string) (*Onboarding, error) {
	acct, created, err := e.Ledger.EnsureAccount(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := &Onboarding{Account: acct, Created: created, NeedsWelcome: acct.NeedsWelcome()}
	if referralCode == "" || referralCode == userID || acct.ReferredBy != nil || !acct.NeedsWelcome() {
		return out, nil
	}

	res, err := e.ProcessReferral(ctx, userID, referralCode)
	switch {
	case err == nil:
		out.Referral = res
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrUserBlocked):
		logger.L.Warn("referral ignored",
			zap.String("user_id", userID),
			zap.String("referrer_id", referralCode),
			zap.Error(err))
	default:
		return nil, err
	}
	return out, nil
}

func (e *Engine) AcknowledgeWelcome(ctx context.Context, userID string) error {
	return e.Ledger.AcknowledgeWelcome(ctx, userID)
}

func (e *Engine) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	return e.Ledger.SetBlocked(ctx, userID, blocked)
}

func (e *Engine) History(ctx context.Context, userID string, kind ledger.Kind, cursor, limit int) ([]ledger.Transaction, int, error) {
	return e.Ledger.History(ctx, userID, kind, cursor, limit)
}

type Stats struct {
	Users          int64           `json:"users"`
	BlockedUsers   int64           `json:"blocked_users"`
	TotalBalance   decimal.Decimal `json:"total_balance"`
	Pending        int64           `json:"pending_withdrawals"`
	PendingAmount  decimal.Decimal `json:"pending_amount"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn"`
}

func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	ls, err := e.Ledger.Stats(ctx)
	if err != nil {
		return nil, err
	}
	ws, err := e.Withdrawals.Stats(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		Users:          ls.Users,
		BlockedUsers:   ls.BlockedUsers,
		TotalBalance:   ls.TotalBalance,
		Pending:        ws.Pending,
		PendingAmount:  ws.PendingAmount,
		TotalWithdrawn: ws.TotalWithdrawn,
	}, nil
}
