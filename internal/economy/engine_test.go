package economy_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reward_ledger/internal/economy"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/testutil"
	"reward_ledger/internal/window"
)

func newEngine(t *testing.T) *economy.Engine {
	e, _ := testutil.NewEngine(t, testutil.NewClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)))
	return e
}

func TestOnboardCreatesAccountOnce(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	out, err := e.Onboard(ctx, "alice", "")
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.True(t, out.NeedsWelcome)
	assert.Nil(t, out.Referral)

	out, err = e.Onboard(ctx, "alice", "")
	require.NoError(t, err)
	assert.False(t, out.Created)

	_, err = e.Onboard(ctx, "", "")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestOnboardHonoursReferralUntilWelcomeAcknowledged(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	_, err := e.Onboard(ctx, "referrer", "")
	require.NoError(t, err)
	_, err = e.Onboard(ctx, "late", "")
	require.NoError(t, err)
	require.NoError(t, e.AcknowledgeWelcome(ctx, "late"))

	out, err := e.Onboard(ctx, "newbie", "referrer")
	require.NoError(t, err)
	require.NotNil(t, out.Referral)
	assert.False(t, out.Referral.AlreadyProcessed)

	out, err = e.Onboard(ctx, "late", "referrer")
	require.NoError(t, err)
	assert.Nil(t, out.Referral)

	out, err = e.Onboard(ctx, "newbie", "referrer")
	require.NoError(t, err)
	assert.False(t, out.Created)
	assert.Nil(t, out.Referral)

	acct, err := e.Ledger.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 1, acct.ReferralCount)
	testutil.RequireDecimal(t, "2.66", acct.Balance)
}

func TestOnboardRetriesFailedReferral(t *testing.T) {
	e, db := testutil.NewEngine(t, testutil.NewClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)))
	ctx := context.Background()
	_, err := e.Onboard(ctx, "referrer", "")
	require.NoError(t, err)

	var failed atomic.Bool
	require.NoError(t, db.Callback().Create().Before("gorm:create").Register("fail_first_referral", func(tx *gorm.DB) {
		if tx.Statement.Table == "referrals" && failed.CompareAndSwap(false, true) {
			_ = tx.AddError(ledger.ErrStoreUnavailable)
		}
	}))

	_, err = e.Onboard(ctx, "newbie", "referrer")
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)

	out, err := e.Onboard(ctx, "newbie", "referrer")
	require.NoError(t, err)
	assert.False(t, out.Created)
	require.NotNil(t, out.Referral)
	assert.False(t, out.Referral.AlreadyProcessed)

	referrer, err := e.Ledger.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 1, referrer.ReferralCount)
	newbie, err := e.Ledger.GetAccount(ctx, "newbie")
	require.NoError(t, err)
	require.NotNil(t, newbie.ReferredBy)
	assert.Equal(t, "referrer", *newbie.ReferredBy)
	signup, err := e.Ledger.Total(ctx, "newbie", ledger.KindSignupBonus)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "2.00", signup)
}

func TestOnboardIgnoresBadReferralCodes(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()

	out, err := e.Onboard(ctx, "alice", "ghost")
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Nil(t, out.Referral)

	out, err = e.Onboard(ctx, "bob", "bob")
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Nil(t, out.Referral)

	_, err = e.Onboard(ctx, "blocked", "")
	require.NoError(t, err)
	require.NoError(t, e.SetBlocked(ctx, "blocked", true))
	out, err = e.Onboard(ctx, "carol", "blocked")
	require.NoError(t, err)
	assert.True(t, out.Created)
	assert.Nil(t, out.Referral)

	for _, id := range []string{"alice", "bob", "carol"} {
		bal, err := e.Ledger.GetBalance(ctx, id)
		require.NoError(t, err)
		testutil.RequireDecimal(t, "0", bal)
	}
}

func TestGetBalanceReportsSpinsLeft(t *testing.T) {
	e := newEngine(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "alice", decimal.NewFromInt(3))

	bal, err := e.GetBalance(ctx, "alice")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "3", bal.Balance)
	testutil.RequireDecimal(t, "3", bal.Earnings[ledger.CategoryTasks])
	assert.Equal(t, 5, bal.SpinsLeft)

	_, err = e.ClaimDailyFeature(ctx, "alice", window.FeatureSpin, e.Economy().Limits.SpinsPerDay)
	require.NoError(t, err)
	bal, err = e.GetBalance(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, bal.SpinsLeft)

	_, err = e.GetBalance(ctx, "ghost")
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}

func TestClaimDailyFeatureUnknownUser(t *testing.T) {
	e, db := testutil.NewEngine(t, testutil.NewClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)))

	_, err := e.ClaimDailyFeature(context.Background(), "ghost", window.FeatureSpin, 5)
	require.ErrorIs(t, err, ledger.ErrUserNotFound)

	var n int64
	require.NoError(t, db.Model(&window.Counter{}).Where("user_id = ?", "ghost").Count(&n).Error)
	assert.Zero(t, n)
}
