package referral_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reward_ledger/internal/config"
	"reward_ledger/internal/economy"
	"reward_ledger/internal/ledger"
	"reward_ledger/internal/notify"
	"reward_ledger/internal/testutil"
)

type recorder struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recorder) Notify(userID, kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, notify.Message{UserID: userID, Kind: kind, Text: text})
}

func (r *recorder) messages() []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]notify.Message(nil), r.sent...)
}

func setUpReferrals(t *testing.T) (*economy.Engine, *recorder) {
	return setUpReferralsOn(testutil.NewDB(t))
}

func setUpReferralsOn(db *gorm.DB) (*economy.Engine, *recorder) {
	rec := &recorder{}
	clock := testutil.NewClock(time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC))
	e := economy.New(db, config.NewHolder(config.DefaultEconomy()), economy.Options{
		Location:     time.UTC,
		StoreTimeout: 5 * time.Second,
		Notifier:     rec,
		Clock:        clock.Now,
	})
	return e, rec
}

func TestProcessPaysBothSides(t *testing.T) {
	e, rec := setUpReferrals(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "referrer", decimal.Zero)
	testutil.NewAccount(t, e.Ledger, "newbie", decimal.Zero)

	res, err := e.ProcessReferral(ctx, "newbie", "referrer")
	require.NoError(t, err)
	assert.False(t, res.AlreadyProcessed)
	require.NotNil(t, res.ReferrerTransaction)
	require.NotNil(t, res.RefereeTransaction)
	assert.Equal(t, ledger.KindReferralBonus, res.ReferrerTransaction.Kind)
	assert.Equal(t, ledger.KindSignupBonus, res.RefereeTransaction.Kind)

	referrer, err := e.Ledger.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "2.66", referrer.Balance)
	testutil.RequireDecimal(t, "2.66", referrer.EarningsReferrals)
	assert.Equal(t, 1, referrer.ReferralCount)

	newbie, err := e.Ledger.GetAccount(ctx, "newbie")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "2.00", newbie.Balance)
	require.NotNil(t, newbie.ReferredBy)
	assert.Equal(t, "referrer", *newbie.ReferredBy)

	msgs := rec.messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, "referrer", msgs[0].UserID)
	assert.Equal(t, notify.KindReferral, msgs[0].Kind)
	assert.Contains(t, msgs[0].Text, "2.66")
}

func TestProcessIsIdempotent(t *testing.T) {
	e, rec := setUpReferrals(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "referrer", decimal.Zero)
	testutil.NewAccount(t, e.Ledger, "other", decimal.Zero)
	testutil.NewAccount(t, e.Ledger, "newbie", decimal.Zero)

	_, err := e.ProcessReferral(ctx, "newbie", "referrer")
	require.NoError(t, err)

	res, err := e.ProcessReferral(ctx, "newbie", "referrer")
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)
	assert.Nil(t, res.ReferrerTransaction)

	res, err = e.ProcessReferral(ctx, "newbie", "other")
	require.NoError(t, err)
	assert.True(t, res.AlreadyProcessed)

	referrer, err := e.Ledger.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "2.66", referrer.Balance)
	assert.Equal(t, 1, referrer.ReferralCount)

	other, err := e.Ledger.GetBalance(ctx, "other")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0", other)

	assert.Len(t, rec.messages(), 1)
}

func TestConcurrentProcessPaysOnce(t *testing.T) {
	e, _ := setUpReferrals(t)
	testConcurrentProcess(t, e)
}

func testConcurrentProcess(t *testing.T, e *economy.Engine) {
	testutil.NewAccount(t, e.Ledger, "referrer", decimal.Zero)
	testutil.NewAccount(t, e.Ledger, "newbie", decimal.Zero)

	var wg sync.WaitGroup
	var mu sync.Mutex
	paid := 0
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := e.ProcessReferral(context.Background(), "newbie", "referrer")
			if !assert.NoError(t, err) {
				return
			}
			if !res.AlreadyProcessed {
				mu.Lock()
				paid++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, paid)

	bal, err := e.Ledger.GetBalance(context.Background(), "newbie")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "2.00", bal)
}

func TestProcessRejectsBadInput(t *testing.T) {
	e, _ := setUpReferrals(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "solo", decimal.Zero)

	_, err := e.ProcessReferral(ctx, "solo", "solo")
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = e.ProcessReferral(ctx, "", "solo")
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = e.Referrals.Process(ctx, "solo", "x", decimal.NewFromInt(-1), decimal.Zero)
	require.ErrorIs(t, err, ledger.ErrValidation)

	_, err = e.ProcessReferral(ctx, "solo", "ghost")
	require.ErrorIs(t, err, ledger.ErrUserNotFound)

	acct, err := e.Ledger.GetAccount(ctx, "solo")
	require.NoError(t, err)
	assert.Nil(t, acct.ReferredBy)
	testutil.RequireDecimal(t, "0", acct.Balance)
}

func TestProcessBlockedReferrerRollsBack(t *testing.T) {
	e, _ := setUpReferrals(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "referrer", decimal.Zero)
	testutil.NewAccount(t, e.Ledger, "newbie", decimal.Zero)
	require.NoError(t, e.SetBlocked(ctx, "referrer", true))

	_, err := e.ProcessReferral(ctx, "newbie", "referrer")
	require.ErrorIs(t, err, ledger.ErrUserBlocked)

	newbie, err := e.Ledger.GetAccount(ctx, "newbie")
	require.NoError(t, err)
	assert.Nil(t, newbie.ReferredBy)
	testutil.RequireDecimal(t, "0", newbie.Balance)

	referrer, err := e.Ledger.GetAccount(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 0, referrer.ReferralCount)
}

func TestSummary(t *testing.T) {
	e, _ := setUpReferrals(t)
	ctx := context.Background()
	testutil.NewAccount(t, e.Ledger, "referrer", decimal.Zero)
	for _, id := range []string{"a", "b", "c"} {
		testutil.NewAccount(t, e.Ledger, id, decimal.Zero)
		_, err := e.ProcessReferral(ctx, id, "referrer")
		require.NoError(t, err)
	}

	sum, err := e.Referrals.Summary(ctx, "referrer")
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Count)
	testutil.RequireDecimal(t, "7.98", sum.Earnings)
	assert.Len(t, sum.Referrals, 3)

	_, err = e.Referrals.Summary(ctx, "ghost")
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
}
