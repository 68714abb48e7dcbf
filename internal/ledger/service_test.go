package ledger_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"reward_ledger/internal/ledger"
	"reward_ledger/internal/testutil"
)

var start = time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)

func setUpLedger(t *testing.T) (*ledger.Service, *testutil.Clock) {
	return setUpLedgerOn(testutil.NewDB(t))
}

func setUpLedgerOn(db *gorm.DB) (*ledger.Service, *testutil.Clock) {
	clock := testutil.NewClock(start)
	svc := ledger.NewService(db, ledger.NewRepositoryImpl(db), 5*time.Second).WithClock(clock.Now)
	return svc, clock
}

func TestRecordCreditAndDebit(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "alice", decimal.Zero)

	credit, err := svc.Record(ctx, "alice", ledger.KindSpinWin, decimal.RequireFromString("0.25"), "spin")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0", credit.BalanceBefore)
	testutil.RequireDecimal(t, "0.25", credit.BalanceAfter)

	debit, err := svc.Record(ctx, "alice", ledger.KindWithdrawalRequest, decimal.RequireFromString("-0.20"), "withdraw")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0.25", debit.BalanceBefore)
	testutil.RequireDecimal(t, "0.05", debit.BalanceAfter)

	acct, err := svc.GetAccount(ctx, "alice")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0.05", acct.Balance)
	testutil.RequireDecimal(t, "0.25", acct.EarningsGames)
	testutil.RequireDecimal(t, "0", acct.EarningsTasks)
}

func TestRecordEarningsCategories(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "bob", decimal.Zero)

	for _, kind := range []ledger.Kind{ledger.KindTaskComplete, ledger.KindLoginBonus, ledger.KindSpinWin, ledger.KindReferralBonus} {
		_, err := svc.Record(ctx, "bob", kind, decimal.NewFromInt(1), string(kind))
		require.NoError(t, err)
	}
	acct, err := svc.GetAccount(ctx, "bob")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "4", acct.Balance)
	testutil.RequireDecimal(t, "2", acct.EarningsTasks)
	testutil.RequireDecimal(t, "1", acct.EarningsGames)
	testutil.RequireDecimal(t, "1", acct.EarningsReferrals)
}

func TestRecordInsufficientFundsLeavesNoTrace(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "carol", decimal.NewFromInt(5))

	_, err := svc.Record(ctx, "carol", ledger.KindWithdrawalRequest, decimal.NewFromInt(-6), "too much")
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)

	bal, err := svc.GetBalance(ctx, "carol")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "5", bal)

	has, err := svc.HasTransaction(ctx, "carol", ledger.KindWithdrawalRequest)
	require.NoError(t, err)
	assert.False(t, has)
}

func TestRecordValidation(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "dave", decimal.NewFromInt(5))

	tests := []struct {
		name   string
		user   string
		kind   ledger.Kind
		amount string
	}{
		{"missing user", "", ledger.KindSpinWin, "1"},
		{"unknown kind", "dave", ledger.Kind("bonus"), "1"},
		{"zero amount", "dave", ledger.KindSpinWin, "0"},
		{"sub-cent amount", "dave", ledger.KindSpinWin, "0.001"},
		{"negative credit", "dave", ledger.KindSpinWin, "-1"},
		{"positive debit", "dave", ledger.KindWithdrawalRequest, "1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Record(ctx, tt.user, tt.kind, decimal.RequireFromString(tt.amount), "")
			require.ErrorIs(t, err, ledger.ErrValidation)
		})
	}
}

func TestRecordRejectsOverlongFields(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "dave", decimal.NewFromInt(5))

	_, err := svc.Record(ctx, "dave", ledger.KindSpinWin, decimal.NewFromInt(1), strings.Repeat("x", ledger.MaxDescriptionLength+1))
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, err = svc.Record(ctx, strings.Repeat("d", ledger.MaxUserIDLength+1), ledger.KindSpinWin, decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ledger.ErrValidation)

	// Widths count characters, not bytes.
	_, err = svc.Record(ctx, "dave", ledger.KindSpinWin, decimal.NewFromInt(1), strings.Repeat("é", ledger.MaxDescriptionLength))
	require.NoError(t, err)

	_, _, err = svc.EnsureAccount(ctx, strings.Repeat("u", ledger.MaxUserIDLength+1))
	require.ErrorIs(t, err, ledger.ErrValidation)
	_, created, err := svc.EnsureAccount(ctx, strings.Repeat("u", ledger.MaxUserIDLength))
	require.NoError(t, err)
	assert.True(t, created)
}

func TestRecordUnknownUser(t *testing.T) {
	svc, _ := setUpLedger(t)
	_, err := svc.Record(context.Background(), "ghost", ledger.KindSpinWin, decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
	require.ErrorIs(t, err, ledger.ErrNotFound)
}

func TestBlockedUserOnlyReceivesCompensation(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "erin", decimal.NewFromInt(5))
	require.NoError(t, svc.SetBlocked(ctx, "erin", true))

	_, err := svc.Record(ctx, "erin", ledger.KindSpinWin, decimal.NewFromInt(1), "")
	require.ErrorIs(t, err, ledger.ErrUserBlocked)
	_, err = svc.Record(ctx, "erin", ledger.KindWithdrawalRequest, decimal.NewFromInt(-1), "")
	require.ErrorIs(t, err, ledger.ErrUserBlocked)

	refund, err := svc.Record(ctx, "erin", ledger.KindWithdrawalRefund, decimal.NewFromInt(2), "refund")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "7", refund.BalanceAfter)

	require.NoError(t, svc.SetBlocked(ctx, "erin", false))
	_, err = svc.Record(ctx, "erin", ledger.KindSpinWin, decimal.NewFromInt(1), "")
	require.NoError(t, err)

	require.ErrorIs(t, svc.SetBlocked(ctx, "nobody", true), ledger.ErrUserNotFound)
}

func TestRecordTxRejectsDuplicateReference(t *testing.T) {
	svc, _ := setUpLedger(t)
	testDuplicateReference(t, svc)
}

func testDuplicateReference(t *testing.T, svc *ledger.Service) {
	ctx := context.Background()
	testutil.NewAccount(t, svc, "frank", decimal.Zero)

	entry := ledger.Entry{
		UserID:      "frank",
		Kind:        ledger.KindWithdrawalRefund,
		Amount:      decimal.NewFromInt(3),
		ReferenceID: "req-1",
	}
	record := func() error {
		return svc.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
			_, err := svc.RecordTx(ctx, tx, entry)
			return err
		})
	}
	require.NoError(t, record())
	require.ErrorIs(t, record(), ledger.ErrDuplicate)

	bal, err := svc.GetBalance(ctx, "frank")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "3", bal)
}

func TestConcurrentDebits(t *testing.T) {
	svc, _ := setUpLedger(t)
	testConcurrentDebits(t, svc)
}

func testConcurrentDebits(t *testing.T, svc *ledger.Service) {
	testutil.NewAccount(t, svc, "grace", decimal.NewFromInt(50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successCount := 0
	failCount := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Record(context.Background(), "grace", ledger.KindWithdrawalRequest, decimal.NewFromInt(-10), "withdraw")
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
				failCount++
			} else {
				successCount++
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, successCount, "successCount")
	require.Equal(t, 5, failCount, "failCount")

	bal, err := svc.GetBalance(context.Background(), "grace")
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0", bal)
}

func TestRaceCondition(t *testing.T) {
	svc, _ := setUpLedger(t)
	testRaceCondition(t, svc)
}

func testRaceCondition(t *testing.T, svc *ledger.Service) {
	testutil.NewAccount(t, svc, "heidi", decimal.NewFromInt(50))

	var wg sync.WaitGroup
	var mu sync.Mutex
	successDebits := 0
	succCredits := 0

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := svc.Record(context.Background(), "heidi", ledger.KindWithdrawalRequest, decimal.NewFromInt(-1), "")
			mu.Lock()
			if err == nil {
				successDebits++
			}
			mu.Unlock()
		}()
		go func() {
			defer wg.Done()
			_, err := svc.Record(context.Background(), "heidi", ledger.KindSpinWin, decimal.NewFromInt(1), "")
			mu.Lock()
			if err == nil {
				succCredits++
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	bal, err := svc.GetBalance(context.Background(), "heidi")
	require.NoError(t, err)
	exact := decimal.NewFromInt(50).Add(decimal.NewFromInt(int64(succCredits - successDebits)))
	require.True(t, exact.Equal(bal), "want %s, got %s", exact, bal)
	require.False(t, bal.IsNegative())
}

func TestEnsureAccountAndWelcome(t *testing.T) {
	svc, clock := setUpLedger(t)
	ctx := context.Background()

	acct, created, err := svc.EnsureAccount(ctx, "ivan")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, acct.NeedsWelcome())
	require.NotNil(t, acct.FirstLoginAt)
	first := *acct.FirstLoginAt

	clock.Advance(time.Hour)
	acct, created, err = svc.EnsureAccount(ctx, "ivan")
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equal(*acct.FirstLoginAt), "first login is stamped once")
	assert.True(t, acct.LastLoginAt.After(first))

	require.NoError(t, svc.AcknowledgeWelcome(ctx, "ivan"))
	require.NoError(t, svc.AcknowledgeWelcome(ctx, "ivan"))
	acct, err = svc.GetAccount(ctx, "ivan")
	require.NoError(t, err)
	assert.False(t, acct.NeedsWelcome())

	require.ErrorIs(t, svc.AcknowledgeWelcome(ctx, "nobody"), ledger.ErrUserNotFound)
	_, _, err = svc.EnsureAccount(ctx, "")
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestHistoryPaging(t *testing.T) {
	svc, clock := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "judy", decimal.Zero)

	for i := 1; i <= 5; i++ {
		clock.Advance(time.Minute)
		_, err := svc.Record(ctx, "judy", ledger.KindSpinWin, decimal.NewFromInt(int64(i)), fmt.Sprintf("spin %d", i))
		require.NoError(t, err)
	}
	clock.Advance(time.Minute)
	_, err := svc.Record(ctx, "judy", ledger.KindWithdrawalRequest, decimal.NewFromInt(-1), "withdraw")
	require.NoError(t, err)

	page, next, err := svc.History(ctx, "judy", ledger.KindSpinWin, 0, 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "spin 5", page[0].Description)
	assert.Equal(t, "spin 4", page[1].Description)
	assert.Equal(t, 2, next)

	page, next, err = svc.History(ctx, "judy", ledger.KindSpinWin, 4, 2)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "spin 1", page[0].Description)
	assert.Equal(t, -1, next)

	all, _, err := svc.History(ctx, "judy", "", 0, 0)
	require.NoError(t, err)
	assert.Len(t, all, 6)
	assert.Equal(t, ledger.KindWithdrawalRequest, all[0].Kind)

	_, _, err = svc.History(ctx, "judy", ledger.Kind("nope"), 0, 10)
	require.ErrorIs(t, err, ledger.ErrValidation)
}

func TestTotalAndStats(t *testing.T) {
	svc, _ := setUpLedger(t)
	ctx := context.Background()
	testutil.NewAccount(t, svc, "ken", decimal.NewFromInt(10))
	testutil.NewAccount(t, svc, "lea", decimal.NewFromInt(4))
	require.NoError(t, svc.SetBlocked(ctx, "lea", true))

	_, err := svc.Record(ctx, "ken", ledger.KindReferralBonus, decimal.NewFromInt(3), "")
	require.NoError(t, err)
	_, err = svc.Record(ctx, "ken", ledger.KindReferralBonus, decimal.NewFromInt(2), "")
	require.NoError(t, err)

	total, err := svc.Total(ctx, "ken", ledger.KindReferralBonus)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "5", total)

	none, err := svc.Total(ctx, "lea", ledger.KindReferralBonus)
	require.NoError(t, err)
	testutil.RequireDecimal(t, "0", none)

	st, err := svc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), st.Users)
	assert.Equal(t, int64(1), st.BlockedUsers)
	testutil.RequireDecimal(t, "19", st.TotalBalance)
}

func TestOnRecordHook(t *testing.T) {
	svc, _ := setUpLedger(t)
	testutil.NewAccount(t, svc, "mia", decimal.Zero)

	var seen []*ledger.Transaction
	svc.OnRecord = func(tx *ledger.Transaction) { seen = append(seen, tx) }
	tx, err := svc.Record(context.Background(), "mia", ledger.KindLoginBonus, decimal.RequireFromString("0.01"), "")
	require.NoError(t, err)
	require.Len(t, seen, 1)
	assert.Equal(t, tx.TransactionID, seen[0].TransactionID)
	_, err = uuid.Parse(tx.TransactionID)
	assert.NoError(t, err)
}

func TestStoreError(t *testing.T) {
	assert.ErrorIs(t, ledger.StoreError(context.DeadlineExceeded), ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, ledger.StoreError(&pgconn.PgError{Code: "08006"}), ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, ledger.StoreError(&pgconn.PgError{Code: "40P01"}), ledger.ErrStoreUnavailable)
	assert.ErrorIs(t, ledger.StoreError(&pgconn.PgError{Code: "23505"}), ledger.ErrDuplicate)
	assert.ErrorIs(t, ledger.StoreError(gorm.ErrDuplicatedKey), ledger.ErrDuplicate)

	other := errors.New("syntax error")
	assert.Equal(t, other, ledger.StoreError(other))
	assert.NoError(t, ledger.StoreError(nil))
}

func TestRetry(t *testing.T) {
	ctx := context.Background()

	calls := 0
	err := ledger.Retry(ctx, func() error {
		calls++
		if calls < 2 {
			return ledger.ErrOptimisticLock
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = ledger.Retry(ctx, func() error {
		calls++
		return ledger.ErrOptimisticLock
	})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	assert.Equal(t, ledger.MaxRetries, calls)

	calls = 0
	err = ledger.Retry(ctx, func() error {
		calls++
		return ledger.ErrInsufficientFunds
	})
	require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.Equal(t, 1, calls)
}
