package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"reward_ledger/internal/logger"
)

const (
	MaxRetries = 3
	RetryDelay = 10 * time.Millisecond

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 100
)

type Service struct {
	db      *gorm.DB
	repo    Repository
	timeout time.Duration
	now     func() time.Time
	// OnRecord, when set, is called after each committed Record.
	OnRecord func(t *Transaction)
}

func NewService(db *gorm.DB, repo Repository, timeout time.Duration) *Service {
	return &Service{db: db, repo: repo, timeout: timeout, now: time.Now}
}

// WithClock replaces the wall clock used for timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Now() time.Time { return s.now() }

// Context bounds a store call by the configured timeout.
func (s *Service) Context(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Retry runs fn until it stops failing with ErrOptimisticLock, at most
// MaxRetries times. Exhausted retries surface as ErrStoreUnavailable so the
// caller can try again later.
func Retry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < MaxRetries; i++ {
		err = fn()
		if !errors.Is(err, ErrOptimisticLock) {
			return err
		}
		select {
		case <-ctx.Done():
			return StoreError(ctx.Err())
		case <-time.After(RetryDelay):
		}
	}
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}

// Transaction runs fn in a DB transaction under the store timeout, retrying
// on version conflicts. fn receives the bounded context.
func (s *Service) Transaction(ctx context.Context, fn func(ctx context.Context, tx *gorm.DB) error) error {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return Retry(ctx, func() error {
		return StoreError(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return fn(ctx, tx)
		}))
	})
}

func (s *Service) Record(ctx context.Context, userID string, kind Kind, amount decimal.Decimal, description string) (*Transaction, error) {
	e := Entry{UserID: userID, Kind: kind, Amount: amount, Description: description}
	if err := e.validate(); err != nil {
		return nil, err
	}
	var t *Transaction
	err := s.Transaction(ctx, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		t, err = s.RecordTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.recorded(t)
	return t, nil
}

// RecordTx appends e inside the caller's transaction. The account row stays
// locked until that transaction ends.
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, e Entry) (*Transaction, error) {
	if err := e.validate(); err != nil {
		return nil, err
	}
	acct, err := s.repo.GetAccountForUpdate(ctx, tx, e.UserID)
	if err != nil {
		return nil, err
	}
	if acct.Blocked && !e.Kind.Compensating() {
		return nil, ErrUserBlocked
	}

	t := &Transaction{
		Kind:        e.Kind,
		Amount:      e.Amount,
		Description: e.Description,
	}
	if e.ReferenceID != "" {
		ref := e.ReferenceID
		t.ReferenceID = &ref
	}
	if err := s.repo.Apply(ctx, tx, acct, t, s.now()); err != nil {
		return nil, err
	}
	return t, nil
}

// Recorded reports a transaction committed through RecordTx.
func (s *Service) Recorded(ts ...*Transaction) {
	for _, t := range ts {
		s.recorded(t)
	}
}

func (s *Service) recorded(t *Transaction) {
	if t == nil {
		return
	}
	logger.L.Info("ledger entry recorded",
		zap.String("user_id", t.UserID),
		zap.String("kind", string(t.Kind)),
		zap.String("amount", t.Amount.StringFixed(2)),
		zap.String("balance_after", t.BalanceAfter.StringFixed(2)),
	)
	if s.OnRecord != nil {
		s.OnRecord(t)
	}
}

// Column widths of the account and ledger tables.
const (
	MaxUserIDLength      = 64
	MaxDescriptionLength = 255
	MaxReferenceLength   = 255
)

// ValidateUserID rejects ids the accounts table cannot hold.
func ValidateUserID(userID string) error {
	if userID == "" {
		return Invalid("user id is required")
	}
	if utf8.RuneCountInString(userID) > MaxUserIDLength {
		return Invalid("user id longer than %d characters", MaxUserIDLength)
	}
	return nil
}

func (e Entry) validate() error {
	if err := ValidateUserID(e.UserID); err != nil {
		return err
	}
	if utf8.RuneCountInString(e.Description) > MaxDescriptionLength {
		return Invalid("description longer than %d characters", MaxDescriptionLength)
	}
	if utf8.RuneCountInString(e.ReferenceID) > MaxReferenceLength {
		return Invalid("reference longer than %d characters", MaxReferenceLength)
	}
	if !e.Kind.Valid() {
		return Invalid("unknown transaction kind %q", e.Kind)
	}
	if e.Amount.IsZero() {
		return Invalid("amount must not be zero")
	}
	if !e.Amount.Equal(e.Amount.Round(2)) {
		return Invalid("amount %s has more than two decimal places", e.Amount)
	}
	if e.Kind.Debit() != e.Amount.IsNegative() {
		return Invalid("amount %s has the wrong sign for %s", e.Amount, e.Kind)
	}
	return nil
}

// LockAccounts locks the given accounts in user id order so two writers
// touching the same pair cannot deadlock.
func (s *Service) LockAccounts(ctx context.Context, tx *gorm.DB, userIDs ...string) (map[string]*Account, error) {
	ids := append([]string(nil), userIDs...)
	sort.Strings(ids)
	out := make(map[string]*Account, len(ids))
	for _, id := range ids {
		if _, ok := out[id]; ok {
			continue
		}
		a, err := s.repo.GetAccountForUpdate(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		out[id] = a
	}
	return out, nil
}

func (s *Service) GetAccount(ctx context.Context, userID string) (*Account, error) {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return s.repo.GetAccount(ctx, userID)
}

func (s *Service) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	a, err := s.GetAccount(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return a.Balance, nil
}

// EnsureAccount creates the account on first sight and stamps the login.
func (s *Service) EnsureAccount(ctx context.Context, userID string) (*Account, bool, error) {
	if err := ValidateUserID(userID); err != nil {
		return nil, false, err
	}
	ctx, cancel := s.Context(ctx)
	defer cancel()

	now := s.now()
	_, created, err := s.repo.CreateAccount(ctx, userID, now)
	if err != nil {
		return nil, false, err
	}
	if err := s.repo.MarkLogin(ctx, userID, now); err != nil {
		return nil, false, err
	}
	if created {
		logger.L.Info("account created", zap.String("user_id", userID))
	}
	a, err := s.repo.GetAccount(ctx, userID)
	if err != nil {
		return nil, false, err
	}
	return a, created, nil
}

func (s *Service) AcknowledgeWelcome(ctx context.Context, userID string) error {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return s.repo.MarkWelcomeSeen(ctx, userID, s.now())
}

func (s *Service) SetBlocked(ctx context.Context, userID string, blocked bool) error {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	if err := s.repo.SetBlocked(ctx, userID, blocked, s.now()); err != nil {
		return err
	}
	logger.L.Info("account block flag changed", zap.String("user_id", userID), zap.Bool("blocked", blocked))
	return nil
}

func (s *Service) HasTransaction(ctx context.Context, userID string, kind Kind) (bool, error) {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return s.repo.HasTransaction(ctx, nil, userID, kind)
}

// HasTransactionTx is HasTransaction inside the caller's transaction.
func (s *Service) HasTransactionTx(ctx context.Context, tx *gorm.DB, userID string, kind Kind) (bool, error) {
	return s.repo.HasTransaction(ctx, tx, userID, kind)
}

func (s *Service) Total(ctx context.Context, userID string, kind Kind) (decimal.Decimal, error) {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return s.repo.SumByKind(ctx, userID, kind)
}

// History pages through a user's transactions, newest first. cursor is the
// number of entries already seen; the returned cursor is -1 when there are
// no more pages.
func (s *Service) History(ctx context.Context, userID string, kind Kind, cursor, limit int) ([]Transaction, int, error) {
	if kind != "" && !kind.Valid() {
		return nil, -1, Invalid("unknown transaction kind %q", kind)
	}
	if cursor < 0 {
		return nil, -1, Invalid("cursor must not be negative")
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	ctx, cancel := s.Context(ctx)
	defer cancel()

	txs, err := s.repo.ListTransactions(ctx, userID, kind, cursor, limit+1)
	if err != nil {
		return nil, -1, err
	}
	next := -1
	if len(txs) > limit {
		txs = txs[:limit]
		next = cursor + limit
	}
	return txs, next, nil
}

func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	ctx, cancel := s.Context(ctx)
	defer cancel()
	return s.repo.Stats(ctx)
}

// Repo exposes the repository to services composing ledger writes.
func (s *Service) Repo() Repository { return s.repo }
