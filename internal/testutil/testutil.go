// Package testutil opens throwaway stores for package tests.
package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"reward_ledger/internal/config"
	"reward_ledger/internal/database"
	"reward_ledger/internal/economy"
	"reward_ledger/internal/ledger"
)

// NewDB returns a migrated in-memory database private to t. It holds a
// single connection, so code under test must run every statement of a
// transaction on the transaction handle.
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// PostgresEnv names the variable holding a Postgres DSN for the tests that
// need real row locks. Those tests are skipped when it is unset.
const PostgresEnv = "TEST_DATABASE_URL"

// NewPostgresDB returns a migrated database in a schema private to t and
// drops the schema when t ends.
func NewPostgresDB(t testing.TB) *gorm.DB {
	t.Helper()
	dsn := os.Getenv(PostgresEnv)
	if dsn == "" {
		t.Skipf("%s not set", PostgresEnv)
	}

	admin, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, admin.Exec("CREATE SCHEMA "+schema).Error)

	connCfg, err := pgx.ParseConfig(dsn)
	require.NoError(t, err)
	connCfg.RuntimeParams["search_path"] = schema
	sqlDB := stdlib.OpenDB(*connCfg)
	sqlDB.SetMaxOpenConns(20)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = sqlDB.Close()
		_ = admin.Exec("DROP SCHEMA " + schema + " CASCADE").Error
		if adminDB, err := admin.DB(); err == nil {
			_ = adminDB.Close()
		}
	})

	require.NoError(t, database.Migrate(db))
	return db
}

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock(now time.Time) *Clock {
	return &Clock{now: now}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func (c *Clock) Set(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// NewEngine wires an engine over a fresh database with the default economy
// and the given clock.
func NewEngine(t testing.TB, clock *Clock) (*economy.Engine, *gorm.DB) {
	t.Helper()
	db := NewDB(t)
	return NewEngineOn(db, config.DefaultEconomy(), clock), db
}

// NewEngineOn wires an engine over db with the given economy.
func NewEngineOn(db *gorm.DB, econ *config.Economy, clock *Clock) *economy.Engine {
	return economy.New(db, config.NewHolder(econ), economy.Options{
		Location:     time.UTC,
		StoreTimeout: 5 * time.Second,
		Clock:        clock.Now,
	})
}

// NewAccount creates userID and, when balance is positive, funds it through
// the ledger.
func NewAccount(t testing.TB, l *ledger.Service, userID string, balance decimal.Decimal) {
	t.Helper()
	ctx := context.Background()
	_, created, err := l.EnsureAccount(ctx, userID)
	require.NoError(t, err)
	require.True(t, created)
	if balance.IsPositive() {
		_, err = l.Record(ctx, userID, ledger.KindTaskComplete, balance, "test funding")
		require.NoError(t, err)
	}
}

// RequireDecimal compares decimals by value.
func RequireDecimal(t testing.TB, want string, got decimal.Decimal) {
	t.Helper()
	require.Truef(t, decimal.RequireFromString(want).Equal(got), "want %s, got %s", want, got.String())
}
