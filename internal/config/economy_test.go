package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEconomyEmptyUsesDefaults(t *testing.T) {
	e, err := ParseEconomy(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, 5, e.Limits.SpinsPerDay)
	assert.True(t, e.Bonuses.Login.Equal(decimal.RequireFromString("0.01")))
	assert.True(t, e.Withdrawal.Min.Equal(decimal.RequireFromString("1.00")))
	assert.True(t, e.Withdrawal.Max.Equal(decimal.RequireFromString("100.00")))
	assert.Len(t, e.PrizeTables[DefaultPrizeTable], 8)
}

func TestParseEconomyOverrides(t *testing.T) {
	doc := `
version: 1
limits:
  spins_per_day: 3
withdrawal:
  min: "2.50"
  max: "50"
  methods:
    - {id: paypal, name: PayPal, active: true}
    - {id: crypto, name: Crypto, active: false}
prize_tables:
  wheel:
    - {id: 1, amount: "0.10", probability: 50}
    - {id: 2, amount: "0", probability: 50}
tasks:
  - {id: ad1, type: ad, title: Watch, reward: "0.02", active: true}
`
	e, err := ParseEconomy(strings.NewReader(doc))
	require.NoError(t, err)
	assert.Equal(t, 3, e.Limits.SpinsPerDay)
	assert.Equal(t, 10, e.Limits.AdViewsPerDay, "unset fields keep defaults")
	assert.True(t, e.Withdrawal.Min.Equal(decimal.RequireFromString("2.50")))
	assert.Len(t, e.PrizeTables[DefaultPrizeTable], 2)
	require.Len(t, e.Tasks, 1)
	assert.True(t, e.Tasks[0].Reward.Equal(decimal.RequireFromString("0.02")))

	m, ok := e.Method("paypal")
	assert.True(t, ok)
	assert.Equal(t, "PayPal", m.Name)
	_, ok = e.Method("crypto")
	assert.False(t, ok, "inactive method")
	_, ok = e.Method("wire")
	assert.False(t, ok, "unknown method")
}

func TestParseEconomyRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"unknown field", "version: 1\nbonuses:\n  logins: 1\n"},
		{"wrong version", "version: 2\n"},
		{"negative bonus", "version: 1\nbonuses:\n  login: \"-1\"\n"},
		{"max below min", "version: 1\nwithdrawal:\n  min: \"10\"\n  max: \"5\"\n"},
		{"bad prize table", "version: 1\nprize_tables:\n  wheel:\n    - {id: 1, amount: \"1\", probability: 120}\n"},
		{"unknown task type", "version: 1\ntasks:\n  - {id: t1, type: quiz, reward: \"1\"}\n"},
		{"duplicate task", "version: 1\ntasks:\n  - {id: t1, type: ad}\n  - {id: t1, type: link}\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseEconomy(strings.NewReader(tt.doc))
			require.ErrorIs(t, err, ErrInvalidEconomy)
		})
	}
}

func TestMethodWithoutConfiguredMethods(t *testing.T) {
	e := DefaultEconomy()
	_, ok := e.Method("anything")
	assert.True(t, ok)
	_, ok = e.Method("")
	assert.False(t, ok)
}

func TestHolderReloadKeepsPreviousOnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "economy.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nlimits:\n  spins_per_day: 7\n"), 0o600))

	h, err := NewFileHolder(path)
	require.NoError(t, err)
	assert.Equal(t, 7, h.Current().Limits.SpinsPerDay)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\nlimits:\n  spins_per_day: 9\n"), 0o600))
	require.NoError(t, h.Reload())
	assert.Equal(t, 9, h.Current().Limits.SpinsPerDay)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\nlimits: [broken\n"), 0o600))
	require.Error(t, h.Reload())
	assert.Equal(t, 9, h.Current().Limits.SpinsPerDay)
}

func TestHolderWithoutPathIgnoresReload(t *testing.T) {
	h := NewHolder(DefaultEconomy())
	require.NoError(t, h.Reload())
	assert.Equal(t, 5, h.Current().Limits.SpinsPerDay)
}
