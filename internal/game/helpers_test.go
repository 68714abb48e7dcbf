package game_test

import (
	"github.com/shopspring/decimal"

	"reward_ledger/internal/config"
	"reward_ledger/internal/prize"
)

func economyWithNoWinTable() *config.Holder {
	e := config.DefaultEconomy()
	e.PrizeTables["nothing"] = prize.Table{
		{ID: 1, Amount: decimal.Zero, Probability: 90},
		{ID: 2, Amount: decimal.RequireFromString("5.00"), Probability: 10},
	}
	return config.NewHolder(e)
}
