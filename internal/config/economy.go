package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"reward_ledger/internal/prize"
)

// EconomyVersion is the only schema version this build understands.
const EconomyVersion = 1

// DefaultPrizeTable is the id of the wheel used when callers name none.
const DefaultPrizeTable = "wheel"

var ErrInvalidEconomy = errors.New("invalid economy config")

type Economy struct {
	Version     int                    `yaml:"version"`
	Bonuses     Bonuses                `yaml:"bonuses"`
	Limits      Limits                 `yaml:"limits"`
	Withdrawal  WithdrawalSettings     `yaml:"withdrawal"`
	PrizeTables map[string]prize.Table `yaml:"prize_tables"`
	Tasks       []TaskSettings         `yaml:"tasks"`
}

type Bonuses struct {
	Login    decimal.Decimal `yaml:"login"`
	Referrer decimal.Decimal `yaml:"referrer"`
	Referee  decimal.Decimal `yaml:"referee"`
}

type Limits struct {
	SpinsPerDay   int `yaml:"spins_per_day"`
	AdViewsPerDay int `yaml:"ad_views_per_day"`
}

type WithdrawalSettings struct {
	Min     decimal.Decimal    `yaml:"min"`
	Max     decimal.Decimal    `yaml:"max"`
	Methods []WithdrawalMethod `yaml:"methods"`
}

type WithdrawalMethod struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Active bool   `yaml:"active"`
}

type TaskSettings struct {
	ID                       string          `yaml:"id"`
	Type                     string          `yaml:"type"` // "ad", "link", "video"
	Title                    string          `yaml:"title"`
	URL                      string          `yaml:"url"`
	Reward                   decimal.Decimal `yaml:"reward"`
	VerificationDelaySeconds int             `yaml:"verification_delay_seconds"`
	Active                   bool            `yaml:"active"`
}

// DefaultEconomy mirrors the values the app shipped with.
func DefaultEconomy() *Economy {
	return &Economy{
		Version: EconomyVersion,
		Bonuses: Bonuses{
			Login:    decimal.RequireFromString("0.01"),
			Referrer: decimal.RequireFromString("2.66"),
			Referee:  decimal.RequireFromString("2.00"),
		},
		Limits: Limits{
			SpinsPerDay:   5,
			AdViewsPerDay: 10,
		},
		Withdrawal: WithdrawalSettings{
			Min: decimal.RequireFromString("1.00"),
			Max: decimal.RequireFromString("100.00"),
		},
		PrizeTables: map[string]prize.Table{
			DefaultPrizeTable: {
				{ID: 1, Amount: decimal.RequireFromString("0.01"), Probability: 30},
				{ID: 2, Amount: decimal.RequireFromString("0.02"), Probability: 25},
				{ID: 3, Amount: decimal.RequireFromString("0.05"), Probability: 20},
				{ID: 4, Amount: decimal.RequireFromString("0.10"), Probability: 15},
				{ID: 5, Amount: decimal.RequireFromString("0.25"), Probability: 7},
				{ID: 6, Amount: decimal.RequireFromString("0.50"), Probability: 2},
				{ID: 7, Amount: decimal.RequireFromString("1.00"), Probability: 0.8},
				{ID: 8, Amount: decimal.RequireFromString("2.00"), Probability: 0.2},
			},
		},
	}
}

// ParseEconomy decodes YAML over the defaults. Unknown fields are rejected.
func ParseEconomy(r io.Reader) (*Economy, error) {
	e := DefaultEconomy()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(e); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: decode: %v", ErrInvalidEconomy, err)
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func LoadEconomy(path string) (*Economy, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read economy file: %w", err)
	}
	return ParseEconomy(bytes.NewReader(content))
}

func (e *Economy) Validate() error {
	if e.Version != EconomyVersion {
		return fmt.Errorf("%w: version %d, want %d", ErrInvalidEconomy, e.Version, EconomyVersion)
	}
	for name, v := range map[string]decimal.Decimal{
		"bonuses.login":    e.Bonuses.Login,
		"bonuses.referrer": e.Bonuses.Referrer,
		"bonuses.referee":  e.Bonuses.Referee,
	} {
		if v.IsNegative() {
			return fmt.Errorf("%w: %s is negative", ErrInvalidEconomy, name)
		}
	}
	if e.Limits.SpinsPerDay < 0 || e.Limits.AdViewsPerDay < 0 {
		return fmt.Errorf("%w: daily limits must not be negative", ErrInvalidEconomy)
	}
	if !e.Withdrawal.Min.IsPositive() {
		return fmt.Errorf("%w: withdrawal.min must be positive", ErrInvalidEconomy)
	}
	if e.Withdrawal.Max.LessThan(e.Withdrawal.Min) {
		return fmt.Errorf("%w: withdrawal.max below withdrawal.min", ErrInvalidEconomy)
	}
	methods := make(map[string]struct{}, len(e.Withdrawal.Methods))
	for _, m := range e.Withdrawal.Methods {
		if m.ID == "" {
			return fmt.Errorf("%w: withdrawal method without id", ErrInvalidEconomy)
		}
		if _, dup := methods[m.ID]; dup {
			return fmt.Errorf("%w: duplicate withdrawal method %q", ErrInvalidEconomy, m.ID)
		}
		methods[m.ID] = struct{}{}
	}
	if _, ok := e.PrizeTables[DefaultPrizeTable]; !ok {
		return fmt.Errorf("%w: prize table %q is required", ErrInvalidEconomy, DefaultPrizeTable)
	}
	for id, t := range e.PrizeTables {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("%w: prize table %q: %v", ErrInvalidEconomy, id, err)
		}
	}
	tasks := make(map[string]struct{}, len(e.Tasks))
	for _, t := range e.Tasks {
		if t.ID == "" {
			return fmt.Errorf("%w: task without id", ErrInvalidEconomy)
		}
		if _, dup := tasks[t.ID]; dup {
			return fmt.Errorf("%w: duplicate task %q", ErrInvalidEconomy, t.ID)
		}
		tasks[t.ID] = struct{}{}
		switch t.Type {
		case "ad", "link", "video":
		default:
			return fmt.Errorf("%w: task %q has unknown type %q", ErrInvalidEconomy, t.ID, t.Type)
		}
		if t.Reward.IsNegative() || t.VerificationDelaySeconds < 0 {
			return fmt.Errorf("%w: task %q has negative reward or delay", ErrInvalidEconomy, t.ID)
		}
	}
	return nil
}

// Method looks up an active withdrawal method. With no methods configured
// any non-empty method name is accepted.
func (e *Economy) Method(id string) (WithdrawalMethod, bool) {
	if len(e.Withdrawal.Methods) == 0 {
		return WithdrawalMethod{ID: id, Name: id, Active: true}, id != ""
	}
	for _, m := range e.Withdrawal.Methods {
		if m.ID == id {
			return m, m.Active
		}
	}
	return WithdrawalMethod{}, false
}
