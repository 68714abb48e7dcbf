package prize

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/shopspring/decimal"
)

// Draws are taken on a percent scale.
const scale = 100.0

// Totals within this distance of 100 are accepted to absorb float noise
// from configuration such as 0.8 + 0.2.
const tolerance = 1e-9

var (
	ErrEmptyTable       = errors.New("prize table has no entries")
	ErrNegativeChance   = errors.New("prize probability is negative")
	ErrNegativeAmount   = errors.New("prize amount is negative")
	ErrTotalOverHundred = errors.New("prize probabilities sum above 100")
	ErrDuplicateEntry   = errors.New("duplicate prize id")
	ErrAmountPrecision  = errors.New("prize amount has more than two decimal places")
)

type Entry struct {
	ID          int             `yaml:"id" json:"id"`
	Amount      decimal.Decimal `yaml:"amount" json:"amount"`
	Probability float64         `yaml:"probability" json:"probability"`
}

// NoWin reports whether the entry is an explicit "nothing" slot.
func (e Entry) NoWin() bool {
	return e.Amount.IsZero()
}

// Table is an ordered outcome list. Order matters: draws walk it as declared.
type Table []Entry

// UniformSource yields floats uniformly distributed in [0, 1).
type UniformSource interface {
	Float64() float64
}

// SourceFunc adapts a plain function to UniformSource.
type SourceFunc func() float64

func (f SourceFunc) Float64() float64 { return f() }

type defaultSource struct{}

func (defaultSource) Float64() float64 { return rand.Float64() }

// DefaultSource is backed by math/rand and safe for concurrent use.
var DefaultSource UniformSource = defaultSource{}

func (t Table) Validate() error {
	if len(t) == 0 {
		return ErrEmptyTable
	}
	seen := make(map[int]struct{}, len(t))
	total := 0.0
	for _, e := range t {
		if _, ok := seen[e.ID]; ok {
			return fmt.Errorf("%w: %d", ErrDuplicateEntry, e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.Probability < 0 {
			return fmt.Errorf("%w: id=%d", ErrNegativeChance, e.ID)
		}
		if e.Amount.IsNegative() {
			return fmt.Errorf("%w: id=%d", ErrNegativeAmount, e.ID)
		}
		if !e.Amount.Equal(e.Amount.Round(2)) {
			return fmt.Errorf("%w: id=%d", ErrAmountPrecision, e.ID)
		}
		total += e.Probability
	}
	if total > scale+tolerance {
		return fmt.Errorf("%w: %.4f", ErrTotalOverHundred, total)
	}
	return nil
}

// Total returns the sum of declared probabilities.
func (t Table) Total() float64 {
	total := 0.0
	for _, e := range t {
		total += e.Probability
	}
	return total
}

// Draw picks one entry using cumulative probability over a uniform sample
// r in [0, 100). The first entry with r <= cumulative wins, so a leading
// zero-weight entry can only be hit by r == 0. When the sample lands past the
// declared total the last entry is returned.
func Draw(t Table, src UniformSource) (Entry, error) {
	if len(t) == 0 {
		return Entry{}, ErrEmptyTable
	}
	if src == nil {
		src = DefaultSource
	}

	r := src.Float64() * scale
	cumulative := 0.0
	for _, e := range t {
		cumulative += e.Probability
		if r <= cumulative {
			return e, nil
		}
	}
	return t[len(t)-1], nil
}
