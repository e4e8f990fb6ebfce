package fxrate

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Pair is an ordered currency pair. Codes are ISO-4217, upper-case.
type Pair struct {
	From string
	To   string
}

func NewPair(from, to string) Pair {
	return Pair{
		From: strings.ToUpper(strings.TrimSpace(from)),
		To:   strings.ToUpper(strings.TrimSpace(to)),
	}
}

func (p Pair) Identity() bool {
	return p.From == p.To
}

func (p Pair) Inverse() Pair {
	return Pair{From: p.To, To: p.From}
}

func (p Pair) String() string {
	return fmt.Sprintf("%s_%s", p.From, p.To)
}

type Entry struct {
	Rate      decimal.Decimal
	ExpiresAt time.Time
}

func (e Entry) Fresh(now time.Time) bool {
	return now.Before(e.ExpiresAt)
}
