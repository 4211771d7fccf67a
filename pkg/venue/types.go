package venue

import (
	"errors"
	"fmt"
	"time"
)

// Side denotes position direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign is +1 for long and -1 for short exposure.
func (s Side) Sign() float64 {
	if s == SideSell {
		return -1
	}
	return 1
}

// Quote is the current tradable price.
type Quote struct {
	Bid  float64
	Ask  float64
	Time time.Time
}

// Mid returns the midpoint of bid and ask.
func (q Quote) Mid() float64 { return (q.Bid + q.Ask) / 2 }

// Entry returns the price a new position on side opens at.
func (q Quote) Entry(side Side) float64 {
	if side == SideSell {
		return q.Bid
	}
	return q.Ask
}

// Exit returns the price an open position on side is valued or closed at.
func (q Quote) Exit(side Side) float64 {
	if side == SideSell {
		return q.Ask
	}
	return q.Bid
}

// LotConstraints describes the tradable volume grid of an instrument.
// UnitValue is the account-currency value of one price unit per lot.
type LotConstraints struct {
	Min       float64
	Max       float64
	Step      float64
	UnitValue float64
}

// OrderRequest captures a market entry sent to the venue.
type OrderRequest struct {
	Symbol     string
	Side       Side
	Volume     float64
	StopLoss   float64
	TakeProfit float64
	Tag        int64
	Comment    string
}

// Fill is the venue acknowledgement of a placed order.
type Fill struct {
	Ticket int64
	Price  float64
	Time   time.Time
}

// Position is an open venue position.
type Position struct {
	Ticket     int64
	Symbol     string
	Side       Side
	Volume     float64
	OpenPrice  float64
	StopLoss   float64
	TakeProfit float64
	Tag        int64
	OpenedAt   time.Time
}

// AccountSnapshot is a point-in-time account view.
type AccountSnapshot struct {
	Balance    float64 `json:"balance"`
	Equity     float64 `json:"equity"`
	Margin     float64 `json:"margin"`
	FreeMargin float64 `json:"free_margin"`
}

// ErrPositionNotFound is returned when a ticket is not open at the venue.
var ErrPositionNotFound = errors.New("position not found")

// Error is a venue-side rejection carrying the venue's error code.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("venue error %d: %s", e.Code, e.Message)
}

// Code extracts the venue error code from err, or -1 when err is not a venue error.
func Code(err error) int {
	var ve *Error
	if errors.As(err, &ve) {
		return ve.Code
	}
	return -1
}
