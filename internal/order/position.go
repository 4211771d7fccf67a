package order

import (
	"fmt"
	"time"

	"signal-executor/pkg/venue"
)

// State is the lifecycle stage of a managed position.
type State string

const (
	StatePending State = "PENDING"
	StateOpen    State = "OPEN"
	StateClosing State = "CLOSING"
	StateClosed  State = "CLOSED"
)

// Position is an order under this engine's management.
type Position struct {
	Ticket     int64      `json:"ticket"`
	SignalID   string     `json:"signal_id,omitempty"`
	Instrument string     `json:"instrument"`
	Side       venue.Side `json:"side"`
	Volume     float64    `json:"volume"`
	OpenPrice  float64    `json:"open_price"`
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Tag        int64      `json:"strategy_tag"`
	OpenedAt   time.Time  `json:"opened_at"`
	State      State      `json:"state"`
}

func fromVenue(p venue.Position) *Position {
	return &Position{
		Ticket:     p.Ticket,
		Instrument: p.Symbol,
		Side:       p.Side,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Tag:        p.Tag,
		OpenedAt:   p.OpenedAt,
		State:      StateOpen,
	}
}

func (p *Position) venuePosition() venue.Position {
	return venue.Position{
		Ticket:     p.Ticket,
		Symbol:     p.Instrument,
		Side:       p.Side,
		Volume:     p.Volume,
		OpenPrice:  p.OpenPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Tag:        p.Tag,
		OpenedAt:   p.OpenedAt,
	}
}

func (p *Position) String() string {
	return fmt.Sprintf("#%d %s %s %.2f @ %.5f sl=%.5f tp=%.5f [%s]",
		p.Ticket, p.Side, p.Instrument, p.Volume, p.OpenPrice, p.StopLoss, p.TakeProfit, p.State)
}
