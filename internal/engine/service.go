// Package engine drives one tick of the signal executor: session upkeep,
// signal intake, the risk governor, trailing stops and order execution.
package engine

import "signal-executor/internal/order"

// Service is the read-only view the API layer gets of a running engine.
// Every method returns copies and is safe to call from any goroutine.
type Service interface {
	Status() Status
	Positions() []order.Position
	Halted() bool
}
