package events

// Event enumerates the topics the engine publishes after each action.
type Event string

const (
	EventSignal         Event = "signal"
	EventTradeResult    Event = "trade.result"
	EventPositionOpened Event = "position.opened"
	EventPositionClosed Event = "position.closed"
	EventStopMoved      Event = "position.stop_moved"
	EventRiskHalted     Event = "risk.halted"
	EventSessionState   Event = "session.state"
	EventTick           Event = "engine.tick"
)

// All lists every topic, for subscribers that mirror the whole stream.
var All = []Event{
	EventSignal,
	EventTradeResult,
	EventPositionOpened,
	EventPositionClosed,
	EventStopMoved,
	EventRiskHalted,
	EventSessionState,
	EventTick,
}
