package signal

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Message types exchanged with the decision service.
const (
	TypeSignal        = "SIGNAL"
	TypeCommand       = "COMMAND"
	TypeHeartbeat     = "HEARTBEAT"
	TypeEAInfo        = "EA_INFO"
	TypeAccountStatus = "ACCOUNT_STATUS"
	TypeTradeResult   = "TRADE_RESULT"
)

// Envelope is the JSON wrapper used by the pull and stream transports.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp Timestamp       `json:"timestamp"`
}

// Timestamp accepts unix seconds, unix milliseconds, or a date string.
type Timestamp struct {
	time.Time
}

func (t *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	if parsed, ok := ParseTime(s); ok {
		t.Time = parsed
	}
	return nil
}

func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("0"), nil
	}
	return []byte(strconv.FormatInt(t.Unix(), 10)), nil
}

// payload is the data block of SIGNAL and COMMAND envelopes.
type payload struct {
	SignalID   string    `json:"signal_id"`
	Instrument string    `json:"instrument"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Command    string    `json:"command"`
	Size       float64   `json:"size"`
	Volume     float64   `json:"volume"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Confidence *float64  `json:"confidence"`
	Ticket     int64     `json:"ticket"`
	Comment    string    `json:"comment"`
	Timestamp  Timestamp `json:"timestamp"`
}

// ParseEnvelopes decodes either a single envelope or a JSON array of them.
func ParseEnvelopes(raw []byte) ([]Envelope, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, nil
	}
	if raw[0] == '[' {
		var list []Envelope
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, reject(ReasonMalformed, "%v", err)
		}
		return list, nil
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, reject(ReasonMalformed, "%v", err)
	}
	return []Envelope{env}, nil
}

// FromEnvelope converts a SIGNAL or COMMAND envelope into a Signal.
func (n Normalizer) FromEnvelope(env Envelope, source string, now time.Time) (Signal, error) {
	kind := strings.ToUpper(env.Type)
	if kind != TypeSignal && kind != TypeCommand {
		return Signal{}, reject(ReasonUnknownType, "%q", env.Type)
	}

	var p payload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return Signal{}, reject(ReasonMalformed, "%v", err)
	}
	if p.SignalID == "" {
		return Signal{}, &Rejection{Reason: ReasonMissingID}
	}

	sig := Signal{
		ID:         p.SignalID,
		Instrument: strings.ToUpper(firstNonEmpty(p.Instrument, p.Symbol)),
		EntryPrice: p.EntryPrice,
		StopLoss:   p.StopLoss,
		TakeProfit: p.TakeProfit,
		Volume:     p.Size,
		Ticket:     p.Ticket,
		Comment:    p.Comment,
		Source:     source,
		IssuedAt:   p.Timestamp.Time,
		ReceivedAt: now,
	}
	if sig.Volume == 0 {
		sig.Volume = p.Volume
	}
	if sig.IssuedAt.IsZero() {
		sig.IssuedAt = env.Timestamp.Time
	}

	word := p.Action
	if kind == TypeCommand {
		word = firstNonEmpty(p.Command, p.Action)
	}
	action, ok := ParseAction(word)
	if !ok {
		return Signal{}, reject(ReasonUnknownAction, "%q", word)
	}
	if kind == TypeCommand && action.IsEntry() {
		return Signal{}, reject(ReasonUnknownAction, "command %q", word)
	}
	sig.Action = action

	if action.IsEntry() && sig.Instrument == "" {
		return Signal{}, reject(ReasonMalformed, "missing instrument")
	}
	if action == ActionClose && sig.Instrument == "" && sig.Ticket == 0 {
		return Signal{}, reject(ReasonMalformed, "close needs instrument or ticket")
	}

	if action.IsEntry() {
		c, err := n.Confidence(p.Confidence)
		if err != nil {
			return Signal{}, err
		}
		sig.Confidence = c
	} else if p.Confidence != nil {
		sig.Confidence = NormalizeConfidence(*p.Confidence)
	}
	return sig, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// Decode parses a pull body or stream frame into signals. Control messages
// (heartbeats, status echoes) are skipped silently; everything else that
// does not convert is returned as a Rejection.
func (n Normalizer) Decode(raw []byte, source string, now time.Time) ([]Signal, []error) {
	envs, err := ParseEnvelopes(raw)
	if err != nil {
		return nil, []error{err}
	}
	var (
		out  []Signal
		errs []error
	)
	for _, env := range envs {
		switch strings.ToUpper(env.Type) {
		case TypeHeartbeat, TypeEAInfo, TypeAccountStatus, TypeTradeResult:
			continue
		}
		sig, err := n.FromEnvelope(env, source, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, sig)
	}
	return out, errs
}
