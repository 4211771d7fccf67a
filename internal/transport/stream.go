package transport

import (
	"context"
	"time"

	"signal-executor/internal/order"
	"signal-executor/internal/session"
	"signal-executor/internal/signal"
	"signal-executor/pkg/venue"
)

// Stream reads signal frames from the persistent session connection.
type Stream struct {
	base
	sess *session.Manager
}

// NewStream wraps a session manager.
func NewStream(sess *session.Manager, opts Options) (*Stream, error) {
	b, err := newBase("stream", opts)
	if err != nil {
		return nil, err
	}
	return &Stream{base: b, sess: sess}, nil
}

// Service runs the session housekeeping for this tick.
func (t *Stream) Service(ctx context.Context, snap *venue.AccountSnapshot, now time.Time) {
	t.sess.Service(ctx, snap, now)
}

// Poll decodes the frames received since the last tick. A disconnected
// session yields nothing.
func (t *Stream) Poll(_ context.Context, now time.Time) []signal.Signal {
	if !t.sess.Connected() {
		t.stats.Skipped++
		return nil
	}
	frames := t.sess.Drain(now)
	if !t.sess.Connected() {
		t.fail("read", session.ErrNotConnected)
		return nil
	}
	if len(frames) == 0 {
		return nil
	}
	t.stats.Fetches++
	t.stats.LastFetch = now

	var (
		sigs []signal.Signal
		errs []error
	)
	for _, frame := range frames {
		s, e := t.norm.Decode(frame, t.name, now)
		sigs = append(sigs, s...)
		errs = append(errs, e...)
	}
	return t.admit(sigs, errs)
}

// Discard reads and drops pending frames so the session stays live while
// signals are not wanted. It returns the number of frames dropped.
func (t *Stream) Discard(now time.Time) int {
	if !t.sess.Connected() {
		return 0
	}
	frames := t.sess.Drain(now)
	if len(frames) > 0 {
		t.stats.Skipped += len(frames)
		t.log.Debug("frames discarded", "count", len(frames))
	}
	return len(frames)
}

// ReportTrade sends a TRADE_RESULT frame.
func (t *Stream) ReportTrade(res order.TradeResult) {
	if err := t.sess.Send(signal.TypeTradeResult, res, res.Time); err != nil {
		t.log.Warn("trade result not delivered", "signal_id", res.SignalID, "ticket", res.Ticket, "err", err)
	}
}

// Stats includes the connection state.
func (t *Stream) Stats() Stats {
	s := t.stats
	s.Connection = t.sess.State().String()
	return s
}

// Session exposes the connection bookkeeping.
func (t *Stream) Session() session.Status { return t.sess.Status() }

// Close drops the session connection.
func (t *Stream) Close() error { return t.sess.Close() }
