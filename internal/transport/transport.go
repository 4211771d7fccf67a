// Package transport fetches signals from the decision service. Every
// transport normalizes and dedupes through the same path, so the engine
// sees one canonical Signal stream whatever the wire shape.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"signal-executor/internal/order"
	"signal-executor/internal/signal"
	"signal-executor/pkg/venue"
)

// Transport yields the new signals available this tick. Poll never blocks
// longer than the configured timeout and returns nil when nothing is due.
type Transport interface {
	Name() string
	Poll(ctx context.Context, now time.Time) []signal.Signal
	Stats() Stats
	order.Reporter
}

// Servicer is implemented by transports that hold a connection needing
// housekeeping before each poll.
type Servicer interface {
	Service(ctx context.Context, snap *venue.AccountSnapshot, now time.Time)
}

// Discarder is implemented by transports whose peer must keep being read
// while the engine no longer takes signals.
type Discarder interface {
	Discard(now time.Time) int
}

// Error is a fetch or decode failure. It degrades to "no signals this tick".
type Error struct {
	Transport string
	Op        string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s transport %s: %v", e.Transport, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Stats counts what a transport has done since start.
type Stats struct {
	Name       string    `json:"name"`
	Fetches    int       `json:"fetches"`
	Skipped    int       `json:"skipped"`
	Failures   int       `json:"failures"`
	Accepted   int       `json:"accepted"`
	Duplicates int       `json:"duplicates"`
	Rejected   int       `json:"rejected"`
	LastFetch  time.Time `json:"last_fetch"`
	LastError  string    `json:"last_error,omitempty"`
	Connection string    `json:"connection,omitempty"`
}

// Options are shared by every transport.
type Options struct {
	Normalizer     signal.Normalizer
	DedupeCapacity int
	Timeout        time.Duration
	Logger         *slog.Logger
}

// base carries the normalize and dedupe path.
type base struct {
	name    string
	timeout time.Duration
	seen    *signal.Dedupe
	norm    signal.Normalizer
	log     *slog.Logger
	stats   Stats
}

func newBase(name string, opts Options) (base, error) {
	if opts.DedupeCapacity <= 0 {
		opts.DedupeCapacity = 1024
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	seen, err := signal.NewDedupe(opts.DedupeCapacity)
	if err != nil {
		return base{}, fmt.Errorf("dedupe: %w", err)
	}
	return base{
		name:    name,
		timeout: opts.Timeout,
		seen:    seen,
		norm:    opts.Normalizer,
		log:     logger.With("component", "transport", "transport", name),
		stats:   Stats{Name: name},
	}, nil
}

func (b *base) Name() string { return b.name }

func (b *base) Stats() Stats { return b.stats }

func (b *base) fail(op string, err error) {
	terr := &Error{Transport: b.name, Op: op, Err: err}
	b.stats.Failures++
	b.stats.LastError = terr.Error()
	b.log.Warn("transport degraded, no signals this tick", "op", op, "err", err)
}

// admit logs decode rejections and drops ids already seen.
func (b *base) admit(sigs []signal.Signal, errs []error) []signal.Signal {
	for _, err := range errs {
		b.stats.Rejected++
		var rej *signal.Rejection
		if errors.As(err, &rej) {
			b.log.Info("signal rejected", "reason", rej.Reason, "detail", rej.Detail)
			continue
		}
		b.log.Info("signal rejected", "err", err)
	}

	out := sigs[:0]
	for _, s := range sigs {
		if !b.seen.First(s.ID) {
			b.stats.Duplicates++
			b.log.Debug("duplicate signal dropped", "signal_id", s.ID)
			continue
		}
		b.stats.Accepted++
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

var (
	_ Transport = (*Batch)(nil)
	_ Transport = (*HTTPPull)(nil)
	_ Transport = (*Stream)(nil)
	_ Servicer  = (*Stream)(nil)
)
