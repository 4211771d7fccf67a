package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"signal-executor/internal/order"
	"signal-executor/internal/signal"
)

// maxBatchBytes caps one downloaded signal table.
const maxBatchBytes = 4 << 20

// Batch re-reads a full signal table at a fixed minimum interval. The table
// is a local file or an http(s) URL.
type Batch struct {
	base
	source  string
	limiter *rate.Limiter
	client  *http.Client
}

// NewBatch creates a batch transport reading source at most once per interval.
func NewBatch(source string, interval time.Duration, opts Options) (*Batch, error) {
	if source == "" {
		return nil, fmt.Errorf("batch transport: empty source")
	}
	b, err := newBase("batch", opts)
	if err != nil {
		return nil, err
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Batch{
		base:    b,
		source:  source,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
		client:  &http.Client{Timeout: b.timeout},
	}, nil
}

func (t *Batch) remote() bool {
	return strings.HasPrefix(t.source, "http://") || strings.HasPrefix(t.source, "https://")
}

// Poll fetches and parses the table when the interval has elapsed.
func (t *Batch) Poll(ctx context.Context, now time.Time) []signal.Signal {
	if !t.limiter.AllowN(now, 1) {
		t.stats.Skipped++
		return nil
	}
	t.stats.Fetches++
	t.stats.LastFetch = now

	raw, err := t.fetch(ctx)
	if err != nil {
		t.fail("fetch", err)
		return nil
	}
	sigs, errs := t.norm.ParseBatch(bytes.NewReader(raw), t.name, now)
	return t.admit(sigs, errs)
}

func (t *Batch) fetch(ctx context.Context) ([]byte, error) {
	if !t.remote() {
		f, err := os.Open(t.source)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxBatchBytes))
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.source, nil)
	if err != nil {
		return nil, err
	}
	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(io.LimitReader(res.Body, maxBatchBytes))
	if err != nil {
		return nil, err
	}
	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("GET %s status %d", t.source, res.StatusCode)
	}
	return body, nil
}

// ReportTrade logs the result; the batch table has no return channel.
func (t *Batch) ReportTrade(res order.TradeResult) {
	t.log.Debug("trade result not forwarded", "signal_id", res.SignalID, "success", res.Success)
}
