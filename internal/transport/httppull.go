package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"signal-executor/internal/order"
	"signal-executor/internal/signal"
)

const (
	maxResponseBytes = 1 << 20
	tokenTTL         = 5 * time.Minute
)

// HTTPConfig configures the request/response transport.
type HTTPConfig struct {
	URL         string
	ResultURL   string
	Secret      string
	InstanceID  string
	StrategyTag int64
	Interval    time.Duration
}

// HTTPPull asks the decision service for pending signals at most once per
// interval and optionally posts trade results back.
type HTTPPull struct {
	base
	cfg     HTTPConfig
	limiter *rate.Limiter
	client  *http.Client

	token       string
	tokenExpiry time.Time
	now         func() time.Time
}

// NewHTTPPull creates a request/response transport.
func NewHTTPPull(cfg HTTPConfig, opts Options) (*HTTPPull, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("http transport: empty SIGNAL_URL")
	}
	b, err := newBase("http", opts)
	if err != nil {
		return nil, err
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &HTTPPull{
		base:    b,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Every(cfg.Interval), 1),
		client:  &http.Client{Timeout: b.timeout},
		now:     time.Now,
	}, nil
}

// Poll fetches pending envelopes when the interval has elapsed.
func (t *HTTPPull) Poll(ctx context.Context, now time.Time) []signal.Signal {
	if !t.limiter.AllowN(now, 1) {
		t.stats.Skipped++
		return nil
	}
	t.stats.Fetches++
	t.stats.LastFetch = now

	body, err := t.do(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		t.fail("fetch", err)
		return nil
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil
	}
	if !json.Valid(body) {
		t.fail("decode", fmt.Errorf("response is not JSON"))
		return nil
	}
	sigs, errs := t.norm.Decode(body, t.name, now)
	return t.admit(sigs, errs)
}

// ReportTrade posts a TRADE_RESULT envelope to ResultURL when configured.
func (t *HTTPPull) ReportTrade(res order.TradeResult) {
	if t.cfg.ResultURL == "" {
		return
	}
	data, err := json.Marshal(res)
	if err != nil {
		t.log.Warn("encode trade result", "err", err)
		return
	}
	payload, err := json.Marshal(signal.Envelope{Type: signal.TypeTradeResult, Data: data, Timestamp: signal.Timestamp{Time: res.Time}})
	if err != nil {
		t.log.Warn("encode trade result", "err", err)
		return
	}
	if _, err := t.do(context.Background(), http.MethodPost, t.cfg.ResultURL, payload); err != nil {
		t.log.Warn("trade result not delivered", "signal_id", res.SignalID, "ticket", res.Ticket, "err", err)
	}
}

func (t *HTTPPull) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if t.cfg.Secret != "" {
		tok, err := t.bearer()
		if err != nil {
			return nil, fmt.Errorf("sign token: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	out, err := io.ReadAll(io.LimitReader(res.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s status %d", method, url, res.StatusCode)
	}
	return out, nil
}

// bearer reuses the signed token until it is close to expiry.
func (t *HTTPPull) bearer() (string, error) {
	now := t.now()
	if t.token != "" && now.Before(t.tokenExpiry.Add(-30*time.Second)) {
		return t.token, nil
	}
	tok, err := CreateToken(t.cfg.Secret, t.cfg.InstanceID, t.cfg.StrategyTag, now, tokenTTL)
	if err != nil {
		return "", err
	}
	t.token = tok
	t.tokenExpiry = now.Add(tokenTTL)
	return tok, nil
}
