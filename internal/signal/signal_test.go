package signal

import (
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func rejectionReason(t *testing.T, err error) Reason {
	t.Helper()
	var rej *Rejection
	require.True(t, errors.As(err, &rej), "want *Rejection, got %v", err)
	return rej.Reason
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0.92, 0.92},
		{92, 0.92},
		{1.0, 1.0},
		{100, 1.0},
		{0, 0},
		{-3, 0},
		{250, 1},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeConfidence(tt.in), 1e-12, "in=%v", tt.in)
	}
}

func TestNormalizerConfidencePolicy(t *testing.T) {
	c, err := Normalizer{Policy: PolicyDefault, Default: 0.8}.Confidence(nil)
	require.NoError(t, err)
	assert.Equal(t, 0.8, c)

	_, err = Normalizer{Policy: PolicyRequired}.Confidence(nil)
	assert.Equal(t, ReasonMissingConfidence, rejectionReason(t, err))

	v := 55.0
	_, err = Normalizer{MinConfidence: 0.6}.Confidence(&v)
	assert.Equal(t, ReasonLowConfidence, rejectionReason(t, err))
}

func TestFromEnvelopeSignal(t *testing.T) {
	raw := []byte(`{"type":"SIGNAL","timestamp":1772445600,"data":{
		"signal_id":"s-1","instrument":"eurusd","action":"buy",
		"stop_loss":1.095,"take_profit":1.11,"size":0.3,"confidence":87}}`)
	envs, err := ParseEnvelopes(raw)
	require.NoError(t, err)
	require.Len(t, envs, 1)

	sig, err := Normalizer{Policy: PolicyDefault, Default: 0.8}.FromEnvelope(envs[0], "http", now)
	require.NoError(t, err)
	assert.Equal(t, "s-1", sig.ID)
	assert.Equal(t, "EURUSD", sig.Instrument)
	assert.Equal(t, ActionBuy, sig.Action)
	assert.InDelta(t, 0.87, sig.Confidence, 1e-12)
	assert.Equal(t, 0.3, sig.Volume)
	assert.Equal(t, now, sig.ReceivedAt)
	assert.Equal(t, int64(1772445600), sig.IssuedAt.Unix())
}

func TestFromEnvelopeCommand(t *testing.T) {
	n := Normalizer{Policy: PolicyRequired}
	envs, err := ParseEnvelopes([]byte(`[{"type":"COMMAND","data":{"signal_id":"c-1","command":"CLOSE_ALL"}}]`))
	require.NoError(t, err)
	sig, err := n.FromEnvelope(envs[0], "http", now)
	require.NoError(t, err)
	assert.Equal(t, ActionCloseAll, sig.Action)

	envs, _ = ParseEnvelopes([]byte(`{"type":"COMMAND","data":{"signal_id":"c-2","command":"BUY","instrument":"X"}}`))
	_, err = n.FromEnvelope(envs[0], "http", now)
	assert.Equal(t, ReasonUnknownAction, rejectionReason(t, err))
}

func TestFromEnvelopeRejections(t *testing.T) {
	n := Normalizer{Policy: PolicyRequired}
	tests := []struct {
		name string
		raw  string
		want Reason
	}{
		{"unknown type", `{"type":"NEWS","data":{}}`, ReasonUnknownType},
		{"missing id", `{"type":"SIGNAL","data":{"instrument":"EURUSD","action":"BUY","confidence":0.9}}`, ReasonMissingID},
		{"bad action", `{"type":"SIGNAL","data":{"signal_id":"a","instrument":"EURUSD","action":"HOLD"}}`, ReasonUnknownAction},
		{"bad data", `{"type":"SIGNAL","data":"oops"}`, ReasonMalformed},
		{"no confidence", `{"type":"SIGNAL","data":{"signal_id":"a","instrument":"EURUSD","action":"SELL"}}`, ReasonMissingConfidence},
		{"no instrument", `{"type":"SIGNAL","data":{"signal_id":"a","action":"SELL","confidence":1}}`, ReasonMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs, err := ParseEnvelopes([]byte(tt.raw))
			require.NoError(t, err)
			_, err = n.FromEnvelope(envs[0], "stream", now)
			assert.Equal(t, tt.want, rejectionReason(t, err))
		})
	}

	_, err := ParseEnvelopes([]byte(`{"type":`))
	assert.Equal(t, ReasonMalformed, rejectionReason(t, err))
}

func TestParseBatchSkipsMalformedRows(t *testing.T) {
	table := strings.Join([]string{
		"tag,instrument,action,entry_price,stop_loss,take_profit,size,confidence,timestamp",
		"alpha,EURUSD,BUY,1.1000,1.0950,1.1100,0.10,92,2026.03.02 09:59:00",
		"alpha,EURUSD,HOLD,0,0,0,0,90,2026.03.02 09:59:00",
		"beta,GBPUSD,SELL,abc,0,0,0,0.9,2026.03.02 09:59:00",
		"gamma,GBPUSD,SELL,0,0,0,0,0.40,1772445540",
		"short,row",
		"",
		"delta,,CLOSE_ALL,,,,,,1772445540",
	}, "\n")

	n := Normalizer{Policy: PolicyDefault, Default: 0.8, MinConfidence: 0.5}
	sigs, errs := n.ParseBatch(strings.NewReader(table), "batch", now)

	require.Len(t, sigs, 2)
	assert.Equal(t, "alpha|EURUSD|BUY|2026.03.02 09:59:00", sigs[0].ID)
	assert.InDelta(t, 0.92, sigs[0].Confidence, 1e-12)
	assert.Equal(t, 1.095, sigs[0].StopLoss)
	assert.Equal(t, ActionCloseAll, sigs[1].Action)

	reasons := make([]Reason, 0, len(errs))
	for _, err := range errs {
		reasons = append(reasons, rejectionReason(t, err))
	}
	assert.ElementsMatch(t, []Reason{ReasonUnknownAction, ReasonMalformed, ReasonLowConfidence, ReasonMalformed}, reasons)
}

func TestParseBatchRejectsNonFiniteNumbers(t *testing.T) {
	table := strings.Join([]string{
		"t1,EURUSD,BUY,0,0,0,0,NaN,1700000000",
		"t2,EURUSD,BUY,0,0,0,0,+Inf,1700000000",
		"t3,EURUSD,SELL,0,NaN,0,0,0.9,1700000000",
		"t4,EURUSD,SELL,0,0,0,0,0.9,1700000000",
	}, "\n")

	n := Normalizer{Policy: PolicyDefault, Default: 0.8, MinConfidence: 0.7}
	sigs, errs := n.ParseBatch(strings.NewReader(table), "batch", now)

	require.Len(t, sigs, 1)
	assert.Equal(t, "t4", sigs[0].Comment)
	require.Len(t, errs, 3)
	for _, err := range errs {
		assert.Equal(t, ReasonMalformed, rejectionReason(t, err))
	}

	nan := math.NaN()
	_, err := Normalizer{MinConfidence: 0.7}.Confidence(&nan)
	assert.Equal(t, ReasonMalformed, rejectionReason(t, err))
}

func TestParseBatchIDIsStableAcrossDownloads(t *testing.T) {
	row := "alpha,EURUSD,SELL,0,0,0,0,0.9,1772445540\n"
	n := Normalizer{Policy: PolicyDefault, Default: 0.8}
	a, _ := n.ParseBatch(strings.NewReader(row), "batch", now)
	b, _ := n.ParseBatch(strings.NewReader(row), "batch", now.Add(time.Minute))
	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, a[0].ID, b[0].ID)
}

func TestDedupe(t *testing.T) {
	d, err := NewDedupe(2)
	require.NoError(t, err)

	assert.True(t, d.First("a"))
	assert.False(t, d.First("a"))
	assert.True(t, d.First("b"))
	assert.True(t, d.First("c"))
	assert.Equal(t, 2, d.seen.Len())
	assert.False(t, d.seen.Contains("a"), "oldest id evicted")
	assert.True(t, d.seen.Contains("c"))

	_, err = NewDedupe(0)
	assert.Error(t, err)
}

func TestParseTime(t *testing.T) {
	for _, in := range []string{"2026-03-02T10:00:00Z", "2026.03.02 10:00:00", "2026-03-02 10:00:00", "1772445600", "1772445600000"} {
		got, ok := ParseTime(in)
		require.True(t, ok, in)
		assert.True(t, got.Equal(now), "%s -> %v", in, got)
	}
	_, ok := ParseTime("yesterday")
	assert.False(t, ok)
}

func TestDecodeSkipsControlMessages(t *testing.T) {
	raw := []byte(`[
		{"type":"HEARTBEAT","timestamp":1772445600},
		{"type":"SIGNAL","data":{"signal_id":"d-1","instrument":"GBPUSD","action":"SELL","confidence":0.9}},
		{"type":"PING"},
		{"type":"SIGNAL","data":{"instrument":"GBPUSD","action":"SELL"}}
	]`)
	sigs, errs := Normalizer{Policy: PolicyDefault, Default: 0.8}.Decode(raw, "stream", now)
	require.Len(t, sigs, 1)
	assert.Equal(t, "d-1", sigs[0].ID)
	require.Len(t, errs, 2)
	assert.Equal(t, ReasonUnknownType, rejectionReason(t, errs[0]))
	assert.Equal(t, ReasonMissingID, rejectionReason(t, errs[1]))

	_, errs = Normalizer{}.Decode([]byte("{not json"), "stream", now)
	require.Len(t, errs, 1)
	assert.Equal(t, ReasonMalformed, rejectionReason(t, errs[0]))
}
