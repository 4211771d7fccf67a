package signal

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// Policy values for a signal that arrives without a confidence.
const (
	PolicyDefault  = "default"
	PolicyRequired = "required"
)

// NormalizeConfidence maps 0-100 percentages onto 0-1 and clamps the result.
func NormalizeConfidence(v float64) float64 {
	if v > 1.0 {
		v /= 100
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Normalizer applies the confidence policy and minimum shared by all transports.
type Normalizer struct {
	Policy        string
	Default       float64
	MinConfidence float64
}

// Confidence resolves a possibly absent raw confidence.
func (n Normalizer) Confidence(raw *float64) (float64, error) {
	if raw == nil {
		if n.Policy == PolicyRequired {
			return 0, &Rejection{Reason: ReasonMissingConfidence}
		}
		return n.Default, nil
	}
	if !finite(*raw) {
		return 0, reject(ReasonMalformed, "confidence %v", *raw)
	}
	c := NormalizeConfidence(*raw)
	if n.MinConfidence > 0 && c < n.MinConfidence {
		return c, reject(ReasonLowConfidence, "%.2f below %.2f", c, n.MinConfidence)
	}
	return c, nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006.01.02 15:04:05",
	"2006-01-02 15:04:05",
	"2006.01.02 15:04",
	"2006-01-02T15:04:05",
}

// ParseTime reads RFC3339, terminal-style dates, or unix seconds/milliseconds.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return unixTime(n), true
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

func unixTime(n float64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(int64(n)).UTC()
	}
	sec := int64(n)
	return time.Unix(sec, int64((n-float64(sec))*1e9)).UTC()
}
