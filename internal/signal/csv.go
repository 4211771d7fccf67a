package signal

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Batch columns, in wire order.
const (
	colTag = iota
	colInstrument
	colAction
	colEntry
	colStopLoss
	colTakeProfit
	colSize
	colConfidence
	colTimestamp
	batchColumns
)

// ParseBatch reads a batch table. Malformed rows are returned as errors and
// skipped; the rest of the batch is still parsed.
func (n Normalizer) ParseBatch(r io.Reader, source string, now time.Time) ([]Signal, []error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var (
		out  []Signal
		errs []error
		line int
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				errs = append(errs, reject(ReasonMalformed, "line %d: %v", line, err))
				continue
			}
			errs = append(errs, reject(ReasonMalformed, "read: %v", err))
			break
		}
		if isHeader(rec) || isBlank(rec) {
			continue
		}
		sig, err := n.ParseRow(rec, source, now)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, sig)
	}
	return out, errs
}

// ParseRow converts one batch record into a Signal.
func (n Normalizer) ParseRow(rec []string, source string, now time.Time) (Signal, error) {
	if len(rec) < batchColumns {
		return Signal{}, reject(ReasonMalformed, "want %d fields, got %d", batchColumns, len(rec))
	}
	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	action, ok := ParseAction(rec[colAction])
	if !ok {
		return Signal{}, reject(ReasonUnknownAction, "%q", rec[colAction])
	}
	instrument := strings.ToUpper(rec[colInstrument])
	if instrument == "" && action != ActionCloseAll {
		return Signal{}, reject(ReasonMalformed, "missing instrument")
	}

	var nums [4]float64
	for i, col := range []int{colEntry, colStopLoss, colTakeProfit, colSize} {
		v, err := parseOptionalFloat(rec[col])
		if err != nil {
			return Signal{}, reject(ReasonMalformed, "column %d: %v", col+1, err)
		}
		nums[i] = v
	}

	var rawConf *float64
	if rec[colConfidence] != "" {
		v, err := strconv.ParseFloat(rec[colConfidence], 64)
		if err != nil {
			return Signal{}, reject(ReasonMalformed, "confidence: %v", err)
		}
		rawConf = &v
	}

	issued, ok := ParseTime(rec[colTimestamp])
	if !ok {
		return Signal{}, reject(ReasonMalformed, "timestamp %q", rec[colTimestamp])
	}

	sig := Signal{
		ID:         strings.Join([]string{rec[colTag], instrument, string(action), rec[colTimestamp]}, "|"),
		Instrument: instrument,
		Action:     action,
		EntryPrice: nums[0],
		StopLoss:   nums[1],
		TakeProfit: nums[2],
		Volume:     nums[3],
		Comment:    rec[colTag],
		Source:     source,
		IssuedAt:   issued,
		ReceivedAt: now,
	}
	c, err := n.Confidence(rawConf)
	if err != nil && action.IsEntry() {
		return Signal{}, err
	}
	sig.Confidence = c
	return sig, nil
}

func parseOptionalFloat(s string) (float64, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	if !finite(v) {
		return 0, fmt.Errorf("%q is not a finite number", s)
	}
	return v, nil
}

func isHeader(rec []string) bool {
	return len(rec) > 0 && strings.EqualFold(strings.TrimSpace(rec[0]), "tag")
}

func isBlank(rec []string) bool {
	for _, f := range rec {
		if strings.TrimSpace(f) != "" {
			return false
		}
	}
	return true
}
