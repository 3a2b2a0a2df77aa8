package signals

import (
	"fmt"
	"strings"
	"time"

	"FinAlloc/internal/domain/models"
)

// Frequency is how often a sleeve rebuilds its weights.
type Frequency string

const (
	Daily   Frequency = "D"
	Weekly  Frequency = "W"
	Monthly Frequency = "M"
)

func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(s))); f {
	case Daily, Weekly, Monthly:
		return f, nil
	case "":
		return Monthly, nil
	default:
		return "", fmt.Errorf("unknown rebalance frequency %q: %w", s, models.ErrConfiguration)
	}
}

// RebalanceDates keeps the last available date of each period.
func RebalanceDates(dates []time.Time, freq Frequency) []time.Time {
	if freq == Daily {
		return append([]time.Time(nil), dates...)
	}
	var out []time.Time
	for i, d := range dates {
		if i == len(dates)-1 || periodKey(d, freq) != periodKey(dates[i+1], freq) {
			out = append(out, d)
		}
	}
	return out
}

func periodKey(d time.Time, freq Frequency) int {
	if freq == Weekly {
		y, w := d.ISOWeek()
		return y*100 + w
	}
	return d.Year()*100 + int(d.Month())
}
