package models

import (
	"fmt"
	"time"
)

// Period is an enumerated bar interval. The name is the configuration
// spelling; the label is the compact form used in bus channel and key names.
type Period string

const (
	PeriodTenSecs     Period = "TEN_SECS"
	PeriodOneMin      Period = "ONE_MIN"
	PeriodFiveMins    Period = "FIVE_MINS"
	PeriodTenMins     Period = "TEN_MINS"
	PeriodFifteenMins Period = "FIFTEEN_MINS"
	PeriodThirtyMins  Period = "THIRTY_MINS"
	PeriodOneHour     Period = "ONE_HOUR"
	PeriodFourHours   Period = "FOUR_HOURS"
	PeriodDaily       Period = "DAILY"
	PeriodWeekly      Period = "WEEKLY"
)

type periodInfo struct {
	label    string
	duration time.Duration
}

var periods = map[Period]periodInfo{
	PeriodTenSecs:     {"10Sec", 10 * time.Second},
	PeriodOneMin:      {"1Min", time.Minute},
	PeriodFiveMins:    {"5Min", 5 * time.Minute},
	PeriodTenMins:     {"10Min", 10 * time.Minute},
	PeriodFifteenMins: {"15Min", 15 * time.Minute},
	PeriodThirtyMins:  {"30Min", 30 * time.Minute},
	PeriodOneHour:     {"1Hour", time.Hour},
	PeriodFourHours:   {"4Hour", 4 * time.Hour},
	PeriodDaily:       {"Daily", 24 * time.Hour},
	PeriodWeekly:      {"Weekly", 7 * 24 * time.Hour},
}

// ParsePeriod resolves a configured period name.
func ParsePeriod(name string) (Period, error) {
	p := Period(name)
	if _, ok := periods[p]; !ok {
		return "", fmt.Errorf("unknown period '%s'", name)
	}
	return p, nil
}

func (p Period) Valid() bool {
	_, ok := periods[p]
	return ok
}

// Label returns the compact form used in channel and key names,
// e.g. FIFTEEN_MINS -> "15Min".
func (p Period) Label() string {
	if info, ok := periods[p]; ok {
		return info.label
	}
	return string(p)
}

// Duration returns the interval length used to compute bar boundaries.
func (p Period) Duration() time.Duration {
	if info, ok := periods[p]; ok {
		return info.duration
	}
	return 0
}

func (p Period) String() string {
	return string(p)
}
