package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WithinTimeWindow reports whether now falls between the "HH:MM" wall-clock
// times start and end, inclusive, on now's date.
func WithinTimeWindow(now time.Time, start, end string) (bool, error) {
	sh, sm, err := parseClock(start)
	if err != nil {
		return false, err
	}
	eh, em, err := parseClock(end)
	if err != nil {
		return false, err
	}
	y, mo, d := now.Date()
	startAt := time.Date(y, mo, d, sh, sm, 0, 0, now.Location())
	endAt := time.Date(y, mo, d, eh, em, 0, 0, now.Location())
	return !now.Before(startAt) && !now.After(endAt), nil
}

func parseClock(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}
