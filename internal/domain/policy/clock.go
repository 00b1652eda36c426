package policy

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrBadClock marks a window bound that is not of the "HH:MM" two-part
// numeric form. Malformed bounds are a caller contract violation and
// propagate as a hard failure; the engine never defaults a broken window
// to "always open" or "always closed".
var ErrBadClock = errors.New("malformed clock string")

// ClockMinutes converts an "HH:MM" string to minutes since midnight:
// hour*60 + minute, both parts parsed as integers after splitting on
// ':'. Only the two-part numeric form is validated; range checking of
// the parts is the caller's contract (the config layer enforces it).
func ClockMinutes(s string) (int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrBadClock, s)
	}
	return hour*60 + minute, nil
}
