// Package interval parses human-readable backup interval specifications
// such as "90s", "15m", "3d" or "2 weeks" into durations.
package interval

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// unitSeconds maps every accepted unit token to its length in seconds.
// Unit tokens are case-sensitive; singular and plural long forms are
// accepted alongside the single-letter shorthand.
var unitSeconds = map[string]int64{
	"s": 1, "second": 1, "seconds": 1,
	"m": 60, "minute": 60, "minutes": 60,
	"h": 3600, "hour": 3600, "hours": 3600,
	"d": 86400, "day": 86400, "days": 86400,
	"w": 604800, "week": 604800, "weeks": 604800,
}

// Parse converts a specification of the form "<integer><unit>" into a
// duration. Whitespace between quantity and unit is tolerated, so both
// "2w" and "2 weeks" parse to the same duration.
func Parse(spec string) (time.Duration, error) {
	trimmed := strings.TrimSpace(spec)

	i := 0
	for i < len(trimmed) && trimmed[i] >= '0' && trimmed[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("interval %q has no leading digits", spec)
	}

	quantity, err := strconv.ParseInt(trimmed[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("interval %q: %w", spec, err)
	}

	unit := strings.TrimSpace(trimmed[i:])
	seconds, ok := unitSeconds[unit]
	if !ok {
		return 0, fmt.Errorf("interval %q has unrecognized unit %q", spec, unit)
	}

	// Durations are nanoseconds internally, so the span must also fit
	// once scaled by time.Second or the result wraps negative.
	if quantity > math.MaxInt64/seconds/int64(time.Second) {
		return 0, fmt.Errorf("interval %q is too large", spec)
	}

	return time.Duration(quantity*seconds) * time.Second, nil
}

// Seconds parses a specification and returns its length in whole seconds.
func Seconds(spec string) (int64, error) {
	d, err := Parse(spec)
	if err != nil {
		return 0, err
	}
	return int64(d / time.Second), nil
}
